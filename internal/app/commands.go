package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"listingbot/internal/catalog"
	"listingbot/internal/objcache"
	"listingbot/internal/session"
	"listingbot/internal/task/scheduler"
	"listingbot/internal/transport/telegram/router"
	"listingbot/internal/trigger"
	logx "listingbot/pkg/logx"
)

type chatTexter interface {
	SendText(ctx context.Context, t objcache.Tenant, text string) error
}

// StatusInfo is what /status reports.
type StatusInfo struct {
	Cache     objcache.Stats
	Session   session.State
	Creations uint64
	Jobs      []scheduler.Entry
}

// commandSet builds the chat command table. Every chat is its own tenant.
type commandSet struct {
	runner  trigger.Runner
	clear   trigger.Clearer
	texter  chatTexter
	status  func() StatusInfo
	timeout time.Duration
}

func tenantOf(req *router.Request) objcache.Tenant {
	return objcache.ChatTenant(req.Chat.ChatID)
}

func (s *commandSet) commands() []router.Command {
	cmds := []router.Command{
		s.fetchCommand("apartments", "list new apartments", catalog.CategoryDwelling),
		s.fetchCommand("storage", "list new storage units", catalog.CategoryStorage),
		s.fetchCommand("parking", "list new parking spaces", catalog.CategoryParking),
		{
			Name:        "clear",
			Description: "forget every object seen in this chat",
			Access:      router.AccessAuthorized,
			Handle: func(ctx context.Context, req *router.Request) error {
				n := s.clear(ctx, tenantOf(req))
				return s.texter.SendText(ctx, tenantOf(req), ClearedText(n))
			},
		},
	}
	if s.status != nil {
		cmds = append(cmds, router.Command{
			Name:        "status",
			Description: "cache and browser state",
			Access:      router.AccessAuthorized,
			Handle: func(ctx context.Context, req *router.Request) error {
				return s.texter.SendText(ctx, tenantOf(req), StatusText(s.status()))
			},
		})
	}
	return cmds
}

func (s *commandSet) fetchCommand(name, desc string, c catalog.Category) router.Command {
	return router.Command{
		Name:        name,
		Description: desc,
		Access:      router.AccessAuthorized,
		Timeout:     s.timeout,
		Handle: func(ctx context.Context, req *router.Request) error {
			_, err := s.runner.Run(ctx, tenantOf(req), c)
			return err
		},
	}
}

// reportError is the router's OnError hook: the chat gets the error text.
func (s *commandSet) reportError(ctx context.Context, req *router.Request, err error) {
	if sendErr := s.texter.SendText(ctx, tenantOf(req), err.Error()); sendErr != nil {
		req.Logger.Warn("error report failed", logx.Err(sendErr))
	}
}

func ClearedText(n int) string {
	return fmt.Sprintf("Cleared %d object(s)", n)
}

func StatusText(st StatusInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cache: %d object(s), %d chat(s)\n", st.Cache.Records, st.Cache.Tenants)
	fmt.Fprintf(&b, "Browser: %s (%d started)", st.Session, st.Creations)
	for _, j := range st.Jobs {
		if j.Next.IsZero() {
			continue
		}
		fmt.Fprintf(&b, "\nNext %s: %s", j.Name, j.Next.Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}
