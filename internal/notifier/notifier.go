// Package notifier renders run output as chat messages and delivers them
// through a transport.Adapter.
//
// Sends are paced by a token bucket shared by all tenants and are never
// retried; callers decide what a failed send means.
package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"listingbot/internal/catalog"
	"listingbot/internal/objcache"
	"listingbot/internal/transport"
	logx "listingbot/pkg/logx"
)

// Keyboard is attached to replies so the commands stay one tap away.
var Keyboard = [][]string{{"/apartments", "/storage", "/parking", "/clear"}}

// Telegram rejects photo captions above this length.
const maxCaption = 1024

type Config struct {
	RatePerSec float64
	Burst      int
}

type Notifier struct {
	adapter transport.Adapter
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Notifier {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:     log,
	}
}

// Target maps a tenant to its chat.
func Target(t objcache.Tenant) (transport.ChatTarget, error) {
	id, err := strconv.ParseInt(string(t), 10, 64)
	if err != nil {
		return transport.ChatTarget{}, fmt.Errorf("tenant %q is not a chat id", t)
	}
	return transport.ChatTarget{ChatID: id}, nil
}

func (n *Notifier) SendSummary(ctx context.Context, t objcache.Tenant, text string) error {
	return n.text(ctx, t, text, nil)
}

// SendText sends plain text with the command keyboard.
func (n *Notifier) SendText(ctx context.Context, t objcache.Tenant, text string) error {
	return n.text(ctx, t, text, &transport.SendOptions{Keyboard: Keyboard})
}

// SendLinkOnly is the fallback notice for a listing whose detail could not be read.
func (n *Notifier) SendLinkOnly(ctx context.Context, t objcache.Tenant, link string) error {
	return n.text(ctx, t, link, &transport.SendOptions{Keyboard: Keyboard})
}

// SendDetail sends the listing screenshot captioned with its facts. Records
// without a screenshot go out as a text message with the same body.
func (n *Notifier) SendDetail(ctx context.Context, t objcache.Tenant, rec catalog.Record) error {
	to, err := Target(t)
	if err != nil {
		return err
	}
	opt := &transport.SendOptions{ParseMode: "Markdown", Keyboard: Keyboard}
	body := Caption(rec)
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	if len(rec.Screenshot) == 0 {
		n.log.Debug("record has no screenshot; sending text", logx.String("link", rec.Link))
		_, err = n.adapter.SendText(ctx, to, body, opt)
		return err
	}
	_, err = n.adapter.SendPhoto(ctx, to, rec.Screenshot, body, opt)
	return err
}

// Reply answers a specific message, without the keyboard.
func (n *Notifier) Reply(ctx context.Context, to transport.ChatTarget, replyTo int, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := n.adapter.SendText(ctx, to, text, &transport.SendOptions{ReplyTo: replyTo})
	return err
}

func (n *Notifier) text(ctx context.Context, t objcache.Tenant, text string, opt *transport.SendOptions) error {
	to, err := Target(t)
	if err != nil {
		return err
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = n.adapter.SendText(ctx, to, text, opt)
	return err
}

// Caption renders a record in Telegram Markdown: the name, one bold-labelled
// line per fact, then a link. Facts are dropped from the end when the
// caption would exceed what Telegram accepts.
func Caption(rec catalog.Record) string {
	head := escape(rec.Name)
	tail := "[View Online](" + rec.Link + ")"

	lines := make([]string, 0, len(rec.Facts))
	size := len(head) + 1 + len(tail)
	for _, f := range rec.Facts {
		l := "*" + escape(f.Label) + ":* " + escape(f.Value)
		if size+len(l)+1 > maxCaption {
			break
		}
		size += len(l) + 1
		lines = append(lines, l)
	}

	var b strings.Builder
	b.WriteString(head)
	for _, l := range lines {
		b.WriteByte('\n')
		b.WriteString(l)
	}
	b.WriteByte('\n')
	b.WriteString(tail)
	return b.String()
}

var mdEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escape(s string) string { return mdEscaper.Replace(s) }
