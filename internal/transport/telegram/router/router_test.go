package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"listingbot/internal/auth"
	kit "listingbot/internal/transport"
	logx "listingbot/pkg/logx"
)

type sentText struct {
	To      kit.ChatTarget
	Text    string
	ReplyTo int
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentText
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s := sentText{To: to, Text: text}
	if opt != nil {
		s.ReplyTo = opt.ReplyTo
	}
	a.mu.Lock()
	a.sent = append(a.sent, s)
	a.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (a *fakeAdapter) SendPhoto(context.Context, kit.ChatTarget, []byte, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func message(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 10, ChatID: -5, FromID: from, Text: text}}
}

// drain runs queued jobs synchronously.
func drain(r *Router) {
	for {
		select {
		case job := <-r.jobs:
			job()
		default:
			return
		}
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{"/apartments", "apartments", []string{}, true},
		{"/Clear@listing_bot now", "clear", []string{"now"}, true},
		{"  /status  ", "status", []string{}, true},
		{"hello /apartments", "", nil, false},
		{"/", "", nil, false},
		{"", "", nil, false},
	}
	for _, tc := range cases {
		name, args, ok := ParseCommand(tc.in)
		if ok != tc.ok || name != tc.name {
			t.Fatalf("ParseCommand(%q) = %q, %v, %v", tc.in, name, args, ok)
		}
		if ok && !cmp.Equal(tc.args, args) {
			t.Fatalf("ParseCommand(%q) args = %q, want %q", tc.in, args, tc.args)
		}
	}
}

func TestUnauthorizedGetsRefusalReply(t *testing.T) {
	a := &fakeAdapter{}
	ran := false
	var done []string
	r := New(logx.Nop(), a, auth.NewGate([]string{"1"}), Options{
		OnDone: func(cmd string, err error) {
			if errors.Is(err, auth.ErrUnauthorized) {
				done = append(done, cmd)
			}
		},
	})
	r.SetCommands(context.Background(), []Command{{
		Name: "apartments", Access: AccessAuthorized,
		Handle: func(context.Context, *Request) error { ran = true; return nil },
	}})

	r.Route(context.Background(), message(2, "/apartments"))
	drain(r)

	if ran {
		t.Fatal("handler ran for an unauthorized actor")
	}
	want := []sentText{{To: kit.ChatTarget{ChatID: -5}, Text: "I shall obey my masters, only!", ReplyTo: 10}}
	if diff := cmp.Diff(want, a.sent); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"apartments"}, done); diff != "" {
		t.Fatalf("OnDone mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingSenderIsRefused(t *testing.T) {
	a := &fakeAdapter{}
	r := New(logx.Nop(), a, auth.NewGate([]string{"0", ""}), Options{})
	r.SetCommands(context.Background(), []Command{{
		Name: "clear", Access: AccessAuthorized,
		Handle: func(context.Context, *Request) error { t.Fatal("handler ran"); return nil },
	}})
	r.Route(context.Background(), message(0, "/clear"))
	drain(r)
	if len(a.sent) != 1 || a.sent[0].Text != auth.RefusalText {
		t.Fatalf("sent = %+v", a.sent)
	}
}

func TestAuthorizedRunsHandlerAndReportsError(t *testing.T) {
	a := &fakeAdapter{}
	var got *Request
	var reported error
	r := New(logx.Nop(), a, auth.NewGate([]string{"1"}), Options{
		OnError: func(_ context.Context, req *Request, err error) { reported = err },
	})
	boom := errors.New("listing fetch failed: net down")
	r.SetCommands(context.Background(), []Command{{
		Name: "storage", Aliases: []string{"forrad"}, Access: AccessAuthorized,
		Handle: func(_ context.Context, req *Request) error { got = req; return boom },
	}})

	r.Route(context.Background(), message(1, "/forrad@bot x"))
	drain(r)

	if got == nil {
		t.Fatal("handler did not run")
	}
	if got.Command != "storage" || got.Actor() != "1" || got.MessageID != 10 || !cmp.Equal([]string{"x"}, got.Args) {
		t.Fatalf("request = %+v", got)
	}
	if !errors.Is(reported, boom) {
		t.Fatalf("OnError got %v", reported)
	}
}

func TestPanicBecomesError(t *testing.T) {
	var reported error
	r := New(logx.Nop(), &fakeAdapter{}, auth.NewGate(nil), Options{
		OnError: func(_ context.Context, _ *Request, err error) { reported = err },
	})
	r.SetCommands(context.Background(), []Command{{
		Name:   "status",
		Handle: func(context.Context, *Request) error { panic("nil map") },
	}})
	r.Route(context.Background(), message(9, "/status"))
	drain(r)
	if reported == nil || !strings.Contains(reported.Error(), "panic") {
		t.Fatalf("OnError got %v", reported)
	}
}

func TestUnknownAndPlainTextIgnored(t *testing.T) {
	a := &fakeAdapter{}
	r := New(logx.Nop(), a, auth.NewGate(nil), Options{})
	r.SetCommands(context.Background(), nil)
	r.Route(context.Background(), message(1, "/nope"))
	r.Route(context.Background(), message(1, "just chatting"))
	drain(r)
	if len(a.sent) != 0 {
		t.Fatalf("sent = %+v", a.sent)
	}
}

func TestHelpListsCommands(t *testing.T) {
	a := &fakeAdapter{}
	r := New(logx.Nop(), a, auth.NewGate(nil), Options{})
	r.SetCommands(context.Background(), []Command{
		{Name: "parking", Description: "check parking spaces", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "clear", Description: "forget shown listings", Handle: func(context.Context, *Request) error { return nil }},
	})
	want := "Commands:\n/clear - forget shown listings\n/help - list commands\n/parking - check parking spaces"
	if got := r.HelpText(); got != want {
		t.Fatalf("HelpText() = %q, want %q", got, want)
	}
	r.Route(context.Background(), message(1, "/help"))
	drain(r)
	if len(a.sent) != 1 || a.sent[0].Text != want {
		t.Fatalf("sent = %+v", a.sent)
	}
}

func TestDispatchLoopRunsCommands(t *testing.T) {
	r := New(logx.Nop(), &fakeAdapter{}, auth.NewGate(nil), Options{Workers: 2})
	done := make(chan struct{})
	r.SetCommands(context.Background(), []Command{{
		Name:   "status",
		Handle: func(context.Context, *Request) error { close(done); return nil },
	}})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	loopDone := make(chan error, 1)
	go func() { loopDone <- r.DispatchLoop(ctx, updates) }()
	updates <- message(1, "/status")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("command not dispatched")
	}
	cancel()
	select {
	case err := <-loopDone:
		if err != nil {
			t.Fatalf("DispatchLoop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DispatchLoop did not stop")
	}
}
