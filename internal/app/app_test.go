package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"listingbot/internal/catalog"
	"listingbot/internal/config"
	"listingbot/internal/fetch"
	"listingbot/internal/objcache"
	"listingbot/internal/session"
	"listingbot/internal/task/scheduler"
	kit "listingbot/internal/transport"
	"listingbot/internal/transport/telegram/router"
	logx "listingbot/pkg/logx"
)

type runCall struct {
	Tenant   objcache.Tenant
	Category catalog.Category
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []runCall
	err   error
}

func (f *fakeRunner) Run(_ context.Context, t objcache.Tenant, c catalog.Category) (fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{t, c})
	return fetch.Result{}, f.err
}

type sentText struct {
	Tenant objcache.Tenant
	Text   string
}

type fakeTexter struct {
	mu   sync.Mutex
	sent []sentText
}

func (f *fakeTexter) SendText(_ context.Context, t objcache.Tenant, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{t, text})
	return nil
}

func request(chat int64) *router.Request {
	return &router.Request{
		Update: kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: 1}},
		Chat:   kit.ChatTarget{ChatID: chat},
		FromID: 1,
		Logger: logx.Nop(),
	}
}

func commandByName(t *testing.T, cmds []router.Command, name string) router.Command {
	t.Helper()
	for _, c := range cmds {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("command %q not registered", name)
	return router.Command{}
}

func TestFetchCommandsUseChatTenant(t *testing.T) {
	runner := &fakeRunner{}
	cs := &commandSet{runner: runner, texter: &fakeTexter{}}
	cmds := cs.commands()

	for _, name := range []string{"apartments", "storage", "parking"} {
		cmd := commandByName(t, cmds, name)
		if cmd.Access != router.AccessAuthorized {
			t.Fatalf("%s must require authorization", name)
		}
		if err := cmd.Handle(context.Background(), request(-5)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	want := []runCall{
		{"-5", catalog.CategoryDwelling},
		{"-5", catalog.CategoryStorage},
		{"-5", catalog.CategoryParking},
	}
	if diff := cmp.Diff(want, runner.calls); diff != "" {
		t.Fatalf("runs (-want +got):\n%s", diff)
	}
}

func TestFetchCommandReturnsRunError(t *testing.T) {
	boom := errors.New("listing failed")
	cs := &commandSet{runner: &fakeRunner{err: boom}, texter: &fakeTexter{}}
	err := commandByName(t, cs.commands(), "apartments").Handle(context.Background(), request(1))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestClearCommand(t *testing.T) {
	texter := &fakeTexter{}
	var cleared []objcache.Tenant
	cs := &commandSet{
		runner: &fakeRunner{},
		texter: texter,
		clear: func(_ context.Context, tn objcache.Tenant) int {
			cleared = append(cleared, tn)
			return 3
		},
	}
	if err := commandByName(t, cs.commands(), "clear").Handle(context.Background(), request(9)); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if diff := cmp.Diff([]objcache.Tenant{"9"}, cleared); diff != "" {
		t.Fatalf("cleared (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]sentText{{"9", "Cleared 3 object(s)"}}, texter.sent); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}
}

func TestStatusCommandOptional(t *testing.T) {
	cs := &commandSet{runner: &fakeRunner{}, texter: &fakeTexter{}}
	for _, c := range cs.commands() {
		if c.Name == "status" {
			t.Fatal("status registered without a status source")
		}
	}
}

func TestReportErrorSendsText(t *testing.T) {
	texter := &fakeTexter{}
	cs := &commandSet{texter: texter}
	cs.reportError(context.Background(), request(4), errors.New("could not list objects"))
	if diff := cmp.Diff([]sentText{{"4", "could not list objects"}}, texter.sent); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}
}

func TestStatusText(t *testing.T) {
	next := time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC)
	got := StatusText(StatusInfo{
		Cache:     objcache.Stats{Records: 2, Tenants: 1},
		Session:   session.Live,
		Creations: 3,
		Jobs: []scheduler.Entry{
			{Name: "poll", Next: next},
			{Name: "idle"},
		},
	})
	want := "Cache: 2 object(s), 1 chat(s)\nBrowser: live (3 started)\nNext poll: 2026-10-15 13:00 UTC"
	if got != want {
		t.Fatalf("StatusText() = %q, want %q", got, want)
	}
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{
			Token:             "t",
			AuthorizedUserIDs: []string{"1"},
			OperatorChatID:    "-100",
			GroupLog:          "-200:7",
		},
		Scheduler: config.SchedulerConfig{Timezone: "UTC", Reset: "off"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestTriggerConfig(t *testing.T) {
	tc, err := triggerConfig(testConfig())
	if err != nil {
		t.Fatalf("triggerConfig: %v", err)
	}
	if tc.Operator != "-100" || tc.Category != catalog.CategoryDwelling {
		t.Fatalf("trigger config = %+v", tc)
	}
	if tc.Reset != "" || tc.Poll == "" || tc.Timeout != 4*time.Minute {
		t.Fatalf("schedules = %+v", tc)
	}
}

func TestLogTarget(t *testing.T) {
	cfg := testConfig()
	chat, thread := logTarget(cfg)
	if chat != -200 || thread != 7 {
		t.Fatalf("logTarget = %d, %d", chat, thread)
	}
	cfg.Telegram.GroupLog = "-200"
	cfg.Logging.Telegram.ThreadID = 3
	if _, thread := logTarget(cfg); thread != 3 {
		t.Fatalf("thread = %d, want logging.telegram.thread_id", thread)
	}
}

func TestBrowserAndMetricsConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Catalog.ExecutablePath = "/usr/bin/chromium"
	cfg.Catalog.Selectors.Name = ".title"

	bc := browserConfig(cfg)
	if bc.ExecPath != "/usr/bin/chromium" || !bc.Headless || bc.NavTimeout != 45*time.Second || bc.Selectors.Name != ".title" {
		t.Fatalf("browser config = %+v", bc)
	}
	if !strings.Contains(bc.ListURL, "{category}") {
		t.Fatalf("list url = %q", bc.ListURL)
	}

	mc := metricsConfig(cfg)
	if mc.Enabled || mc.Addr != "127.0.0.1:9464" || mc.WriteTimeout != 30*time.Second {
		t.Fatalf("metrics config = %+v", mc)
	}

	brk := breakerConfig(cfg)
	if diff := cmp.Diff(catalog.DefaultBreakerConfig(), brk); diff != "" {
		t.Fatalf("breaker (-want +got):\n%s", diff)
	}
}
