package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"listingbot/internal/catalog"
	"listingbot/internal/transport"
	logx "listingbot/pkg/logx"
)

type call struct {
	Kind    string
	To      transport.ChatTarget
	Body    string
	Photo   int
	Options transport.SendOptions
}

type fakeAdapter struct {
	mu    sync.Mutex
	calls []call
}

func (a *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                           { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.record(call{Kind: "text", To: to, Body: text, Options: deref(opt)})
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) SendPhoto(_ context.Context, to transport.ChatTarget, photo []byte, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.record(call{Kind: "photo", To: to, Body: caption, Photo: len(photo), Options: deref(opt)})
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) record(c call) {
	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()
}

func deref(o *transport.SendOptions) transport.SendOptions {
	if o == nil {
		return transport.SendOptions{}
	}
	return *o
}

func TestCaption(t *testing.T) {
	rec := catalog.Record{
		Name:  "Storgatan 1",
		Facts: []catalog.Fact{{Label: "Hyra", Value: "8 500 kr"}, {Label: "Rum", Value: "2"}},
		Link:  "https://example.se/a",
	}
	want := "Storgatan 1\n*Hyra:* 8 500 kr\n*Rum:* 2\n[View Online](https://example.se/a)"
	if got := Caption(rec); got != want {
		t.Fatalf("Caption() = %q, want %q", got, want)
	}
}

func TestCaptionEscapesMarkdown(t *testing.T) {
	rec := catalog.Record{Name: "lgh_1 *top*", Link: "https://x"}
	if got := Caption(rec); !strings.HasPrefix(got, `lgh\_1 \*top\*`) {
		t.Fatalf("Caption() = %q", got)
	}
}

func TestCaptionTruncatesFacts(t *testing.T) {
	rec := catalog.Record{Name: "n", Link: "https://x"}
	for i := 0; i < 100; i++ {
		rec.Facts = append(rec.Facts, catalog.Fact{Label: "Label", Value: strings.Repeat("v", 30)})
	}
	got := Caption(rec)
	if len(got) > maxCaption {
		t.Fatalf("caption length %d exceeds %d", len(got), maxCaption)
	}
	if !strings.HasSuffix(got, "[View Online](https://x)") {
		t.Fatal("link dropped from truncated caption")
	}
}

func TestSendDetail(t *testing.T) {
	a := &fakeAdapter{}
	n := New(Config{RatePerSec: 1000, Burst: 10}, a, logx.Nop())
	ctx := context.Background()

	if err := n.SendDetail(ctx, "42", catalog.Record{Name: "A", Link: "l", Screenshot: []byte("jpeg")}); err != nil {
		t.Fatalf("SendDetail: %v", err)
	}
	if err := n.SendDetail(ctx, "42", catalog.Record{Name: "B", Link: "l"}); err != nil {
		t.Fatalf("SendDetail: %v", err)
	}
	opt := transport.SendOptions{ParseMode: "Markdown", Keyboard: Keyboard}
	want := []call{
		{Kind: "photo", To: transport.ChatTarget{ChatID: 42}, Body: "A\n[View Online](l)", Photo: 4, Options: opt},
		{Kind: "text", To: transport.ChatTarget{ChatID: 42}, Body: "B\n[View Online](l)", Options: opt},
	}
	if diff := cmp.Diff(want, a.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestSendSummaryAndLink(t *testing.T) {
	a := &fakeAdapter{}
	n := New(Config{RatePerSec: 1000, Burst: 10}, a, logx.Nop())
	ctx := context.Background()
	_ = n.SendSummary(ctx, "-100", "Found 1 new object.")
	_ = n.SendLinkOnly(ctx, "-100", "https://x")
	_ = n.Reply(ctx, transport.ChatTarget{ChatID: 7}, 99, "no")

	want := []call{
		{Kind: "text", To: transport.ChatTarget{ChatID: -100}, Body: "Found 1 new object."},
		{Kind: "text", To: transport.ChatTarget{ChatID: -100}, Body: "https://x", Options: transport.SendOptions{Keyboard: Keyboard}},
		{Kind: "text", To: transport.ChatTarget{ChatID: 7}, Body: "no", Options: transport.SendOptions{ReplyTo: 99}},
	}
	if diff := cmp.Diff(want, a.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestBadTenant(t *testing.T) {
	n := New(Config{}, &fakeAdapter{}, logx.Nop())
	if err := n.SendText(context.Background(), "not-a-chat", "x"); err == nil {
		t.Fatal("expected error for non-numeric tenant")
	}
}
