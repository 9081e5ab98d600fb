package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"listingbot/internal/catalog"
	"listingbot/internal/objcache"
	"listingbot/internal/session"
	logx "listingbot/pkg/logx"
)

type fakeSession struct{}

func (fakeSession) Name() string { return "fake" }

type fakeFactory struct {
	mu      sync.Mutex
	creates int
	closes  int
	fail    error
}

func (f *fakeFactory) CreateSession(context.Context) (catalog.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.creates++
	return fakeSession{}, nil
}

func (f *fakeFactory) CloseSession(context.Context, catalog.Session) error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

type fakeBrowser struct {
	mu        sync.Mutex
	links     map[catalog.Category][]catalog.Link
	listErr   error
	detailErr map[string]error
	fetched   []string
}

func (b *fakeBrowser) ListObjects(_ context.Context, _ catalog.Session, c catalog.Category) ([]catalog.Link, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.links[c], nil
}

func (b *fakeBrowser) FetchDetail(_ context.Context, _ catalog.Session, l catalog.Link) (catalog.Record, error) {
	b.mu.Lock()
	b.fetched = append(b.fetched, l.ID)
	b.mu.Unlock()
	if err := b.detailErr[l.ID]; err != nil {
		return catalog.Record{}, err
	}
	return catalog.Record{Name: "name " + l.ID, Link: l.ID, Screenshot: []byte("jpg")}, nil
}

func (b *fakeBrowser) fetchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fetched)
}

type sent struct {
	Tenant objcache.Tenant
	Kind   string
	Body   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	out  []sent
	fail map[string]error // by kind
}

func (n *fakeNotifier) add(t objcache.Tenant, kind, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail[kind]; err != nil {
		return err
	}
	n.out = append(n.out, sent{t, kind, body})
	return nil
}

func (n *fakeNotifier) SendSummary(_ context.Context, t objcache.Tenant, text string) error {
	return n.add(t, "summary", text)
}

func (n *fakeNotifier) SendDetail(_ context.Context, t objcache.Tenant, rec catalog.Record) error {
	return n.add(t, "detail", rec.Link)
}

func (n *fakeNotifier) SendLinkOnly(_ context.Context, t objcache.Tenant, link string) error {
	return n.add(t, "link", link)
}

func (n *fakeNotifier) SendText(_ context.Context, t objcache.Tenant, text string) error {
	return n.add(t, "text", text)
}

func (n *fakeNotifier) take() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.out
	n.out = nil
	return out
}

type fixture struct {
	factory  *fakeFactory
	browser  *fakeBrowser
	notifier *fakeNotifier
	cache    *objcache.Cache
	sessions *session.Manager
	orch     *Orchestrator
}

func newFixture(links ...string) *fixture {
	f := &fixture{
		factory:  &fakeFactory{},
		browser:  &fakeBrowser{links: map[catalog.Category][]catalog.Link{}},
		notifier: &fakeNotifier{},
		cache:    objcache.New(),
	}
	for _, id := range links {
		f.browser.links[catalog.CategoryDwelling] = append(f.browser.links[catalog.CategoryDwelling], catalog.Link{ID: id, URL: id + "?src=list"})
	}
	f.sessions = session.New(f.factory, f.cache, logx.Nop())
	f.orch = New(Deps{
		Sessions: f.sessions,
		Browser:  f.browser,
		Cache:    f.cache,
		Notifier: f.notifier,
	})
	return f
}

func TestSummary(t *testing.T) {
	cases := map[int]string{
		0:  "Found no new objects.",
		1:  "Found 1 new object.",
		2:  "Found 2 new objects.",
		17: "Found 17 new objects.",
	}
	for n, want := range cases {
		if got := Summary(n); got != want {
			t.Fatalf("Summary(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestRunContainsDetailFailure(t *testing.T) {
	f := newFixture("a", "b", "c")
	f.browser.detailErr = map[string]error{"b": errors.New("timeout")}

	res, err := f.orch.Run(context.Background(), "T", catalog.CategoryDwelling)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []sent{
		{"T", "summary", "Found 3 new objects."},
		{"T", "detail", "a"},
		{"T", "link", "b?src=list"},
		{"T", "detail", "c"},
	}
	if diff := cmp.Diff(want, f.notifier.take()); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Result{Candidates: 3, New: 3, Sent: 2, Failed: 1}, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if f.cache.HasSeen("T", "b") {
		t.Fatal("failed detail must not be marked seen")
	}
	if !f.cache.HasSeen("T", "a") || !f.cache.HasSeen("T", "c") {
		t.Fatal("delivered details must be marked seen")
	}

	// The failed item is offered again on the next run.
	f.browser.detailErr = nil
	res, err = f.orch.Run(context.Background(), "T", catalog.CategoryDwelling)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want = []sent{
		{"T", "summary", "Found 1 new object."},
		{"T", "detail", "b"},
	}
	if diff := cmp.Diff(want, f.notifier.take()); diff != "" {
		t.Fatalf("second run mismatch (-want +got):\n%s", diff)
	}
	if res.New != 1 {
		t.Fatalf("New = %d, want 1", res.New)
	}
}

func TestRunTwoTenantsEndToEnd(t *testing.T) {
	f := newFixture("x", "y")
	ctx := context.Background()

	if _, err := f.orch.Run(ctx, "A", catalog.CategoryDwelling); err != nil {
		t.Fatalf("Run A: %v", err)
	}
	if got := f.browser.fetchCount(); got != 2 {
		t.Fatalf("fetches after A = %d, want 2", got)
	}

	res, err := f.orch.Run(ctx, "B", catalog.CategoryDwelling)
	if err != nil {
		t.Fatalf("Run B: %v", err)
	}
	if got := f.browser.fetchCount(); got != 2 {
		t.Fatalf("B triggered %d extra detail fetches", got-2)
	}
	if res.CacheHits != 2 || res.Sent != 2 {
		t.Fatalf("B result = %+v", res)
	}

	// A run with nothing new still sends the summary.
	f.notifier.take()
	if _, err := f.orch.Run(ctx, "A", catalog.CategoryDwelling); err != nil {
		t.Fatalf("Run A again: %v", err)
	}
	if diff := cmp.Diff([]sent{{"A", "summary", "Found no new objects."}}, f.notifier.take()); diff != "" {
		t.Fatalf("repeat run mismatch (-want +got):\n%s", diff)
	}

	// Clearing A keeps B's references; the session stays.
	if n := Clear(ctx, f.cache, f.sessions, "A", logx.Nop()); n != 2 {
		t.Fatalf("Clear(A) = %d, want 2", n)
	}
	if f.cache.Len() != 2 || f.sessions.State() != session.Live {
		t.Fatalf("after Clear(A): len=%d state=%v", f.cache.Len(), f.sessions.State())
	}

	// Clearing B empties the cache and tears the session down.
	Clear(ctx, f.cache, f.sessions, "B", logx.Nop())
	if !f.cache.Empty() || f.sessions.State() != session.Absent {
		t.Fatalf("after Clear(B): len=%d state=%v", f.cache.Len(), f.sessions.State())
	}
	if f.factory.closes != 1 || f.factory.creates != 1 {
		t.Fatalf("creates=%d closes=%d", f.factory.creates, f.factory.closes)
	}

	// Next run starts a fresh session and fetches again.
	if _, err := f.orch.Run(ctx, "A", catalog.CategoryDwelling); err != nil {
		t.Fatalf("Run after clear: %v", err)
	}
	if f.factory.creates != 2 || f.browser.fetchCount() != 4 {
		t.Fatalf("creates=%d fetches=%d", f.factory.creates, f.browser.fetchCount())
	}
}

func TestRunListingFailureAborts(t *testing.T) {
	f := newFixture("a")
	f.browser.listErr = errors.New("net down")

	_, err := f.orch.Run(context.Background(), "T", catalog.CategoryDwelling)
	if !errors.Is(err, catalog.ErrListingFetch) {
		t.Fatalf("err = %v, want ErrListingFetch", err)
	}
	if got := f.notifier.take(); len(got) != 0 {
		t.Fatalf("expected no notifications, got %v", got)
	}
	if f.sessions.State() != session.Live {
		t.Fatal("listing failure must not tear the session down")
	}
}

func TestRunSessionInitFailure(t *testing.T) {
	f := newFixture("a")
	f.factory.fail = errors.New("no binary")
	_, err := f.orch.Run(context.Background(), "T", catalog.CategoryDwelling)
	if !errors.Is(err, catalog.ErrResourceInit) {
		t.Fatalf("err = %v, want ErrResourceInit", err)
	}
}

func TestRunNotificationFailureIsContained(t *testing.T) {
	f := newFixture("a", "b")
	f.notifier.fail = map[string]error{"summary": errors.New("429")}
	res, err := f.orch.Run(context.Background(), "T", catalog.CategoryDwelling)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Sent != 2 {
		t.Fatalf("Sent = %d, want 2", res.Sent)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, fmt.Sprintf("id%d", i))
	}
	f := newFixture(ids...)
	ctx, cancel := context.WithCancel(context.Background())
	f.notifier.fail = nil
	cancelAfter := &cancelNotifier{fakeNotifier: f.notifier, after: 2, cancel: cancel}
	f.orch.notifier = cancelAfter

	res, err := f.orch.Run(ctx, "T", catalog.CategoryDwelling)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Sent != 2 {
		t.Fatalf("Sent = %d, want 2", res.Sent)
	}
}

// cancelNotifier cancels the run after a number of detail notices.
type cancelNotifier struct {
	*fakeNotifier
	after  int
	cancel context.CancelFunc
	n      int
}

func (c *cancelNotifier) SendDetail(ctx context.Context, t objcache.Tenant, rec catalog.Record) error {
	err := c.fakeNotifier.SendDetail(ctx, t, rec)
	c.n++
	if c.n == c.after {
		c.cancel()
	}
	return err
}
