package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"listingbot/internal/catalog"
	logx "listingbot/pkg/logx"
)

type fakeSession string

func (s fakeSession) Name() string { return string(s) }

type fakeFactory struct {
	creates  atomic.Int32
	closes   atomic.Int32
	gate     chan struct{} // when non-nil, CreateSession blocks until closed
	createEr error
	closeErr error
}

func (f *fakeFactory) CreateSession(ctx context.Context) (catalog.Session, error) {
	n := f.creates.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.createEr != nil {
		return nil, f.createEr
	}
	return fakeSession(fmt.Sprintf("s%d", n)), nil
}

func (f *fakeFactory) CloseSession(ctx context.Context, s catalog.Session) error {
	f.closes.Add(1)
	return f.closeErr
}

type occupancy struct{ empty atomic.Bool }

func (o *occupancy) Empty() bool { return o.empty.Load() }

func emptyCache() *occupancy {
	o := &occupancy{}
	o.empty.Store(true)
	return o
}

func TestAcquireSingleFlight(t *testing.T) {
	f := &fakeFactory{gate: make(chan struct{})}
	m := New(f, emptyCache(), logx.Nop())

	const callers = 8
	var wg sync.WaitGroup
	leases := make([]*Lease, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			leases[i], errs[i] = m.Acquire(context.Background())
		}(i)
	}
	// Let every caller reach Acquire before creation completes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		p := m.pending
		m.mu.Unlock()
		if p == callers || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(f.gate)
	wg.Wait()

	if got := f.creates.Load(); got != 1 {
		t.Fatalf("CreateSession called %d times, want 1", got)
	}
	for i := range leases {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if leases[i].Session != leases[0].Session {
			t.Fatalf("caller %d got a different session", i)
		}
	}
	if m.State() != Live || m.Creations() != 1 {
		t.Fatalf("state=%v creations=%d", m.State(), m.Creations())
	}
}

func TestAcquireReusesLiveSession(t *testing.T) {
	f := &fakeFactory{}
	m := New(f, emptyCache(), logx.Nop())
	a, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	a.Release()
	b, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b.Release()
	if a.Session != b.Session || f.creates.Load() != 1 {
		t.Fatalf("expected reuse, creates=%d", f.creates.Load())
	}
}

func TestAcquireFailureWrapsInit(t *testing.T) {
	f := &fakeFactory{createEr: errors.New("no chrome")}
	m := New(f, emptyCache(), logx.Nop())
	_, err := m.Acquire(context.Background())
	if !errors.Is(err, catalog.ErrResourceInit) {
		t.Fatalf("err = %v, want ErrResourceInit", err)
	}
	if m.State() != Absent {
		t.Fatalf("state = %v, want absent", m.State())
	}
	if m.pending != 0 || m.leases != 0 {
		t.Fatalf("counters leaked: pending=%d leases=%d", m.pending, m.leases)
	}
}

func TestReleaseIfGloballyEmpty(t *testing.T) {
	f := &fakeFactory{}
	occ := &occupancy{}
	m := New(f, occ, logx.Nop())

	if done, err := m.ReleaseIfGloballyEmpty(context.Background()); done || err != nil {
		t.Fatalf("absent: done=%v err=%v", done, err)
	}

	l, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()

	// cache holds records
	if done, _ := m.ReleaseIfGloballyEmpty(context.Background()); done {
		t.Fatal("torn down while cache non-empty")
	}

	occ.empty.Store(true)
	done, err := m.ReleaseIfGloballyEmpty(context.Background())
	if !done || err != nil {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if m.State() != Absent || f.closes.Load() != 1 {
		t.Fatalf("state=%v closes=%d", m.State(), f.closes.Load())
	}

	// next acquire creates a fresh session
	l, err = m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()
	if m.Creations() != 2 {
		t.Fatalf("creations = %d, want 2", m.Creations())
	}
}

func TestReleaseSkippedWhileLeased(t *testing.T) {
	f := &fakeFactory{}
	m := New(f, emptyCache(), logx.Nop())
	l, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if done, _ := m.ReleaseIfGloballyEmpty(context.Background()); done {
		t.Fatal("torn down while a lease is held")
	}
	l.Release()
	l.Release() // double release is a no-op
	if m.leases != 0 {
		t.Fatalf("leases = %d, want 0", m.leases)
	}
	if done, _ := m.ReleaseIfGloballyEmpty(context.Background()); !done {
		t.Fatal("expected teardown after release")
	}
}

func TestTeardownFailureStillAbsent(t *testing.T) {
	f := &fakeFactory{closeErr: errors.New("crashed")}
	m := New(f, emptyCache(), logx.Nop())
	l, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()

	done, err := m.ReleaseIfGloballyEmpty(context.Background())
	if !done {
		t.Fatal("expected teardown attempt")
	}
	if !errors.Is(err, catalog.ErrResourceTeardown) {
		t.Fatalf("err = %v, want ErrResourceTeardown", err)
	}
	if m.State() != Absent {
		t.Fatalf("state = %v, want absent", m.State())
	}
}

func TestShutdown(t *testing.T) {
	f := &fakeFactory{}
	occ := &occupancy{}
	m := New(f, occ, logx.Nop())
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown absent: %v", err)
	}
	l, _ := m.Acquire(context.Background())
	l.Release()
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if m.State() != Absent || f.closes.Load() != 1 {
		t.Fatalf("state=%v closes=%d", m.State(), f.closes.Load())
	}
}
