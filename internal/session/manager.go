// Package session manages the single shared browser session.
//
// The manager has two states. Absent: no session. Live: one session shared by
// every run. Acquire moves Absent to Live (creation is single-flight);
// ReleaseIfGloballyEmpty moves Live to Absent once the object cache is empty
// and nobody holds or is waiting for the session.
package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"listingbot/internal/catalog"
	logx "listingbot/pkg/logx"
)

type State int

const (
	Absent State = iota
	Live
)

func (s State) String() string {
	if s == Live {
		return "live"
	}
	return "absent"
}

// Occupancy reports whether the global object cache is empty.
type Occupancy interface {
	Empty() bool
}

type Manager struct {
	factory catalog.SessionFactory
	occ     Occupancy
	log     logx.Logger

	group singleflight.Group

	mu        sync.Mutex
	sess      catalog.Session
	leases    int // runs currently using sess
	pending   int // callers inside Acquire
	creations uint64
}

func New(factory catalog.SessionFactory, occ Occupancy, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{factory: factory, occ: occ, log: log}
}

// Lease is a hold on the live session. Release it when the run is done.
type Lease struct {
	Session catalog.Session

	m    *Manager
	once sync.Once
}

func (l *Lease) Release() {
	if l == nil || l.m == nil {
		return
	}
	l.once.Do(func() {
		l.m.mu.Lock()
		l.m.leases--
		l.m.mu.Unlock()
	})
}

// Acquire returns a lease on the live session, creating it if Absent.
// Concurrent callers arriving while a creation is in progress wait for and
// share that creation.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	m.mu.Lock()
	if m.sess != nil {
		m.leases++
		s := m.sess
		m.mu.Unlock()
		return &Lease{Session: s, m: m}, nil
	}
	m.pending++
	m.mu.Unlock()

	// The creation is shared, so one caller giving up must not cancel it.
	sctx := context.WithoutCancel(ctx)
	v, err, shared := m.group.Do("session", func() (any, error) {
		m.mu.Lock()
		if m.sess != nil {
			s := m.sess
			m.mu.Unlock()
			return s, nil
		}
		m.mu.Unlock()

		s, err := m.factory.CreateSession(sctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", catalog.ErrResourceInit, err)
		}
		m.mu.Lock()
		m.sess = s
		m.creations++
		m.mu.Unlock()
		m.log.Info("session created", logx.String("session", s.Name()))
		return s, nil
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending--
	if err != nil {
		m.log.Warn("session create failed", logx.Bool("shared", shared), logx.Err(err))
		return nil, err
	}
	m.leases++
	return &Lease{Session: v.(catalog.Session), m: m}, nil
}

// ReleaseIfGloballyEmpty tears the session down when the object cache is
// empty and no run holds or awaits the session. It reports whether a
// teardown happened. A failed close is returned wrapped in
// catalog.ErrResourceTeardown, but the manager is Absent afterwards either way.
func (m *Manager) ReleaseIfGloballyEmpty(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return false, nil
	}
	if !m.occ.Empty() {
		m.mu.Unlock()
		return false, nil
	}
	if m.leases > 0 || m.pending > 0 {
		leases, pending := m.leases, m.pending
		m.mu.Unlock()
		m.log.Debug("session in use; teardown skipped", logx.Int("leases", leases), logx.Int("pending", pending))
		return false, nil
	}
	s := m.sess
	m.sess = nil
	m.mu.Unlock()

	return true, m.close(ctx, s)
}

// Shutdown closes the session regardless of cache occupancy. Used on
// process stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return m.close(ctx, s)
}

func (m *Manager) close(ctx context.Context, s catalog.Session) error {
	if err := m.factory.CloseSession(ctx, s); err != nil {
		m.log.Warn("session close failed; marked absent", logx.String("session", s.Name()), logx.Err(err))
		return fmt.Errorf("%w: %w", catalog.ErrResourceTeardown, err)
	}
	m.log.Info("session closed", logx.String("session", s.Name()))
	return nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return Live
	}
	return Absent
}

// Creations counts sessions created over the manager's lifetime.
func (m *Manager) Creations() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creations
}
