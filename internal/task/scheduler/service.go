package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "listingbot/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Stockholm"
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type def struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entry   cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser

	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	defs   map[string]*def

	// OnResult, when set, observes every finished run.
	OnResult func(name string, err error)
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg: cfg,
		log: log,
		loc: loc,
		parser: specParser,
		defs:   map[string]*def{},
	}, nil
}

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSpec converts a schedule accepted by ParseSchedule into the
// expression handed to cron, and checks that cron accepts it.
func CronSpec(schedule string) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	if _, err := specParser.Parse(spec); err != nil {
		return "", err
	}
	return spec, nil
}

// LoadLocation resolves an IANA timezone; empty means local time.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (s *Service) Location() *time.Location { return s.loc }

// AddSchedule registers job under name, replacing any job with that name.
// schedule is parsed with ParseSchedule.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	spec, err := CronSpec(schedule)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &def{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		return s.registerLocked(d)
	}
	return nil
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entry != 0 {
		s.c.Remove(d.entry)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) registerLocked(d *def) error {
	sched, err := s.parser.Parse(d.spec)
	if err != nil {
		return err
	}
	chain := cron.NewChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log}))
	d.entry = s.c.Schedule(sched, chain.Then(cron.FuncJob(s.runner(d))))
	s.log.Debug("schedule registered",
		logx.String("name", d.name),
		logx.String("spec", d.spec),
		logx.Duration("timeout", d.timeout),
		logx.Time("next", sched.Next(time.Now().In(s.loc))))
	return nil
}

func (s *Service) runner(d *def) func() {
	name, timeout, job := d.name, d.timeout, d.job
	return func() {
		s.mu.Lock()
		base := s.ctx
		s.mu.Unlock()
		if base == nil || base.Err() != nil {
			return
		}
		ctx := base
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(base, timeout)
			defer cancel()
		}

		start := time.Now()
		err := job(ctx)
		if err != nil {
			s.log.Warn("job failed", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		} else {
			s.log.Debug("job done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		}
		if s.OnResult != nil {
			s.OnResult(name, err)
		}
	}
}

// Start begins triggering. Jobs run under ctx, so cancelling it cancels
// in-flight runs.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc), cron.WithLogger(cronLogger{s.log}))
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering, cancels running jobs and waits for them or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for _, d := range s.defs {
		d.entry = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

type Entry struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Entries lists registered jobs by name. Next and Prev are zero while stopped.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		e := Entry{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entry != 0 {
			ce := s.c.Entry(d.entry)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NextRuns previews the next n trigger times of spec after from, in the
// scheduler's location.
func (s *Service) NextRuns(spec string, from time.Time, n int) ([]time.Time, error) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if ps.Kind == SpecInterval {
		ps.Cron = "@every " + ps.Every.String()
	}
	sched, err := s.parser.Parse(ps.Cron)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from.In(s.loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		out = append(out, t)
	}
	return out, nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
