// Package cron refreshes the persisted system context on a schedule by
// running the mapping sequence in the background.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cypherdesk/cypher/internal/mapping"
	"github.com/cypherdesk/cypher/internal/sysctx"
)

// Mapper runs one mapping sequence.
type Mapper interface {
	Run(ctx context.Context, client sysctx.ClientInfo, onProgress func(mapping.Progress)) (mapping.Report, error)
}

type Options struct {
	Schedule string // cron expression or descriptor, e.g. "0 */6 * * *" or "@every 6h"
	Timezone string // IANA name; empty means local time
	Mapper   Mapper
	Client   func() sysctx.ClientInfo // defaults to sysctx.HostInfo
	Logger   *slog.Logger
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr is a schedule this package accepts.
func Validate(expr string) error {
	if expr == "" {
		return errors.New("schedule is required")
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Scheduler triggers mapping runs. A tick that finds a run still in
// progress, its own or one started through the bridge, is skipped.
type Scheduler struct {
	opts Options
	c    *cron.Cron
	log  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	runs    atomic.Int64

	mu      sync.Mutex
	started bool
	entry   cron.EntryID
}

func New(opts Options) (*Scheduler, error) {
	if err := Validate(opts.Schedule); err != nil {
		return nil, err
	}
	if opts.Mapper == nil {
		return nil, errors.New("mapper is required")
	}
	if opts.Client == nil {
		opts.Client = sysctx.HostInfo
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	loc := time.Local
	if opts.Timezone != "" {
		l, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", opts.Timezone, err)
		}
		loc = l
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:   opts,
		c:      cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		log:    opts.Logger.With("component", "cron"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start schedules the refresh. Calling it twice is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	id, err := s.c.AddFunc(s.opts.Schedule, s.tick)
	if err != nil {
		return fmt.Errorf("schedule mapping refresh: %w", err)
	}
	s.entry = id
	s.started = true
	s.c.Start()
	s.log.Info("context refresh scheduled", "schedule", s.opts.Schedule, "next", s.Next())
	return nil
}

// Stop cancels an in-flight run and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.c.Stop().Done()
}

// Next is the next scheduled run, zero before Start.
func (s *Scheduler) Next() time.Time {
	if s.entry == 0 {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Runs counts completed mapping attempts.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("previous refresh still running, skipping tick")
		return
	}
	defer s.running.Store(false)
	if s.ctx.Err() != nil {
		return
	}

	report, err := s.opts.Mapper.Run(s.ctx, s.opts.Client(), nil)
	switch {
	case errors.Is(err, mapping.ErrRunning):
		s.log.Debug("mapping already in progress, skipping tick")
		return
	case err != nil:
		s.log.Warn("scheduled context refresh incomplete", "run_id", report.RunID, "error", err)
	default:
		s.log.Info("context refreshed", "run_id", report.RunID, "source", report.Context.Meta.Source)
	}
	s.runs.Add(1)
}
