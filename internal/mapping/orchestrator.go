// Package mapping runs the system-mapping sequence: topic-scoped backend
// calls executed strictly in order, merged into the persisted system context.
//
// A failed step is recorded and skipped. Only the final persistence failure
// is returned as an error, and even then the merged result is reported.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cypherdesk/cypher/internal/backend"
	"github.com/cypherdesk/cypher/internal/events"
	"github.com/cypherdesk/cypher/internal/metrics"
	"github.com/cypherdesk/cypher/internal/sysctx"
)

// ErrRunning is returned when a sequence is already in progress.
var ErrRunning = errors.New("mapping already running")

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepResult is one entry of the step log.
type StepResult struct {
	Topic     string    `json:"topic"`
	Label     string    `json:"label"`
	Command   string    `json:"command"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress is a progress report.
type Progress struct {
	RunID   string `json:"runId"`
	Percent int    `json:"percent"`
	Label   string `json:"label"`
}

// Report is the outcome of Run.
type Report struct {
	RunID     string         `json:"runId"`
	Steps     []StepResult   `json:"steps"`
	Context   sysctx.Context `json:"context"`
	Persisted bool           `json:"persisted"`
}

// Mapper is the backend side of the protocol.
type Mapper interface {
	MapTopic(ctx context.Context, topic string) (backend.TopicResult, error)
	MapSystem(ctx context.Context) (sysctx.BackendData, error)
}

// Options wires an Orchestrator.
type Options struct {
	Backend   Mapper
	Repo      *sysctx.Repository
	Publisher events.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Orchestrator runs mapping sequences one at a time.
type Orchestrator struct {
	opts    Options
	logger  *slog.Logger
	running sync.Mutex
}

func New(opts Options) *Orchestrator {
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Orchestrator{opts: opts, logger: l.With("component", "mapping")}
}

// Run executes the sequence. onProgress may be nil.
func (o *Orchestrator) Run(ctx context.Context, client sysctx.ClientInfo, onProgress func(Progress)) (Report, error) {
	if !o.running.TryLock() {
		return Report{}, ErrRunning
	}
	defer o.running.Unlock()

	runID := uuid.NewString()
	log := o.logger.With("run_id", runID)
	report := Report{RunID: runID}

	progress := func(pct int, label string) {
		p := Progress{RunID: runID, Percent: pct, Label: label}
		o.opts.Publisher.Publish(events.MappingProgress, p)
		if onProgress != nil {
			onProgress(p)
		}
	}

	progress(0, "Initializing system mapping")

	prev, err := o.opts.Repo.Load(ctx)
	// unread is set while the stored context could not be read; nothing is
	// saved until a re-read succeeds, so known fields are never overwritten.
	var unread error
	switch {
	case err == nil:
	case errors.Is(err, sysctx.ErrCorrupt):
		log.Warn("stored system context corrupt, starting empty", "error", err)
	default:
		unread = err
		log.Warn("previous system context unreadable, deferring saves", "error", err)
	}
	requested := client
	client = sysctx.MergeClient(prev.Client, requested)

	save := func(acc sysctx.BackendData, gathered bool) (sysctx.Context, error) {
		if unread != nil {
			p, err := o.opts.Repo.Load(ctx)
			if err != nil && !errors.Is(err, sysctx.ErrCorrupt) {
				unread = err
				return o.snapshot(prev, client, acc, gathered), fmt.Errorf("previous system context unreadable: %w", err)
			}
			prev, unread = p, nil
			client = sysctx.MergeClient(prev.Client, requested)
		}
		snap := o.snapshot(prev, client, acc, gathered)
		return snap, o.opts.Repo.Save(ctx, snap)
	}

	var acc sysctx.BackendData
	gathered := false
	for i, topic := range Topics {
		progress(stepPercent(i, len(Topics)), topic.Label)
		step := StepResult{Topic: topic.Name, Label: topic.Label, Command: topic.Command}

		res, err := o.opts.Backend.MapTopic(ctx, topic.Name)
		step.Timestamp = o.opts.Now()
		if err != nil {
			step.Status = StatusFailed
			step.Error = err.Error()
			report.Steps = append(report.Steps, step)
			metrics.IncMappingStep(topic.Name, string(StatusFailed))
			log.Warn("mapping step failed", "topic", topic.Name, "error", err)
			continue
		}
		if res.Command != "" {
			step.Command = res.Command
		}
		step.Status = StatusCompleted
		report.Steps = append(report.Steps, step)
		metrics.IncMappingStep(topic.Name, string(StatusCompleted))

		data := topic.Pick(res.Data)
		if data.Empty() {
			continue
		}
		acc = sysctx.Merge(acc, data)
		gathered = true
		if _, err := save(acc, true); err != nil {
			metrics.IncPersistFailure("context")
			log.Warn("intermediate context save failed", "topic", topic.Name, "error", err)
		}
	}

	progress(90, "Finalizing")
	if full, err := o.opts.Backend.MapSystem(ctx); err != nil {
		log.Info("consolidated mapping unavailable", "error", err)
	} else if !full.Empty() {
		acc = sysctx.FillGaps(acc, full)
		gathered = true
	}

	var saveErr error
	report.Context, saveErr = save(acc, gathered)
	if saveErr != nil {
		metrics.IncPersistFailure("context")
		log.Error("system context save failed", "error", saveErr)
	} else {
		report.Persisted = true
	}
	report.Context.Meta.Version = sysctx.SchemaVersion

	progress(100, "System mapping complete")
	log.Info("system mapping finished", "steps", len(report.Steps), "failed", countFailed(report.Steps),
		"source", report.Context.Meta.Source)
	if saveErr != nil {
		return report, fmt.Errorf("persist system context: %w", saveErr)
	}
	return report, nil
}

// snapshot merges acc over prev and stamps provenance.
func (o *Orchestrator) snapshot(prev sysctx.Context, client sysctx.ClientInfo, acc sysctx.BackendData, gathered bool) sysctx.Context {
	c := sysctx.Context{
		Client:  client,
		Backend: sysctx.Merge(prev.Backend, acc),
	}
	c.Meta.MappedAt = o.opts.Now().UTC()
	switch {
	case gathered:
		c.Meta.Source = sysctx.SourceBackend
	case !prev.Backend.Empty():
		c.Meta.Source = sysctx.SourceFallback
	default:
		c.Meta.Source = sysctx.SourceClientOnly
	}
	return c
}

func countFailed(steps []StepResult) int {
	n := 0
	for _, s := range steps {
		if s.Status == StatusFailed {
			n++
		}
	}
	return n
}
