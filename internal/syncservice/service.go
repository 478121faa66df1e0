// Package syncservice coordinates sync runs with the run ledger.
package syncservice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/starford/obsidian2bookstack/internal/engine"
	"github.com/starford/obsidian2bookstack/internal/ledger"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still executing.
var ErrRunInProgress = errors.New("syncservice: a run is already in progress")

// Syncer is the engine surface the service drives.
type Syncer interface {
	Plan(ctx context.Context) (*engine.Plan, *engine.Report, error)
	Run(ctx context.Context) (*engine.Report, error)
}

// Service runs syncs one at a time and records every report.
type Service struct {
	syncer Syncer
	store  ledger.Store
	logger *slog.Logger

	mu sync.Mutex
}

// NewService creates a new sync service.
func NewService(syncer Syncer, store ledger.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{syncer: syncer, store: store, logger: logger}
}

// Plan computes the operations a sync would perform without applying them.
// The dry run is recorded in the ledger.
func (s *Service) Plan(ctx context.Context) (*engine.Plan, *engine.Report, error) {
	if !s.mu.TryLock() {
		return nil, nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	plan, rep, err := s.syncer.Plan(ctx)
	s.save(rep)
	return plan, rep, err
}

// Sync performs a full run. The report is returned even when err is non-nil.
func (s *Service) Sync(ctx context.Context) (*engine.Report, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	rep, err := s.syncer.Run(ctx)
	s.save(rep)
	return rep, err
}

// History lists recorded runs, newest first.
func (s *Service) History(_ context.Context, limit, offset int) ([]ledger.Run, int, error) {
	return s.store.ListRuns(limit, offset)
}

// RunDetail returns one recorded run.
func (s *Service) RunDetail(_ context.Context, id string) (*ledger.Record, error) {
	return s.store.GetRun(id)
}

// save records the report; a ledger failure never fails the run.
func (s *Service) save(rep *engine.Report) {
	if rep == nil {
		return
	}
	if err := s.store.SaveRun(RecordOf(rep)); err != nil {
		s.logger.Warn("syncservice: record run failed",
			slog.String("run_id", rep.RunID),
			slog.String("error", err.Error()))
	}
}

// RecordOf converts a report into a ledger record.
func RecordOf(rep *engine.Report) ledger.Record {
	counts := rep.Counts()
	rec := ledger.Record{
		Run: ledger.Run{
			ID:         rep.RunID,
			DryRun:     rep.DryRun,
			StartedAt:  rep.StartedAt,
			FinishedAt: rep.FinishedAt,
			State:      rep.State.String(),
			ExitCode:   rep.ExitCode(),
			FatalKind:  rep.FatalKind,
			Fatal:      rep.Fatal,
			Created:    counts[engine.ActionCreated],
			Updated:    counts[engine.ActionUpdated],
			Skipped:    counts[engine.ActionSkipped],
			Failed:     counts[engine.ActionFailed],
			Cancelled:  counts[engine.ActionCancelled],
		},
	}
	for _, n := range rep.Nodes {
		rec.Results = append(rec.Results, ledger.Result{
			Level:     n.Level,
			Path:      n.Path,
			Source:    n.Source,
			Action:    string(n.Action),
			RemoteID:  n.RemoteID,
			ErrorKind: n.ErrorKind,
			Error:     n.Error,
		})
	}
	for _, w := range rep.Warnings {
		rec.Warnings = append(rec.Warnings, ledger.Warning{Kind: w.Kind, Message: w.Message})
	}
	return rec
}
