// Package engine drives a sync run: scan, map, diff, plan, execute and the
// second link pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/obsidian2bookstack/internal/apperr"
	"github.com/starford/obsidian2bookstack/internal/bookstack"
	"github.com/starford/obsidian2bookstack/internal/checksum"
	"github.com/starford/obsidian2bookstack/internal/hierarchy"
	"github.com/starford/obsidian2bookstack/internal/links"
	"github.com/starford/obsidian2bookstack/internal/models"
	"github.com/starford/obsidian2bookstack/internal/parser"
	"github.com/starford/obsidian2bookstack/internal/remote"
	"github.com/starford/obsidian2bookstack/internal/vault"
)

// Remote is the BookStack API surface the engine needs.
type Remote interface {
	remote.Lister
	CreateShelf(ctx context.Context, name string) (bookstack.Shelf, error)
	SetShelfBooks(ctx context.Context, id int, bookIDs []int) (bookstack.Shelf, error)
	CreateBook(ctx context.Context, name string) (bookstack.Book, error)
	CreateChapter(ctx context.Context, bookID int, name string) (bookstack.Chapter, error)
	CreatePage(ctx context.Context, in bookstack.PageInput) (bookstack.Page, error)
	UpdatePage(ctx context.Context, id int, in bookstack.PageInput) (bookstack.Page, error)
	UploadAttachment(ctx context.Context, u bookstack.Upload) (bookstack.Attachment, error)
}

// Config tunes a run.
type Config struct {
	// Ignore lists file and folder names skipped by the scan.
	Ignore  []string
	Mapping hierarchy.Options
	// Workers bounds concurrent remote operations inside a wave.
	Workers int
	// DrainTimeout bounds operations still in flight when the run is cancelled.
	DrainTimeout time.Duration
}

// Engine syncs one vault into one wiki. Runs must not overlap.
type Engine struct {
	vault     *vault.FS
	remote    Remote
	cfg       Config
	logger    *slog.Logger
	observers []Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// New creates an engine.
func New(v *vault.FS, r Remote, cfg Config, opts ...Option) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.Ignore == nil {
		cfg.Ignore = vault.DefaultIgnore
	}
	e := &Engine{vault: v, remote: r, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// run is the state of one sync run.
type run struct {
	e      *Engine
	report *Report

	notes       []*models.Note
	attachments []*models.Attachment
	tree        *hierarchy.Tree
	resolver    *links.Resolver
	table       *links.Table
	state       *remote.State
	plan        *Plan

	mu      sync.Mutex
	results map[string]*NodeResult
	order   []string
}

func (e *Engine) newRun(dryRun bool) *run {
	return &run{
		e: e,
		report: &Report{
			RunID:     uuid.NewString(),
			DryRun:    dryRun,
			StartedAt: time.Now().UTC(),
		},
		table:   links.NewTable(),
		results: make(map[string]*NodeResult),
	}
}

// Plan runs every stage up to planning without mutating the wiki.
func (e *Engine) Plan(ctx context.Context) (*Plan, *Report, error) {
	r := e.newRun(true)
	if err := r.prepare(ctx); err != nil {
		return nil, r.finish(err), err
	}
	r.report.Warnings = append(r.report.Warnings, r.plan.Warnings...)
	return r.plan, r.finish(nil), nil
}

// Run performs a full sync. The report is always returned; the error is
// non-nil only for fatal failures, which leave the wiki untouched.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	r := e.newRun(false)
	if err := r.prepare(ctx); err != nil {
		return r.finish(err), err
	}
	r.report.Warnings = append(r.report.Warnings, r.plan.Warnings...)

	r.transition(ExecutingCreates)
	for w := WaveShelves; w <= WaveAttachments; w++ {
		r.execute(ctx, r.plan.Wave(w))
	}

	r.transition(ResolvingLinks)
	second := r.linkPass()
	r.plan.Ops = append(r.plan.Ops, second...)

	r.transition(ExecutingLinkUpdates)
	r.execute(ctx, second)

	return r.finish(nil), nil
}

// prepare runs the read-only stages: scan, map, fetch and plan.
func (r *run) prepare(ctx context.Context) error {
	r.transition(Scanning)
	if err := r.scan(ctx); err != nil {
		return err
	}

	r.transition(Mapping)
	var published []*models.Note
	for _, n := range r.notes {
		if n.Publish {
			published = append(published, n)
		}
	}
	tree, warns := hierarchy.Map(published, r.e.cfg.Mapping)
	r.warn(warns...)
	r.tree = tree
	synced := make([]*models.Note, 0, len(published))
	for _, p := range tree.Pages() {
		synced = append(synced, p.Note)
	}
	r.resolver = links.NewResolver(synced, r.attachments)
	if err := r.checksumAttachments(ctx); err != nil {
		return err
	}

	r.transition(Diffing)
	state, err := remote.Fetch(ctx, r.e.remote, r.e.cfg.Workers)
	if err != nil {
		return err
	}
	r.state = state
	r.e.logger.Info("engine: remote state fetched",
		slog.String("run_id", r.report.RunID),
		slog.Int("entities", state.Len()))

	r.transition(Planning)
	r.plan = &Plan{}
	(&planner{tree: r.tree, state: r.state, resolver: r.resolver, table: r.table, plan: r.plan}).build()
	counts := r.plan.Counts()
	r.e.logger.Info("engine: plan ready",
		slog.String("run_id", r.report.RunID),
		slog.Int("operations", len(r.plan.Ops)),
		slog.Int("skips", counts[Skip]))
	return ctx.Err()
}

// scan lists the vault and parses notes in parallel.
func (r *run) scan(ctx context.Context) error {
	var files []vault.File
	for f, err := range r.e.vault.Scan(r.e.cfg.Ignore) {
		if err != nil {
			if f.Path == "" {
				return err
			}
			r.warn(err)
			continue
		}
		switch f.Kind {
		case vault.KindNote:
			files = append(files, f)
		case vault.KindAttachment:
			r.attachments = append(r.attachments, &models.Attachment{
				Path:     f.Path,
				Size:     f.Size,
				MIMEType: models.MIMEType(f.Path),
				ModTime:  f.ModTime,
			})
		}
	}

	notes := make([]*models.Note, len(files))
	warnings := make([][]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := r.e.vault.Read(f.Path)
			if err != nil {
				warnings[i] = []error{fmt.Errorf("engine: %s: %w: %w", f.Path, apperr.ErrVaultRead, err)}
				return nil
			}
			res := parser.Parse(f.Path, data)
			res.Note.ModTime = f.ModTime
			notes[i] = res.Note
			warnings[i] = res.Warnings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, n := range notes {
		r.warn(warnings[i]...)
		if n != nil {
			r.notes = append(r.notes, n)
		}
	}
	r.e.logger.Info("engine: vault scanned",
		slog.String("run_id", r.report.RunID),
		slog.Int("notes", len(r.notes)),
		slog.Int("attachments", len(r.attachments)))
	return nil
}

// checksumAttachments hashes the files referenced by synced pages. An
// unreadable file keeps an empty checksum and is never uploaded.
func (r *run) checksumAttachments(ctx context.Context) error {
	referenced := make(map[string]*models.Attachment)
	for _, p := range r.tree.Pages() {
		for _, a := range r.resolver.Attachments(p.Note) {
			referenced[a.Path] = a
		}
	}

	var mu sync.Mutex
	var unreadable []error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, a := range referenced {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, err := r.sumFile(a.Path)
			if err != nil {
				mu.Lock()
				unreadable = append(unreadable, err)
				mu.Unlock()
				return nil
			}
			a.Checksum = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.warn(unreadable...)
	return nil
}

func (r *run) sumFile(path string) (string, error) {
	rc, err := r.e.vault.Open(path)
	if err != nil {
		return "", fmt.Errorf("engine: %s: %w: %w", path, apperr.ErrVaultRead, err)
	}
	defer rc.Close()
	sum, _, err := checksum.SumReader(rc)
	if err != nil {
		return "", fmt.Errorf("engine: %s: %w: %w", path, apperr.ErrVaultRead, err)
	}
	return sum, nil
}

func (r *run) warn(errs ...error) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		r.e.logger.Warn("engine: warning",
			slog.String("run_id", r.report.RunID),
			slog.String("kind", apperr.Kind(err)),
			slog.String("error", err.Error()))
		r.report.Warnings = append(r.report.Warnings, warningOf(err))
	}
}

func (r *run) transition(s State) {
	r.report.State = s
	r.e.logger.Debug("engine: state", slog.String("run_id", r.report.RunID), slog.String("state", s.String()))
	r.emit(Event{RunID: r.report.RunID, State: s, Time: time.Now().UTC()})
}

func (r *run) emit(ev Event) {
	for _, o := range r.e.observers {
		o(ev)
	}
}

// finish closes the report. A non-nil err marks the run as failed.
func (r *run) finish(err error) *Report {
	rep := r.report
	r.mu.Lock()
	for _, key := range r.order {
		rep.Nodes = append(rep.Nodes, *r.results[key])
	}
	r.mu.Unlock()
	rep.sortNodes()
	rep.FinishedAt = time.Now().UTC()

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("engine: run aborted before changes: %w", err)
		}
		rep.Fatal = err.Error()
		rep.FatalKind = apperr.Kind(err)
		r.e.logger.Error("engine: run failed",
			slog.String("run_id", rep.RunID),
			slog.String("error", err.Error()))
		r.transition(Failed)
		return rep
	}
	r.transition(Done)
	counts := rep.Counts()
	r.e.logger.Info("engine: run finished",
		slog.String("run_id", rep.RunID),
		slog.Int("created", counts[ActionCreated]),
		slog.Int("updated", counts[ActionUpdated]),
		slog.Int("failed", counts[ActionFailed]),
		slog.Int("exit_code", rep.ExitCode()))
	return rep
}
