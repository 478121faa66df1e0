package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/starford/obsidian2bookstack/internal/apperr"
	"github.com/starford/obsidian2bookstack/internal/bookstack"
	"github.com/starford/obsidian2bookstack/internal/hierarchy"
	"github.com/starford/obsidian2bookstack/internal/remote"
)

// execute runs one wave. Operations start in plan order, at most Workers at a
// time. Once ctx is cancelled no new operation starts; operations already
// running get DrainTimeout to finish.
func (r *run) execute(ctx context.Context, ops []*Operation) {
	g := new(errgroup.Group)
	g.SetLimit(r.e.cfg.Workers)
	for _, op := range ops {
		if op.Kind == Skip {
			r.record(op, ActionSkipped, op.RemoteID, nil)
			continue
		}
		if err := ctx.Err(); err != nil {
			r.record(op, ActionCancelled, 0, fmt.Errorf("engine: %s: not started: %w", op.Label(), err))
			continue
		}
		if err := r.blocked(op); err != nil {
			r.record(op, ActionSkipped, 0, err)
			continue
		}
		g.Go(func() error {
			opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			defer cancel()
			stop := context.AfterFunc(ctx, func() { time.AfterFunc(r.e.cfg.DrainTimeout, cancel) })
			defer stop()

			id, action, err := r.apply(opCtx, op)
			if err != nil {
				r.e.logger.Warn("engine: operation failed",
					slog.String("run_id", r.report.RunID),
					slog.String("op", op.Kind.String()),
					slog.String("target", op.Label()),
					slog.String("error", err.Error()))
				r.record(op, ActionFailed, 0, err)
				return nil
			}
			r.record(op, action, id, nil)
			return nil
		})
	}
	_ = g.Wait()
}

// blocked returns an error wrapping apperr.ErrAncestorFailed when the
// operation's parent does not exist remotely.
func (r *run) blocked(op *Operation) error {
	var missing bool
	switch op.Kind {
	case UploadAttachment:
		missing = owner(op) == nil
	case UpdateShelf, UpdatePage:
		missing = op.Node.RemoteID == 0
	default:
		missing = op.Node.Parent != nil && op.Node.Parent.RemoteID == 0
	}
	if missing {
		return fmt.Errorf("engine: %s: %w", op.Label(), apperr.ErrAncestorFailed)
	}
	return nil
}

// owner picks the page an upload is attached to: the first referencing page
// that exists remotely.
func owner(op *Operation) *hierarchy.Node {
	for _, n := range op.Owners {
		if n.RemoteID != 0 {
			return n
		}
	}
	return nil
}

func (r *run) apply(ctx context.Context, op *Operation) (int, Action, error) {
	rc := r.e.remote
	n := op.Node
	switch op.Kind {
	case CreateShelf:
		s, err := rc.CreateShelf(ctx, n.Name)
		if err != nil {
			return 0, "", err
		}
		n.RemoteID = s.ID
		return s.ID, ActionCreated, nil

	case CreateBook:
		b, err := rc.CreateBook(ctx, n.Name)
		if err != nil {
			return 0, "", err
		}
		n.RemoteID = b.ID
		return b.ID, ActionCreated, nil

	case UpdateShelf:
		have := r.state.ShelfBooks(n.RemoteID)
		want := have.Clone()
		for _, b := range n.Children {
			if b.RemoteID != 0 {
				want.Add(b.RemoteID)
			}
		}
		if want.Equal(have) {
			return n.RemoteID, ActionSkipped, nil
		}
		if _, err := rc.SetShelfBooks(ctx, n.RemoteID, sorted(want)); err != nil {
			return 0, "", err
		}
		return n.RemoteID, ActionUpdated, nil

	case CreateChapter:
		ch, err := rc.CreateChapter(ctx, n.Parent.RemoteID, n.Name)
		if err != nil {
			return 0, "", err
		}
		n.RemoteID = ch.ID
		return ch.ID, ActionCreated, nil

	case CreatePage:
		in := bookstack.PageInput{Name: n.Name, Markdown: op.Markdown}
		if n.Parent.Level == hierarchy.Chapter {
			in.ChapterID = n.Parent.RemoteID
		} else {
			in.BookID = n.Parent.RemoteID
		}
		p, err := rc.CreatePage(ctx, in)
		if err != nil {
			return 0, "", err
		}
		n.RemoteID = p.ID
		r.table.SetPage(n.Note.Path, p.ID)
		return p.ID, ActionCreated, nil

	case UpdatePage:
		p, err := rc.UpdatePage(ctx, n.RemoteID, bookstack.PageInput{Name: n.Name, Markdown: op.Markdown})
		if err != nil {
			return 0, "", err
		}
		return p.ID, ActionUpdated, nil

	case UploadAttachment:
		a := op.Attachment
		page := owner(op)
		att, err := rc.UploadAttachment(ctx, bookstack.Upload{
			PageID:   page.RemoteID,
			Name:     remote.AttachmentName(a.Path, a.Checksum),
			FileName: a.Name(),
			Open:     func() (io.ReadCloser, error) { return r.e.vault.Open(a.Path) },
		})
		if err != nil {
			return 0, "", err
		}
		r.table.SetAttachment(a.Path, att.ID)
		return att.ID, ActionCreated, nil
	}
	return 0, "", fmt.Errorf("engine: %s: unexpected operation %s", op.Label(), op.Kind)
}

// linkPass re-renders pages whose first rendering kept placeholders and
// returns an UpdatePage for every page whose markdown changed.
func (r *run) linkPass() []*Operation {
	var out []*Operation
	for _, op := range r.plan.Wave(WavePages) {
		if !op.Pending || op.Node.RemoteID == 0 || r.failed(op) {
			continue
		}
		rendered := r.resolver.Render(op.Node.Note, r.table)
		if rendered.Markdown == op.Markdown {
			continue
		}
		out = append(out, &Operation{
			Kind:     UpdatePage,
			Wave:     WaveLinks,
			Node:     op.Node,
			RemoteID: op.Node.RemoteID,
			Markdown: rendered.Markdown,
			Pending:  rendered.Pending,
		})
	}
	return out
}

func sorted(s mapset.Set[int]) []int {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}

func resultKey(op *Operation) string {
	if op.Attachment != nil {
		return "attachment:" + op.Attachment.Path
	}
	return op.Node.Level.String() + ":" + op.Node.Path()
}

func (r *run) failed(op *Operation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[resultKey(op)]
	return ok && res.Action == ActionFailed
}

// record merges an operation outcome into the node's result. A failure
// always wins; an update upgrades a skip; otherwise the first outcome stays.
func (r *run) record(op *Operation, action Action, id int, err error) {
	key := resultKey(op)
	next := NodeResult{Action: action, RemoteID: id}
	if op.Attachment != nil {
		next.Level = "attachment"
		next.Path = op.Attachment.Path
		next.Source = op.Attachment.Path
	} else {
		next.Level = op.Node.Level.String()
		next.Path = op.Node.Path()
		next.Source = op.Node.Source
		if id == 0 {
			next.RemoteID = op.Node.RemoteID
		}
	}
	if err != nil {
		next.ErrorKind = apperr.Kind(err)
		next.Error = err.Error()
	}

	r.mu.Lock()
	prev, ok := r.results[key]
	switch {
	case !ok:
		r.results[key] = &next
		r.order = append(r.order, key)
	case next.Action == ActionFailed || next.Action == ActionCancelled && prev.Action != ActionFailed:
		*prev = next
	case prev.Action == ActionSkipped && prev.ErrorKind == "" && next.Action == ActionUpdated:
		prev.Action = ActionUpdated
	}
	res := *r.results[key]
	r.mu.Unlock()

	r.emit(Event{RunID: r.report.RunID, State: r.report.State, Node: &res, Time: time.Now().UTC()})
}
