package syncservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/obsidian2bookstack/internal/engine"
	"github.com/starford/obsidian2bookstack/internal/testutil"
)

type stubSyncer struct {
	report  *engine.Report
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *stubSyncer) Plan(context.Context) (*engine.Plan, *engine.Report, error) {
	rep := *s.report
	rep.DryRun = true
	return &engine.Plan{}, &rep, s.err
}

func (s *stubSyncer) Run(context.Context) (*engine.Report, error) {
	if s.started != nil {
		close(s.started)
		<-s.release
	}
	return s.report, s.err
}

func sampleReport(id string) *engine.Report {
	now := time.Now().UTC()
	return &engine.Report{
		RunID:      id,
		StartedAt:  now,
		FinishedAt: now,
		State:      engine.Done,
		Nodes: []engine.NodeResult{
			{Level: "book", Path: "B", Action: engine.ActionCreated, RemoteID: 1},
			{Level: "page", Path: "B/p", Action: engine.ActionFailed, ErrorKind: "RemoteRejected", Error: "boom"},
		},
		Warnings: []engine.Warning{{Kind: "LinkUnresolved", Message: "x"}},
	}
}

func TestSync_RecordsReport(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := NewService(&stubSyncer{report: sampleReport("run-1")}, db, nil)

	rep, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.RunID != "run-1" {
		t.Errorf("report = %+v", rep)
	}

	rec, err := svc.RunDetail(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("RunDetail: %v", err)
	}
	if rec.ExitCode != 2 || rec.Created != 1 || rec.Failed != 1 || rec.State != "done" {
		t.Errorf("run = %+v", rec.Run)
	}
	if len(rec.Results) != 2 || len(rec.Warnings) != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestPlan_RecordedAsDryRun(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := NewService(&stubSyncer{report: sampleReport("plan-1")}, db, nil)

	if _, _, err := svc.Plan(context.Background()); err != nil {
		t.Fatal(err)
	}
	runs, total, err := svc.History(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || !runs[0].DryRun {
		t.Errorf("runs = %+v", runs)
	}
}

func TestSync_FatalStillRecorded(t *testing.T) {
	db := testutil.TestLedger(t)
	rep := sampleReport("run-f")
	rep.Fatal = "remote unavailable"
	rep.FatalKind = "RemoteUnavailable"
	fatal := errors.New("remote unavailable")
	svc := NewService(&stubSyncer{report: rep, err: fatal}, db, nil)

	if _, err := svc.Sync(context.Background()); !errors.Is(err, fatal) {
		t.Fatalf("err = %v", err)
	}
	rec, err := svc.RunDetail(context.Background(), "run-f")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ExitCode != 1 || rec.FatalKind != "RemoteUnavailable" {
		t.Errorf("run = %+v", rec.Run)
	}
}

func TestSync_RejectsOverlappingRuns(t *testing.T) {
	db := testutil.TestLedger(t)
	stub := &stubSyncer{report: sampleReport("run-1"), started: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(stub, db, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Sync(context.Background())
		done <- err
	}()
	<-stub.started

	if _, err := svc.Sync(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("err = %v, want ErrRunInProgress", err)
	}
	if _, _, err := svc.Plan(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("plan err = %v, want ErrRunInProgress", err)
	}
	close(stub.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
