package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/engine"
)

// setupTestStore creates a SQLite store backed by a temp file.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testRun(id string) *Run {
	now := time.Now()
	return &Run{
		ID:        id,
		Action:    string(engine.ActionManagedProfile),
		Admin:     "com.example.admin/.DeviceAdmin",
		UserID:    0,
		State:     engine.RunStateRunning,
		StartedAt: now,
		CreatedAt: now,
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	for _, table := range []string{"runs", "task_events"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1")
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.State != engine.RunStateRunning {
		t.Errorf("state = %q, want %q", got.State, engine.RunStateRunning)
	}
	if got.Admin != run.Admin {
		t.Errorf("admin = %q, want %q", got.Admin, run.Admin)
	}

	failure := engine.NewFatalTaskError(engine.ErrCodeSetOwner, nil).WithTask("set-profile-owner")
	if err := store.FinishRun(ctx, "run-1", engine.RunStateFailed, failure); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run after finish: %v", err)
	}
	if got.State != engine.RunStateFailed {
		t.Errorf("state = %q, want %q", got.State, engine.RunStateFailed)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at should be set for a finished run")
	}
	if got.ErrorCode == nil || *got.ErrorCode != string(engine.ErrCodeSetOwner) {
		t.Errorf("error_code = %v, want %s", got.ErrorCode, engine.ErrCodeSetOwner)
	}
	if got.FailedTask == nil || *got.FailedTask != "set-profile-owner" {
		t.Errorf("failed_task = %v, want set-profile-owner", got.FailedTask)
	}
}

func TestFinishRunRejectsNonTerminalState(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.FinishRun(ctx, "run-1", engine.RunStateRunning, nil); err == nil {
		t.Fatal("expected an error for a non-terminal state")
	}
}

func TestFinishRunUnknownID(t *testing.T) {
	store := setupTestStore(t)

	err := store.FinishRun(context.Background(), "missing", engine.RunStateSucceeded, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := testRun(id)
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("order = [%s %s], want [run-c run-b]", runs[0].ID, runs[1].ID)
	}
}

func TestTaskEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	start := time.Now()
	finish := start.Add(2 * time.Second)
	errMsg := "install failed"
	events := []*TaskEvent{
		{RunID: "run-1", TaskID: "create-managed-profile", Stage: string(engine.StageProfileCreation), Succeeded: true, StartedAt: start, FinishedAt: &finish},
		{RunID: "run-1", TaskID: "install-admin-package", Stage: string(engine.StagePackageInstall), Succeeded: false, Error: &errMsg, StartedAt: start, FinishedAt: &finish},
	}
	for _, ev := range events {
		if err := store.AppendTaskEvent(ctx, ev); err != nil {
			t.Fatalf("failed to append task event: %v", err)
		}
		if ev.ID == 0 {
			t.Error("expected auto-generated event ID")
		}
	}

	got, err := store.ListTaskEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list task events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].TaskID != "create-managed-profile" {
		t.Errorf("first event task = %q", got[0].TaskID)
	}
	if got[1].Error == nil || *got[1].Error != errMsg {
		t.Errorf("second event error = %v, want %q", got[1].Error, errMsg)
	}
}

type stubTask struct {
	id    string
	stage engine.Stage
}

func (s stubTask) ID() string          { return s.id }
func (s stubTask) Stage() engine.Stage { return s.stage }
func (s stubTask) Run(context.Context, int, engine.ReportFunc) {
}

func TestRecorderWritesRunHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := NewRecorder(store, 0, zerolog.Nop())
	req := &engine.ProvisioningRequest{
		Action: engine.ActionManagedDevice,
		AdminComponent: engine.ComponentName{
			Package: "com.example.admin",
			Class:   ".DeviceAdmin",
		},
	}

	task := stubTask{id: "set-device-owner", stage: engine.StageSetOwner}
	rec.RunStarted(ctx, "run-1", req)
	rec.TaskStarted(ctx, "run-1", task)
	rec.TaskFinished(ctx, "run-1", task, 10*time.Millisecond, nil)
	rec.RunFinished(ctx, "run-1", engine.RunStateSucceeded, 10*time.Millisecond, nil)

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.State != engine.RunStateSucceeded {
		t.Errorf("state = %q, want %q", run.State, engine.RunStateSucceeded)
	}

	events, err := store.ListTaskEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list task events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if !events[0].Succeeded {
		t.Error("task event should be marked succeeded")
	}
}
