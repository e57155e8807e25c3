package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTask reports a fixed result, optionally blocking until released.
type fakeTask struct {
	id     string
	stage  Stage
	result Result

	release chan struct{} // nil means report immediately

	mu        sync.Mutex
	runs      int
	cancelled bool
}

func (t *fakeTask) ID() string   { return t.id }
func (t *fakeTask) Stage() Stage { return t.stage }

func (t *fakeTask) Run(_ context.Context, _ int, report ReportFunc) {
	t.mu.Lock()
	t.runs++
	t.mu.Unlock()
	if t.release != nil {
		<-t.release
	}
	report(t.result)
}

func (t *fakeTask) runCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// cancelableTask is a fakeTask with the Cancelable capability.
type cancelableTask struct {
	fakeTask
}

func (t *cancelableTask) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// recordingCallbacks captures signals and closes done on the first
// terminal signal.
type recordingCallbacks struct {
	mu        sync.Mutex
	progress  []Stage
	terminals []SignalKind
	errCode   ErrorCode
	reset     bool
	done      chan struct{}
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{done: make(chan struct{})}
}

func (r *recordingCallbacks) Progress(stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, stage)
}

func (r *recordingCallbacks) terminal(kind SignalKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminals = append(r.terminals, kind)
	if len(r.terminals) == 1 {
		close(r.done)
	}
}

func (r *recordingCallbacks) Error(code ErrorCode, reset bool) {
	r.mu.Lock()
	r.errCode = code
	r.reset = reset
	r.mu.Unlock()
	r.terminal(SignalError)
}

func (r *recordingCallbacks) Cancelled() { r.terminal(SignalCancelled) }
func (r *recordingCallbacks) Complete()  { r.terminal(SignalSuccess) }

func (r *recordingCallbacks) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal signal")
	}
}

func (r *recordingCallbacks) terminalKinds() []SignalKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SignalKind, len(r.terminals))
	copy(out, r.terminals)
	return out
}

func testRequest() *ProvisioningRequest {
	return &ProvisioningRequest{
		Action:         ActionManagedProfile,
		AdminComponent: ComponentName{Package: "com.example.admin", Class: "AdminReceiver"},
	}
}

func newTestController(t *testing.T, tasks []Task, cb Callbacks) (*Controller, *Dispatcher) {
	t.Helper()
	disp := NewDispatcher()
	t.Cleanup(disp.Close)
	ctrl := NewController(ControllerConfig{
		Request:    testRequest(),
		UserID:     0,
		Tasks:      tasks,
		Callbacks:  cb,
		Dispatcher: disp,
	})
	return ctrl, disp
}

func TestController_AllTasksSucceed(t *testing.T) {
	tasks := []Task{
		&fakeTask{id: "a", stage: StageRestrictions, result: Success()},
		&fakeTask{id: "b", stage: StageProfileCreation, result: Success()},
		&fakeTask{id: "c", stage: StagePackageInstall, result: Success()},
	}
	cb := newRecordingCallbacks()
	ctrl, _ := newTestController(t, tasks, cb)

	if err := ctrl.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cb.wait(t)

	if kinds := cb.terminalKinds(); len(kinds) != 1 || kinds[0] != SignalSuccess {
		t.Errorf("Expected exactly one success signal, got %v", kinds)
	}
	for _, task := range tasks {
		if task.(*fakeTask).runCount() != 1 {
			t.Errorf("Task %s should run exactly once, ran %d times",
				task.ID(), task.(*fakeTask).runCount())
		}
	}
	if ctrl.State() != RunStateSucceeded {
		t.Errorf("Expected state %s, got %s", RunStateSucceeded, ctrl.State())
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	want := []Stage{StageRestrictions, StageProfileCreation, StagePackageInstall}
	if len(cb.progress) != len(want) {
		t.Fatalf("Expected %d progress signals, got %d", len(want), len(cb.progress))
	}
	for i, stage := range want {
		if cb.progress[i] != stage {
			t.Errorf("Progress %d: expected %s, got %s", i, stage, cb.progress[i])
		}
	}
}

func TestController_TaskFailureStopsExecution(t *testing.T) {
	failure := NewFatalTaskError(ErrCodeProfileCreation, errors.New("profile half created"))
	tasks := []Task{
		&fakeTask{id: "a", stage: StageRestrictions, result: Success()},
		&fakeTask{id: "b", stage: StageProfileCreation, result: Failure(failure)},
		&fakeTask{id: "c", stage: StagePackageInstall, result: Success()},
	}
	cb := newRecordingCallbacks()
	ctrl, _ := newTestController(t, tasks, cb)

	if err := ctrl.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cb.wait(t)

	if kinds := cb.terminalKinds(); len(kinds) != 1 || kinds[0] != SignalError {
		t.Errorf("Expected exactly one error signal, got %v", kinds)
	}
	if tasks[2].(*fakeTask).runCount() != 0 {
		t.Error("Task after the failing one should never run")
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.errCode != ErrCodeProfileCreation {
		t.Errorf("Expected error code %s, got %s", ErrCodeProfileCreation, cb.errCode)
	}
	if !cb.reset {
		t.Error("Fatal failure should request a factory reset")
	}
	if ctrl.State() != RunStateFailed {
		t.Errorf("Expected state %s, got %s", RunStateFailed, ctrl.State())
	}
}

func TestController_CancelDuringTask(t *testing.T) {
	blocked := &cancelableTask{fakeTask{
		id:      "b",
		stage:   StageProfileCreation,
		result:  Success(),
		release: make(chan struct{}),
	}}
	tasks := []Task{
		&fakeTask{id: "a", stage: StageRestrictions, result: Success()},
		blocked,
		&fakeTask{id: "c", stage: StagePackageInstall, result: Success()},
	}
	cb := newRecordingCallbacks()
	ctrl, _ := newTestController(t, tasks, cb)

	if err := ctrl.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for task b to start, then cancel while it is in flight.
	deadline := time.Now().Add(5 * time.Second)
	for blocked.runCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task b never started")
		}
		time.Sleep(time.Millisecond)
	}
	ctrl.Cancel()
	close(blocked.release)
	cb.wait(t)

	if kinds := cb.terminalKinds(); len(kinds) != 1 || kinds[0] != SignalCancelled {
		t.Errorf("Expected exactly one cancelled signal, got %v", kinds)
	}
	if blocked.runCount() != 1 {
		t.Error("The running task should have been allowed to finish")
	}
	blocked.mu.Lock()
	if !blocked.cancelled {
		t.Error("Cancelable task should have been asked to cancel")
	}
	blocked.mu.Unlock()
	if tasks[2].(*fakeTask).runCount() != 0 {
		t.Error("No task may start after cancellation")
	}
	if ctrl.State() != RunStateCancelled {
		t.Errorf("Expected state %s, got %s", RunStateCancelled, ctrl.State())
	}
}

func TestController_StartBeforeInitialize(t *testing.T) {
	cb := newRecordingCallbacks()
	ctrl, _ := newTestController(t, []Task{
		&fakeTask{id: "a", stage: StageRestrictions, result: Success()},
	}, cb)

	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestController_StartTwice(t *testing.T) {
	cb := newRecordingCallbacks()
	ctrl, _ := newTestController(t, []Task{
		&fakeTask{id: "a", stage: StageRestrictions, result: Success()},
	}, cb)

	if err := ctrl.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("First Start failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
	cb.wait(t)
}

func TestController_InitializeEmptyTaskList(t *testing.T) {
	cb := newRecordingCallbacks()
	ctrl, _ := newTestController(t, nil, cb)

	if err := ctrl.Initialize(); !errors.Is(err, ErrNoTasks) {
		t.Errorf("Expected ErrNoTasks, got %v", err)
	}
}

func TestController_UpdateStatusReplaysProgress(t *testing.T) {
	blocked := &fakeTask{
		id:      "a",
		stage:   StageRestrictions,
		result:  Success(),
		release: make(chan struct{}),
	}
	cb := newRecordingCallbacks()
	ctrl, disp := newTestController(t, []Task{blocked}, cb)

	if err := ctrl.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for blocked.runCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task never started")
		}
		time.Sleep(time.Millisecond)
	}

	ctrl.UpdateStatus()
	ctrl.UpdateStatus()
	// Drain the dispatcher so the replays are delivered.
	disp.Sync(func(context.Context) {})

	cb.mu.Lock()
	replayed := len(cb.progress)
	cb.mu.Unlock()
	if replayed != 3 {
		t.Errorf("Expected initial progress plus two replays (3), got %d", replayed)
	}
	if blocked.runCount() != 1 {
		t.Error("UpdateStatus must not re-run work")
	}

	close(blocked.release)
	cb.wait(t)
}

// doubleReportTask violates the report-once contract on purpose.
type doubleReportTask struct {
	fakeTask
}

func (t *doubleReportTask) Run(_ context.Context, _ int, report ReportFunc) {
	report(Failure(NewTaskError(ErrCodeGeneral, errors.New("first"))))
	report(Success())
}

func TestController_IgnoresSecondReport(t *testing.T) {
	tasks := []Task{
		&doubleReportTask{fakeTask{id: "a", stage: StageRestrictions}},
		&fakeTask{id: "b", stage: StagePackageInstall, result: Success()},
	}
	cb := newRecordingCallbacks()
	ctrl, _ := newTestController(t, tasks, cb)

	if err := ctrl.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cb.wait(t)

	if kinds := cb.terminalKinds(); len(kinds) != 1 || kinds[0] != SignalError {
		t.Errorf("First report must win; got terminals %v", kinds)
	}
	if tasks[1].(*fakeTask).runCount() != 0 {
		t.Error("Tasks after a failure must not run")
	}
}
