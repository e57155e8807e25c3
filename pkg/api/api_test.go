package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/flow"
	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/delegation"
	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
	"github.com/enrolld/enrolld/pkg/history"
	"github.com/enrolld/enrolld/pkg/notify"
	"github.com/enrolld/enrolld/pkg/resume"
	"github.com/enrolld/enrolld/pkg/resume/storage/inmem"
	"github.com/enrolld/enrolld/pkg/service"
)

type testServer struct {
	srv    *httptest.Server
	svc    *service.Service
	store  *history.SQLiteStore
	events chan service.Event
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	sim := device.NewSim()
	disp := engine.NewDispatcher()
	t.Cleanup(disp.Close)

	store, err := history.NewSQLiteStore(history.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("store init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("store migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rc := resume.NewController(resume.Config{
		Store:     inmem.New(),
		Packages:  sim,
		Status:    sim,
		Launcher:  resume.LauncherFunc(func(context.Context, *engine.ProvisioningRequest) error { return nil }),
		Notifier:  notify.Nop{},
		Component: "enrolld/.ResumeTrigger",
		UserID:    device.SystemUserID,
		Logger:    logger,
	})

	svc := service.New(service.Config{
		Device:     sim.Facade(),
		Dispatcher: disp,
		Resume:     rc,
		Notifier:   notify.Nop{},
		Recorder:   history.NewRecorder(store, device.SystemUserID, logger),
		UserID:     device.SystemUserID,
		Logger:     logger,
	})

	events := make(chan service.Event, 32)
	svc.Subscribe(func(ev service.Event) { events <- ev })

	mux := flow.New()
	HandleAPIv1("/v1", mux, logger, svc, store)
	HandleOps(mux, store, nil)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, svc: svc, store: store, events: events}
}

func (ts *testServer) waitFor(t *testing.T, kind service.EventKind) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ts.events:
			if ev.Kind == kind {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func provisionBody(t *testing.T, action engine.Action) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(&engine.ProvisioningRequest{
		Action: action,
		AdminComponent: engine.ComponentName{
			Package: "com.example.admin",
			Class:   ".DeviceAdmin",
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewReader(body)
}

func TestProvisionEndpointStartsRun(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/v1/provision", "application/json", provisionBody(t, engine.ActionManagedDevice))
	if err != nil {
		t.Fatalf("POST /v1/provision: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var res service.StartResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.RunID == "" {
		t.Error("expected a run ID")
	}
	if res.Outcome != delegation.OutcomeRunLocally {
		t.Errorf("outcome = %q", res.Outcome)
	}

	ts.waitFor(t, service.EventSucceeded)
}

func TestProvisionEndpointRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/v1/provision", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(ts.srv.URL+"/v1/provision", "application/json",
		strings.NewReader(`{"action":"bogus","admin_component":{"package":"p"}}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid action status = %d, want 400", resp.StatusCode)
	}
}

func TestCancelWithoutRunConflicts(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/v1/provision/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestResumeEndpointAccepted(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/v1/provision/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("POST resume: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/v1/provision/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()

	var st service.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != engine.RunStateNotStarted {
		t.Errorf("state = %q, want not_started", st.State)
	}
}

func TestRunsEndpointsServeHistory(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/v1/provision", "application/json", provisionBody(t, engine.ActionManagedDevice))
	if err != nil {
		t.Fatalf("POST provision: %v", err)
	}
	var res service.StartResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode start result: %v", err)
	}
	resp.Body.Close()
	ts.waitFor(t, service.EventSucceeded)

	resp, err = http.Get(ts.srv.URL + "/v1/runs")
	if err != nil {
		t.Fatalf("GET runs: %v", err)
	}
	var runs []*history.Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	resp.Body.Close()
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].ID != res.RunID {
		t.Errorf("run ID = %q, want %q", runs[0].ID, res.RunID)
	}

	resp, err = http.Get(ts.srv.URL + "/v1/runs/" + res.RunID)
	if err != nil {
		t.Fatalf("GET run: %v", err)
	}
	var detail struct {
		Run    *history.Run         `json:"run"`
		Events []*history.TaskEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode run detail: %v", err)
	}
	resp.Body.Close()
	if detail.Run.State != engine.RunStateSucceeded {
		t.Errorf("run state = %q", detail.Run.State)
	}
	if len(detail.Events) != 3 {
		t.Errorf("got %d task events, want 3", len(detail.Events))
	}
}

func TestGetUnknownRunIs404(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/v1/runs/nope")
	if err != nil {
		t.Fatalf("GET run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
