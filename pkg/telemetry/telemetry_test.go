package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/enrolld/enrolld/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default is valid", mutate: func(*Config) {}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger2"
		}, wantErr: true},
		{name: "sampling rate out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewLoggerLevels(t *testing.T) {
	cfg := DefaultConfig().Logging
	cfg.Format = "json"
	cfg.Level = "warn"

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.GetLevel().String() != "warn" {
		t.Errorf("level = %s, want warn", logger.GetLevel())
	}
}

func TestDisabledMetricsAreNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Must not panic.
	m.RecordRunStarted("provision-managed-device")
	m.RecordRunCompleted("provision-managed-device", "succeeded", time.Second)
	m.RecordTaskExecution("set-owner", "succeeded", time.Second)
	m.RecordResumeAttempt("launched")
	m.RecordDelegationDecision("run_locally")
	m.RecordError("ERROR_GENERAL")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("disabled metrics handler status = %d, want 404", resp.StatusCode)
	}
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "enrolld"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordRunStarted("provision-managed-profile")
	m.RecordRunCompleted("provision-managed-profile", "failed", 3*time.Second)
	m.RecordError("ERROR_SET_OWNER")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	body := string(raw)

	for _, want := range []string{
		"enrolld_runs_started_total",
		"enrolld_runs_completed_total",
		"enrolld_errors_by_code_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

type spanTask struct {
	id    string
	stage engine.Stage
}

func (s spanTask) ID() string                                  { return s.id }
func (s spanTask) Stage() engine.Stage                         { return s.stage }
func (s spanTask) Run(context.Context, int, engine.ReportFunc) {}

func TestRecorderRunLifecycle(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "enrolld"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "enrolld", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}

	rec := NewRecorder(m, tracer)
	ctx := context.Background()
	req := &engine.ProvisioningRequest{
		Action: engine.ActionManagedDevice,
		AdminComponent: engine.ComponentName{
			Package: "com.example.admin",
			Class:   ".DeviceAdmin",
		},
	}
	task := spanTask{id: "set-device-owner", stage: engine.StageSetOwner}

	rec.RunStarted(ctx, "run-1", req)
	rec.TaskStarted(ctx, "run-1", task)
	rec.TaskFinished(ctx, "run-1", task, time.Second, nil)
	failure := engine.NewTaskError(engine.ErrCodeGeneral, errors.New("boom"))
	rec.RunFinished(ctx, "run-1", engine.RunStateFailed, 2*time.Second, failure)

	// No span or action bookkeeping may leak across runs.
	if len(rec.runSpans) != 0 || len(rec.taskSpans) != 0 || len(rec.actions) != 0 {
		t.Error("recorder retained per-run state after RunFinished")
	}
}
