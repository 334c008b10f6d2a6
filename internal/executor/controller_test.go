package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskdock/internal/artifact"
	"taskdock/internal/params"
	"taskdock/internal/transfer"
	"taskdock/pkg/api"
)

// recorder captures the order of remote operations across mocks.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// MockSession implements remote.Session for testing.
type MockSession struct {
	rec *recorder

	// RuntimeVersion is returned by the version probe command.
	RuntimeVersion string

	// Errors per operation, keyed by the recorded call prefix.
	InstallErr error
	ExecuteErr error
}

func (m *MockSession) ExecuteCommand(ctx context.Context, command string, verbose bool) (string, error) {
	if strings.Contains(command, "RUNTIME_VERSION") {
		m.rec.add("probe")
		return m.RuntimeVersion, nil
	}
	if strings.HasPrefix(command, "%pip install -U -r ") {
		m.rec.add("install:" + strings.TrimPrefix(command, "%pip install -U -r "))
		return "", m.InstallErr
	}
	m.rec.add("command:" + command)
	return "", nil
}

func (m *MockSession) ExecuteFile(ctx context.Context, path string) error {
	m.rec.add("execute_file:" + path)
	return m.ExecuteErr
}

func (m *MockSession) ExecuteEntryPoint(ctx context.Context, packageName, entryPoint string) error {
	m.rec.add("execute_entry_point:" + packageName + "/" + entryPoint)
	return m.ExecuteErr
}

func (m *MockSession) InstallPackage(ctx context.Context, remotePath, extras string) error {
	call := "install:" + remotePath
	if extras != "" {
		call += "[" + extras + "]"
	}
	m.rec.add(call)
	return m.InstallErr
}

func (m *MockSession) SetupArguments(ctx context.Context, p params.Parameters) error {
	m.rec.add("setup_arguments")
	return nil
}

func (m *MockSession) RestartInterpreter(ctx context.Context) error {
	m.rec.add("restart")
	return nil
}

// MockFiles implements transfer.ContextFileWriter for testing.
type MockFiles struct {
	rec       *recorder
	UploadErr error
}

func (m *MockFiles) UploadFile(ctx context.Context, fileName string, content []byte) (string, error) {
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	m.rec.add("upload:" + fileName)
	return "/scratch/" + fileName, nil
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	ctrl, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return ctrl
}

func TestRun_CorePackageSequence(t *testing.T) {
	rec := &recorder{}
	session := &MockSession{rec: rec, RuntimeVersion: "14.1"}
	files := &MockFiles{rec: rec}

	core := artifact.New(writeFile(t, t.TempDir(), "pkg-0.1.0.whl"))
	ctrl := newTestController(t, Config{
		Session:          session,
		Artifacts:        artifact.NewSet(false, &core, nil),
		Task:             &ScriptTask{File: "job.py"},
		UploadViaContext: true,
		ContextFiles:     files,
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{
		"upload:pkg-0.1.0.whl",
		"install:/scratch/pkg-0.1.0.whl",
		"probe",
		"restart",
		"execute_file:job.py",
	}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestRun_SuppressedCoreWithRequirementsAndExtra(t *testing.T) {
	rec := &recorder{}
	session := &MockSession{rec: rec, RuntimeVersion: "12.2"}
	files := &MockFiles{rec: rec}

	dir := t.TempDir()
	reqs := writeFile(t, dir, "reqs.txt")
	core := artifact.New(writeFile(t, dir, "core-0.1.0.whl"))
	extra := artifact.New(writeFile(t, dir, "extra-0.1.0.whl"))

	ctrl := newTestController(t, Config{
		Session:          session,
		Artifacts:        artifact.NewSet(true, &core, &extra),
		Task:             &EntryPointTask{PackageName: "mypkg", EntryPoint: "main"},
		UploadViaContext: true,
		ContextFiles:     files,
		RequirementsFile: reqs,
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{
		"upload:reqs.txt",
		"install:/scratch/reqs.txt",
		"probe",
		"upload:extra-0.1.0.whl",
		"install:/scratch/extra-0.1.0.whl",
		"probe",
		"execute_entry_point:mypkg/main",
	}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	// Runtime 12 is below the refresh threshold: no restart anywhere.
	for _, call := range got {
		if call == "restart" {
			t.Error("restart must not be issued below the version threshold")
		}
		if strings.Contains(call, "core-0.1.0") {
			t.Error("core install must never run when suppressed")
		}
	}
}

func TestRun_MissingCoreArtifactFailsBeforeRemoteCalls(t *testing.T) {
	rec := &recorder{}
	session := &MockSession{rec: rec}
	files := &MockFiles{rec: rec}

	ctrl := newTestController(t, Config{
		Session:          session,
		Artifacts:        artifact.NewSet(false, nil, nil),
		Task:             &ScriptTask{File: "job.py"},
		UploadViaContext: true,
		ContextFiles:     files,
	})

	err := ctrl.Run(context.Background())
	if !errors.Is(err, artifact.ErrMissingArtifact) {
		t.Fatalf("expected ErrMissingArtifact, got %v", err)
	}
	if calls := rec.all(); len(calls) != 0 {
		t.Errorf("expected no remote calls, got %v", calls)
	}
}

func TestRun_MissingRequirementsFileIsConfigError(t *testing.T) {
	rec := &recorder{}
	session := &MockSession{rec: rec}
	files := &MockFiles{rec: rec}

	ctrl := newTestController(t, Config{
		Session:          session,
		Artifacts:        artifact.NewSet(true, nil, nil),
		Task:             &ScriptTask{File: "job.py"},
		UploadViaContext: true,
		ContextFiles:     files,
		RequirementsFile: filepath.Join(t.TempDir(), "missing-reqs.txt"),
	})

	err := ctrl.Run(context.Background())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if calls := rec.all(); len(calls) != 0 {
		t.Errorf("expected no remote calls before the config check, got %v", calls)
	}
}

func TestRun_EmptyInstallRunDispatchesDirectly(t *testing.T) {
	rec := &recorder{}
	session := &MockSession{rec: rec}
	files := &MockFiles{rec: rec}

	ctrl := newTestController(t, Config{
		Session:          session,
		Artifacts:        artifact.NewSet(true, nil, nil),
		Task:             &ScriptTask{File: "job.py"},
		UploadViaContext: true,
		ContextFiles:     files,
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := rec.all()
	if len(got) != 1 || got[0] != "execute_file:job.py" {
		t.Errorf("expected dispatch only, got %v", got)
	}
}

func TestRun_RefreshDecision(t *testing.T) {
	tests := []struct {
		name        string
		version     string
		wantRestart bool
	}{
		{"at threshold", "13.0", true},
		{"above threshold", "15.4", true},
		{"below threshold", "12.2", false},
		{"unset sentinel", "None", false},
		{"empty output", "", false},
		{"unparseable", "client.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			session := &MockSession{rec: rec, RuntimeVersion: tt.version}
			files := &MockFiles{rec: rec}

			core := artifact.New(writeFile(t, t.TempDir(), "pkg-0.1.0.whl"))
			ctrl := newTestController(t, Config{
				Session:          session,
				Artifacts:        artifact.NewSet(false, &core, nil),
				Task:             &ScriptTask{File: "job.py"},
				UploadViaContext: true,
				ContextFiles:     files,
			})

			if err := ctrl.Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			restarted := false
			for _, call := range rec.all() {
				if call == "restart" {
					restarted = true
				}
			}
			if restarted != tt.wantRestart {
				t.Errorf("version %q: restart=%v, want %v", tt.version, restarted, tt.wantRestart)
			}
		})
	}
}

func TestRun_InstallExtrasPassedToCoreOnly(t *testing.T) {
	rec := &recorder{}
	session := &MockSession{rec: rec, RuntimeVersion: "None"}
	files := &MockFiles{rec: rec}

	dir := t.TempDir()
	core := artifact.New(writeFile(t, dir, "core-0.1.0.whl"))
	extra := artifact.New(writeFile(t, dir, "extra-0.1.0.whl"))

	ctrl := newTestController(t, Config{
		Session:          session,
		Artifacts:        artifact.NewSet(false, &core, &extra),
		Task:             &ScriptTask{File: "job.py"},
		UploadViaContext: true,
		ContextFiles:     files,
		InstallExtras:    "dev,test",
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var coreInstall, extraInstall string
	for _, call := range rec.all() {
		if strings.HasPrefix(call, "install:/scratch/core") {
			coreInstall = call
		}
		if strings.HasPrefix(call, "install:/scratch/extra") {
			extraInstall = call
		}
	}
	if !strings.HasSuffix(coreInstall, "[dev,test]") {
		t.Errorf("core install missing extras clause: %q", coreInstall)
	}
	if strings.Contains(extraInstall, "[") {
		t.Errorf("extra install must not carry extras: %q", extraInstall)
	}
}

func TestRun_ParametersResolvedAndPushed(t *testing.T) {
	rec := &recorder{}
	session := &MockSession{rec: rec}
	files := &MockFiles{rec: rec}

	dir := t.TempDir()
	dataFile := writeFile(t, dir, "input.csv")

	task := &ScriptTask{
		File: "job.py",
		Parameters: params.Parameters{
			Positional: []string{"--input", artifact.LocalScheme + dataFile, "--mode", "fast"},
		},
	}

	ctrl := newTestController(t, Config{
		Session:          session,
		Artifacts:        artifact.NewSet(true, nil, nil),
		Task:             task,
		UploadViaContext: true,
		ContextFiles:     files,
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if task.Parameters.Positional[1] != "/scratch/input.csv" {
		t.Errorf("artifact reference not rewritten: %v", task.Parameters.Positional)
	}
	if task.Parameters.Positional[3] != "fast" {
		t.Errorf("plain parameter must pass through untouched: %v", task.Parameters.Positional)
	}

	want := []string{"upload:input.csv", "setup_arguments", "execute_file:job.py"}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestRun_EmptyParametersSkipResolution(t *testing.T) {
	rec := &recorder{}
	session := &MockSession{rec: rec}
	files := &MockFiles{rec: rec}

	ctrl := newTestController(t, Config{
		Session:          session,
		Artifacts:        artifact.NewSet(true, nil, nil),
		Task:             &EntryPointTask{PackageName: "mypkg", EntryPoint: "main"},
		UploadViaContext: true,
		ContextFiles:     files,
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, call := range rec.all() {
		if call == "setup_arguments" {
			t.Error("setup_arguments must not be called for empty parameters")
		}
	}
}

func TestRun_RemoteFailurePropagates(t *testing.T) {
	rec := &recorder{}
	installErr := errors.New("cluster unreachable")
	session := &MockSession{rec: rec, RuntimeVersion: "None", InstallErr: installErr}
	files := &MockFiles{rec: rec}

	core := artifact.New(writeFile(t, t.TempDir(), "pkg-0.1.0.whl"))
	ctrl := newTestController(t, Config{
		Session:          session,
		Artifacts:        artifact.NewSet(false, &core, nil),
		Task:             &ScriptTask{File: "job.py"},
		UploadViaContext: true,
		ContextFiles:     files,
	})

	err := ctrl.Run(context.Background())
	if !errors.Is(err, installErr) {
		t.Fatalf("expected install error to propagate unmodified, got %v", err)
	}

	for _, call := range rec.all() {
		if strings.HasPrefix(call, "execute_file") {
			t.Error("dispatch must not run after a failed install")
		}
	}
}

// storeServer is a fake artifact store tracking run lifecycle calls.
type storeServer struct {
	mu        sync.Mutex
	started   int
	ended     []string
	artifacts int
}

func (s *storeServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		switch {
		case r.URL.Path == "/api/runs":
			s.started++
			json.NewEncoder(w).Encode(api.StartRunResponse{RunID: "run-1", ArtifactURI: "store://run-1"})
		case strings.HasSuffix(r.URL.Path, "/end"):
			var req api.EndRunRequest
			json.NewDecoder(r.Body).Decode(&req)
			s.ended = append(s.ended, req.Status)
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/artifacts"):
			s.artifacts++
			var req api.LogArtifactRequest
			json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	})
}

func TestRun_TrackedRunLifecycle(t *testing.T) {
	store := &storeServer{}
	server := httptest.NewServer(store.handler())
	defer server.Close()

	rec := &recorder{}
	session := &MockSession{rec: rec, RuntimeVersion: "None"}

	core := artifact.New(writeFile(t, t.TempDir(), "pkg-0.1.0.whl"))
	ctrl := newTestController(t, Config{
		Session:   session,
		Artifacts: artifact.NewSet(false, &core, nil),
		Task:      &ScriptTask{File: "job.py"},
		Store:     transfer.NewStoreClient(server.URL, "test-token", 5*time.Second),
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if store.started != 1 {
		t.Errorf("expected exactly one tracked run, got %d", store.started)
	}
	if store.artifacts != 1 {
		t.Errorf("expected one artifact upload, got %d", store.artifacts)
	}
	if len(store.ended) != 1 || store.ended[0] != api.RunStatusFinished {
		t.Errorf("expected one FINISHED close, got %v", store.ended)
	}
}

func TestRun_TrackedRunIDAnnotatesLogs(t *testing.T) {
	store := &storeServer{}
	server := httptest.NewServer(store.handler())
	defer server.Close()

	var logs bytes.Buffer
	rec := &recorder{}
	session := &MockSession{rec: rec, RuntimeVersion: "None"}

	core := artifact.New(writeFile(t, t.TempDir(), "pkg-0.1.0.whl"))
	ctrl := newTestController(t, Config{
		Session:   session,
		Artifacts: artifact.NewSet(false, &core, nil),
		Task:      &ScriptTask{File: "job.py"},
		Store:     transfer.NewStoreClient(server.URL, "test-token", 5*time.Second),
		Log:       slog.New(slog.NewJSONHandler(&logs, nil)),
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !strings.Contains(logs.String(), `"run_id":"run-1"`) {
		t.Errorf("expected phase logs to carry the tracked-run ID, got: %s", logs.String())
	}
}

func TestRun_TrackedRunClosedOnFailure(t *testing.T) {
	store := &storeServer{}
	server := httptest.NewServer(store.handler())
	defer server.Close()

	rec := &recorder{}
	installErr := errors.New("install exploded")
	session := &MockSession{rec: rec, RuntimeVersion: "None", InstallErr: installErr}

	core := artifact.New(writeFile(t, t.TempDir(), "pkg-0.1.0.whl"))
	ctrl := newTestController(t, Config{
		Session:   session,
		Artifacts: artifact.NewSet(false, &core, nil),
		Task:      &ScriptTask{File: "job.py"},
		Store:     transfer.NewStoreClient(server.URL, "test-token", 5*time.Second),
	})

	if err := ctrl.Run(context.Background()); !errors.Is(err, installErr) {
		t.Fatalf("expected install error, got %v", err)
	}

	if len(store.ended) != 1 || store.ended[0] != api.RunStatusFailed {
		t.Errorf("expected one FAILED close, got %v", store.ended)
	}
}

func TestNew_ValidatesConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing session", Config{Task: &ScriptTask{File: "job.py"}, UploadViaContext: true, ContextFiles: &MockFiles{rec: &recorder{}}}},
		{"missing task", Config{Session: &MockSession{rec: &recorder{}}, UploadViaContext: true, ContextFiles: &MockFiles{rec: &recorder{}}}},
		{"context upload without file writer", Config{Session: &MockSession{rec: &recorder{}}, Task: &ScriptTask{File: "job.py"}, UploadViaContext: true}},
		{"store upload without store client", Config{Session: &MockSession{rec: &recorder{}}, Task: &ScriptTask{File: "job.py"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestDispatch_UnknownTaskShape(t *testing.T) {
	rec := &recorder{}
	ctrl := newTestController(t, Config{
		Session:          &MockSession{rec: rec},
		Artifacts:        artifact.NewSet(true, nil, nil),
		Task:             &ScriptTask{File: "job.py"},
		UploadViaContext: true,
		ContextFiles:     &MockFiles{rec: rec},
	})

	// Force an impossible shape through the internal field to exercise the
	// exhaustive-switch default.
	ctrl.task = nil
	if err := ctrl.dispatch(context.Background()); err == nil {
		t.Error("expected error for unknown task shape")
	}
}
