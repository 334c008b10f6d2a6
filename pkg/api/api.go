// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the remote execution service.
package api

// ExecuteCommandRequest is the request body for submitting a command
// to an execution context.
type ExecuteCommandRequest struct {
	ContextID string `json:"context_id"`
	Command   string `json:"command"`
}

// ExecuteCommandResponse is the response body after submitting a command.
type ExecuteCommandResponse struct {
	CommandID string `json:"command_id"`
}

// Command status values reported by the remote execution service.
const (
	CommandStatusRunning  = "RUNNING"
	CommandStatusFinished = "FINISHED"
	CommandStatusError    = "ERROR"
)

// CommandStatusResponse is the response body for command status polls.
type CommandStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// UploadFileRequest pushes file content into the execution context's
// scratch directory. Content is base64-encoded by encoding/json.
type UploadFileRequest struct {
	ContextID string `json:"context_id"`
	FileName  string `json:"file_name"`
	Content   []byte `json:"content"`
}

// UploadFileResponse returns the path under which the uploaded file is
// reachable from the remote session.
type UploadFileResponse struct {
	RemotePath string `json:"remote_path"`
}

// StartRunRequest opens a tracked run in the artifact store.
type StartRunRequest struct {
	Name string `json:"name,omitempty"`
}

// StartRunResponse is the response body after opening a tracked run.
type StartRunResponse struct {
	RunID       string `json:"run_id"`
	ArtifactURI string `json:"artifact_uri"`
}

// Run status values accepted by the artifact store when ending a run.
const (
	RunStatusFinished = "FINISHED"
	RunStatusFailed   = "FAILED"
)

// EndRunRequest closes a tracked run with a final status.
type EndRunRequest struct {
	Status string `json:"status"`
}

// LogArtifactRequest stores a file under a tracked run. Stored artifacts
// are addressed under the run's artifact root, so the store returns no body.
type LogArtifactRequest struct {
	FileName string `json:"file_name"`
	Content  []byte `json:"content"`
}

// InstallPackageRequest asks the remote session to install a package
// that is already reachable from the remote side.
type InstallPackageRequest struct {
	ContextID  string `json:"context_id"`
	RemotePath string `json:"remote_path"`
	Extras     string `json:"extras,omitempty"`
}

// RunFileRequest asks the remote session to execute a script file.
type RunFileRequest struct {
	ContextID string `json:"context_id"`
	FilePath  string `json:"file_path"`
}

// RunEntryPointRequest asks the remote session to execute a registered
// entry point within an installed package.
type RunEntryPointRequest struct {
	ContextID   string `json:"context_id"`
	PackageName string `json:"package_name"`
	EntryPoint  string `json:"entry_point"`
}

// SetArgumentsRequest pushes resolved task parameters into the execution
// context so a subsequent dispatch can read them.
type SetArgumentsRequest struct {
	ContextID  string            `json:"context_id"`
	Positional []string          `json:"positional,omitempty"`
	Named      map[string]string `json:"named,omitempty"`
}

// RestartInterpreterRequest asks the remote session to reload its
// interpreter state so newly installed libraries become importable.
type RestartInterpreterRequest struct {
	ContextID string `json:"context_id"`
}

// ErrorResponse is the error body returned by the remote services.
type ErrorResponse struct {
	Message string `json:"message"`
}
