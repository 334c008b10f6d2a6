package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"taskdock/internal/params"
	"taskdock/pkg/api"
)

// APIError represents an error response from the remote execution service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// CommandError represents a command that reached the ERROR terminal state.
type CommandError struct {
	CommandID string
	Message   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("remote command %s failed: %s", e.CommandID, e.Message)
}

// APIClient is an HTTP-backed Session attached to one execution context.
type APIClient struct {
	BaseURL      string
	Token        string
	ContextID    string
	HTTPClient   *http.Client
	PollInterval time.Duration

	log *slog.Logger
}

// NewAPIClient creates a client bound to the given execution context.
func NewAPIClient(baseURL, token, contextID string, timeout, pollInterval time.Duration, log *slog.Logger) *APIClient {
	if pollInterval <= 0 {
		pollInterval = 1 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	// Ensure no trailing slash
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &APIClient{
		BaseURL:      baseURL,
		Token:        token,
		ContextID:    contextID,
		HTTPClient:   &http.Client{Timeout: timeout},
		PollInterval: pollInterval,
		log:          log,
	}
}

// postJSON sends a JSON POST request and decodes the response into out
// (out may be nil when no body is expected).
func (c *APIClient) postJSON(ctx context.Context, path string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// waitForCommand polls the command status endpoint until the command
// reaches a terminal state, then returns its output.
func (c *APIClient) waitForCommand(ctx context.Context, commandID string) (string, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/commands/%s", c.BaseURL, commandID), nil)
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("request failed: %w", err)
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}

		var status api.CommandStatusResponse
		if err := json.Unmarshal(respBody, &status); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}

		switch status.Status {
		case api.CommandStatusFinished:
			return status.Output, nil
		case api.CommandStatusError:
			return "", &CommandError{CommandID: commandID, Message: status.Error}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// submitAndWait posts an action that returns a command ID and blocks until
// the command completes.
func (c *APIClient) submitAndWait(ctx context.Context, path string, body any) (string, error) {
	var submitted api.ExecuteCommandResponse
	if err := c.postJSON(ctx, path, body, &submitted); err != nil {
		return "", err
	}
	return c.waitForCommand(ctx, submitted.CommandID)
}

// ExecuteCommand implements Session.ExecuteCommand.
func (c *APIClient) ExecuteCommand(ctx context.Context, command string, verbose bool) (string, error) {
	output, err := c.submitAndWait(ctx, "/api/contexts/commands", api.ExecuteCommandRequest{
		ContextID: c.ContextID,
		Command:   command,
	})
	if err != nil {
		return "", err
	}
	if verbose && output != "" {
		c.log.Info("Command output", "output", output)
	}
	return output, nil
}

// ExecuteFile implements Session.ExecuteFile.
func (c *APIClient) ExecuteFile(ctx context.Context, path string) error {
	_, err := c.submitAndWait(ctx, "/api/contexts/run/file", api.RunFileRequest{
		ContextID: c.ContextID,
		FilePath:  path,
	})
	return err
}

// ExecuteEntryPoint implements Session.ExecuteEntryPoint.
func (c *APIClient) ExecuteEntryPoint(ctx context.Context, packageName, entryPoint string) error {
	_, err := c.submitAndWait(ctx, "/api/contexts/run/entrypoint", api.RunEntryPointRequest{
		ContextID:   c.ContextID,
		PackageName: packageName,
		EntryPoint:  entryPoint,
	})
	return err
}

// InstallPackage implements Session.InstallPackage.
func (c *APIClient) InstallPackage(ctx context.Context, remotePath, extras string) error {
	_, err := c.submitAndWait(ctx, "/api/contexts/install", api.InstallPackageRequest{
		ContextID:  c.ContextID,
		RemotePath: remotePath,
		Extras:     extras,
	})
	return err
}

// SetupArguments implements Session.SetupArguments.
func (c *APIClient) SetupArguments(ctx context.Context, p params.Parameters) error {
	return c.postJSON(ctx, "/api/contexts/arguments", api.SetArgumentsRequest{
		ContextID:  c.ContextID,
		Positional: p.Positional,
		Named:      p.Named,
	}, nil)
}

// RestartInterpreter implements Session.RestartInterpreter.
func (c *APIClient) RestartInterpreter(ctx context.Context) error {
	_, err := c.submitAndWait(ctx, "/api/contexts/restart", api.RestartInterpreterRequest{
		ContextID: c.ContextID,
	})
	return err
}

// UploadFile pushes file content into the execution context's scratch
// directory and returns the remote path. Used by the context-based
// transfer strategy.
func (c *APIClient) UploadFile(ctx context.Context, fileName string, content []byte) (string, error) {
	var uploaded api.UploadFileResponse
	if err := c.postJSON(ctx, "/api/contexts/files", api.UploadFileRequest{
		ContextID: c.ContextID,
		FileName:  fileName,
		Content:   content,
	}, &uploaded); err != nil {
		return "", err
	}
	return uploaded.RemotePath, nil
}
