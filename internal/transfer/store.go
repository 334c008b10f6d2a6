package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskdock/internal/artifact"
	"taskdock/pkg/api"
)

// storeRateLimit caps artifact-store API calls; uploads of many small
// parameter-referenced files must not hammer the store.
const storeRateLimit = 10 // requests per second

// StoreClient handles API calls to the artifact store.
type StoreClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	limiter *rate.Limiter
}

// TrackedRun is a lifecycle-scoped bookkeeping session in the artifact store.
type TrackedRun struct {
	ID          string
	ArtifactURI string
}

// NewStoreClient creates a rate-limited artifact store client.
func NewStoreClient(baseURL, token string, timeout time.Duration) *StoreClient {
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &StoreClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(storeRateLimit), storeRateLimit),
	}
}

func (c *StoreClient) postJSON(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

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
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("artifact store returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// StartRun opens a tracked run and returns its handle.
func (c *StoreClient) StartRun(ctx context.Context, name string) (*TrackedRun, error) {
	var resp api.StartRunResponse
	if err := c.postJSON(ctx, "/api/runs", api.StartRunRequest{Name: name}, &resp); err != nil {
		return nil, fmt.Errorf("failed to start tracked run: %w", err)
	}
	return &TrackedRun{ID: resp.RunID, ArtifactURI: resp.ArtifactURI}, nil
}

// EndRun closes a tracked run with the given final status.
func (c *StoreClient) EndRun(ctx context.Context, runID, status string) error {
	if err := c.postJSON(ctx, fmt.Sprintf("/api/runs/%s/end", runID), api.EndRunRequest{Status: status}, nil); err != nil {
		return fmt.Errorf("failed to end tracked run %s: %w", runID, err)
	}
	return nil
}

// LogArtifact stores a file under a tracked run.
func (c *StoreClient) LogArtifact(ctx context.Context, runID, fileName string, content []byte) error {
	if err := c.postJSON(ctx, fmt.Sprintf("/api/runs/%s/artifacts", runID), api.LogArtifactRequest{
		FileName: fileName,
		Content:  content,
	}, nil); err != nil {
		return fmt.Errorf("failed to log artifact under run %s: %w", runID, err)
	}
	return nil
}

// RunStoreUploader implements Strategy by logging artifacts under a
// tracked run. The run is closed at most once via Close.
type RunStoreUploader struct {
	client *StoreClient
	run    *TrackedRun
	log    *slog.Logger

	closeOnce sync.Once
}

// NewRunStoreUploader creates an uploader bound to an open tracked run.
func NewRunStoreUploader(client *StoreClient, run *TrackedRun, log *slog.Logger) *RunStoreUploader {
	if log == nil {
		log = slog.Default()
	}
	return &RunStoreUploader{client: client, run: run, log: log}
}

// Run returns the tracked run this uploader is bound to.
func (u *RunStoreUploader) Run() *TrackedRun {
	return u.run
}

// UploadAndProvidePath implements Strategy.UploadAndProvidePath.
func (u *RunStoreUploader) UploadAndProvidePath(ctx context.Context, localURI string) (string, error) {
	localPath := strings.TrimPrefix(localURI, artifact.LocalScheme)

	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	fileName := filepath.Base(localPath)
	if err := u.client.LogArtifact(ctx, u.run.ID, fileName, content); err != nil {
		return "", err
	}

	// Artifact paths are addressed under the run's artifact root, the
	// same way the store itself lays them out.
	storePath := strings.TrimSuffix(u.run.ArtifactURI, "/") + "/" + fileName
	u.log.Info("Uploaded file to artifact store", "local", localPath, "remote", storePath, "run_id", u.run.ID)
	return storePath, nil
}

// Close ends the tracked run with the given status. A dangling open run is
// a resource leak, so finalization calls this on failure paths too; only
// the first call reaches the store.
func (u *RunStoreUploader) Close(ctx context.Context, status string) error {
	var err error
	u.closeOnce.Do(func() {
		err = u.client.EndRun(ctx, u.run.ID, status)
	})
	return err
}
