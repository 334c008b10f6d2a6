// Package transfer provides the Strategy interface for making local
// artifacts reachable from the remote execution session.
// Implementations include context-attached and run-store uploads.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"taskdock/internal/artifact"
)

// Strategy uploads a local artifact and returns a remote-reachable path.
// Selected once per controller instance.
type Strategy interface {
	UploadAndProvidePath(ctx context.Context, localURI string) (string, error)
}

// ContextFileWriter is the capability required to push file bytes into an
// execution context's scratch directory.
type ContextFileWriter interface {
	UploadFile(ctx context.Context, fileName string, content []byte) (string, error)
}

// ContextUploader implements Strategy by writing artifacts directly into
// the execution context.
type ContextUploader struct {
	files ContextFileWriter
	log   *slog.Logger
}

// NewContextUploader creates a context-based uploader.
func NewContextUploader(files ContextFileWriter, log *slog.Logger) *ContextUploader {
	if log == nil {
		log = slog.Default()
	}
	return &ContextUploader{files: files, log: log}
}

// UploadAndProvidePath implements Strategy.UploadAndProvidePath.
func (u *ContextUploader) UploadAndProvidePath(ctx context.Context, localURI string) (string, error) {
	localPath := strings.TrimPrefix(localURI, artifact.LocalScheme)

	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	remotePath, err := u.files.UploadFile(ctx, filepath.Base(localPath), content)
	if err != nil {
		return "", fmt.Errorf("context upload of %s failed: %w", localPath, err)
	}

	u.log.Info("Uploaded file to execution context", "local", localPath, "remote", remotePath)
	return remotePath, nil
}
