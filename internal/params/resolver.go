package params

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"taskdock/internal/artifact"
	"taskdock/internal/transfer"
)

// FileReferenceResolver rewrites parameter values that reference local
// artifacts (file:// URIs pointing at existing files) into their uploaded
// remote form.
type FileReferenceResolver struct {
	uploader transfer.Strategy
	log      *slog.Logger
}

// NewFileReferenceResolver creates a resolver bound to the controller's
// transfer strategy.
func NewFileReferenceResolver(uploader transfer.Strategy, log *slog.Logger) *FileReferenceResolver {
	if log == nil {
		log = slog.Default()
	}
	return &FileReferenceResolver{uploader: uploader, log: log}
}

// Traverse implements Resolver. Values are rewritten in place.
func (r *FileReferenceResolver) Traverse(ctx context.Context, p *Parameters) error {
	for i, value := range p.Positional {
		resolved, err := r.resolve(ctx, value)
		if err != nil {
			return err
		}
		p.Positional[i] = resolved
	}
	for key, value := range p.Named {
		resolved, err := r.resolve(ctx, value)
		if err != nil {
			return err
		}
		p.Named[key] = resolved
	}
	return nil
}

// resolve uploads a single file reference, passing every other value
// through untouched.
func (r *FileReferenceResolver) resolve(ctx context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, artifact.LocalScheme) {
		return value, nil
	}

	localPath := strings.TrimPrefix(value, artifact.LocalScheme)
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("parameter references %s but it is not readable: %w", value, err)
	}

	remotePath, err := r.uploader.UploadAndProvidePath(ctx, value)
	if err != nil {
		return "", err
	}

	r.log.Info("Rewrote artifact reference in task parameters", "local", value, "remote", remotePath)
	return remotePath, nil
}
