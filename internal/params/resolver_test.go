package params

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"taskdock/internal/artifact"
)

// fakeStrategy implements transfer.Strategy for testing.
type fakeStrategy struct {
	uploads []string
	err     error
}

func (f *fakeStrategy) UploadAndProvidePath(ctx context.Context, localURI string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, localURI)
	return "store://run-1/" + filepath.Base(localURI), nil
}

func TestTraverse_RewritesPositionalReferences(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "input.csv")
	if err := os.WriteFile(data, []byte("a,b"), 0o644); err != nil {
		t.Fatal(err)
	}

	strategy := &fakeStrategy{}
	resolver := NewFileReferenceResolver(strategy, nil)

	p := &Parameters{Positional: []string{"--input", artifact.LocalScheme + data, "--mode", "fast"}}
	if err := resolver.Traverse(context.Background(), p); err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}

	if p.Positional[1] != "store://run-1/input.csv" {
		t.Errorf("reference not rewritten: %v", p.Positional)
	}
	if p.Positional[0] != "--input" || p.Positional[3] != "fast" {
		t.Errorf("plain values must pass through: %v", p.Positional)
	}
	if len(strategy.uploads) != 1 {
		t.Errorf("expected one upload, got %v", strategy.uploads)
	}
}

func TestTraverse_RewritesNamedReferences(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.whl")
	if err := os.WriteFile(model, []byte("wheel"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolver := NewFileReferenceResolver(&fakeStrategy{}, nil)

	p := &Parameters{Named: map[string]string{
		"model":   artifact.LocalScheme + model,
		"retries": "3",
	}}
	if err := resolver.Traverse(context.Background(), p); err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}

	if p.Named["model"] != "store://run-1/model.whl" {
		t.Errorf("reference not rewritten: %v", p.Named)
	}
	if p.Named["retries"] != "3" {
		t.Errorf("plain value must pass through: %v", p.Named)
	}
}

func TestTraverse_UnreadableReferenceFails(t *testing.T) {
	resolver := NewFileReferenceResolver(&fakeStrategy{}, nil)

	p := &Parameters{Positional: []string{artifact.LocalScheme + filepath.Join(t.TempDir(), "gone.csv")}}
	if err := resolver.Traverse(context.Background(), p); err == nil {
		t.Fatal("expected error for unreadable reference")
	}
}

func TestTraverse_UploadFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "input.csv")
	if err := os.WriteFile(data, []byte("a,b"), 0o644); err != nil {
		t.Fatal(err)
	}

	uploadErr := errors.New("store unavailable")
	resolver := NewFileReferenceResolver(&fakeStrategy{err: uploadErr}, nil)

	p := &Parameters{Positional: []string{artifact.LocalScheme + data}}
	if err := resolver.Traverse(context.Background(), p); !errors.Is(err, uploadErr) {
		t.Fatalf("expected upload error, got %v", err)
	}
}

func TestParameters_IsEmpty(t *testing.T) {
	if !(Parameters{}).IsEmpty() {
		t.Error("zero value must be empty")
	}
	if (Parameters{Positional: []string{"a"}}).IsEmpty() {
		t.Error("positional parameters must not be empty")
	}
	if (Parameters{Named: map[string]string{"k": "v"}}).IsEmpty() {
		t.Error("named parameters must not be empty")
	}
}
