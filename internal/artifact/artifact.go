// Package artifact describes build outputs and locates the newest one on disk.
package artifact

import (
	"fmt"
	"strings"
)

// LocalScheme is the URI scheme prefix for artifacts addressed on the
// local filesystem.
const LocalScheme = "file://"

// Artifact identifies a build output addressable both locally and remotely.
// Immutable once constructed.
type Artifact struct {
	// LocalPath is the artifact's location on the local filesystem.
	LocalPath string

	// URI is the canonical remote-addressable form, e.g. "file:///repo/dist/pkg.whl".
	URI string
}

// New wraps a local file path as an Artifact with a file:// URI.
func New(localPath string) Artifact {
	return Artifact{
		LocalPath: localPath,
		URI:       LocalScheme + localPath,
	}
}

// StrippedURI returns the URI with the local-file scheme prefix removed.
func (a Artifact) StrippedURI() string {
	return strings.TrimPrefix(a.URI, LocalScheme)
}

// String implements fmt.Stringer.
func (a Artifact) String() string {
	return a.URI
}

// Set is an immutable bundle describing which artifacts are eligible for
// installation. If SuppressCoreInstall is true the core artifact must never
// be installed, even when present.
type Set struct {
	SuppressCoreInstall bool
	Core                *Artifact
	Extra               *Artifact
}

// NewSet builds a Set. It is constructed once at controller initialization
// and never mutated afterward.
func NewSet(suppressCoreInstall bool, core, extra *Artifact) Set {
	return Set{
		SuppressCoreInstall: suppressCoreInstall,
		Core:                core,
		Extra:               extra,
	}
}

// Validate rejects a set whose flags contradict its contents early, before
// any remote call is issued.
func (s Set) Validate() error {
	if !s.SuppressCoreInstall && s.Core == nil {
		return fmt.Errorf("core package install requested but no artifact was found: %w", ErrMissingArtifact)
	}
	return nil
}
