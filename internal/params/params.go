// Package params models task parameters and resolves embedded artifact
// references into remote paths.
package params

import "context"

// Parameters is a task's parameter collection: either an ordered sequence
// of strings or a mapping from name to string value. At most one form is
// populated per task.
type Parameters struct {
	Positional []string
	Named      map[string]string
}

// IsEmpty reports whether the collection carries no values at all.
func (p Parameters) IsEmpty() bool {
	return len(p.Positional) == 0 && len(p.Named) == 0
}

// Resolver rewrites a parameter collection so that any artifact reference
// embedded in it is uploaded and replaced with its remote path. Invoked at
// most once per run.
type Resolver interface {
	Traverse(ctx context.Context, p *Parameters) error
}
