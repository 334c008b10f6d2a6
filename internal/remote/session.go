// Package remote defines the remote execution session capability and its
// HTTP-backed implementation.
package remote

import (
	"context"

	"taskdock/internal/params"
)

// Session is the capability surface of a remote execution context. The
// controller never inspects its internals, only calls its operations.
// Every operation blocks until the remote side reports completion.
type Session interface {
	// ExecuteCommand runs a text command in the remote interpreter and
	// returns its output. When verbose is set the output is also logged.
	ExecuteCommand(ctx context.Context, command string, verbose bool) (string, error)

	// ExecuteFile runs the given file path as a script on the remote side.
	ExecuteFile(ctx context.Context, path string) error

	// ExecuteEntryPoint runs a registered entry point within an installed package.
	ExecuteEntryPoint(ctx context.Context, packageName, entryPoint string) error

	// InstallPackage installs a package reachable from the remote side.
	// Extras is an optional package-manager extras clause, e.g. "dev,test".
	InstallPackage(ctx context.Context, remotePath, extras string) error

	// SetupArguments pushes resolved task parameters into the context's
	// argument state so a subsequent dispatch can read them.
	SetupArguments(ctx context.Context, p params.Parameters) error

	// RestartInterpreter reloads the remote interpreter state so newly
	// installed libraries become importable.
	RestartInterpreter(ctx context.Context) error
}
