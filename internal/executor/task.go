// Package executor sequences artifact uploads, installs, environment
// refresh, and task dispatch into one remote run.
package executor

import "taskdock/internal/params"

// Task is the closed union of the two dispatchable task shapes. Exactly
// one shape is active per run.
type Task interface {
	// TaskParameters exposes the task's parameter collection for
	// in-place resolution.
	TaskParameters() *params.Parameters

	isTask()
}

// ScriptTask executes a standalone file as a script on the remote session.
type ScriptTask struct {
	File       string
	Parameters params.Parameters
}

// TaskParameters implements Task.
func (t *ScriptTask) TaskParameters() *params.Parameters { return &t.Parameters }

func (t *ScriptTask) isTask() {}

// EntryPointTask executes a registered entry point within an installed package.
type EntryPointTask struct {
	PackageName string
	EntryPoint  string
	Parameters  params.Parameters
}

// TaskParameters implements Task.
func (t *EntryPointTask) TaskParameters() *params.Parameters { return &t.Parameters }

func (t *EntryPointTask) isTask() {}
