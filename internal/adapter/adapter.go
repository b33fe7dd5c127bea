// Package adapter defines the capability contracts the engine's effect
// executor calls through: session control, workspace/repo management,
// issue tracker reads, notifications, shell command execution, and HTTP
// fetch. Every contract here is an interface whose only implementation in
// this tree is the in-memory fake in this package (production adapters
// are out of scope — spec.md excludes concrete terminal-multiplexer/
// git-worktree/issue-tracker/notification adapters, specifying only the
// capability contracts); the fakes back both the engine tests and
// cmd/ojd.
//
// Grounded on the ports/mocks split in the agent package: a small
// interface per capability (ports.LLMClient, ports.Tool, ...) with a
// hand-written mock beside it rather than a generated one, generalized
// here from "mock an LLM" to "fake a session/repo/issues/notify/exec/http
// capability with inspectable call history and injectable failures"
// (spec.md §9: "fake adapters as capability sets ... recorded calls and
// configurable failure modes exposed through inspector accessors").
package adapter

import (
	"context"
	"time"
)

// Session is the capability contract for controlling an agent session's
// underlying process.
type Session interface {
	Spawn(ctx context.Context, taskID, workspaceID, command string, env map[string]string) (sessionID string, err error)
	SendInput(ctx context.Context, sessionID, text string) error
	Kill(ctx context.Context, sessionID, reason string) error
	CaptureOutput(ctx context.Context, sessionID string, maxBytes int) (string, error)
}

// Repo is the capability contract for a workspace's on-disk context
// (a git worktree, in a production adapter) and branch operations.
type Repo interface {
	CreateWorkspace(ctx context.Context, workspaceID, pipelineID, branch, baseRef string) (path string, err error)
	DeleteWorkspace(ctx context.Context, workspaceID string) error
	MergeBranch(ctx context.Context, workspaceID, branch, into string) error
	RunCommand(ctx context.Context, workspaceID, command string, timeout time.Duration) (output string, err error)
	// BranchExists, BranchMerged, and FileExists back the guard primitive's
	// branch_exists/branch_merged/file_exists leaf conditions (spec.md
	// §4.3): guard evaluation is pure, so gathering these facts is the
	// engine's job and this is the boundary it gathers them through.
	BranchExists(ctx context.Context, workspaceID, branch string) (bool, error)
	BranchMerged(ctx context.Context, workspaceID, branch, into string) (bool, error)
	FileExists(ctx context.Context, workspaceID, path string) (bool, error)
}

// Issues is the capability contract for the external issue tracker, used
// by guard IssuesComplete/IssueStatus evaluation and watcher sources.
type Issues interface {
	Fetch(ctx context.Context, filter map[string]string) ([]Issue, error)
}

// Issue is one tracker record the engine matches guard/watcher facts
// against.
type Issue struct {
	ID     string
	Status string
}

// Notify is the capability contract for desktop/external notifications.
type Notify interface {
	Send(ctx context.Context, title, message string) error
}

// Exec is the capability contract for running a standalone shell command
// not scoped to a workspace (strategy checkpoint/rollback commands run
// against a workspace go through Repo.RunCommand instead; Exec exists
// separately so fakes can distinguish "ran in a workspace" from "ran
// bare" in their call history).
type Exec interface {
	Run(ctx context.Context, command string, timeout time.Duration) (output string, err error)
}

// HTTPFetch is the capability contract for a GET against an external
// URL, for watcher sources backed by an HTTP endpoint.
type HTTPFetch interface {
	Get(ctx context.Context, url string, timeout time.Duration) (status int, body string, err error)
}

// Set bundles every capability the engine's effect executor needs. A
// production Set wires real implementations; tests construct one from
// NewFakeSet.
type Set struct {
	Session   Session
	Repo      Repo
	Issues    Issues
	Notify    Notify
	Exec      Exec
	HTTPFetch HTTPFetch
}
