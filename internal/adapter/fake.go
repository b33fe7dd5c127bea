package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FailureRule lets a test arrange for a named fake call to fail once a
// matcher condition holds — e.g. "MergeBranch on workspace w1 returns an
// error mentioning conflicting files a, b" (spec.md §8 scenario 3).
type FailureRule struct {
	// Match is consulted with the call's arguments (method-specific,
	// documented per fake constructor below); returning true makes that
	// call return Err instead of its normal result.
	Match func(args ...any) bool
	Err   error
}

// Call records one invocation against a fake, for post-hoc assertions in
// tests ("the merge effect was executed exactly once, for workspace w1").
type Call struct {
	Method string
	Args   []any
	At     time.Time
}

// FakeSession is an in-memory Session fake: spawned sessions are tracked
// in-process, SendInput/CaptureOutput/Kill operate against that map, and
// every call is recorded for inspection.
type FakeSession struct {
	mu       sync.Mutex
	clk      func() time.Time
	sessions map[string]*fakeSessionState
	calls    []Call
	failures []FailureRule
	nextID   int
}

type fakeSessionState struct {
	taskID, workspaceID, command string
	inputs                       []string
	output                       string
	killed                       bool
	killReason                  string
}

// NewFakeSession returns an empty FakeSession reading time from now; a nil
// now defaults to time.Now.
func NewFakeSession(now func() time.Time) *FakeSession {
	if now == nil {
		now = time.Now
	}
	return &FakeSession{clk: now, sessions: map[string]*fakeSessionState{}}
}

// Fail arranges for future matching calls to return err instead of
// succeeding.
func (f *FakeSession) Fail(rule FailureRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, rule)
}

// Calls returns every recorded call, in order.
func (f *FakeSession) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// SetOutput seeds a session's CaptureOutput buffer, simulating agent
// output a test wants a guard/diagnostic read to observe.
func (f *FakeSession) SetOutput(sessionID, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.output = output
	}
}

func (f *FakeSession) record(method string, args ...any) error {
	f.calls = append(f.calls, Call{Method: method, Args: args, At: f.clk()})
	for _, rule := range f.failures {
		if rule.Match(args...) {
			return rule.Err
		}
	}
	return nil
}

func (f *FakeSession) Spawn(_ context.Context, taskID, workspaceID, command string, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Spawn", taskID, workspaceID, command); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("session-%d", f.nextID)
	f.sessions[id] = &fakeSessionState{taskID: taskID, workspaceID: workspaceID, command: command}
	return id, nil
}

func (f *FakeSession) SendInput(_ context.Context, sessionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SendInput", sessionID, text); err != nil {
		return err
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("adapter: fake session %q not found", sessionID)
	}
	s.inputs = append(s.inputs, text)
	return nil
}

func (f *FakeSession) Kill(_ context.Context, sessionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Kill", sessionID, reason); err != nil {
		return err
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("adapter: fake session %q not found", sessionID)
	}
	s.killed = true
	s.killReason = reason
	return nil
}

func (f *FakeSession) CaptureOutput(_ context.Context, sessionID string, maxBytes int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CaptureOutput", sessionID, maxBytes); err != nil {
		return "", err
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("adapter: fake session %q not found", sessionID)
	}
	out := s.output
	if maxBytes > 0 && len(out) > maxBytes {
		out = out[len(out)-maxBytes:]
	}
	return out, nil
}

// FakeRepo is an in-memory Repo fake. Workspaces are tracked by id;
// MergeBranch failures are the mechanism spec.md §8 scenario 3 ("merge
// conflict surfaces as recoverable pipeline failure") drives through a
// configured FailureRule.
type FakeRepo struct {
	mu         sync.Mutex
	clk        func() time.Time
	workspaces map[string]fakeWorkspace
	commands   map[string]string // workspaceID -> last command's canned output
	branches   map[string]bool   // workspaceID+":"+branch -> exists
	merged     map[string]bool   // workspaceID+":"+branch+":"+into -> merged
	files      map[string]bool   // workspaceID+":"+path -> exists
	calls      []Call
	failures   []FailureRule
}

type fakeWorkspace struct {
	pipelineID, branch, baseRef, path string
	deleted                           bool
}

// NewFakeRepo returns an empty FakeRepo.
func NewFakeRepo(now func() time.Time) *FakeRepo {
	if now == nil {
		now = time.Now
	}
	return &FakeRepo{
		clk:        now,
		workspaces: map[string]fakeWorkspace{},
		commands:   map[string]string{},
		branches:   map[string]bool{},
		merged:     map[string]bool{},
		files:      map[string]bool{},
	}
}

// SetBranchExists seeds whether BranchExists reports branch as present in
// workspaceID.
func (f *FakeRepo) SetBranchExists(workspaceID, branch string, exists bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[workspaceID+":"+branch] = exists
}

// SetBranchMerged seeds whether BranchMerged reports branch as already
// merged into into, within workspaceID.
func (f *FakeRepo) SetBranchMerged(workspaceID, branch, into string, merged bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged[workspaceID+":"+branch+":"+into] = merged
}

// SetFileExists seeds whether FileExists reports path as present in
// workspaceID.
func (f *FakeRepo) SetFileExists(workspaceID, path string, exists bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[workspaceID+":"+path] = exists
}

func (f *FakeRepo) Fail(rule FailureRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, rule)
}

func (f *FakeRepo) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// SetCommandOutput seeds the canned output RunCommand returns for a given
// workspace, regardless of the command text.
func (f *FakeRepo) SetCommandOutput(workspaceID, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[workspaceID] = output
}

func (f *FakeRepo) record(method string, args ...any) error {
	f.calls = append(f.calls, Call{Method: method, Args: args, At: f.clk()})
	for _, rule := range f.failures {
		if rule.Match(args...) {
			return rule.Err
		}
	}
	return nil
}

func (f *FakeRepo) CreateWorkspace(_ context.Context, workspaceID, pipelineID, branch, baseRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateWorkspace", workspaceID, pipelineID, branch, baseRef); err != nil {
		return "", err
	}
	path := "/tmp/oj-workspaces/" + workspaceID
	f.workspaces[workspaceID] = fakeWorkspace{pipelineID: pipelineID, branch: branch, baseRef: baseRef, path: path}
	return path, nil
}

func (f *FakeRepo) DeleteWorkspace(_ context.Context, workspaceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteWorkspace", workspaceID); err != nil {
		return err
	}
	w, ok := f.workspaces[workspaceID]
	if !ok {
		return nil // idempotent, per spec.md
	}
	w.deleted = true
	f.workspaces[workspaceID] = w
	return nil
}

func (f *FakeRepo) MergeBranch(_ context.Context, workspaceID, branch, into string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("MergeBranch", workspaceID, branch, into)
}

func (f *FakeRepo) RunCommand(_ context.Context, workspaceID, command string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RunCommand", workspaceID, command); err != nil {
		return "", err
	}
	return f.commands[workspaceID], nil
}

func (f *FakeRepo) BranchExists(_ context.Context, workspaceID, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("BranchExists", workspaceID, branch); err != nil {
		return false, err
	}
	return f.branches[workspaceID+":"+branch], nil
}

func (f *FakeRepo) BranchMerged(_ context.Context, workspaceID, branch, into string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("BranchMerged", workspaceID, branch, into); err != nil {
		return false, err
	}
	return f.merged[workspaceID+":"+branch+":"+into], nil
}

func (f *FakeRepo) FileExists(_ context.Context, workspaceID, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FileExists", workspaceID, path); err != nil {
		return false, err
	}
	return f.files[workspaceID+":"+path], nil
}

// FakeIssues is an in-memory Issues fake seeded with a fixed issue list.
type FakeIssues struct {
	mu     sync.Mutex
	issues []Issue
	calls  []Call
}

func NewFakeIssues(issues []Issue) *FakeIssues {
	return &FakeIssues{issues: append([]Issue(nil), issues...)}
}

func (f *FakeIssues) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *FakeIssues) Fetch(_ context.Context, filter map[string]string) ([]Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "Fetch", Args: []any{filter}})
	status, want := filter["status"]
	out := make([]Issue, 0, len(f.issues))
	for _, is := range f.issues {
		if want && is.Status != status {
			continue
		}
		out = append(out, is)
	}
	return out, nil
}

// FakeNotify is an in-memory Notify fake recording every send.
type FakeNotify struct {
	mu    sync.Mutex
	calls []Call
}

func NewFakeNotify() *FakeNotify { return &FakeNotify{} }

func (f *FakeNotify) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *FakeNotify) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "Send", Args: []any{title, message}})
	return nil
}

// FakeExec is an in-memory Exec fake returning a canned result per exact
// command string, falling back to empty output for unconfigured
// commands.
type FakeExec struct {
	mu       sync.Mutex
	outputs  map[string]string
	failures []FailureRule
	calls    []Call
}

func NewFakeExec() *FakeExec {
	return &FakeExec{outputs: map[string]string{}}
}

// SetOutput seeds the canned output for an exact command string.
func (f *FakeExec) SetOutput(command, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[command] = output
}

func (f *FakeExec) Fail(rule FailureRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, rule)
}

func (f *FakeExec) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *FakeExec) Run(_ context.Context, command string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "Run", Args: []any{command}})
	for _, rule := range f.failures {
		if rule.Match(command) {
			return "", rule.Err
		}
	}
	return f.outputs[command], nil
}

// FakeHTTPFetch is an in-memory HTTPFetch fake returning a canned
// status/body per exact URL.
type FakeHTTPFetch struct {
	mu        sync.Mutex
	responses map[string]fakeHTTPResponse
	calls     []Call
}

type fakeHTTPResponse struct {
	status int
	body   string
	err    error
}

func NewFakeHTTPFetch() *FakeHTTPFetch {
	return &FakeHTTPFetch{responses: map[string]fakeHTTPResponse{}}
}

// SetResponse seeds the canned status/body for an exact URL.
func (f *FakeHTTPFetch) SetResponse(url string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = fakeHTTPResponse{status: status, body: body}
}

// SetError seeds a canned error for an exact URL, simulating a network
// failure rather than a non-2xx response.
func (f *FakeHTTPFetch) SetError(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = fakeHTTPResponse{err: err}
}

func (f *FakeHTTPFetch) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *FakeHTTPFetch) Get(_ context.Context, url string, _ time.Duration) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "Get", Args: []any{url}})
	resp, ok := f.responses[url]
	if !ok {
		return 404, "", nil
	}
	if resp.err != nil {
		return 0, "", resp.err
	}
	return resp.status, resp.body, nil
}

// NewFakeSet builds a complete Set of fakes sharing the given clock func
// (pass nil for time.Now), the "fresh fake per scenario" shape spec.md §9
// asks for rather than a single process-wide shared singleton.
func NewFakeSet(now func() time.Time) *Set {
	return &Set{
		Session:   NewFakeSession(now),
		Repo:      NewFakeRepo(now),
		Issues:    NewFakeIssues(nil),
		Notify:    NewFakeNotify(),
		Exec:      NewFakeExec(),
		HTTPFetch: NewFakeHTTPFetch(),
	}
}
