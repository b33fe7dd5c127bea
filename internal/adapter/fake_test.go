package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeSessionSpawnSendCaptureKill(t *testing.T) {
	ctx := context.Background()
	s := NewFakeSession(nil)

	id, err := s.Spawn(ctx, "task-1", "ws-1", "agent implement", nil)
	require.NoError(t, err)

	require.NoError(t, s.SendInput(ctx, id, "please continue"))
	s.SetOutput(id, "build succeeded")

	out, err := s.CaptureOutput(ctx, id, 0)
	require.NoError(t, err)
	require.Equal(t, "build succeeded", out)

	require.NoError(t, s.Kill(ctx, id, "pipeline cancelled"))

	calls := s.Calls()
	require.Len(t, calls, 4)
	require.Equal(t, "Spawn", calls[0].Method)
	require.Equal(t, "Kill", calls[3].Method)
}

func TestFakeSessionCaptureOutputTruncatesToMaxBytes(t *testing.T) {
	ctx := context.Background()
	s := NewFakeSession(nil)
	id, err := s.Spawn(ctx, "t", "w", "cmd", nil)
	require.NoError(t, err)
	s.SetOutput(id, "0123456789")

	out, err := s.CaptureOutput(ctx, id, 4)
	require.NoError(t, err)
	require.Equal(t, "6789", out)
}

func TestFakeRepoMergeBranchFailureInjection(t *testing.T) {
	ctx := context.Background()
	r := NewFakeRepo(nil)

	wantErr := errors.New("merge conflict in: a, b")
	r.Fail(FailureRule{
		Match: func(args ...any) bool {
			workspaceID, _ := args[0].(string)
			return workspaceID == "ws-1"
		},
		Err: wantErr,
	})

	_, err := r.CreateWorkspace(ctx, "ws-1", "p1", "feature", "main")
	require.NoError(t, err)

	err = r.MergeBranch(ctx, "ws-1", "feature", "main")
	require.ErrorIs(t, err, wantErr)

	calls := r.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "MergeBranch", calls[1].Method)
}

func TestFakeRepoDeleteWorkspaceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewFakeRepo(nil)
	require.NoError(t, r.DeleteWorkspace(ctx, "never-created"))
}

func TestFakeIssuesFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	fi := NewFakeIssues([]Issue{
		{ID: "1", Status: "open"},
		{ID: "2", Status: "closed"},
		{ID: "3", Status: "open"},
	})

	open, err := fi.Fetch(ctx, map[string]string{"status": "open"})
	require.NoError(t, err)
	require.Len(t, open, 2)

	all, err := fi.Fetch(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestFakeNotifyRecordsCalls(t *testing.T) {
	ctx := context.Background()
	n := NewFakeNotify()
	require.NoError(t, n.Send(ctx, "stuck", "task t1 has been stuck for 10m"))
	require.Len(t, n.Calls(), 1)
}

func TestFakeExecReturnsConfiguredOutputAndError(t *testing.T) {
	ctx := context.Background()
	e := NewFakeExec()
	e.SetOutput("git status", "clean")
	e.Fail(FailureRule{
		Match: func(args ...any) bool { return args[0] == "git push" },
		Err:   errors.New("network unreachable"),
	})

	out, err := e.Run(ctx, "git status", time.Second)
	require.NoError(t, err)
	require.Equal(t, "clean", out)

	_, err = e.Run(ctx, "git push", time.Second)
	require.Error(t, err)
}

func TestFakeHTTPFetchReturnsConfiguredResponse(t *testing.T) {
	ctx := context.Background()
	h := NewFakeHTTPFetch()
	h.SetResponse("https://example.test/status", 200, `{"ok":true}`)

	status, body, err := h.Get(ctx, "https://example.test/status", time.Second)
	require.NoError(t, err)
	require.Equal(t, 200, status)
	require.Equal(t, `{"ok":true}`, body)

	status, _, err = h.Get(ctx, "https://example.test/unknown", time.Second)
	require.NoError(t, err)
	require.Equal(t, 404, status)
}

func TestNewFakeSetWiresEveryCapability(t *testing.T) {
	set := NewFakeSet(nil)
	require.NotNil(t, set.Session)
	require.NotNil(t, set.Repo)
	require.NotNil(t, set.Issues)
	require.NotNil(t, set.Notify)
	require.NotNil(t, set.Exec)
	require.NotNil(t, set.HTTPFetch)
}
