package runbook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"oj/internal/domain/guard"
)

const sampleRunbook = `
[meta]
name = "feature"

[config]
base_branch = "main"

[[queue]]
name = "build"
default_visibility = "30s"

[[lock]]
name = "repo"
stale_threshold = "2m"
heartbeat_period = "20s"

[[task]]
name = "implement"
command = "agent implement {{ticket}}"
stuck_after = "10m"
heartbeat_every = "30s"

[[guard]]
name = "repo_free"
kind = "lock_free"
key = "repo"

[[guard]]
name = "branch_ready"
kind = "all"
of = ["repo_free"]

[[strategy]]
name = "land"
workspace = "ws1"
checkpoint = "git rev-parse HEAD"
on_exhaust = "escalate"

[[strategy.attempt]]
name = "rebase"
command = "git rebase main"
rollback = "git rebase --abort"

[[strategy.attempt]]
name = "merge"
command = "git merge main"

[[pipeline]]
name = "feature"
inputs = ["ticket"]

[[pipeline.phase]]
name = "implement"
task = "implement"
pre_guard = "branch_ready"
next = "land"

[[pipeline.phase]]
name = "land"
strategy = "land"
wake_on = ["pipeline:*:phase_done"]

[[action]]
name = "notify"
cooldown = "1m"

[[watcher]]
name = "stuck_watch"
source = "task.stuck_duration"
wake_on = ["task:*:heartbeat"]

[[watcher.response]]
action = "notify"

[[scanner]]
name = "stale_tasks"
source_kind = "task"
condition = "stale"
threshold = 600
cleanup = "dead_letter"

[[cron]]
name = "sweep"
interval = "5m"
scanners = ["stale_tasks"]
`

func TestParseDecodesAllTopLevelTables(t *testing.T) {
	doc, err := Parse([]byte(sampleRunbook))
	require.NoError(t, err)
	require.Equal(t, "feature", doc.Meta.Name)
	require.Len(t, doc.Queues, 1)
	require.Len(t, doc.Pipelines, 1)
	require.Len(t, doc.Pipelines[0].Phases, 2)
	require.Len(t, doc.Strategies[0].Attempts, 2)
}

func TestValidateAcceptsSampleRunbook(t *testing.T) {
	doc, err := Parse([]byte(sampleRunbook))
	require.NoError(t, err)
	require.NoError(t, Validate(doc))
}

func TestValidateCatchesUndefinedReferences(t *testing.T) {
	doc, err := Parse([]byte(sampleRunbook))
	require.NoError(t, err)
	doc.Pipelines[0].Phases[0].Task = "does_not_exist"

	err = Validate(doc)
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	require.Contains(t, verr.Problems[0], "does_not_exist")
}

func TestValidateCatchesPhaseCycle(t *testing.T) {
	doc, err := Parse([]byte(sampleRunbook))
	require.NoError(t, err)
	doc.Pipelines[0].Phases[1].Next = "implement" // land -> implement -> land

	err = Validate(doc)
	require.Error(t, err)
}

func TestValidateCatchesBadDuration(t *testing.T) {
	doc, err := Parse([]byte(sampleRunbook))
	require.NoError(t, err)
	doc.Locks[0].StaleThreshold = "not-a-duration"

	err = Validate(doc)
	require.Error(t, err)
}

func TestLoadBuildsGuardTreeAndPipeline(t *testing.T) {
	doc, err := Parse([]byte(sampleRunbook))
	require.NoError(t, err)

	rb, err := Load(doc)
	require.NoError(t, err)

	cond, ok := rb.Guards["branch_ready"]
	require.True(t, ok)
	all, ok := cond.(guard.All)
	require.True(t, ok)
	require.Len(t, all.Children, 1)
	require.IsType(t, guard.LockFree{}, all.Children[0])

	pipe, ok := rb.Pipelines["feature"]
	require.True(t, ok)
	phase, ok := pipe.ByName("implement")
	require.True(t, ok)
	require.Equal(t, "implement", phase.Task)
	require.Equal(t, "land", phase.Next)
}

func TestLoadBuildsStrategyAndScanner(t *testing.T) {
	doc, err := Parse([]byte(sampleRunbook))
	require.NoError(t, err)
	rb, err := Load(doc)
	require.NoError(t, err)

	strat, ok := rb.Strategies["land"]
	require.True(t, ok)
	st := strat.New()
	require.Len(t, st.Attempts, 2)
	require.Equal(t, "git rebase main", st.Attempts[0].Command)

	sc, ok := rb.Scanners["stale_tasks"]
	require.True(t, ok)
	require.Equal(t, "stale_tasks", sc.ID)
}

func TestGuardCycleIsRejected(t *testing.T) {
	doc := Document{
		Meta: MetaDef{Name: "cyclic"},
		Guards: []GuardDef{
			{Name: "a", Kind: "all", Of: []string{"b"}},
			{Name: "b", Kind: "all", Of: []string{"a"}},
		},
	}
	_, err := Load(doc)
	require.Error(t, err)
}

func TestCrossRunbookReferenceResolvesAgainstRegistry(t *testing.T) {
	base := Document{
		Meta:  MetaDef{Name: "base"},
		Tasks: []TaskDef{{Name: "build"}},
		Actions: []ActionDef{{Name: "page", Cooldown: "1m"}},
	}
	dependent := Document{
		Meta: MetaDef{Name: "dependent"},
		Workers: []WorkerDef{{Name: "w", Handler: "base.task.build"}},
	}

	reg := NewRegistry()
	_, err := reg.Load(base)
	require.NoError(t, err)
	_, err = reg.Load(dependent)
	require.NoError(t, err)
}

func TestCrossRunbookReferenceToMissingRunbookFails(t *testing.T) {
	dependent := Document{
		Meta:    MetaDef{Name: "dependent"},
		Workers: []WorkerDef{{Name: "w", Handler: "missing.task.build"}},
	}
	reg := NewRegistry()
	_, err := reg.Load(dependent)
	require.Error(t, err)
}
