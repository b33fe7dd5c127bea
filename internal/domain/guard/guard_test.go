package guard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllShortCircuitsOnFirstFailure(t *testing.T) {
	cond := All{Children: []Condition{
		LockFree{Key: "deploy"},
		BranchMerged{Key: "feature", Into: "main"},
	}}

	in := NewInputs()
	in.Bool["deploy"] = false
	in.Bool["feature"] = true

	r := Evaluate(cond, in)
	require.Equal(t, Failed, r.Outcome)
	require.Contains(t, r.Reason, "deploy")
}

func TestAnyPassesOnFirstSuccess(t *testing.T) {
	cond := Any{Children: []Condition{
		LockFree{Key: "a"},
		LockFree{Key: "b"},
	}}
	in := NewInputs()
	in.Bool["a"] = false
	in.Bool["b"] = true

	r := Evaluate(cond, in)
	require.Equal(t, Passed, r.Outcome)
}

func TestNotInverts(t *testing.T) {
	cond := Not{Child: LockFree{Key: "a"}}
	in := NewInputs()
	in.Bool["a"] = true

	r := Evaluate(cond, in)
	require.Equal(t, Failed, r.Outcome)

	in.Bool["a"] = false
	r = Evaluate(cond, in)
	require.Equal(t, Passed, r.Outcome)
}

func TestMissingInputYieldsNeedsInput(t *testing.T) {
	cond := LockFree{Key: "deploy"}
	r := Evaluate(cond, NewInputs())
	require.Equal(t, NeedsInput, r.Outcome)
}

func TestRequiredInputsWalksTree(t *testing.T) {
	cond := All{Children: []Condition{
		LockFree{Key: "a"},
		Any{Children: []Condition{SessionAlive{Key: "s1"}, FileExists{Key: "f1"}}},
	}}
	reqs := RequiredInputs(cond)
	require.Len(t, reqs, 3)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cond := All{Children: []Condition{LockFree{Key: "a"}, FileExists{Key: "b"}}}
	in := NewInputs()
	in.Bool["a"] = true
	in.Bool["b"] = false

	r1 := Evaluate(cond, in)
	r2 := Evaluate(cond, in)
	require.Equal(t, r1, r2)
}
