// Package guard implements the composable condition tree that gates phase
// transitions: a pure, two-phase evaluator over externally gathered facts.
// Grounded on the GuardEvaluator interface in the statechart core machine
// (evaluation is a pluggable, side-effect-free function of a typed
// context), generalized here into an explicit condition tree with its own
// required-inputs projection (spec.md §4.3).
package guard

// InputKind names one fact a Condition leaf needs gathered externally
// before it can be evaluated.
type InputKind int

const (
	InputLockFree InputKind = iota
	InputLockHeldBy
	InputSemaphoreAvailable
	InputBranchExists
	InputBranchMerged
	InputIssuesComplete
	InputIssueStatus
	InputFileExists
	InputSessionAlive
	InputCustomCheck
)

// InputRequest is one entry in the set required_inputs() returns.
type InputRequest struct {
	Kind InputKind
	// Key disambiguates multiple leaves of the same kind (e.g. two
	// different lock names both needing LockFree).
	Key string
}

// Inputs is the gathered-fact snapshot evaluate() consumes, keyed the same
// way InputRequest.Key disambiguates requests.
type Inputs struct {
	Bool   map[string]bool
	String map[string]string
	Err    map[string]error
}

// NewInputs returns an empty Inputs snapshot ready to be populated.
func NewInputs() Inputs {
	return Inputs{Bool: map[string]bool{}, String: map[string]string{}, Err: map[string]error{}}
}

// Outcome is the result of evaluating a Condition against Inputs.
type Outcome int

const (
	Passed Outcome = iota
	Failed
	NeedsInput
)

// Result pairs an Outcome with a human-readable reason (set for Failed)
// or the missing input kind (set for NeedsInput).
type Result struct {
	Outcome Outcome
	Reason  string
	Missing InputKind
}

func passed() Result             { return Result{Outcome: Passed} }
func failed(reason string) Result { return Result{Outcome: Failed, Reason: reason} }
func needsInput(kind InputKind) Result {
	return Result{Outcome: NeedsInput, Missing: kind}
}

// Condition is the closed sum type of guard tree nodes.
type Condition interface {
	requiredInputs(out *[]InputRequest)
	evaluate(in Inputs) Result
}

// Leaf conditions.

type LockFree struct{ Key string }
type LockHeldBy struct {
	Key    string
	Holder string
}
type SemaphoreAvailable struct {
	Key    string
	Weight int
}
type BranchExists struct{ Key string }
type BranchMerged struct {
	Key  string
	Into string
}
type IssuesComplete struct{ Key string }
type IssueStatus struct {
	Key    string
	Status string
}
type FileExists struct{ Key string }
type SessionAlive struct{ Key string }
type CustomCheck struct {
	Key         string
	Command     string
	Description string
}

// Combinators.

// All passes iff every child passes; short-circuits on first non-Passed.
type All struct{ Children []Condition }

// Any passes iff at least one child passes; short-circuits on first Passed.
type Any struct{ Children []Condition }

// Not inverts its child's Passed/Failed outcome; NeedsInput propagates.
type Not struct{ Child Condition }

func (c LockFree) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputLockFree, Key: c.Key})
}
func (c LockFree) evaluate(in Inputs) Result {
	v, ok := in.Bool[c.Key]
	if !ok {
		return needsInput(InputLockFree)
	}
	if v {
		return passed()
	}
	return failed("lock " + c.Key + " is held")
}

func (c LockHeldBy) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputLockHeldBy, Key: c.Key})
}
func (c LockHeldBy) evaluate(in Inputs) Result {
	v, ok := in.String[c.Key]
	if !ok {
		return needsInput(InputLockHeldBy)
	}
	if v == c.Holder {
		return passed()
	}
	return failed("lock " + c.Key + " held by " + v + ", not " + c.Holder)
}

func (c SemaphoreAvailable) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputSemaphoreAvailable, Key: c.Key})
}
func (c SemaphoreAvailable) evaluate(in Inputs) Result {
	v, ok := in.Bool[c.Key]
	if !ok {
		return needsInput(InputSemaphoreAvailable)
	}
	if v {
		return passed()
	}
	return failed("semaphore " + c.Key + " has insufficient capacity")
}

func (c BranchExists) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputBranchExists, Key: c.Key})
}
func (c BranchExists) evaluate(in Inputs) Result {
	v, ok := in.Bool[c.Key]
	if !ok {
		return needsInput(InputBranchExists)
	}
	if v {
		return passed()
	}
	return failed("branch " + c.Key + " does not exist")
}

func (c BranchMerged) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputBranchMerged, Key: c.Key})
}
func (c BranchMerged) evaluate(in Inputs) Result {
	v, ok := in.Bool[c.Key]
	if !ok {
		return needsInput(InputBranchMerged)
	}
	if v {
		return passed()
	}
	return failed("branch " + c.Key + " not merged into " + c.Into)
}

func (c IssuesComplete) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputIssuesComplete, Key: c.Key})
}
func (c IssuesComplete) evaluate(in Inputs) Result {
	v, ok := in.Bool[c.Key]
	if !ok {
		return needsInput(InputIssuesComplete)
	}
	if v {
		return passed()
	}
	return failed("issues for " + c.Key + " are not all complete")
}

func (c IssueStatus) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputIssueStatus, Key: c.Key})
}
func (c IssueStatus) evaluate(in Inputs) Result {
	v, ok := in.String[c.Key]
	if !ok {
		return needsInput(InputIssueStatus)
	}
	if v == c.Status {
		return passed()
	}
	return failed("issue " + c.Key + " has status " + v + ", expected " + c.Status)
}

func (c FileExists) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputFileExists, Key: c.Key})
}
func (c FileExists) evaluate(in Inputs) Result {
	v, ok := in.Bool[c.Key]
	if !ok {
		return needsInput(InputFileExists)
	}
	if v {
		return passed()
	}
	return failed("file " + c.Key + " does not exist")
}

func (c SessionAlive) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputSessionAlive, Key: c.Key})
}
func (c SessionAlive) evaluate(in Inputs) Result {
	v, ok := in.Bool[c.Key]
	if !ok {
		return needsInput(InputSessionAlive)
	}
	if v {
		return passed()
	}
	return failed("session " + c.Key + " is not alive")
}

func (c CustomCheck) requiredInputs(out *[]InputRequest) {
	*out = append(*out, InputRequest{Kind: InputCustomCheck, Key: c.Key})
}
func (c CustomCheck) evaluate(in Inputs) Result {
	if err, ok := in.Err[c.Key]; ok && err != nil {
		return failed(c.Description + ": " + err.Error())
	}
	v, ok := in.Bool[c.Key]
	if !ok {
		return needsInput(InputCustomCheck)
	}
	if v {
		return passed()
	}
	return failed(c.Description)
}

func (c All) requiredInputs(out *[]InputRequest) {
	for _, child := range c.Children {
		child.requiredInputs(out)
	}
}
func (c All) evaluate(in Inputs) Result {
	for _, child := range c.Children {
		r := child.evaluate(in)
		if r.Outcome != Passed {
			return r
		}
	}
	return passed()
}

func (c Any) requiredInputs(out *[]InputRequest) {
	for _, child := range c.Children {
		child.requiredInputs(out)
	}
}
func (c Any) evaluate(in Inputs) Result {
	var last Result = failed("no conditions configured")
	for _, child := range c.Children {
		r := child.evaluate(in)
		if r.Outcome == Passed {
			return r
		}
		last = r
	}
	return last
}

func (c Not) requiredInputs(out *[]InputRequest) {
	c.Child.requiredInputs(out)
}
func (c Not) evaluate(in Inputs) Result {
	r := c.Child.evaluate(in)
	switch r.Outcome {
	case Passed:
		return failed("negated condition passed")
	case Failed:
		return passed()
	default:
		return r
	}
}

// RequiredInputs walks cond and returns the set of inputs the evaluator
// must gather before calling Evaluate.
func RequiredInputs(cond Condition) []InputRequest {
	var out []InputRequest
	cond.requiredInputs(&out)
	return out
}

// Evaluate runs cond against a gathered Inputs snapshot. Deterministic:
// the same Inputs always yields the same Result (spec.md §8).
func Evaluate(cond Condition, in Inputs) Result {
	return cond.evaluate(in)
}

// PhaseGuard bundles a phase's pre/post guards and the event patterns that
// should trigger re-evaluation while blocked.
type PhaseGuard struct {
	Pre    Condition
	Post   Condition
	WakeOn []string
}
