package update

// AgentStatus is the closed set of statuses an agent may report for the
// selected node at the end of a step.
type AgentStatus string

const (
	StatusDone       AgentStatus = "done"
	StatusRetry      AgentStatus = "retry"
	StatusDecomposed AgentStatus = "decomposed"
)

// GuardOutcome is the closed set of outcomes a guard run (or its absence)
// can report.
type GuardOutcome string

const (
	GuardPass    GuardOutcome = "pass"
	GuardFail    GuardOutcome = "fail"
	GuardSkipped GuardOutcome = "skipped"
)
