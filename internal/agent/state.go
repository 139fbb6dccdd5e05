package agent

// TurnState is a step in handling one customer message.
type TurnState string

const (
	StateReceived         TurnState = "RECEIVED"
	StateProviderSelected TurnState = "PROVIDER_SELECTED"
	StateFirstCompletion  TurnState = "FIRST_COMPLETION"
	StateExecutingTools   TurnState = "EXECUTING_TOOLS"
	StateSecondCompletion TurnState = "SECOND_COMPLETION"
	StateFallbackProvider TurnState = "FALLBACK_PROVIDER"
	StateDone             TurnState = "DONE"
	StateFailed           TurnState = "FAILED"
)
