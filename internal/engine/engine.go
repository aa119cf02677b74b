package engine

// Engine is an interactive, statement-at-a-time evaluator.
// A fresh Engine is created for every script run; implementations keep
// interpreter state (declared names, imports) between Eval calls.
type Engine interface {
	// AnalyzeCompletion reports whether source starts with a complete
	// top-level unit, and what text remains after it.
	AnalyzeCompletion(source string) Completion

	// Eval submits one complete unit and returns the events it produced,
	// in emission order. A unit the engine refuses is reported as an event
	// with StatusRejected, not as an error. The error return is reserved for
	// failures of the engine itself.
	Eval(unit string) ([]Event, error)

	// Close releases interpreter resources.
	Close() error
}

// Completion is the result of a completeness analysis.
type Completion struct {
	Complete  bool
	Unit      string
	Remainder string
}

// Status is the acceptance state of an evaluated unit.
type Status int

const (
	StatusValid Status = iota
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Event is the engine's report for one evaluated construct. A single unit
// may expand into several events (e.g. a multi-name declaration).
type Event struct {
	Source      string   `json:"source"`
	Value       string   `json:"value,omitempty"`
	Status      Status   `json:"status"`
	SubKind     SubKind  `json:"sub_kind"`
	Diagnostics []string `json:"diagnostics,omitempty"`
	Stdout      string   `json:"stdout,omitempty"`
}
