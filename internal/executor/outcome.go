package executor

import (
	"encoding/json"
	"strings"

	"script-executor/internal/engine"
)

// Outcome is the three-way classification of an evaluation event.
// The zero value means no outcome has been recorded yet.
type Outcome int

const (
	Success Outcome = iota + 1
	Warning
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Failure:
		return "failure"
	default:
		return "none"
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Classify maps an event to its outcome. A printed value wins over the
// acceptance status; accepted units without a value are warnings.
func Classify(ev engine.Event) Outcome {
	if strings.TrimSpace(ev.Value) != "" {
		return Success
	}
	if ev.Status == engine.StatusRejected {
		return Failure
	}
	return Warning
}
