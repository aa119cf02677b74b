package executor

import "fmt"

// Change is broadcast every time an event is recorded.
type Change struct {
	Previous Outcome
	Current  Outcome
	// Entry is the entry that caused the change.
	Entry Entry
}

// Observer receives outcome changes. Returning an error aborts the run in
// progress.
type Observer interface {
	OutcomeChanged(Change) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Change) error

func (f ObserverFunc) OutcomeChanged(c Change) error {
	return f(c)
}

// Notifier broadcasts changes to its observers synchronously, in the order
// they subscribed. It is not safe for concurrent use.
type Notifier struct {
	observers []Observer
}

// Subscribe appends o to the observer list.
func (n *Notifier) Subscribe(o Observer) {
	n.observers = append(n.observers, o)
}

// Broadcast calls every observer with c, stopping at the first error.
func (n *Notifier) Broadcast(c Change) error {
	for i, o := range n.observers {
		if err := o.OutcomeChanged(c); err != nil {
			return fmt.Errorf("%w: observer %d: %w", ErrObserverFailed, i, err)
		}
	}
	return nil
}

// Len returns the number of subscribed observers.
func (n *Notifier) Len() int {
	return len(n.observers)
}
