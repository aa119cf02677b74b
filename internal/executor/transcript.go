package executor

import "strings"

// RenderRecord rebuilds what an interactive session would have printed for
// the run: the values of successful, displayable events in time order, one
// per line. Whitespace-only values are written without a line break.
func RenderRecord(r *Record) string {
	var b strings.Builder
	for _, e := range r.Sorted() {
		if e.Outcome != Success || !e.Event.SubKind.Displayable() {
			continue
		}
		value := e.Event.Value
		if value == "" {
			continue
		}
		b.WriteString(value)
		if strings.TrimSpace(value) != "" {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
