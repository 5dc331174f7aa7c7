package events

import "time"

// PlanStart is emitted before a request is planned.
type PlanStart struct {
	Query         string
	OperationName string
}

// PlanFinish is emitted after planning. Paths holds the fetch paths per
// entity type; it is nil when Err is set.
type PlanFinish struct {
	Query         string
	OperationName string
	Paths         map[string][]string
	Duration      time.Duration
	Err           error
}

// PathCount returns the number of fetch paths across all entity types.
func (e PlanFinish) PathCount() int {
	n := 0
	for _, ps := range e.Paths {
		n += len(ps)
	}
	return n
}
