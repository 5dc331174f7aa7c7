package events

import "time"

// MaterializeStart is emitted before an entity graph is materialized.
type MaterializeStart struct {
	Type  string
	Roots int
}

// MaterializeFinish is emitted after materialization. Visited counts distinct
// entities reached; Nulled counts unloaded references that were cleared.
type MaterializeFinish struct {
	Type     string
	Roots    int
	Visited  int
	Nulled   int
	Duration time.Duration
	Err      error
}
