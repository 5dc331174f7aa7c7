package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the server accepts a request. Route is the
// matched handler pattern, such as "/plan".
type HTTPStart struct {
	Route   string
	Request *http.Request
}

// HTTPFinish is emitted after the route handler returns.
type HTTPFinish struct {
	Route    string
	Request  *http.Request
	Status   int
	Duration time.Duration
}
