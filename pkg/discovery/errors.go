package discovery

import "errors"

var (
	// ErrMalformedResponse marks a tracker response that is structurally
	// invalid or misses a required field. The parse is abandoned and the
	// next cycle retries.
	ErrMalformedResponse = errors.New("discovery: malformed tracker response")

	// ErrTrackerFailure is returned when the response carries a
	// "failure reason".
	ErrTrackerFailure = errors.New("discovery: tracker reported failure")

	// ErrUnsupportedPeerList is returned for a compact peer list where
	// stream tagging is required. It is fatal.
	ErrUnsupportedPeerList = errors.New("discovery: compact peer list not supported by live protocol")

	// ErrCompletedWhileLive means stream consumption was marked complete
	// while the live strategy is running. It is fatal.
	ErrCompletedWhileLive = errors.New("discovery: stream consumption completed while live")

	ErrInvalidConfig = errors.New("discovery: invalid config")

	ErrUnknownMode = errors.New("discovery: unknown strategy mode")
)

var ErrMissingDependency = errors.New("discovery: missing dependency")
