package client

import "fmt"

// ValidationError reports input rejected before any network call was made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NetworkError reports a failed request/response exchange with the message
// store. Status is zero when the request never reached the server.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ChannelError reports a realtime transport failure: a dropped connection, a
// failed dial, or an emit attempted while disconnected.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("channel %s failed", e.Op)
}

func (e *ChannelError) Unwrap() error { return e.Err }
