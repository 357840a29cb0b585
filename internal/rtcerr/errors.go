// Package rtcerr implements the typed error kinds that the media plane
// raises, following the error-kind taxonomy in the design's error handling
// section: ProtocolReject, AuthMismatch, HandshakeTimeout, ResourceExhausted
// and LifecycleCascade, plus NotFound. Each is a distinct struct type that
// callers match with errors.As instead of string matching;
// ProtocolRejectError and LifecycleCascadeError also wrap an underlying
// cause (Unwrap).
package rtcerr

import "fmt"

// ProtocolRejectError indicates a malformed or unauthenticated datagram
// (bad STUN, bad MESSAGE-INTEGRITY, bad FINGERPRINT, SRTP replay). Always
// handled by a silent drop plus a counter bump; never mutates session state.
type ProtocolRejectError struct {
	Reason string
	Err    error
}

func (e *ProtocolRejectError) Error() string {
	return fmt.Sprintf("protocol reject: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolRejectError) Unwrap() error { return e.Err }

// AuthMismatchError indicates the DTLS peer certificate fingerprint did not
// match the fingerprint advertised in the SDP answer. Terminal: the session
// that raises this is torn down.
type AuthMismatchError struct {
	Expected string
	Got      string
}

func (e *AuthMismatchError) Error() string {
	return fmt.Sprintf("dtls fingerprint mismatch: expected %s, got %s", e.Expected, e.Got)
}

// HandshakeTimeoutError indicates an ICE nomination or DTLS handshake did
// not complete within its deadline. Terminal.
type HandshakeTimeoutError struct {
	Stage string // "ice" or "dtls"
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("handshake timeout during %s", e.Stage)
}

// ResourceExhaustedError indicates a configured room or viewer cap was hit.
// room.Table returns it from RegisterPublisher/RegisterViewer, which the
// media loop calls on DTLS completion and answers by tearing the session
// down. The signaling plane does not check caps; it has already answered
// the offer by then.
type ResourceExhaustedError struct {
	Resource string
	Limit    int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("%s limit of %d reached", e.Resource, e.Limit)
}

// NotFoundError indicates a viewer targeted a room_id that does not exist.
type NotFoundError struct {
	RoomID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("room %s not found", e.RoomID)
}

// LifecycleCascadeError wraps a best-effort failure encountered while
// tearing down viewers after a publisher left. It is never allowed to
// propagate further; callers log it and continue the cascade.
type LifecycleCascadeError struct {
	SessionID string
	Err       error
}

func (e *LifecycleCascadeError) Error() string {
	return fmt.Sprintf("teardown cascade for session %s: %v", e.SessionID, e.Err)
}

func (e *LifecycleCascadeError) Unwrap() error { return e.Err }
