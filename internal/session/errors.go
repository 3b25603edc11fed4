package session

import "errors"

var (
	// ErrAuthenticationFailed reports a failure status for the
	// authentication request. It is fatal: obtaining a fresh session token
	// is the caller's responsibility, not the stream's.
	ErrAuthenticationFailed = errors.New("session: authentication failed")

	// ErrSubscriptionFailed reports a failure status for a market or order
	// subscription request.
	ErrSubscriptionFailed = errors.New("session: subscription failed")

	// ErrHeartbeatTimeout reports that nothing arrived within the liveness
	// window. The connection is dead, not faulty; reconnect and resume.
	ErrHeartbeatTimeout = errors.New("session: heartbeat timeout")

	// ErrConnectionClosed reports that the server closed the connection via
	// a status message.
	ErrConnectionClosed = errors.New("session: connection closed by server")
)
