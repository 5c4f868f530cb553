package common

import "errors"

// Error taxonomy shared by every network boundary of the tracker. Callers wrap
// these with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrNetwork is returned when a request failed or came back non-2xx.
	ErrNetwork = errors.New("network error")

	// ErrParse is returned for malformed payloads from the server or push channel.
	ErrParse = errors.New("parse error")

	// ErrConnection is returned when a push connection closed or errored.
	ErrConnection = errors.New("connection error")
)
