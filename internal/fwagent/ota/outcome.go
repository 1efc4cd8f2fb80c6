package ota

import (
	"fmt"
)

// Reason explains why an update was aborted.
type Reason string

const (
	ReasonNoTarget        Reason = "no-target"
	ReasonConnectError    Reason = "connect-error"
	ReasonShortPacket     Reason = "short-packet"
	ReasonBlockedRollback Reason = "blocked-rollback"
	ReasonSameVersion     Reason = "same-version"
	ReasonBeginError      Reason = "begin-error"
	ReasonWriteError      Reason = "write-error"
	ReasonConnectionLost  Reason = "connection-lost"
	ReasonReadError       Reason = "read-error"
	ReasonReadTimeout     Reason = "read-timeout"
	ReasonIncomplete      Reason = "incomplete"
	ReasonImageCorrupt    Reason = "image-corrupt"
	ReasonFinalizeError   Reason = "finalize-error"
	ReasonActivationError Reason = "activation-error"
	ReasonBusy            Reason = "busy"
	ReasonCanceled        Reason = "canceled"
	ReasonInternal        Reason = "internal"
)

// Outcome is the result of one update attempt.
//
// Activated means the new image is selected for the next boot and the
// restart has been requested; callers must treat the process as
// terminating. Otherwise Reason tells why the attempt was aborted and the
// boot selection is unchanged.
type Outcome struct {
	Activated bool   `json:"activated"`
	Reason    Reason `json:"reason,omitempty"`
	Err       error  `json:"-"`

	URL          string `json:"url"`
	Target       string `json:"target,omitempty"`
	Version      string `json:"version,omitempty"`
	BytesWritten int64  `json:"bytesWritten"`
}

func (o Outcome) String() string {
	if o.Activated {
		return fmt.Sprintf("activated %s (version %q, %d bytes)", o.Target, o.Version, o.BytesWritten)
	}
	if o.Err != nil {
		return fmt.Sprintf("aborted: %s: %v", o.Reason, o.Err)
	}
	return fmt.Sprintf("aborted: %s", o.Reason)
}

// label is the metrics label of the outcome.
func (o Outcome) label() string {
	if o.Activated {
		return "activated"
	}
	return string(o.Reason)
}

// abortError carries the abort reason out of a state callback.
type abortError struct {
	reason Reason
	err    error
}

func abort(reason Reason, err error) error {
	return &abortError{reason: reason, err: err}
}

func (e *abortError) Error() string {
	if e.err == nil {
		return string(e.reason)
	}
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *abortError) Unwrap() error { return e.err }
