package attestation

import (
	"fmt"

	"gobridgetracker/types"
)

// Kind tells apart the outcomes of a single attestation lookup. A 404 and a
// network failure can both look like "pending" to a user, but they are kept
// apart here.
type Kind int

const (
	// KindUnknown: network failure or unreadable body, the state is unknown.
	KindUnknown Kind = iota
	KindOK
	// KindNotFoundPending: the service has not observed the message yet (HTTP 404).
	KindNotFoundPending
	// KindTransient: non-2xx answer, timeout or open breaker; safe to retry.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFoundPending:
		return "not_found_pending"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

type Result struct {
	Kind        Kind
	Attestation *types.Attestation // set for KindOK and KindNotFoundPending
	Err         error
}

// Ready reports whether the lookup produced a signed attestation.
func (r Result) Ready() bool {
	return r.Kind == KindOK && r.Attestation != nil && r.Attestation.Ready()
}

// TransientFetchError is returned for failures that are expected to clear on
// a later poll.
type TransientFetchError struct {
	StatusCode int // 0 when no HTTP answer was received
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("attestation fetch failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("attestation fetch failed: %v", e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }
