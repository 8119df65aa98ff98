package tracker

import "errors"

var (
	// ErrTerminalChain: the source transaction reverted. The record moves to FAILED.
	ErrTerminalChain = errors.New("source transaction reverted")
	// ErrNoCrossChainMessage: the source transaction was mined but emitted no
	// MessageSent log, so no attestation will ever exist.
	ErrNoCrossChainMessage = errors.New("source transaction emitted no cross-chain message")
	// ErrTimeoutExceeded: the retryable creation timeout elapsed without progress.
	ErrTimeoutExceeded = errors.New("retryable creation timeout exceeded")

	ErrRefreshInFlight    = errors.New("refresh already in progress for transfer")
	ErrNotClaimable       = errors.New("transfer is not claimable")
	ErrBackwardTransition = errors.New("transfer status cannot move backward")
)
