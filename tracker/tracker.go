// Package tracker owns the lifecycle of a cross-chain transfer:
//
//	PENDING -> CLAIMABLE -> COMPLETED
//	PENDING | CLAIMABLE -> FAILED
//
// Records are plain values. RefreshStatus takes a record and returns the
// (possibly) advanced copy; it never mutates its argument.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gobridgetracker/EVMRPC"
	"gobridgetracker/attestation"
	"gobridgetracker/types"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultRetryableCreationTimeout = 15 * time.Minute

type AttestationSource interface {
	GetAttestation(ctx context.Context, messageHash string) attestation.Result
}

// ReceiptSource returns a nil receipt while the transaction is not mined.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, chainID int64, txHash string) (*ethtypes.Receipt, error)
}

type Config struct {
	RetryableCreationTimeout time.Duration
}

type Tracker struct {
	config       Config
	attestations AttestationSource
	receipts     ReceiptSource
	logger       *zap.Logger
	now          func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(config Config, attestations AttestationSource, receipts ReceiptSource, logger *zap.Logger) *Tracker {
	if config.RetryableCreationTimeout <= 0 {
		config.RetryableCreationTimeout = DefaultRetryableCreationTimeout
	}
	return &Tracker{
		config:       config,
		attestations: attestations,
		receipts:     receipts,
		logger:       logger,
		now:          time.Now,
		inflight:     make(map[string]struct{}),
	}
}

// RecordTransfer starts tracking a submitted source transaction.
func (t *Tracker) RecordTransfer(sourceChainID, destinationChainID int64, amount, sourceTxHash string) types.TransferRecord {
	now := t.now().Unix()
	rec := types.TransferRecord{
		ID:                 uuid.New().String(),
		Status:             types.StatusPending,
		Amount:             amount,
		SourceChainID:      sourceChainID,
		DestinationChainID: destinationChainID,
		SourceTxHash:       sourceTxHash,
		SourceTimestamp:    now,
		UpdatedAt:          now,
	}
	t.logger.Info("transfer recorded",
		zap.String("id", rec.ID),
		zap.String("sourceTxHash", sourceTxHash),
		zap.Int64("sourceChainId", sourceChainID),
		zap.Int64("destinationChainId", destinationChainID),
		zap.String("amount", amount))
	return rec
}

// AttachClaim stores the user's claim transaction on a CLAIMABLE record.
func (t *Tracker) AttachClaim(rec types.TransferRecord, destinationTxHash string) (types.TransferRecord, error) {
	if rec.Status != types.StatusClaimable {
		return rec, fmt.Errorf("%w: %s is %s", ErrNotClaimable, rec.ID, rec.Status)
	}
	rec.DestinationTxHash = destinationTxHash
	rec.UpdatedAt = t.now().Unix()
	return rec, nil
}

func IsTerminal(rec types.TransferRecord) bool {
	return rec.Status.Terminal()
}

// RefreshStatus re-queries the chains and the attestation service. On
// failure the record is returned unchanged together with the error.
//
// Waiting for a limiter slot or a rate token honours ctx. A request that has
// been sent runs to completion, and if ctx is done by then the result is
// dropped.
func (t *Tracker) RefreshStatus(ctx context.Context, rec types.TransferRecord) (types.TransferRecord, error) {
	if IsTerminal(rec) {
		return rec, nil
	}
	if err := ctx.Err(); err != nil {
		return rec, fmt.Errorf("refresh of %s not started: %w", rec.ID, err)
	}
	if !t.begin(rec.ID) {
		return rec, fmt.Errorf("%w: %s", ErrRefreshInFlight, rec.ID)
	}
	defer t.end(rec.ID)

	next, err := t.advance(ctx, rec)
	if ctxErr := ctx.Err(); ctxErr != nil {
		t.logger.Debug("refresh result discarded", zap.String("id", rec.ID), zap.Error(ctxErr))
		return rec, fmt.Errorf("refresh of %s discarded: %w", rec.ID, ctxErr)
	}
	if err != nil {
		return rec, err
	}
	if next.Status != rec.Status {
		t.logger.Info("transfer status changed",
			zap.String("id", rec.ID),
			zap.String("from", string(rec.Status)),
			zap.String("to", string(next.Status)),
			zap.String("reason", next.FailureReason))
	}
	return next, nil
}

func (t *Tracker) begin(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inflight[id]; busy {
		return false
	}
	t.inflight[id] = struct{}{}
	return true
}

func (t *Tracker) end(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
}

func (t *Tracker) advance(ctx context.Context, rec types.TransferRecord) (types.TransferRecord, error) {
	now := t.now()
	switch rec.Status {
	case types.StatusPending:
		return t.advancePending(ctx, rec, now)
	case types.StatusClaimable:
		return t.advanceClaimable(ctx, rec, now)
	}
	return rec, fmt.Errorf("transfer %s has unknown status %q", rec.ID, rec.Status)
}

func (t *Tracker) advancePending(ctx context.Context, rec types.TransferRecord, now time.Time) (types.TransferRecord, error) {
	next := rec

	// a known message hash means the source tx was already mined successfully
	if next.MessageHash == "" {
		receipt, err := t.receipts.TransactionReceipt(ctx, rec.SourceChainID, rec.SourceTxHash)
		if err != nil {
			return t.expireOr(rec, now, fmt.Errorf("source receipt: %w", err))
		}
		if receipt == nil {
			return t.expireOr(rec, now, nil)
		}
		if receipt.Status == ethtypes.ReceiptStatusFailed {
			return transition(rec, types.StatusFailed, now, ErrTerminalChain)
		}
		hash, ok := EVMRPC.MessageHash(receipt.Logs)
		if !ok {
			return transition(rec, types.StatusFailed, now, ErrNoCrossChainMessage)
		}
		next.MessageHash = hash.Hex()
	}

	res := t.attestations.GetAttestation(ctx, next.MessageHash)
	switch res.Kind {
	case attestation.KindOK:
		if res.Ready() {
			next.Attestation = *res.Attestation.Message
			next.ClaimableTimestamp = now.Unix()
			return transition(next, types.StatusClaimable, now, nil)
		}
		return t.expireOr(next, now, nil)
	case attestation.KindNotFoundPending:
		return t.expireOr(next, now, nil)
	default:
		if expired, _ := t.expireOr(next, now, nil); expired.Status == types.StatusFailed {
			return expired, nil
		}
		return rec, res.Err
	}
}

// expireOr fails the record once the retryable creation timeout has elapsed,
// otherwise returns it with err.
func (t *Tracker) expireOr(rec types.TransferRecord, now time.Time, err error) (types.TransferRecord, error) {
	deadline := time.Unix(rec.SourceTimestamp, 0).Add(t.config.RetryableCreationTimeout)
	if !now.Before(deadline) {
		return transition(rec, types.StatusFailed, now, ErrTimeoutExceeded)
	}
	return rec, err
}

func (t *Tracker) advanceClaimable(ctx context.Context, rec types.TransferRecord, now time.Time) (types.TransferRecord, error) {
	if rec.DestinationTxHash == "" {
		// waiting for the user to claim
		return rec, nil
	}

	receipt, err := t.receipts.TransactionReceipt(ctx, rec.DestinationChainID, rec.DestinationTxHash)
	if err != nil {
		return rec, fmt.Errorf("destination receipt: %w", err)
	}
	if receipt == nil {
		return rec, nil
	}

	next := rec
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		// the claim can be sent again
		t.logger.Warn("claim transaction reverted",
			zap.String("id", rec.ID),
			zap.String("destinationTxHash", rec.DestinationTxHash))
		next.DestinationTxHash = ""
		next.UpdatedAt = now.Unix()
		return next, nil
	}

	next.Completed = true
	next.DestinationTimestamp = now.Unix()
	return transition(next, types.StatusCompleted, now, nil)
}

// transition is the only place a record changes status.
func transition(rec types.TransferRecord, to types.TransferStatus, now time.Time, cause error) (types.TransferRecord, error) {
	if rec.Status.Terminal() || to.Rank() <= rec.Status.Rank() {
		return rec, fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, rec.Status, to)
	}
	rec.Status = to
	rec.UpdatedAt = now.Unix()
	if cause != nil {
		rec.FailureReason = cause.Error()
	}
	return rec, nil
}
