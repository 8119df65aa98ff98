package types

import "strings"

// Chain ids follow EIP-155 (Ethereum mainnet 1, Arbitrum One 42161, etc.)

type TransferStatus string

const (
	StatusPending   TransferStatus = "PENDING"   // source tx submitted, no proof yet
	StatusClaimable TransferStatus = "CLAIMABLE" // attestation available, waiting for the user's claim
	StatusCompleted TransferStatus = "COMPLETED" // claim tx confirmed on destination chain
	StatusFailed    TransferStatus = "FAILED"    // source reverted or timed out
)

// ParseTransferStatus accepts both upper and lower case names (API query strings use lower case).
func ParseTransferStatus(s string) (TransferStatus, bool) {
	switch TransferStatus(strings.ToUpper(s)) {
	case StatusPending:
		return StatusPending, true
	case StatusClaimable:
		return StatusClaimable, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusFailed:
		return StatusFailed, true
	}
	return "", false
}

// Rank orders statuses along the lifecycle. COMPLETED and FAILED share the terminal rank.
func (s TransferStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusClaimable:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

func (s TransferStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var AllStatuses = []TransferStatus{StatusPending, StatusClaimable, StatusCompleted, StatusFailed}

// TransferRecord is a single cross-chain transfer (source burn and destination claim)
type TransferRecord struct {
	ID                   string         `json:"id"`
	Status               TransferStatus `json:"status"`
	Amount               string         `json:"amount"`
	SourceChainID        int64          `json:"sourceChainId"`
	DestinationChainID   int64          `json:"destinationChainId"`
	SourceTxHash         string         `json:"sourceTxHash"`
	SourceTimestamp      int64          `json:"sourceTimestamp"`
	MessageHash          string         `json:"messageHash,omitempty"` // keccak256 of the MessageSent payload
	Attestation          string         `json:"attestation,omitempty"`
	ClaimableTimestamp   int64          `json:"claimableTimestamp,omitempty"`
	DestinationTxHash    string         `json:"destinationTxHash,omitempty"` // user's claim tx
	DestinationTimestamp int64          `json:"destinationTimestamp,omitempty"`
	Completed            bool           `json:"completed"`
	FailureReason        string         `json:"failureReason,omitempty"`
	Address              string         `json:"address,omitempty"`
	UpdatedAt            int64          `json:"updatedAt"`
}

type AttestationStatus string

const (
	AttestationComplete             AttestationStatus = "complete"
	AttestationPendingConfirmations AttestationStatus = "pending_confirmations"
)

// Attestation is never persisted, it is fetched per poll
type Attestation struct {
	Message *string           `json:"message"`
	Status  AttestationStatus `json:"status"`
}

// Ready reports whether the attestation can be used to claim on the destination chain.
func (a Attestation) Ready() bool {
	return a.Status == AttestationComplete && a.Message != nil && *a.Message != ""
}

type NotificationType string

const (
	NotificationWithdrawal NotificationType = "WITHDRAWAL"
	NotificationDeposit    NotificationType = "DEPOSIT"
)

type NotificationStatus string

const (
	NotificationCompleted NotificationStatus = "COMPLETED"
	NotificationClaimable NotificationStatus = "CLAIMABLE"
	NotificationFailed    NotificationStatus = "FAILED"
)

type BridgeNotification struct {
	ID                 string             `json:"id"`
	TransferID         string             `json:"transferId"`
	Type               NotificationType   `json:"type"`
	Status             NotificationStatus `json:"status"`
	Timestamp          int64              `json:"timestamp"`
	Amount             string             `json:"amount"`
	DestinationChainID int64              `json:"to"`
	Address            string             `json:"address,omitempty"`
	Seen               bool               `json:"seen"`
}
