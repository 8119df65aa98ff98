package handlers

import (
	"context"

	"gobridgetracker/attestation"
	"gobridgetracker/config"
	"gobridgetracker/types"

	"go.uber.org/zap"
)

type Refresher interface {
	Record(sourceChainID, destinationChainID int64, amount, sourceTxHash, address string) (types.TransferRecord, bool, error)
	RefreshOne(ctx context.Context, rec types.TransferRecord) (types.TransferRecord, error)
	Claim(rec types.TransferRecord, destinationTxHash string) (types.TransferRecord, error)
}

type Store interface {
	Ping() error
	GetTransfer(id string) (*types.TransferRecord, error)
	FindAllTransfersByStatus(status types.TransferStatus) ([]*types.TransferRecord, error)
	FindTransfersByAddress(address string, offset, limit int) ([]*types.TransferRecord, int, error)
	ListNotifications(address string, offset, limit int) ([]*types.BridgeNotification, int, error)
	ListUnseen(address string) ([]*types.BridgeNotification, error)
	MarkSeen(address string, ids []string) (int, error)
	MarkAllSeen(address string) (int, error)
}

type AttestationSource interface {
	GetAttestation(ctx context.Context, messageHash string) attestation.Result
}

// API holds what the HTTP handlers need; the router in workers binds its methods.
type API struct {
	Refresher    Refresher
	Store        Store
	Attestations AttestationSource
	Chains       map[int64]config.ChainConfig
	Logger       *zap.Logger
}
