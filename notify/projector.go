// Package notify turns transfer status changes into user facing
// notifications and pushes them to connected websocket clients.
package notify

import (
	"fmt"

	"gobridgetracker/types"
)

// Projector derives notifications from record transitions. It holds no state,
// so projecting the same (prev, next) pair twice yields the same notification.
type Projector struct {
	// chain the user is looking from; transfers arriving on it are deposits
	ViewingChainID int64
}

// Project returns nil when no notification is due: the status did not change
// or the record is still PENDING.
func (p Projector) Project(prev, next types.TransferRecord) *types.BridgeNotification {
	if prev.Status == next.Status {
		return nil
	}

	var (
		status    types.NotificationStatus
		timestamp int64
	)
	switch next.Status {
	case types.StatusClaimable:
		status, timestamp = types.NotificationClaimable, next.ClaimableTimestamp
	case types.StatusCompleted:
		status, timestamp = types.NotificationCompleted, next.DestinationTimestamp
	case types.StatusFailed:
		status, timestamp = types.NotificationFailed, next.UpdatedAt
	default:
		return nil
	}
	if timestamp == 0 {
		timestamp = next.UpdatedAt
	}

	return &types.BridgeNotification{
		ID:                 NotificationID(next.ID, status),
		TransferID:         next.ID,
		Type:               p.notificationType(next),
		Status:             status,
		Timestamp:          timestamp,
		Amount:             next.Amount,
		DestinationChainID: next.DestinationChainID,
		Address:            next.Address,
		Seen:               false,
	}
}

func (p Projector) notificationType(rec types.TransferRecord) types.NotificationType {
	if p.ViewingChainID != 0 && rec.DestinationChainID == p.ViewingChainID {
		return types.NotificationDeposit
	}
	return types.NotificationWithdrawal
}

// NotificationID is stable per (transfer, status), so a transition is stored once.
func NotificationID(transferID string, status types.NotificationStatus) string {
	return fmt.Sprintf("%s:%s", transferID, status)
}
