package notify

import (
	"testing"

	"gobridgetracker/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(status types.TransferStatus) types.TransferRecord {
	return types.TransferRecord{
		ID:                 "t1",
		Status:             status,
		Amount:             "10",
		SourceChainID:      1,
		DestinationChainID: 42161,
		SourceTxHash:       "0xabc",
		Address:            "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		SourceTimestamp:    1000,
		UpdatedAt:          1000,
	}
}

func TestProjectClaimable(t *testing.T) {
	prev := record(types.StatusPending)
	next := record(types.StatusClaimable)
	next.ClaimableTimestamp = 1100
	next.UpdatedAt = 1100

	n := Projector{ViewingChainID: 1}.Project(prev, next)

	require.NotNil(t, n)
	assert.Equal(t, &types.BridgeNotification{
		ID:                 "t1:CLAIMABLE",
		TransferID:         "t1",
		Type:               types.NotificationWithdrawal,
		Status:             types.NotificationClaimable,
		Timestamp:          1100,
		Amount:             "10",
		DestinationChainID: 42161,
		Address:            "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	}, n)
}

func TestProjectCompletedAsDeposit(t *testing.T) {
	prev := record(types.StatusClaimable)
	next := record(types.StatusCompleted)
	next.Completed = true
	next.DestinationTimestamp = 1200

	n := Projector{ViewingChainID: 42161}.Project(prev, next)

	require.NotNil(t, n)
	assert.Equal(t, types.NotificationCompleted, n.Status)
	assert.Equal(t, types.NotificationDeposit, n.Type)
	assert.Equal(t, int64(1200), n.Timestamp)
}

func TestProjectFailed(t *testing.T) {
	prev := record(types.StatusPending)
	next := record(types.StatusFailed)
	next.UpdatedAt = 1900

	n := Projector{}.Project(prev, next)

	require.NotNil(t, n)
	assert.Equal(t, types.NotificationFailed, n.Status)
	assert.Equal(t, int64(1900), n.Timestamp)
	assert.Equal(t, "t1:FAILED", n.ID)
}

func TestProjectNothingDue(t *testing.T) {
	p := Projector{ViewingChainID: 1}
	for _, status := range types.AllStatuses {
		assert.Nil(t, p.Project(record(status), record(status)), status)
	}
	// entering PENDING is not user visible
	assert.Nil(t, p.Project(types.TransferRecord{}, record(types.StatusPending)))
}

func TestProjectIsDeterministic(t *testing.T) {
	prev := record(types.StatusPending)
	next := record(types.StatusFailed)
	p := Projector{ViewingChainID: 1}

	assert.Equal(t, p.Project(prev, next), p.Project(prev, next))
}
