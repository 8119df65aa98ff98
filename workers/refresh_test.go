package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gobridgetracker/EVMRPC"
	"gobridgetracker/attestation"
	"gobridgetracker/metrics"
	"gobridgetracker/notify"
	"gobridgetracker/redis"
	"gobridgetracker/tracker"
	"gobridgetracker/types"
	"gobridgetracker/workers/handlers"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	redigo "github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type chainState struct {
	mu          sync.Mutex
	receipts    map[string]*ethtypes.Receipt
	attestation attestation.Result

	delay     time.Duration // how long a receipt lookup takes
	lookups   int
	active    int
	maxActive int
}

func (c *chainState) GetAttestation(ctx context.Context, messageHash string) attestation.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attestation
}

func (c *chainState) TransactionReceipt(ctx context.Context, chainID int64, txHash string) (*ethtypes.Receipt, error) {
	c.mu.Lock()
	c.lookups++
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	delay := c.delay
	c.mu.Unlock()

	time.Sleep(delay)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	return c.receipts[txHash], nil
}

func (c *chainState) setReceipt(txHash string, r *ethtypes.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[txHash] = r
}

func (c *chainState) setAttestation(res attestation.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attestation = res
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []*types.BridgeNotification
}

func (p *recordingPublisher) Publish(n *types.BridgeNotification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
}

type env struct {
	chain     *chainState
	store     *redis.Store
	publisher *recordingPublisher
	tracker   *tracker.Tracker
	refresher *Refresher
	metrics   *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	pool := &redigo.Pool{Dial: func() (redigo.Conn, error) { return redigo.Dial("tcp", mr.Addr()) }}

	e := &env{
		chain: &chainState{
			receipts:    make(map[string]*ethtypes.Receipt),
			attestation: attestation.Result{Kind: attestation.KindNotFoundPending, Attestation: &types.Attestation{Status: types.AttestationPendingConfirmations}},
		},
		store:     redis.NewStore(pool, zap.NewNop()),
		publisher: &recordingPublisher{},
		metrics:   metrics.New(nil),
	}
	e.tracker = tracker.New(tracker.Config{}, e.metrics.CountAttestations(e.chain), e.chain, zap.NewNop())
	e.refresher = e.newRefresher(RefresherConfig{Interval: time.Hour})
	return e
}

func (e *env) newRefresher(config RefresherConfig) *Refresher {
	return NewRefresher(config, e.tracker, e.store, notify.Projector{ViewingChainID: 1}, e.publisher, e.metrics, zap.NewNop())
}

// claimable records a transfer and ticks it to CLAIMABLE.
func (e *env) claimable(t *testing.T, sourceTxHash string) types.TransferRecord {
	t.Helper()
	rec, _, err := e.refresher.Record(1, 42161, "10", sourceTxHash, "")
	require.NoError(t, err)
	e.chain.setReceipt(sourceTxHash, sourceReceipt(t))
	e.chain.setAttestation(complete("0xdead"))
	e.refresher.Tick(context.Background())

	stored, err := e.store.GetTransfer(rec.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusClaimable, stored.Status)
	return *stored
}

func sourceReceipt(t *testing.T) *ethtypes.Receipt {
	t.Helper()
	data, err := EVMRPC.EncodeMessageSent([]byte("burn"))
	require.NoError(t, err)
	return &ethtypes.Receipt{
		Status: ethtypes.ReceiptStatusSuccessful,
		Logs:   []*ethtypes.Log{{Topics: []common.Hash{EVMRPC.MessageSentTopic}, Data: data}},
	}
}

func complete(message string) attestation.Result {
	return attestation.Result{
		Kind:        attestation.KindOK,
		Attestation: &types.Attestation{Message: &message, Status: types.AttestationComplete},
	}
}

func TestRecordDeduplicates(t *testing.T) {
	e := newEnv(t)

	rec, created, err := e.refresher.Record(1, 42161, "10", "0xabc", "")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := e.refresher.Record(1, 42161, "10", "0xabc", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec, again)
}

func TestTickLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, _, err := e.refresher.Record(1, 42161, "10", "0xabc", "")
	require.NoError(t, err)

	// source not mined
	e.refresher.Tick(ctx)
	stored, err := e.store.GetTransfer(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, stored.Status)

	e.chain.setReceipt("0xabc", sourceReceipt(t))
	e.refresher.Tick(ctx)
	stored, err = e.store.GetTransfer(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, stored.Status)
	assert.NotEmpty(t, stored.MessageHash)

	e.chain.setAttestation(complete("0xdead"))
	e.refresher.Tick(ctx)
	claimable, err := e.store.FindAllTransfersByStatus(types.StatusClaimable)
	require.NoError(t, err)
	require.Len(t, claimable, 1)
	assert.Equal(t, "0xdead", claimable[0].Attestation)

	// repeated ticks do not duplicate the notification
	e.refresher.Tick(ctx)

	claimed, err := e.refresher.Claim(*claimable[0], "0xclaim")
	require.NoError(t, err)
	e.chain.setReceipt("0xclaim", &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful})
	e.refresher.Tick(ctx)

	done, err := e.store.GetTransfer(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, done.Status)
	assert.True(t, done.Completed)

	items, total, err := e.store.ListNotifications("", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	statuses := []types.NotificationStatus{items[0].Status, items[1].Status}
	assert.ElementsMatch(t, []types.NotificationStatus{types.NotificationClaimable, types.NotificationCompleted}, statuses)

	e.publisher.mu.Lock()
	assert.Len(t, e.publisher.sent, 2)
	e.publisher.mu.Unlock()

	// completed records are no longer polled
	pending, err := e.store.FindAllTransfersByStatus(types.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRefreshOneTransientError(t *testing.T) {
	e := newEnv(t)
	rec, _, err := e.refresher.Record(1, 42161, "10", "0xabc", "")
	require.NoError(t, err)
	e.chain.setReceipt("0xabc", sourceReceipt(t))
	e.chain.setAttestation(attestation.Result{Kind: attestation.KindTransient, Err: &attestation.TransientFetchError{StatusCode: 503}})

	next, err := e.refresher.RefreshOne(context.Background(), rec)
	assert.Error(t, err)
	assert.Equal(t, rec, next)

	stored, err := e.store.GetTransfer(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, *stored)
}

func TestClaimRequiresClaimable(t *testing.T) {
	e := newEnv(t)
	rec, _, err := e.refresher.Record(1, 42161, "10", "0xabc", "")
	require.NoError(t, err)

	_, err = e.refresher.Claim(rec, "0xclaim")
	assert.ErrorIs(t, err, tracker.ErrNotClaimable)
}

func TestOutdatedRefreshKeepsNewerClaim(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := e.claimable(t, "0xabc")

	reverted, err := e.refresher.Claim(rec, "0xreverted")
	require.NoError(t, err)
	e.chain.setReceipt("0xreverted", &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed})

	// the user claims again while a tick still holds the old copy
	_, err = e.refresher.Claim(reverted, "0xclaimhash")
	require.NoError(t, err)

	got, err := e.refresher.RefreshOne(ctx, reverted)
	require.NoError(t, err)
	assert.Equal(t, "0xclaimhash", got.DestinationTxHash)

	stored, err := e.store.GetTransfer(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xclaimhash", stored.DestinationTxHash)
	assert.Equal(t, types.StatusClaimable, stored.Status)
}

func TestOutdatedRefreshDoesNotUndoCompletion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := e.claimable(t, "0xabc")

	reverted, err := e.refresher.Claim(rec, "0xreverted")
	require.NoError(t, err)
	e.chain.setReceipt("0xreverted", &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed})

	_, err = e.refresher.Claim(reverted, "0xclaimhash")
	require.NoError(t, err)
	e.chain.setReceipt("0xclaimhash", &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful})
	e.refresher.Tick(ctx)

	got, err := e.refresher.RefreshOne(ctx, reverted)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)

	stored, err := e.store.GetTransfer(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, stored.Status)

	claimable, err := e.store.FindAllTransfersByStatus(types.StatusClaimable)
	require.NoError(t, err)
	assert.Empty(t, claimable)
	completed, err := e.store.FindAllTransfersByStatus(types.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	// a claim against the old copy is checked against the stored record
	_, err = e.refresher.Claim(reverted, "0xagain")
	assert.ErrorIs(t, err, tracker.ErrNotClaimable)
}

func TestRefreshOneRejectsConcurrentRefresh(t *testing.T) {
	e := newEnv(t)
	rec, _, err := e.refresher.Record(1, 42161, "10", "0xabc", "")
	require.NoError(t, err)

	require.True(t, e.refresher.lock(rec.ID))
	_, err = e.refresher.RefreshOne(context.Background(), rec)
	assert.ErrorIs(t, err, tracker.ErrRefreshInFlight)
	_, err = e.refresher.Claim(rec, "0xclaim")
	assert.ErrorIs(t, err, tracker.ErrRefreshInFlight)
	e.refresher.unlock(rec.ID)

	_, err = e.refresher.RefreshOne(context.Background(), rec)
	assert.NoError(t, err)
}

func TestTickBoundsConcurrency(t *testing.T) {
	e := newEnv(t)
	e.chain.delay = 20 * time.Millisecond
	refresher := e.newRefresher(RefresherConfig{Interval: time.Hour, Concurrency: 2})

	for _, hash := range []string{"0x01", "0x02", "0x03", "0x04", "0x05", "0x06"} {
		_, _, err := refresher.Record(1, 42161, "10", hash, "")
		require.NoError(t, err)
	}

	refresher.Tick(context.Background())

	e.chain.mu.Lock()
	defer e.chain.mu.Unlock()
	assert.Equal(t, 6, e.chain.lookups)
	assert.LessOrEqual(t, e.chain.maxActive, 2)
}

func TestRunStopsWithContext(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.refresher.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestRouter(t *testing.T) {
	e := newEnv(t)
	api := &handlers.API{
		Refresher:    e.refresher,
		Store:        e.store,
		Attestations: e.chain,
		Logger:       zap.NewNop(),
	}
	router := NewRouter(api, nil, e.metrics.Handler())

	for _, path := range []string{
		"/state",
		"/transfers",
		"/transfers?address=0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"/notifications",
		"/notifications?address=0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"/notifications/unseen",
		"/metrics",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/transfers/abc/claim", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
