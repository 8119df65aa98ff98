package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gobridgetracker/metrics"
	"gobridgetracker/notify"
	"gobridgetracker/tracker"
	"gobridgetracker/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	UpsertTransfer(rec *types.TransferRecord) error
	SaveTransfer(rec *types.TransferRecord, prev types.TransferRecord) error
	GetTransfer(id string) (*types.TransferRecord, error)
	FindTransferBySourceTxHash(txHash string) (*types.TransferRecord, error)
	FindAllTransfersByStatus(status types.TransferStatus) ([]*types.TransferRecord, error)
	AddNotification(n *types.BridgeNotification) (bool, error)
}

type Publisher interface {
	Publish(n *types.BridgeNotification)
}

const (
	defaultRefreshInterval    = 30 * time.Second
	defaultRefreshConcurrency = 10
)

type RefresherConfig struct {
	Interval    time.Duration
	Concurrency int // records refreshed at once per tick
}

// Refresher polls every non-terminal transfer and persists what changed.
type Refresher struct {
	config    RefresherConfig
	tracker   *tracker.Tracker
	store     Store
	projector notify.Projector
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu   sync.Mutex
	busy map[string]struct{}
}

func NewRefresher(config RefresherConfig, tr *tracker.Tracker, store Store, projector notify.Projector, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Refresher {
	if config.Interval <= 0 {
		config.Interval = defaultRefreshInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaultRefreshConcurrency
	}
	return &Refresher{
		config:    config,
		tracker:   tr,
		store:     store,
		projector: projector,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		busy:      make(map[string]struct{}),
	}
}

// lock serialises every read-modify-write of one record.
func (r *Refresher) lock(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.busy[id]; busy {
		return false
	}
	r.busy[id] = struct{}{}
	return true
}

func (r *Refresher) unlock(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.busy, id)
}

// load returns the stored version of the record.
func (r *Refresher) load(id string) (types.TransferRecord, error) {
	stored, err := r.store.GetTransfer(id)
	if err != nil {
		return types.TransferRecord{}, err
	}
	if stored == nil {
		return types.TransferRecord{}, fmt.Errorf("transfer %s not found", id)
	}
	return *stored, nil
}

// Run refreshes on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	r.logger.Info("refresher started",
		zap.Duration("interval", r.config.Interval),
		zap.Int("concurrency", r.config.Concurrency))
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		r.Tick(ctx)
		select {
		case <-ctx.Done():
			r.logger.Info("refresher stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick refreshes all PENDING and CLAIMABLE records, at most
// Concurrency at a time.
func (r *Refresher) Tick(ctx context.Context) {
	var due []*types.TransferRecord
	for _, status := range []types.TransferStatus{types.StatusPending, types.StatusClaimable} {
		recs, err := r.store.FindAllTransfersByStatus(status)
		if err != nil {
			r.logger.Error("cannot list transfers", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		due = append(due, recs...)
	}

	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)
	for _, rec := range due {
		rec := *rec
		g.Go(func() error {
			_, err := r.RefreshOne(ctx, rec)
			if err != nil && !errors.Is(err, tracker.ErrRefreshInFlight) && ctx.Err() == nil {
				r.logger.Warn("refresh failed", zap.String("id", rec.ID), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()
}

// RefreshOne advances rec, stores the result and emits the notification for
// the transition if there was one. On error rec is returned unchanged.
//
// When rec is older than the stored record, the stored one is returned as
// is; it is refreshed on the next tick.
func (r *Refresher) RefreshOne(ctx context.Context, rec types.TransferRecord) (types.TransferRecord, error) {
	if !r.lock(rec.ID) {
		return rec, fmt.Errorf("%w: %s", tracker.ErrRefreshInFlight, rec.ID)
	}
	defer r.unlock(rec.ID)

	stored, err := r.load(rec.ID)
	if err != nil {
		return rec, err
	}
	if stored != rec {
		r.logger.Debug("skipping refresh of outdated copy",
			zap.String("id", rec.ID),
			zap.String("status", string(stored.Status)))
		return stored, nil
	}

	next, err := r.tracker.RefreshStatus(ctx, rec)
	if err != nil {
		r.metrics.RefreshError()
		return rec, err
	}
	if next == rec {
		return rec, nil
	}

	if err := r.store.SaveTransfer(&next, rec); err != nil {
		return rec, fmt.Errorf("cannot save transfer %s: %w", rec.ID, err)
	}
	if next.Status != rec.Status {
		r.metrics.Transition(next.Status)
	}

	n := r.projector.Project(rec, next)
	if n == nil {
		return next, nil
	}
	added, err := r.store.AddNotification(n)
	if err != nil {
		// the transfer itself is saved, so the transition is not lost
		r.logger.Error("cannot store notification", zap.String("id", n.ID), zap.Error(err))
		return next, nil
	}
	if added {
		r.metrics.NotificationStored()
		if r.publisher != nil {
			r.publisher.Publish(n)
		}
	}
	return next, nil
}

// Claim attaches the user's destination transaction to the stored version
// of rec and persists it.
func (r *Refresher) Claim(rec types.TransferRecord, destinationTxHash string) (types.TransferRecord, error) {
	if !r.lock(rec.ID) {
		return rec, fmt.Errorf("%w: %s", tracker.ErrRefreshInFlight, rec.ID)
	}
	defer r.unlock(rec.ID)

	stored, err := r.load(rec.ID)
	if err != nil {
		return rec, err
	}
	next, err := r.tracker.AttachClaim(stored, destinationTxHash)
	if err != nil {
		return stored, err
	}
	if err := r.store.SaveTransfer(&next, stored); err != nil {
		return stored, fmt.Errorf("cannot save transfer %s: %w", rec.ID, err)
	}
	return next, nil
}

// Record starts tracking a new transfer unless its source tx is already
// known, in which case the stored record is returned with created=false.
func (r *Refresher) Record(sourceChainID, destinationChainID int64, amount, sourceTxHash, address string) (types.TransferRecord, bool, error) {
	existing, err := r.store.FindTransferBySourceTxHash(sourceTxHash)
	if err != nil {
		return types.TransferRecord{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	rec := r.tracker.RecordTransfer(sourceChainID, destinationChainID, amount, sourceTxHash)
	rec.Address = address
	if err := r.store.UpsertTransfer(&rec); err != nil {
		return types.TransferRecord{}, false, err
	}
	r.metrics.Transition(rec.Status)
	return rec, true, nil
}
