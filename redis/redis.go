package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gobridgetracker/types"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

const (
	sourceIndexKey      = "transfers:bysource"
	addressIndexPrefix  = "transfers:byaddress:"
	notificationsKey    = "notifications"
	addressNotifyPrefix = "notifications:byaddress:"
	unseenKey           = "notifications:unseen"
	notificationPrefix  = "notification:"
)

// ErrStaleWrite is returned when the stored record is no longer the one the
// caller based its update on.
var ErrStaleWrite = errors.New("transfer changed since it was read")

// one SET of record keys per status, like the bridge operation sets before
var statusSets = map[types.TransferStatus]string{
	types.StatusPending:   "transfers:pending",
	types.StatusClaimable: "transfers:claimable",
	types.StatusCompleted: "transfers:completed",
	types.StatusFailed:    "transfers:failed",
}

// furthest status first, so a leftover older key never shadows a newer one
var lookupOrder = []types.TransferStatus{
	types.StatusCompleted,
	types.StatusFailed,
	types.StatusClaimable,
	types.StatusPending,
}

func transferKey(status types.TransferStatus, id string) string {
	return fmt.Sprintf("transfer:%s:%s", status, id)
}

func addressKey(prefix, address string) string {
	return prefix + strings.ToLower(address)
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func NewPool(host string, port int) *redis.Pool {
	redisAddr := fmt.Sprintf("%s:%d", host, port)
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 4 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, timeoutDialOptions()...) },
	}
}

// Store keeps transfer records and the notification history.
type Store struct {
	pool   *redis.Pool
	logger *zap.Logger
}

func NewStore(pool *redis.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Ping() error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("PING")
	return err
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func validateRecord(rec *types.TransferRecord) error {
	if rec == nil {
		return errors.New("null object to store")
	}
	if rec.ID == "" {
		return errors.New("transfer cannot have empty id")
	}
	if _, ok := statusSets[rec.Status]; !ok {
		return fmt.Errorf("transfer %s has unknown status %q", rec.ID, rec.Status)
	}
	return nil
}

// sendIndexes queues the secondary index writes for rec inside a MULTI.
func sendIndexes(conn redis.Conn, rec *types.TransferRecord) {
	if rec.SourceTxHash != "" {
		conn.Send("HSET", sourceIndexKey, rec.SourceTxHash, rec.ID)
	}
	if rec.Address != "" {
		conn.Send("ZADD", addressKey(addressIndexPrefix, rec.Address), rec.SourceTimestamp, rec.ID)
	}
}

// UpsertTransfer writes a new record and indexes it by source tx hash and address.
func (s *Store) UpsertTransfer(rec *types.TransferRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cannot marshal transfer to JSON: %w", err)
	}

	conn := s.pool.Get()
	defer conn.Close()

	key := transferKey(rec.Status, rec.ID)
	conn.Send("MULTI")
	conn.Send("SET", key, recJSON)
	conn.Send("SADD", statusSets[rec.Status], key)
	sendIndexes(conn, rec)
	if _, err := conn.Do("EXEC"); err != nil {
		s.logger.Error("redis upsert failed", zap.String("id", rec.ID), zap.Error(err))
		return err
	}
	return nil
}

// SaveTransfer replaces prev with rec, moving the record between status sets
// when needed. It is a compare-and-set: when the stored record is not prev
// any more, nothing is written and ErrStaleWrite is returned.
func (s *Store) SaveTransfer(rec *types.TransferRecord, prev types.TransferRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if prev.ID != rec.ID {
		return fmt.Errorf("cannot replace transfer %s with %s", prev.ID, rec.ID)
	}
	prevSet, ok := statusSets[prev.Status]
	if !ok {
		return fmt.Errorf("unknown previous status %q", prev.Status)
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cannot marshal transfer to JSON: %w", err)
	}

	conn := s.pool.Get()
	defer conn.Close()

	keys := redis.Args{}
	for _, status := range lookupOrder {
		keys = keys.Add(transferKey(status, rec.ID))
	}
	if _, err := conn.Do("WATCH", keys...); err != nil {
		return err
	}
	if err := checkCurrent(conn, prev); err != nil {
		conn.Do("UNWATCH")
		return err
	}

	prevKey := transferKey(prev.Status, rec.ID)
	key := transferKey(rec.Status, rec.ID)
	conn.Send("MULTI")
	if prevKey != key {
		conn.Send("SREM", prevSet, prevKey)
		conn.Send("DEL", prevKey)
	}
	conn.Send("SET", key, recJSON)
	conn.Send("SADD", statusSets[rec.Status], key)
	sendIndexes(conn, rec)
	reply, err := conn.Do("EXEC")
	if err != nil {
		s.logger.Error("redis save failed",
			zap.String("id", rec.ID),
			zap.String("from", string(prev.Status)),
			zap.String("to", string(rec.Status)),
			zap.Error(err))
		return err
	}
	if reply == nil {
		// a watched key changed between the check and EXEC
		return fmt.Errorf("%w: %s", ErrStaleWrite, rec.ID)
	}
	return nil
}

// checkCurrent verifies that prev is exactly what is stored and that no
// record for the id exists under a status past it.
func checkCurrent(conn redis.Conn, prev types.TransferRecord) error {
	for _, status := range lookupOrder {
		if status == prev.Status || status.Rank() < prev.Status.Rank() {
			continue
		}
		exists, err := redis.Bool(conn.Do("EXISTS", transferKey(status, prev.ID)))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s is already %s", ErrStaleWrite, prev.ID, status)
		}
	}

	stored, err := getTransferKey(conn, transferKey(prev.Status, prev.ID))
	if err != nil {
		return err
	}
	if stored == nil || *stored != prev {
		return fmt.Errorf("%w: %s", ErrStaleWrite, prev.ID)
	}
	return nil
}

// GetTransfer returns nil, nil for an unknown id.
func (s *Store) GetTransfer(id string) (*types.TransferRecord, error) {
	conn := s.pool.Get()
	defer conn.Close()
	return getTransfer(conn, id)
}

func getTransfer(conn redis.Conn, id string) (*types.TransferRecord, error) {
	for _, status := range lookupOrder {
		rec, err := getTransferKey(conn, transferKey(status, id))
		if err != nil || rec != nil {
			return rec, err
		}
	}
	return nil, nil
}

func getTransferKey(conn redis.Conn, key string) (*types.TransferRecord, error) {
	raw, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec types.TransferRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("cannot decode %s: %w", key, err)
	}
	return &rec, nil
}

func (s *Store) FindTransferBySourceTxHash(txHash string) (*types.TransferRecord, error) {
	if txHash == "" {
		return nil, errors.New("empty source tx hash")
	}

	conn := s.pool.Get()
	defer conn.Close()

	id, err := redis.String(conn.Do("HGET", sourceIndexKey, txHash))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return getTransfer(conn, id)
}

// FindTransfersByAddress pages the transfers of one account, newest source
// transaction first, and returns the total count.
func (s *Store) FindTransfersByAddress(address string, offset, limit int) ([]*types.TransferRecord, int, error) {
	if address == "" {
		return nil, 0, errors.New("empty address")
	}
	if offset < 0 || limit <= 0 {
		return nil, 0, fmt.Errorf("invalid page offset=%d limit=%d", offset, limit)
	}

	conn := s.pool.Get()
	defer conn.Close()

	key := addressKey(addressIndexPrefix, address)
	total, err := redis.Int(conn.Do("ZCARD", key))
	if err != nil {
		return nil, 0, err
	}
	ids, err := redis.Strings(conn.Do("ZREVRANGE", key, offset, offset+limit-1))
	if err != nil {
		return nil, 0, err
	}

	recs := make([]*types.TransferRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := getTransfer(conn, id)
		if err != nil {
			return nil, 0, err
		}
		if rec == nil {
			s.logger.Warn("transfer indexed but missing", zap.String("id", id))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, total, nil
}

// FindAllTransfersByStatus scans the status set. Records are ordered by
// source timestamp, oldest first.
func (s *Store) FindAllTransfersByStatus(status types.TransferStatus) ([]*types.TransferRecord, error) {
	set, ok := statusSets[status]
	if !ok {
		return nil, fmt.Errorf("redis key not found for status %q", status)
	}

	conn := s.pool.Get()
	defer conn.Close()

	recs := make([]*types.TransferRecord, 0)
	var cursor int64
	for {
		values, err := redis.Values(conn.Do("SSCAN", set, cursor))
		if err != nil {
			return nil, err
		}
		var keys []string
		if _, err := redis.Scan(values, &cursor, &keys); err != nil {
			return nil, err
		}

		for _, key := range keys {
			rec, err := getTransferKey(conn, key)
			if err != nil {
				return nil, err
			}
			// a key can outlive its record between SREM and DEL
			if rec == nil || rec.Status != status {
				continue
			}
			recs = append(recs, rec)
		}

		if cursor == 0 {
			break
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SourceTimestamp == recs[j].SourceTimestamp {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].SourceTimestamp < recs[j].SourceTimestamp
	})
	return recs, nil
}

// AddNotification stores n once; a second add with the same id is ignored,
// keeping its seen flag. Reports whether n was new.
func (s *Store) AddNotification(n *types.BridgeNotification) (bool, error) {
	if n == nil || n.ID == "" {
		return false, errors.New("notification without id")
	}
	stored := *n
	stored.Seen = false
	payload, err := json.Marshal(stored)
	if err != nil {
		return false, fmt.Errorf("cannot marshal notification to JSON: %w", err)
	}

	conn := s.pool.Get()
	defer conn.Close()

	_, err = redis.String(conn.Do("SET", notificationPrefix+n.ID, payload, "NX"))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	conn.Send("MULTI")
	conn.Send("ZADD", notificationsKey, n.Timestamp, n.ID)
	if n.Address != "" {
		conn.Send("ZADD", addressKey(addressNotifyPrefix, n.Address), n.Timestamp, n.ID)
	}
	if !n.Seen {
		conn.Send("SADD", unseenKey, n.ID)
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return false, err
	}
	return true, nil
}

// ListNotifications pages the history newest first and returns the total
// count. A non-empty address limits it to that account's transfers.
func (s *Store) ListNotifications(address string, offset, limit int) ([]*types.BridgeNotification, int, error) {
	if offset < 0 || limit <= 0 {
		return nil, 0, fmt.Errorf("invalid page offset=%d limit=%d", offset, limit)
	}

	key := notificationsKey
	if address != "" {
		key = addressKey(addressNotifyPrefix, address)
	}

	conn := s.pool.Get()
	defer conn.Close()

	total, err := redis.Int(conn.Do("ZCARD", key))
	if err != nil {
		return nil, 0, err
	}
	ids, err := redis.Strings(conn.Do("ZREVRANGE", key, offset, offset+limit-1))
	if err != nil {
		return nil, 0, err
	}
	items, err := s.loadNotifications(conn, ids)
	return items, total, err
}

// ListUnseen returns unseen notifications newest first, optionally for one address.
func (s *Store) ListUnseen(address string) ([]*types.BridgeNotification, error) {
	conn := s.pool.Get()
	defer conn.Close()

	items, err := s.unseen(conn, address)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp == items[j].Timestamp {
			return items[i].ID > items[j].ID
		}
		return items[i].Timestamp > items[j].Timestamp
	})
	return items, nil
}

func (s *Store) unseen(conn redis.Conn, address string) ([]*types.BridgeNotification, error) {
	ids, err := redis.Strings(conn.Do("SMEMBERS", unseenKey))
	if err != nil {
		return nil, err
	}
	items, err := s.loadNotifications(conn, ids)
	if err != nil || address == "" {
		return items, err
	}
	owned := items[:0]
	for _, n := range items {
		if strings.EqualFold(n.Address, address) {
			owned = append(owned, n)
		}
	}
	return owned, nil
}

// MarkSeen returns how many of ids were unseen. With an address, ids that
// belong to another account are left alone.
func (s *Store) MarkSeen(address string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	conn := s.pool.Get()
	defer conn.Close()

	if address != "" {
		items, err := s.loadNotifications(conn, ids)
		if err != nil {
			return 0, err
		}
		ids = ids[:0:0]
		for _, n := range items {
			if strings.EqualFold(n.Address, address) {
				ids = append(ids, n.ID)
			}
		}
		if len(ids) == 0 {
			return 0, nil
		}
	}
	return redis.Int(conn.Do("SREM", redis.Args{}.Add(unseenKey).AddFlat(ids)...))
}

// MarkAllSeen clears the unseen flag of every notification, or of one
// account's notifications when address is set.
func (s *Store) MarkAllSeen(address string) (int, error) {
	conn := s.pool.Get()
	defer conn.Close()

	if address == "" {
		n, err := redis.Int(conn.Do("SCARD", unseenKey))
		if err != nil {
			return 0, err
		}
		if _, err := conn.Do("DEL", unseenKey); err != nil {
			return 0, err
		}
		return n, nil
	}

	items, err := s.unseen(conn, address)
	if err != nil || len(items) == 0 {
		return 0, err
	}
	args := redis.Args{}.Add(unseenKey)
	for _, n := range items {
		args = args.Add(n.ID)
	}
	return redis.Int(conn.Do("SREM", args...))
}

func (s *Store) loadNotifications(conn redis.Conn, ids []string) ([]*types.BridgeNotification, error) {
	items := make([]*types.BridgeNotification, 0, len(ids))
	for _, id := range ids {
		raw, err := redis.Bytes(conn.Do("GET", notificationPrefix+id))
		if errors.Is(err, redis.ErrNil) {
			s.logger.Warn("notification indexed but missing", zap.String("id", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		var n types.BridgeNotification
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("cannot decode notification %s: %w", id, err)
		}
		unseen, err := redis.Bool(conn.Do("SISMEMBER", unseenKey, id))
		if err != nil {
			return nil, err
		}
		n.Seen = !unseen
		items = append(items, &n)
	}
	return items, nil
}
