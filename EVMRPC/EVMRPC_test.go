package EVMRPC

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gobridgetracker/config"
	"gobridgetracker/limiter"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMessageHash(t *testing.T) {
	message := []byte("cctp message body")
	data, err := EncodeMessageSent(message)
	require.NoError(t, err)

	logs := []*ethtypes.Log{
		{Topics: []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")}},
		{Topics: []common.Hash{MessageSentTopic}, Data: data},
	}

	hash, ok := MessageHash(logs)
	require.True(t, ok)
	assert.Equal(t, crypto.Keccak256Hash(message), hash)
}

func TestMessageHashMissing(t *testing.T) {
	_, ok := MessageHash([]*ethtypes.Log{{Topics: []common.Hash{MessageSentTopic}, Data: []byte{0x01}}})
	assert.False(t, ok)

	_, ok = MessageHash(nil)
	assert.False(t, ok)
}

// rpcServer answers eth_getTransactionReceipt with a null result (not mined).
func rpcServer(t *testing.T, hits *atomic.Int32, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "eth_getTransactionReceipt", req.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":null}`))
	}))
}

func TestTransactionReceipt(t *testing.T) {
	t.Run("not mined is nil without error", func(t *testing.T) {
		var hits atomic.Int32
		server := rpcServer(t, &hits, http.StatusOK)
		defer server.Close()

		lookup := NewReceiptLookup(map[int64]config.ChainConfig{
			1: {Name: "Ethereum", ChainID: 1, RPCList: []string{server.URL}},
		}, time.Second, limiter.New(1), zap.NewNop())

		receipt, err := lookup.TransactionReceipt(context.Background(), 1, "0xabc")
		require.NoError(t, err)
		assert.Nil(t, receipt)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("fails over to the next RPC", func(t *testing.T) {
		var badHits, goodHits atomic.Int32
		bad := rpcServer(t, &badHits, http.StatusBadGateway)
		defer bad.Close()
		good := rpcServer(t, &goodHits, http.StatusOK)
		defer good.Close()

		lookup := NewReceiptLookup(map[int64]config.ChainConfig{
			42161: {Name: "Arbitrum", ChainID: 42161, RPCList: []string{bad.URL, good.URL}},
		}, time.Second, nil, zap.NewNop())

		receipt, err := lookup.TransactionReceipt(context.Background(), 42161, "0xabc")
		require.NoError(t, err)
		assert.Nil(t, receipt)
		assert.Equal(t, int32(1), badHits.Load())
		assert.Equal(t, int32(1), goodHits.Load())
	})

	t.Run("every RPC failing is an error", func(t *testing.T) {
		var hits atomic.Int32
		bad := rpcServer(t, &hits, http.StatusInternalServerError)
		defer bad.Close()

		lookup := NewReceiptLookup(map[int64]config.ChainConfig{
			1: {Name: "Ethereum", ChainID: 1, RPCList: []string{bad.URL}},
		}, time.Second, nil, zap.NewNop())

		_, err := lookup.TransactionReceipt(context.Background(), 1, "0xabc")
		assert.Error(t, err)
	})

	t.Run("unknown chain", func(t *testing.T) {
		lookup := NewReceiptLookup(map[int64]config.ChainConfig{}, time.Second, nil, zap.NewNop())

		_, err := lookup.TransactionReceipt(context.Background(), 999, "0xabc")
		assert.ErrorIs(t, err, ErrUnknownChain)
	})
}
