package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gobridgetracker/config"
	"gobridgetracker/limiter"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// MessageSent(bytes) is emitted by the CCTP MessageTransmitter on the source chain
var MessageSentTopic = crypto.Keccak256Hash([]byte("MessageSent(bytes)"))

var ErrUnknownChain = errors.New("chain is not configured")

var messageSentArgs = func() abi.Arguments {
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: bytesType}}
}()

// WithClient runs f against each RPC of the list until one succeeds.
func WithClient[T any](ctx context.Context, rpcs []string, logger *zap.Logger, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	if len(rpcs) == 0 {
		err = errors.New("no RPC endpoints")
		return
	}

	var client *ethclient.Client
	for _, url := range rpcs {
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			logger.Warn("error connecting to RPC", zap.String("url", url), zap.Error(err))
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil {
			return
		}
		logger.Warn("RPC call failed", zap.String("url", url), zap.Error(err))
	}
	return
}

// ReceiptLookup fetches transaction receipts on any configured chain.
type ReceiptLookup struct {
	chains  map[int64]config.ChainConfig
	timeout time.Duration
	limiter *limiter.RequestLimiter
	logger  *zap.Logger
}

func NewReceiptLookup(chains map[int64]config.ChainConfig, timeout time.Duration, lim *limiter.RequestLimiter, logger *zap.Logger) *ReceiptLookup {
	if timeout <= 0 {
		timeout = config.DefaultRPCTimeout
	}
	return &ReceiptLookup{
		chains:  chains,
		timeout: timeout,
		limiter: lim,
		logger:  logger,
	}
}

// TransactionReceipt returns nil without error while the transaction is not mined.
func (l *ReceiptLookup) TransactionReceipt(ctx context.Context, chainID int64, txHash string) (*ethtypes.Receipt, error) {
	chain, ok := l.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}

	var receipt *ethtypes.Receipt
	err := l.limiter.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()

		var err error
		receipt, err = WithClient(ctx, chain.RPCList, l.logger, func(client *ethclient.Client) (*ethtypes.Receipt, error) {
			r, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
			if errors.Is(err, ethereum.NotFound) {
				return nil, nil
			}
			return r, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("receipt %s on %s: %w", txHash, chain.Name, err)
	}
	return receipt, nil
}

// MessageHash finds the MessageSent log and returns keccak256 of the message
// bytes, which is the key the attestation service uses.
func MessageHash(logs []*ethtypes.Log) (common.Hash, bool) {
	for _, l := range logs {
		if l == nil || len(l.Topics) == 0 || l.Topics[0] != MessageSentTopic {
			continue
		}
		values, err := messageSentArgs.Unpack(l.Data)
		if err != nil || len(values) != 1 {
			continue
		}
		message, ok := values[0].([]byte)
		if !ok {
			continue
		}
		return crypto.Keccak256Hash(message), true
	}
	return common.Hash{}, false
}

// EncodeMessageSent builds the data field of a MessageSent log.
func EncodeMessageSent(message []byte) ([]byte, error) {
	return messageSentArgs.Pack(message)
}
