package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/util"
)

var (
	// ErrNotConnected is returned when the client has no RPC connection
	ErrNotConnected = errors.New("not connected")
	// ErrTransactionReverted is returned when a mined transaction has a failed status
	ErrTransactionReverted = errors.New("transaction reverted")
)

// Sender submits a contract call on behalf of an account. The wallet decides
// how the call is signed; the returned hash identifies the broadcast transaction.
type Sender interface {
	SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error)
}

// ClientConfig holds configuration for the RPC client
type ClientConfig struct {
	RPCURL              string
	ChainID             uint64
	BlockConfirmations  uint64
	GasLimitBuffer      float64       // Multiplier for estimated gas (default: 1.2)
	ConfirmationTimeout time.Duration // Upper bound on waiting for a receipt
	PollInterval        time.Duration // Receipt polling interval
	RetryConfig         *util.RetryConfig
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ChainID:             11155111, // Sepolia
		BlockConfirmations:  1,
		GasLimitBuffer:      1.2,
		ConfirmationTimeout: 5 * time.Minute,
		PollInterval:        2 * time.Second,
		RetryConfig:         util.DefaultRetryConfig(),
	}
}

// Client provides read access to an EVM network and receipt tracking
type Client struct {
	config *ClientConfig
	eth    *ethclient.Client

	connected bool
	mu        sync.RWMutex
}

// NewClient creates a new, unconnected client
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{config: config}
}

// Connect dials the RPC endpoint and verifies the chain id
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	eth, result := util.RetryWithValue(ctx, c.config.RetryConfig, func() (*ethclient.Client, error) {
		return ethclient.DialContext(ctx, c.config.RPCURL)
	})
	if result.LastError != nil {
		return fmt.Errorf("failed to connect to RPC: %w", result.LastError)
	}

	chainID, result := util.RetryWithValue(ctx, c.config.RetryConfig, func() (*big.Int, error) {
		return eth.ChainID(ctx)
	})
	if result.LastError != nil {
		eth.Close()
		return fmt.Errorf("failed to get chain ID: %w", result.LastError)
	}
	if chainID.Uint64() != c.config.ChainID {
		eth.Close()
		return fmt.Errorf("chain ID mismatch: expected %d, got %d", c.config.ChainID, chainID)
	}

	c.eth = eth
	c.connected = true
	logging.Debug("rpc connected", logging.ChainID(c.config.ChainID), "attempts", result.Attempts)
	return nil
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.connected = false
}

// IsConnected returns true if connected to the network
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Eth returns the underlying ethclient, or nil when not connected
func (c *Client) Eth() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eth
}

// ChainID returns the configured chain id
func (c *Client) ChainID() uint64 {
	return c.config.ChainID
}

func (c *Client) backend() (*ethclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.eth == nil {
		return nil, ErrNotConnected
	}
	return c.eth, nil
}

// WaitForReceipt polls until the transaction is mined with the configured
// number of confirmations. A failed receipt is returned with ErrTransactionReverted.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}

	if c.config.ConfirmationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConfirmationTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.pollInterval())
	defer ticker.Stop()

	var receipt *types.Receipt
	for receipt == nil {
		r, err := eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			receipt = r
			continue
		case !errors.Is(err, ethereum.NotFound):
			logging.Debug("receipt lookup failed, retrying", logging.TxHash(hash.Hex()), logging.Err(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed waiting for transaction %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex())
	}

	if c.config.BlockConfirmations <= 1 || receipt.BlockNumber == nil {
		return receipt, nil
	}

	target := receipt.BlockNumber.Uint64() + c.config.BlockConfirmations - 1
	for {
		current, err := eth.BlockNumber(ctx)
		if err == nil && current >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return receipt, fmt.Errorf("failed waiting for confirmations of %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// EstimateGas estimates gas for a call and applies the configured buffer
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	eth, err := c.backend()
	if err != nil {
		return 0, err
	}

	gas, err := eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return ApplyGasBuffer(gas, c.config.GasLimitBuffer), nil
}

// BlockNumber returns the current block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	eth, err := c.backend()
	if err != nil {
		return 0, err
	}
	return eth.BlockNumber(ctx)
}

func (c *Client) pollInterval() time.Duration {
	if c.config.PollInterval > 0 {
		return c.config.PollInterval
	}
	return 2 * time.Second
}

// ApplyGasBuffer scales an estimate by buffer; buffers below 1 are ignored.
func ApplyGasBuffer(gas uint64, buffer float64) uint64 {
	if buffer < 1 {
		return gas
	}
	return uint64(float64(gas) * buffer)
}
