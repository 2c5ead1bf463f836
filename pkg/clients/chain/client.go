package chainclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dkey-backend/pkg/chainconfig"
)

const (
	probeTimeout      = 10 * time.Second
	blockQueryTimeout = 15 * time.Second
)

type client struct {
	logger *slog.Logger
}

type Client interface {
	ProbeChain(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64) (uint64, error)
	CurrentBlock(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64) uint64
}

// ProbeChain confirms chain liveness by fetching the current block number.
// The 10 second budget is fixed; timeouts and RPC errors are returned with
// the underlying message intact.
func (c *client) ProbeChain(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64) (uint64, error) {
	eth, err := desc.Client(chainID)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	block, err := eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("rpc check failed for chain %d: %w", chainID, err)
	}

	return block, nil
}

// CurrentBlock returns the chain height for the creation-block marker.
// The height is informational, so timeouts and errors degrade to 0 instead
// of failing the caller's pipeline.
func (c *client) CurrentBlock(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64) uint64 {
	log := c.logger.With(slog.String("method", "CurrentBlock"), slog.Uint64("chain_id", chainID))

	eth, err := desc.Client(chainID)
	if err != nil {
		log.Warn("no transport for chain", slog.String("error", err.Error()))
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, blockQueryTimeout)
	defer cancel()

	block, err := eth.BlockNumber(ctx)
	if err != nil {
		log.Warn("block query failed, defaulting to 0", slog.String("error", err.Error()))
		return 0
	}

	return block
}

func NewClient(logger *slog.Logger) Client {
	return &client{
		logger: logger,
	}
}
