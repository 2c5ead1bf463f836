package chainconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

// FallbackChainID is used when preferences name no chain at all.
const FallbackChainID = 11155111

// Built-in public endpoints for chains with no RPC override.
var defaultRPCURLs = map[uint64]string{
	1:        "https://eth.llamarpc.com",
	10:       "https://mainnet.optimism.io",
	137:      "https://polygon-rpc.com",
	8453:     "https://mainnet.base.org",
	11155111: "https://rpc.sepolia.org",
}

// Prefs are the per-origin chain preferences a profile carries.
type Prefs struct {
	DefaultChainID uint64
	ChainIDs       []uint64
	RPCURLs        map[uint64]string
}

// ConnectionDescriptor holds one wired transport per resolvable chain.
// Descriptors are expensive and carry live connector state, so value-equal
// preferences must resolve to the same instance.
type ConnectionDescriptor struct {
	DefaultChainID uint64
	ChainIDs       []uint64
	RPCURLs        map[uint64]string

	clients map[uint64]*ethclient.Client
}

// Client returns the transport wired for the given chain. Liveness is not
// checked here; calls fail at call time.
func (d *ConnectionDescriptor) Client(chainID uint64) (*ethclient.Client, error) {
	c, ok := d.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("no transport wired for chain %d", chainID)
	}
	return c, nil
}

type Resolver struct {
	mu     sync.Mutex
	logger *slog.Logger

	lastKey string
	last    *ConnectionDescriptor
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger: logger,
	}
}

// Resolve builds a connection descriptor from preferences. A single-slot memo
// keyed by the normalized inputs returns the previously built descriptor
// unchanged when the inputs match by value.
func (r *Resolver) Resolve(prefs Prefs) *ConnectionDescriptor {
	norm := normalize(prefs)
	key := cacheKey(norm)

	r.mu.Lock()
	defer r.mu.Unlock()

	if key == r.lastKey && r.last != nil {
		return r.last
	}

	desc := &ConnectionDescriptor{
		DefaultChainID: norm.DefaultChainID,
		ChainIDs:       norm.ChainIDs,
		RPCURLs:        norm.RPCURLs,
		clients:        make(map[uint64]*ethclient.Client, len(norm.ChainIDs)),
	}

	for _, chainID := range norm.ChainIDs {
		url := norm.RPCURLs[chainID]
		if url == "" {
			url = defaultRPCURLs[chainID]
		}
		if url == "" {
			r.logger.Warn("no RPC URL resolvable for chain, skipping", slog.Uint64("chain_id", chainID))
			continue
		}

		client, err := ethclient.Dial(url)
		if err != nil {
			r.logger.Warn("failed to wire transport", slog.Uint64("chain_id", chainID), slog.String("error", err.Error()))
			continue
		}

		desc.clients[chainID] = client
	}

	r.lastKey = key
	r.last = desc

	return desc
}

func normalize(prefs Prefs) Prefs {
	norm := Prefs{
		DefaultChainID: prefs.DefaultChainID,
		ChainIDs:       slices.Clone(prefs.ChainIDs),
		RPCURLs:        make(map[uint64]string, len(prefs.RPCURLs)),
	}
	for id, url := range prefs.RPCURLs {
		norm.RPCURLs[id] = url
	}

	if len(norm.ChainIDs) == 0 {
		if norm.DefaultChainID == 0 {
			norm.DefaultChainID = FallbackChainID
		}
		norm.ChainIDs = []uint64{norm.DefaultChainID}
	}
	if norm.DefaultChainID == 0 {
		norm.DefaultChainID = norm.ChainIDs[0]
	}
	if !slices.Contains(norm.ChainIDs, norm.DefaultChainID) {
		norm.ChainIDs = append([]uint64{norm.DefaultChainID}, norm.ChainIDs...)
	}

	return norm
}

func cacheKey(norm Prefs) string {
	h := sha256.New()
	fmt.Fprintf(h, "default=%d;", norm.DefaultChainID)
	for _, id := range norm.ChainIDs {
		fmt.Fprintf(h, "chain=%d;", id)
	}

	ids := make([]uint64, 0, len(norm.RPCURLs))
	for id := range norm.RPCURLs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(h, "rpc=%d=%s;", id, norm.RPCURLs[id])
	}

	return hex.EncodeToString(h.Sum(nil))
}
