package market

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/core/types"

	"dkey-backend/pkg/chainconfig"
)

// Surface of the dkey marketplace contract used by this backend. The full
// contract carries more, none of which this layer calls.
const marketABI = `[
	{"name":"createListing","type":"function","stateMutability":"nonpayable","inputs":[{"name":"contentId","type":"string"},{"name":"keyShare","type":"bytes32"},{"name":"units","type":"uint256"},{"name":"price","type":"uint256"},{"name":"royaltyPercent","type":"uint8"}],"outputs":[]},
	{"name":"makeBid","type":"function","stateMutability":"payable","inputs":[{"name":"contentId","type":"string"},{"name":"bidderKeyA","type":"bytes32"},{"name":"bidderKeyB","type":"bytes32"}],"outputs":[]},
	{"name":"updateBid","type":"function","stateMutability":"payable","inputs":[{"name":"contentId","type":"string"},{"name":"bidIndex","type":"uint256"}],"outputs":[]},
	{"name":"reclaimBid","type":"function","stateMutability":"nonpayable","inputs":[{"name":"contentId","type":"string"},{"name":"bidIndex","type":"uint256"}],"outputs":[]},
	{"name":"fillBid","type":"function","stateMutability":"nonpayable","inputs":[{"name":"contentId","type":"string"},{"name":"bidIndex","type":"uint256"},{"name":"keyShare","type":"bytes32"}],"outputs":[]},
	{"name":"sellDkey","type":"function","stateMutability":"nonpayable","inputs":[{"name":"contentId","type":"string"},{"name":"bidIndex","type":"uint256"},{"name":"keyShare","type":"bytes32"}],"outputs":[]},
	{"name":"getListing","type":"function","stateMutability":"view","inputs":[{"name":"contentId","type":"string"}],"outputs":[{"name":"seller","type":"address"},{"name":"price","type":"uint256"},{"name":"unitsTotal","type":"uint256"},{"name":"unitsSold","type":"uint256"},{"name":"royaltyPercent","type":"uint8"},{"name":"openBids","type":"uint256"}]},
	{"name":"getBid","type":"function","stateMutability":"view","inputs":[{"name":"contentId","type":"string"},{"name":"bidIndex","type":"uint256"}],"outputs":[{"name":"bidderKeyA","type":"bytes32"},{"name":"bidderKeyB","type":"bytes32"},{"name":"amount","type":"uint256"}]},
	{"name":"receivedDkeys","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"contentIds","type":"string[]"}]},
	{"name":"BidPlaced","type":"event","inputs":[{"name":"contentId","type":"string","indexed":false},{"name":"bidIndex","type":"uint256","indexed":false},{"name":"bidderKeyA","type":"bytes32","indexed":false},{"name":"bidderKeyB","type":"bytes32","indexed":false}]}
]`

type client struct {
	contracts map[uint64]common.Address
	key       *ecdsa.PrivateKey
	abi       abi.ABI
	logger    *slog.Logger
}

type Client interface {
	SignerAddress() (string, error)

	GetListing(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string) (*ListingDetails, error)
	GetBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64) (*Bid, error)
	ReceivedDkeys(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, owner string) ([]string, error)

	CreateListing(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, params CreateListingParams) (string, error)
	MakeBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, keyA, keyB [32]byte, amountWei *big.Int) (uint64, string, error)
	UpdateBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64, deltaWei *big.Int) (string, error)
	ReclaimBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64) (string, error)
	FillBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64, keyShare [32]byte) (string, error)
	SellDkey(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64, keyShare [32]byte) (string, error)
}

var ErrNoSigner = errors.New("no wallet key configured")

func (c *client) SignerAddress() (string, error) {
	if c.key == nil {
		return "", ErrNoSigner
	}
	return ethcrypto.PubkeyToAddress(c.key.PublicKey).Hex(), nil
}

func (c *client) GetListing(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string) (*ListingDetails, error) {
	bound, _, err := c.bound(desc, chainID)
	if err != nil {
		return nil, err
	}

	var out []any
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "getListing", contentID); err != nil {
		return nil, fmt.Errorf("getListing call failed: %w", err)
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("getListing returned %d values", len(out))
	}

	return &ListingDetails{
		Seller:         out[0].(common.Address),
		PriceWei:       out[1].(*big.Int),
		UnitsTotal:     out[2].(*big.Int).Uint64(),
		UnitsSold:      out[3].(*big.Int).Uint64(),
		RoyaltyPercent: out[4].(uint8),
		OpenBids:       out[5].(*big.Int).Uint64(),
	}, nil
}

func (c *client) GetBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64) (*Bid, error) {
	bound, _, err := c.bound(desc, chainID)
	if err != nil {
		return nil, err
	}

	var out []any
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "getBid", contentID, new(big.Int).SetUint64(bidIndex)); err != nil {
		return nil, fmt.Errorf("getBid call failed: %w", err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("getBid returned %d values", len(out))
	}

	return &Bid{
		BidderKeyA: out[0].([32]byte),
		BidderKeyB: out[1].([32]byte),
		AmountWei:  out[2].(*big.Int),
	}, nil
}

func (c *client) ReceivedDkeys(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, owner string) ([]string, error) {
	bound, _, err := c.bound(desc, chainID)
	if err != nil {
		return nil, err
	}

	var out []any
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "receivedDkeys", common.HexToAddress(owner)); err != nil {
		return nil, fmt.Errorf("receivedDkeys call failed: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("receivedDkeys returned %d values", len(out))
	}

	return out[0].([]string), nil
}

func (c *client) CreateListing(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, params CreateListingParams) (string, error) {
	_, txHash, err := c.transact(ctx, desc, chainID, nil, "createListing",
		params.ContentID, params.KeyShare, new(big.Int).SetUint64(params.Units), params.PriceWei, params.RoyaltyPercent)
	return txHash, err
}

// MakeBid places a bid and returns the slot index the contract assigned to
// it, read back from the BidPlaced event in the receipt.
func (c *client) MakeBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, keyA, keyB [32]byte, amountWei *big.Int) (uint64, string, error) {
	receipt, txHash, err := c.transact(ctx, desc, chainID, amountWei, "makeBid", contentID, keyA, keyB)
	if err != nil {
		return 0, "", err
	}

	bidIndex, err := c.bidIndexFromReceipt(receipt)
	if err != nil {
		return 0, "", fmt.Errorf("bid placed in tx %s but index not recovered: %w", txHash, err)
	}

	return bidIndex, txHash, nil
}

func (c *client) UpdateBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64, deltaWei *big.Int) (string, error) {
	_, txHash, err := c.transact(ctx, desc, chainID, deltaWei, "updateBid", contentID, new(big.Int).SetUint64(bidIndex))
	return txHash, err
}

func (c *client) ReclaimBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64) (string, error) {
	_, txHash, err := c.transact(ctx, desc, chainID, nil, "reclaimBid", contentID, new(big.Int).SetUint64(bidIndex))
	return txHash, err
}

func (c *client) FillBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64, keyShare [32]byte) (string, error) {
	_, txHash, err := c.transact(ctx, desc, chainID, nil, "fillBid", contentID, new(big.Int).SetUint64(bidIndex), keyShare)
	return txHash, err
}

func (c *client) SellDkey(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64, keyShare [32]byte) (string, error) {
	_, txHash, err := c.transact(ctx, desc, chainID, nil, "sellDkey", contentID, new(big.Int).SetUint64(bidIndex), keyShare)
	return txHash, err
}

func (c *client) transact(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, value *big.Int, method string, args ...any) (*types.Receipt, string, error) {
	log := c.logger.With(slog.String("method", method), slog.Uint64("chain_id", chainID))

	if c.key == nil {
		return nil, "", ErrNoSigner
	}

	bound, backend, err := c.bound(desc, chainID)
	if err != nil {
		return nil, "", err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = value

	tx, err := bound.Transact(opts, method, args...)
	if err != nil {
		return nil, "", fmt.Errorf("%s transaction failed: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, "", fmt.Errorf("%s not mined: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, "", fmt.Errorf("%s reverted, tx %s", method, tx.Hash().Hex())
	}

	log.Info("transaction mined", slog.String("tx", tx.Hash().Hex()))

	return receipt, tx.Hash().Hex(), nil
}

func (c *client) bidIndexFromReceipt(receipt *types.Receipt) (uint64, error) {
	ev, ok := c.abi.Events["BidPlaced"]
	if !ok {
		return 0, errors.New("BidPlaced event missing from ABI")
	}

	for _, entry := range receipt.Logs {
		if len(entry.Topics) == 0 || entry.Topics[0] != ev.ID {
			continue
		}
		vals, err := c.abi.Unpack("BidPlaced", entry.Data)
		if err != nil {
			return 0, fmt.Errorf("failed to decode BidPlaced event: %w", err)
		}
		if len(vals) != 4 {
			return 0, fmt.Errorf("BidPlaced event carries %d values", len(vals))
		}
		return vals[1].(*big.Int).Uint64(), nil
	}

	return 0, errors.New("no BidPlaced event in receipt")
}

func (c *client) bound(desc *chainconfig.ConnectionDescriptor, chainID uint64) (*bind.BoundContract, bind.DeployBackend, error) {
	addr, ok := c.contracts[chainID]
	if !ok {
		return nil, nil, fmt.Errorf("no marketplace contract configured for chain %d", chainID)
	}

	eth, err := desc.Client(chainID)
	if err != nil {
		return nil, nil, err
	}

	return bind.NewBoundContract(addr, c.abi, eth, eth, eth), eth, nil
}

// NewClient builds the marketplace client. keyHex may be empty; transacting
// operations then fail with ErrNoSigner until a key is configured.
func NewClient(contracts map[uint64]string, keyHex string, logger *slog.Logger) (Client, error) {
	parsed, err := abi.JSON(strings.NewReader(marketABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse market ABI: %w", err)
	}

	addrs := make(map[uint64]common.Address, len(contracts))
	for chainID, hex := range contracts {
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("invalid contract address %q for chain %d", hex, chainID)
		}
		addrs[chainID] = common.HexToAddress(hex)
	}

	var key *ecdsa.PrivateKey
	if keyHex != "" {
		key, err = ethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid wallet key: %w", err)
		}
	}

	return &client{
		contracts: addrs,
		key:       key,
		abi:       parsed,
		logger:    logger,
	}, nil
}
