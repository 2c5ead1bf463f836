package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// NotOpenSentinel is the reserved amount value the contract reports for a
// bid slot that is no longer open. Compared by equality during pre-flight.
var NotOpenSentinel = math.MaxBig256

// ListingDetails is the resolved on-chain state of one listing.
type ListingDetails struct {
	Seller         common.Address
	PriceWei       *big.Int
	UnitsTotal     uint64
	UnitsSold      uint64
	RoyaltyPercent uint8
	OpenBids       uint64
}

// Bid is one on-chain bid slot. Bidders are identified by the two halves of
// their bid public key rather than a wallet address.
type Bid struct {
	BidderKeyA [32]byte
	BidderKeyB [32]byte
	AmountWei  *big.Int
}

// Open reports whether the slot still holds a funded bid.
func (b *Bid) Open() bool {
	if b.AmountWei == nil || b.AmountWei.Sign() == 0 {
		return false
	}
	return b.AmountWei.Cmp(NotOpenSentinel) != 0
}

// CreateListingParams carries everything the registration call needs.
type CreateListingParams struct {
	ContentID      string
	KeyShare       [32]byte
	Units          uint64
	PriceWei       *big.Int
	RoyaltyPercent uint8
}
