package v1

import (
	"dkey-backend/pkg/models"
)

type ProfileResponse struct {
	Loaded           bool              `json:"loaded"`
	Addresses        map[uint64]string `json:"addresses,omitempty"`
	Username         string            `json:"username,omitempty"`
	Listings         int               `json:"listings"`
	DKeys            int               `json:"dkeys"`
	OpenBids         int               `json:"open_bids"`
	DurableAvailable bool              `json:"durable_available"`
}

type RestoreProfileRequest struct {
	Payload string `json:"payload"`
}

type ConnectWalletRequest struct {
	ChainID uint64 `json:"chain_id"`
	Address string `json:"address"`
}

type UserInfoRequest struct {
	Username       string            `json:"username"`
	DefaultChainID uint64            `json:"default_chain_id"`
	ChainIDs       []uint64          `json:"chain_ids,omitempty"`
	RPCURLs        map[uint64]string `json:"rpc_urls,omitempty"`
	GatewayURL     string            `json:"gateway_url"`
	PinningMethod  string            `json:"pinning_method"`
}

// CreationSession is the externally visible state of one listing creation
// attempt.
type CreationSession struct {
	ID            string `json:"id"`
	Stage         string `json:"stage"`
	FailedStage   string `json:"failed_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	FileName      string `json:"file_name"`
	CoverCID      string `json:"cover_cid,omitempty"`
	CoverLink     string `json:"cover_link,omitempty"`
	DirectoryCID  string `json:"directory_cid,omitempty"`
	ShareURL      string `json:"share_url,omitempty"`
	AwaitingPaste string `json:"awaiting_paste,omitempty"`
}

type PasteCIDRequest struct {
	SessionID string `json:"session_id"`
	ContentID string `json:"content_id"`
}

type BidEntry struct {
	Index      uint64 `json:"index"`
	BidderKeyA string `json:"bidder_key_a"`
	BidderKeyB string `json:"bidder_key_b"`
	Amount     string `json:"amount"`
	Mine       bool   `json:"mine"`
}

// ListingView merges gateway metadata, resolved on-chain details and the
// viewer's capability flags for one displayed listing.
type ListingView struct {
	ViewID    string                 `json:"view_id"`
	ContentID string                 `json:"content_id"`
	ChainID   uint64                 `json:"chain_id"`
	Metadata  models.ListingMetadata `json:"metadata"`

	Seller         string `json:"seller"`
	Price          string `json:"price"`
	UnitsTotal     uint64 `json:"units_total"`
	UnitsSold      uint64 `json:"units_sold"`
	RoyaltyPercent uint8  `json:"royalty_percent"`
	OpenBids       uint64 `json:"open_bids"`

	IsListingOwner string `json:"is_listing_owner"`
	IsDkeyOwner    string `json:"is_dkey_owner"`
	HasOpenBid     string `json:"has_open_bid"`

	Bids                  []BidEntry `json:"bids"`
	LatestBidIndexQueried int64      `json:"latest_bid_index_queried"`
	MoreBids              bool       `json:"more_bids"`
}

type OpenViewRequest struct {
	ContentID string `json:"content_id"`
	ChainID   uint64 `json:"chain_id,omitempty"`
}

type PlaceBidRequest struct {
	ViewID string `json:"view_id"`
	Amount string `json:"amount"`
}

type IncreaseBidRequest struct {
	ViewID string `json:"view_id"`
	Delta  string `json:"delta"`
}

type BidTargetRequest struct {
	ViewID   string `json:"view_id"`
	BidIndex uint64 `json:"bid_index"`
}

// BidActionResponse reports one bid workflow operation. Notice carries the
// informational message of a silent local-state correction after a stale
// pre-flight check.
type BidActionResponse struct {
	TxHash string `json:"tx_hash,omitempty"`
	Notice string `json:"notice,omitempty"`
}
