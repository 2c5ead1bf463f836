package profile

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/ethereum/go-ethereum/crypto"

	"dkey-backend/pkg/chainconfig"
)

type PinningMethod string

const (
	PinningNone  PinningMethod = "none"
	PinningLocal PinningMethod = "local"
)

// ChainPrefs are the per-origin chain preferences feeding the resolver.
type ChainPrefs struct {
	DefaultChainID uint64            `json:"default_chain_id"`
	ChainIDs       []uint64          `json:"chain_ids,omitempty"`
	RPCURLs        map[uint64]string `json:"rpc_urls,omitempty"`
}

func (p ChainPrefs) ResolverPrefs() chainconfig.Prefs {
	return chainconfig.Prefs{
		DefaultChainID: p.DefaultChainID,
		ChainIDs:       p.ChainIDs,
		RPCURLs:        p.RPCURLs,
	}
}

// UserInfo is the per-origin configuration block.
type UserInfo struct {
	Username      string        `json:"username"`
	ChainPrefs    ChainPrefs    `json:"chain_prefs"`
	GatewayURL    string        `json:"gateway_url"`
	PinningMethod PinningMethod `json:"pinning_method"`
}

// ListingSummary is the last-known on-chain state of a listing this profile
// sells. KeyShare is the seller's half of the content key, hex encoded; it is
// handed over when the seller fills a bid.
type ListingSummary struct {
	FileName   string `json:"file_name"`
	ContentID  string `json:"content_id"`
	Price      string `json:"price"`
	UnitsTotal uint64 `json:"units_total"`
	UnitsSold  uint64 `json:"units_sold"`
	OpenBids   uint64 `json:"open_bids"`
	KeyShare   string `json:"key_share,omitempty"`
}

// DKeySummary is a decryption key this profile holds. KeyShare is this
// holder's half of the content key, hex encoded, handed over on resale.
type DKeySummary struct {
	FileName  string `json:"file_name"`
	ContentID string `json:"content_id"`
	Amount    string `json:"amount"`
	KeyShare  string `json:"key_share,omitempty"`
}

// BidSummary is an open bid this profile placed.
type BidSummary struct {
	FileName  string `json:"file_name"`
	ContentID string `json:"content_id"`
	Amount    string `json:"amount"`
	BidIndex  uint64 `json:"bid_index"`
}

// Profile is the single durable root of all state. It is mutated only by
// committing a new snapshot through the session store after each successful
// state-changing operation.
type Profile struct {
	Addresses  map[uint64]string                    `json:"addresses"`
	UserInfo   map[string]UserInfo                  `json:"user_info"`
	MyListings map[uint64]map[string]ListingSummary `json:"my_listings"`
	MyDKeys    map[uint64]map[string]DKeySummary    `json:"my_dkeys"`
	MyOpenBids map[uint64]map[string]BidSummary     `json:"my_open_bids"`

	bidKey *ecdsa.PrivateKey
	desc   *chainconfig.ConnectionDescriptor
}

type snapshot struct {
	Addresses  map[uint64]string                    `json:"addresses"`
	UserInfo   map[string]UserInfo                  `json:"user_info"`
	MyListings map[uint64]map[string]ListingSummary `json:"my_listings"`
	MyDKeys    map[uint64]map[string]DKeySummary    `json:"my_dkeys"`
	MyOpenBids map[uint64]map[string]BidSummary     `json:"my_open_bids"`
	BidKey     string                               `json:"bid_key"`
}

// New creates a fresh profile with empty mappings and a newly generated bid key.
func New(desc *chainconfig.ConnectionDescriptor) (*Profile, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate bid key: %w", err)
	}

	return &Profile{
		Addresses:  make(map[uint64]string),
		UserInfo:   make(map[string]UserInfo),
		MyListings: make(map[uint64]map[string]ListingSummary),
		MyDKeys:    make(map[uint64]map[string]DKeySummary),
		MyOpenBids: make(map[uint64]map[string]BidSummary),
		bidKey:     key,
		desc:       desc,
	}, nil
}

// Serialize renders the profile as one persistable blob.
func (p *Profile) Serialize() (string, error) {
	snap := snapshot{
		Addresses:  p.Addresses,
		UserInfo:   p.UserInfo,
		MyListings: p.MyListings,
		MyDKeys:    p.MyDKeys,
		MyOpenBids: p.MyOpenBids,
		BidKey:     hex.EncodeToString(crypto.FromECDSA(p.bidKey)),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to serialize profile: %w", err)
	}

	return string(data), nil
}

// Deserialize restores a profile from a serialized blob against a connection
// descriptor. Round-tripping reproduces all five mappings.
func Deserialize(text string, desc *chainconfig.ConnectionDescriptor) (*Profile, error) {
	var snap snapshot
	if err := json.Unmarshal([]byte(text), &snap); err != nil {
		return nil, fmt.Errorf("invalid profile blob: %w", err)
	}

	if snap.BidKey == "" {
		return nil, errors.New("profile blob has no bid key")
	}
	keyBytes, err := hex.DecodeString(snap.BidKey)
	if err != nil {
		return nil, fmt.Errorf("invalid bid key encoding: %w", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid bid key: %w", err)
	}

	p := &Profile{
		Addresses:  snap.Addresses,
		UserInfo:   snap.UserInfo,
		MyListings: snap.MyListings,
		MyDKeys:    snap.MyDKeys,
		MyOpenBids: snap.MyOpenBids,
		bidKey:     key,
		desc:       desc,
	}

	if p.Addresses == nil {
		p.Addresses = make(map[uint64]string)
	}
	if p.UserInfo == nil {
		p.UserInfo = make(map[string]UserInfo)
	}
	if p.MyListings == nil {
		p.MyListings = make(map[uint64]map[string]ListingSummary)
	}
	if p.MyDKeys == nil {
		p.MyDKeys = make(map[uint64]map[string]DKeySummary)
	}
	if p.MyOpenBids == nil {
		p.MyOpenBids = make(map[uint64]map[string]BidSummary)
	}

	return p, nil
}

// Clone returns a deep copy sharing the bid key and descriptor. Operations
// mutate a clone and commit it, never the shared snapshot in place.
func (p *Profile) Clone() *Profile {
	cp := &Profile{
		Addresses:  maps.Clone(p.Addresses),
		UserInfo:   maps.Clone(p.UserInfo),
		MyListings: make(map[uint64]map[string]ListingSummary, len(p.MyListings)),
		MyDKeys:    make(map[uint64]map[string]DKeySummary, len(p.MyDKeys)),
		MyOpenBids: make(map[uint64]map[string]BidSummary, len(p.MyOpenBids)),
		bidKey:     p.bidKey,
		desc:       p.desc,
	}
	for chainID, m := range p.MyListings {
		cp.MyListings[chainID] = maps.Clone(m)
	}
	for chainID, m := range p.MyDKeys {
		cp.MyDKeys[chainID] = maps.Clone(m)
	}
	for chainID, m := range p.MyOpenBids {
		cp.MyOpenBids[chainID] = maps.Clone(m)
	}

	return cp
}

// Descriptor returns the connection descriptor this profile was loaded with.
func (p *Profile) Descriptor() *chainconfig.ConnectionDescriptor {
	return p.desc
}

// Address returns the connected wallet address for a chain, if any.
func (p *Profile) Address(chainID uint64) (string, bool) {
	addr, ok := p.Addresses[chainID]
	return addr, ok && addr != ""
}

// BidKeyHalves splits the uncompressed bid public key into the two 32-byte
// values that identify this bidder on chain.
func (p *Profile) BidKeyHalves() ([32]byte, [32]byte) {
	var a, b [32]byte
	pub := crypto.FromECDSAPub(&p.bidKey.PublicKey) // 0x04 || X || Y
	copy(a[:], pub[1:33])
	copy(b[:], pub[33:65])
	return a, b
}

func (p *Profile) IsListingOwner(chainID uint64, contentID string) bool {
	_, ok := p.MyListings[chainID][contentID]
	return ok
}

func (p *Profile) IsDkeyOwner(chainID uint64, contentID string) bool {
	_, ok := p.MyDKeys[chainID][contentID]
	return ok
}

func (p *Profile) HasOpenBid(chainID uint64, contentID string) bool {
	_, ok := p.MyOpenBids[chainID][contentID]
	return ok
}

func (p *Profile) setListing(chainID uint64, s ListingSummary) {
	if p.MyListings[chainID] == nil {
		p.MyListings[chainID] = make(map[string]ListingSummary)
	}
	p.MyListings[chainID][s.ContentID] = s
}

// AddListing records a freshly registered listing.
func (p *Profile) AddListing(chainID uint64, s ListingSummary) {
	p.setListing(chainID, s)
}

// UpdateListing replaces the summary for a listing if present.
func (p *Profile) UpdateListing(chainID uint64, contentID string, update func(ListingSummary) ListingSummary) {
	if s, ok := p.MyListings[chainID][contentID]; ok {
		p.setListing(chainID, update(s))
	}
}

// SetOpenBid records a placed or increased bid. Amount changes are
// replacements, not in-place mutation.
func (p *Profile) SetOpenBid(chainID uint64, s BidSummary) {
	if p.MyOpenBids[chainID] == nil {
		p.MyOpenBids[chainID] = make(map[string]BidSummary)
	}
	p.MyOpenBids[chainID][s.ContentID] = s
}

func (p *Profile) RemoveOpenBid(chainID uint64, contentID string) {
	delete(p.MyOpenBids[chainID], contentID)
}

func (p *Profile) AddDKey(chainID uint64, s DKeySummary) {
	if p.MyDKeys[chainID] == nil {
		p.MyDKeys[chainID] = make(map[string]DKeySummary)
	}
	p.MyDKeys[chainID][s.ContentID] = s
}

func (p *Profile) RemoveDKey(chainID uint64, contentID string) {
	delete(p.MyDKeys[chainID], contentID)
}
