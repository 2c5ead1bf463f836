package views

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/clients/market"
	"dkey-backend/pkg/clients/pinner"
	"dkey-backend/pkg/models"
	v1 "dkey-backend/pkg/models/api/v1"
	"dkey-backend/pkg/profile"
)

const bidPageSize = 20

// Capability is a tri-state viewer flag. A failed or unanswerable query is
// reported as unknown instead of being collapsed to no.
type Capability string

const (
	CapUnknown Capability = "unknown"
	CapYes     Capability = "yes"
	CapNo      Capability = "no"
)

// ViewRef identifies the listing an open view is bound to.
type ViewRef struct {
	ID        string
	ContentID string
	ChainID   uint64
	FileName  string
}

// ErrStaleView marks a response that arrived after the view it was fetched
// for changed or closed. The response is discarded, never applied.
var ErrStaleView = errors.New("view changed, response discarded")

type sessionStore interface {
	Current() *profile.Profile
}

type chainResolver interface {
	Resolve(prefs chainconfig.Prefs) *chainconfig.ConnectionDescriptor
}

type marketReader interface {
	GetListing(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string) (*market.ListingDetails, error)
	GetBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64) (*market.Bid, error)
}

type gatewayClient interface {
	Fetch(ctx context.Context, gatewayURL, contentID, path string) ([]byte, error)
}

// Service synchronizes listing views: gateway metadata plus resolved on-chain
// details plus the viewer's capability flags, with incremental bid loading.
type Service interface {
	Open(ctx context.Context, contentID string, preferredChainID uint64) (*v1.ListingView, error)
	LoadMoreBids(ctx context.Context, viewID string) (*v1.ListingView, error)
	View(viewID string) (*v1.ListingView, error)
	Close(viewID string)

	Ref(viewID string) (ViewRef, error)
	BidPlaced(viewID string)
	BidRemoved(viewID string, bidIndex uint64)
	BidFilled(viewID string, bidIndex uint64)
	RefreshCapabilities(viewID string)
}

type bidEntry struct {
	index  uint64
	keyA   [32]byte
	keyB   [32]byte
	amount *big.Int
}

type view struct {
	id        string
	contentID string
	chainID   uint64
	metadata  models.ListingMetadata
	chainIDs  []uint64

	details *market.ListingDetails
	bids    []bidEntry
	cursor  int64

	capOwner Capability
	capDkey  Capability
	capBid   Capability

	gen uint64
}

type service struct {
	mu    sync.Mutex
	views map[string]*view

	store    sessionStore
	resolver chainResolver
	market   marketReader
	gateway  gatewayClient

	origin string
	logger *slog.Logger
}

// Open fetches metadata from the content gateway, resolves on-chain details on
// the display chain and computes the viewer's capabilities. A preferred chain
// id reorders the display chain list locally; the metadata itself is kept as
// published.
func (s *service) Open(ctx context.Context, contentID string, preferredChainID uint64) (*v1.ListingView, error) {
	log := s.logger.With(slog.String("method", "Open"), slog.String("content_id", contentID))

	contentID = strings.TrimSpace(contentID)
	if err := pinner.ValidateCID(contentID); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	prof := s.store.Current()
	if prof == nil {
		return nil, models.NewPreconditionError("create or restore a profile first")
	}
	info := prof.UserInfo[s.origin]
	desc := s.resolver.Resolve(info.ChainPrefs.ResolverPrefs())

	blob, err := s.gateway.Fetch(ctx, info.GatewayURL, contentID, models.MetadataFileName)
	if err != nil {
		if errors.Is(err, pinner.ErrNotFound) {
			return nil, models.NewAppError(models.NotFoundErrorCode, "listing metadata not found on gateway")
		}
		return nil, models.NewNetworkError("failed to fetch listing metadata", err)
	}

	var meta models.ListingMetadata
	if err := json.Unmarshal(blob, &meta); err != nil {
		return nil, models.NewNetworkError("gateway returned malformed metadata", err)
	}

	chainIDs := displayChains(meta.ChainIDs, preferredChainID, desc.DefaultChainID)
	chainID := chainIDs[0]

	details, err := s.market.GetListing(ctx, desc, chainID, contentID)
	if err != nil {
		return nil, models.NewNetworkError(fmt.Sprintf("failed to resolve listing on chain %d", chainID), err)
	}

	id, err := uuid.NewV6()
	if err != nil {
		return nil, fmt.Errorf("failed to generate view id: %w", err)
	}

	v := &view{
		id:        id.String(),
		contentID: contentID,
		chainID:   chainID,
		metadata:  meta,
		chainIDs:  chainIDs,
		details:   details,
		cursor:    -1,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.computeCapabilities(v)
	s.views[v.id] = v

	log.Info("listing view opened", slog.Uint64("chain_id", chainID), slog.Uint64("open_bids", details.OpenBids))

	return s.render(v), nil
}

// LoadMoreBids fetches the next batch of bids above the cursor, at most 20 at
// a time. The cursor advances by the number of entries actually fetched, so a
// short read just shrinks the step. A view that changed while the batch was in
// flight discards the whole response.
func (s *service) LoadMoreBids(ctx context.Context, viewID string) (*v1.ListingView, error) {
	s.mu.Lock()
	v, ok := s.views[viewID]
	if !ok {
		s.mu.Unlock()
		return nil, models.NewAppError(models.NotFoundErrorCode, "no such listing view")
	}
	gen := v.gen
	contentID, chainID := v.contentID, v.chainID
	fetched := v.cursor + 1
	total := int64(v.details.OpenBids)
	s.mu.Unlock()

	remaining := total - fetched
	if remaining <= 0 {
		return s.View(viewID)
	}
	batch := min(int64(bidPageSize), remaining)

	prof := s.store.Current()
	if prof == nil {
		return nil, models.NewPreconditionError("create or restore a profile first")
	}
	desc := s.resolver.Resolve(prof.UserInfo[s.origin].ChainPrefs.ResolverPrefs())

	// On-chain bid ordering is 1-indexed.
	var entries []bidEntry
	for i := int64(1); i <= batch; i++ {
		idx := uint64(fetched + i)
		bid, err := s.market.GetBid(ctx, desc, chainID, contentID, idx)
		if err != nil {
			if len(entries) == 0 {
				return nil, models.NewNetworkError("failed to fetch bids", err)
			}
			s.logger.Warn("bid batch cut short",
				slog.String("view", viewID), slog.Uint64("index", idx), slog.String("error", err.Error()))
			break
		}
		entries = append(entries, bidEntry{
			index:  idx,
			keyA:   bid.BidderKeyA,
			keyB:   bid.BidderKeyB,
			amount: bid.AmountWei,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.views[viewID]
	if !ok || current != v || current.gen != gen {
		return nil, ErrStaleView
	}

	for _, e := range entries {
		open := market.Bid{AmountWei: e.amount}
		if (&open).Open() {
			v.bids = append(v.bids, e)
		}
	}
	v.cursor += int64(len(entries))
	v.gen++

	return s.render(v), nil
}

func (s *service) View(viewID string) (*v1.ListingView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[viewID]
	if !ok {
		return nil, models.NewAppError(models.NotFoundErrorCode, "no such listing view")
	}

	return s.render(v), nil
}

func (s *service) Close(viewID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, viewID)
}

func (s *service) Ref(viewID string) (ViewRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[viewID]
	if !ok {
		return ViewRef{}, models.NewAppError(models.NotFoundErrorCode, "no such listing view")
	}

	return ViewRef{ID: v.id, ContentID: v.contentID, ChainID: v.chainID, FileName: v.metadata.FileName}, nil
}

// RefreshCapabilities recomputes the viewer flags after a profile change that
// does not touch the bid list, e.g. a bid increase.
func (s *service) RefreshCapabilities(viewID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[viewID]
	if !ok {
		return
	}

	s.computeCapabilities(v)
	v.gen++
}

// BidPlaced bumps the open-bid counter optimistically after the viewer's own
// bid lands. The counter is corrected on the next full refresh.
func (s *service) BidPlaced(viewID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[viewID]
	if !ok {
		return
	}

	v.details.OpenBids++
	s.computeCapabilities(v)
	v.gen++
}

// BidRemoved drops a bid from the local list after a reclaim or a stale
// pre-flight result.
func (s *service) BidRemoved(viewID string, bidIndex uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[viewID]
	if !ok {
		return
	}

	s.dropBid(v, bidIndex)
	s.computeCapabilities(v)
	v.gen++
}

// BidFilled drops a filled bid and moves one unit from open to sold.
func (s *service) BidFilled(viewID string, bidIndex uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[viewID]
	if !ok {
		return
	}

	s.dropBid(v, bidIndex)
	v.details.UnitsSold++
	s.computeCapabilities(v)
	v.gen++
}

func (s *service) dropBid(v *view, bidIndex uint64) {
	v.bids = slices.DeleteFunc(v.bids, func(e bidEntry) bool {
		return e.index == bidIndex
	})
	if v.details.OpenBids > 0 {
		v.details.OpenBids--
	}
}

// computeCapabilities derives the three viewer flags. Queries that cannot be
// answered degrade to unknown, never to a propagated error. Callers hold the
// lock.
func (s *service) computeCapabilities(v *view) {
	prof := s.store.Current()
	if prof == nil {
		v.capOwner, v.capDkey, v.capBid = CapUnknown, CapUnknown, CapUnknown
		return
	}

	v.capOwner = boolCap(prof.IsListingOwner(v.chainID, v.contentID))
	if v.capOwner == CapNo {
		// The profile may not track a listing registered elsewhere; the
		// on-chain seller address is the fallback check.
		if addr, ok := prof.Address(v.chainID); ok {
			v.capOwner = boolCap(strings.EqualFold(addr, v.details.Seller.Hex()))
		} else {
			v.capOwner = CapUnknown
		}
	}

	v.capDkey = boolCap(prof.IsDkeyOwner(v.chainID, v.contentID))
	v.capBid = boolCap(prof.HasOpenBid(v.chainID, v.contentID))
}

func boolCap(b bool) Capability {
	if b {
		return CapYes
	}
	return CapNo
}

func (s *service) render(v *view) *v1.ListingView {
	out := &v1.ListingView{
		ViewID:                v.id,
		ContentID:             v.contentID,
		ChainID:               v.chainID,
		Metadata:              v.metadata,
		Seller:                v.details.Seller.Hex(),
		Price:                 market.WeiToEther(v.details.PriceWei).Text('f'),
		UnitsTotal:            v.details.UnitsTotal,
		UnitsSold:             v.details.UnitsSold,
		RoyaltyPercent:        v.details.RoyaltyPercent,
		OpenBids:              v.details.OpenBids,
		IsListingOwner:        string(v.capOwner),
		IsDkeyOwner:           string(v.capDkey),
		HasOpenBid:            string(v.capBid),
		Bids:                  make([]v1.BidEntry, 0, len(v.bids)),
		LatestBidIndexQueried: v.cursor,
		MoreBids:              v.cursor+1 < int64(v.details.OpenBids),
	}

	var myA, myB [32]byte
	if prof := s.store.Current(); prof != nil {
		myA, myB = prof.BidKeyHalves()
	}

	for _, e := range v.bids {
		out.Bids = append(out.Bids, v1.BidEntry{
			Index:      e.index,
			BidderKeyA: hex.EncodeToString(e.keyA[:]),
			BidderKeyB: hex.EncodeToString(e.keyB[:]),
			Amount:     market.WeiToEther(e.amount).Text('f'),
			Mine:       e.keyA == myA && e.keyB == myB,
		})
	}

	return out
}

// displayChains reorders the published chain list so the canonical display
// chain comes first. The published metadata is never modified.
func displayChains(published []uint64, preferred, fallback uint64) []uint64 {
	chains := slices.Clone(published)
	if len(chains) == 0 {
		if preferred != 0 {
			return []uint64{preferred}
		}
		return []uint64{fallback}
	}

	front := preferred
	if front == 0 || !slices.Contains(chains, front) {
		if slices.Contains(chains, fallback) {
			front = fallback
		} else {
			return chains
		}
	}

	if i := slices.Index(chains, front); i > 0 {
		chains = append([]uint64{front}, slices.Delete(chains, i, i+1)...)
	}

	return chains
}

func NewService(store sessionStore, resolver chainResolver, marketC marketReader, gateway gatewayClient, origin string, logger *slog.Logger) Service {
	return &service{
		views:    make(map[string]*view),
		store:    store,
		resolver: resolver,
		market:   marketC,
		gateway:  gateway,
		origin:   origin,
		logger:   logger,
	}
}
