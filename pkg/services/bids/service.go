package bids

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/cockroachdb/apd/v3"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/clients/market"
	"dkey-backend/pkg/models"
	v1 "dkey-backend/pkg/models/api/v1"
	"dkey-backend/pkg/profile"
	"dkey-backend/pkg/services/views"
	"dkey-backend/pkg/utils"
)

// Bids below this floor are rejected locally, before any network call.
var minBidAmount = apd.New(1, -6)

const staleBidNotice = "bid is no longer open"

type sessionStore interface {
	Current() *profile.Profile
	Commit(ctx context.Context, p *profile.Profile) error
}

type chainResolver interface {
	Resolve(prefs chainconfig.Prefs) *chainconfig.ConnectionDescriptor
}

type marketClient interface {
	GetBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64) (*market.Bid, error)
	MakeBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, keyA, keyB [32]byte, amountWei *big.Int) (uint64, string, error)
	UpdateBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64, deltaWei *big.Int) (string, error)
	ReclaimBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64) (string, error)
	FillBid(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64, keyShare [32]byte) (string, error)
	SellDkey(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, contentID string, bidIndex uint64, keyShare [32]byte) (string, error)
}

type viewsService interface {
	Ref(viewID string) (views.ViewRef, error)
	BidPlaced(viewID string)
	BidRemoved(viewID string, bidIndex uint64)
	BidFilled(viewID string, bidIndex uint64)
	RefreshCapabilities(viewID string)
}

// Service runs the bid workflow against an open listing view. Every operation
// commits the updated profile on success and leaves it untouched on failure;
// none of them retries on its own.
type Service interface {
	Place(ctx context.Context, viewID, amount string) (*v1.BidActionResponse, error)
	Increase(ctx context.Context, viewID, delta string) (*v1.BidActionResponse, error)
	Reclaim(ctx context.Context, viewID string) (*v1.BidActionResponse, error)
	FillByOwner(ctx context.Context, viewID string, bidIndex uint64) (*v1.BidActionResponse, error)
	FillByHolder(ctx context.Context, viewID string, bidIndex uint64) (*v1.BidActionResponse, error)
}

type service struct {
	mu       sync.Mutex
	inFlight map[string]struct{}

	store    sessionStore
	resolver chainResolver
	market   marketClient
	views    viewsService

	origin string
	logger *slog.Logger
}

type callContext struct {
	prof *profile.Profile
	desc *chainconfig.ConnectionDescriptor
	ref  views.ViewRef
	addr string
}

// Place submits a new bid identified by the profile's bid key pair. The slot
// index assigned by the contract is recorded so the bid can later be increased
// or reclaimed.
func (s *service) Place(ctx context.Context, viewID, amount string) (*v1.BidActionResponse, error) {
	log := s.logger.With(slog.String("method", "Place"), slog.String("view", viewID))

	release, err := s.acquire("bid placement")
	if err != nil {
		return nil, err
	}
	defer release()

	wei, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}

	cc, err := s.prelude(viewID)
	if err != nil {
		return nil, err
	}
	if cc.prof.HasOpenBid(cc.ref.ChainID, cc.ref.ContentID) {
		return nil, models.NewAppError(models.ConflictErrorCode, "profile already has an open bid on this listing")
	}

	keyA, keyB := cc.prof.BidKeyHalves()
	bidIndex, txHash, err := s.market.MakeBid(ctx, cc.desc, cc.ref.ChainID, cc.ref.ContentID, keyA, keyB, wei)
	if err != nil {
		return nil, models.NewNetworkError("failed to place bid", err)
	}

	next := cc.prof.Clone()
	next.SetOpenBid(cc.ref.ChainID, profile.BidSummary{
		FileName:  cc.ref.FileName,
		ContentID: cc.ref.ContentID,
		Amount:    trimmedText(amount),
		BidIndex:  bidIndex,
	})
	if err := s.store.Commit(ctx, next); err != nil {
		return nil, err
	}

	s.views.BidPlaced(viewID)
	log.Info("bid placed", slog.Uint64("bid_index", bidIndex), slog.String("tx", txHash))

	return &v1.BidActionResponse{TxHash: txHash}, nil
}

// Increase adds delta on top of the profile's open bid. The delta is
// additive, not a replacement price, and obeys the same minimum as a fresh
// bid.
func (s *service) Increase(ctx context.Context, viewID, delta string) (*v1.BidActionResponse, error) {
	log := s.logger.With(slog.String("method", "Increase"), slog.String("view", viewID))

	release, err := s.acquire("bid increase")
	if err != nil {
		return nil, err
	}
	defer release()

	wei, err := parseAmount(delta)
	if err != nil {
		return nil, err
	}

	cc, err := s.prelude(viewID)
	if err != nil {
		return nil, err
	}
	summary, ok := cc.prof.MyOpenBids[cc.ref.ChainID][cc.ref.ContentID]
	if !ok {
		return nil, models.NewAppError(models.ConflictErrorCode, "profile has no open bid to increase")
	}

	txHash, err := s.market.UpdateBid(ctx, cc.desc, cc.ref.ChainID, cc.ref.ContentID, summary.BidIndex, wei)
	if err != nil {
		return nil, models.NewNetworkError("failed to increase bid", err)
	}

	summary.Amount, err = addAmounts(summary.Amount, delta)
	if err != nil {
		return nil, err
	}

	next := cc.prof.Clone()
	next.SetOpenBid(cc.ref.ChainID, summary)
	if err := s.store.Commit(ctx, next); err != nil {
		return nil, err
	}

	s.views.RefreshCapabilities(viewID)
	log.Info("bid increased", slog.Uint64("bid_index", summary.BidIndex), slog.String("tx", txHash))

	return &v1.BidActionResponse{TxHash: txHash}, nil
}

// Reclaim withdraws the profile's open bid.
func (s *service) Reclaim(ctx context.Context, viewID string) (*v1.BidActionResponse, error) {
	log := s.logger.With(slog.String("method", "Reclaim"), slog.String("view", viewID))

	release, err := s.acquire("bid reclaim")
	if err != nil {
		return nil, err
	}
	defer release()

	cc, err := s.prelude(viewID)
	if err != nil {
		return nil, err
	}
	summary, ok := cc.prof.MyOpenBids[cc.ref.ChainID][cc.ref.ContentID]
	if !ok {
		return nil, models.NewAppError(models.ConflictErrorCode, "profile has no open bid to reclaim")
	}

	txHash, err := s.market.ReclaimBid(ctx, cc.desc, cc.ref.ChainID, cc.ref.ContentID, summary.BidIndex)
	if err != nil {
		return nil, models.NewNetworkError("failed to reclaim bid", err)
	}

	next := cc.prof.Clone()
	next.RemoveOpenBid(cc.ref.ChainID, cc.ref.ContentID)
	if err := s.store.Commit(ctx, next); err != nil {
		return nil, err
	}

	s.views.BidRemoved(viewID, summary.BidIndex)
	log.Info("bid reclaimed", slog.Uint64("bid_index", summary.BidIndex), slog.String("tx", txHash))

	return &v1.BidActionResponse{TxHash: txHash}, nil
}

// FillByOwner accepts a buyer's bid as the seller, releasing the seller's key
// share to the buyer.
func (s *service) FillByOwner(ctx context.Context, viewID string, bidIndex uint64) (*v1.BidActionResponse, error) {
	return s.fill(ctx, viewID, bidIndex, false)
}

// FillByHolder accepts a buyer's bid as a current key holder on resale,
// transferring the holder's key share.
func (s *service) FillByHolder(ctx context.Context, viewID string, bidIndex uint64) (*v1.BidActionResponse, error) {
	return s.fill(ctx, viewID, bidIndex, true)
}

func (s *service) fill(ctx context.Context, viewID string, bidIndex uint64, byHolder bool) (*v1.BidActionResponse, error) {
	log := s.logger.With(slog.String("method", "fill"), slog.String("view", viewID), slog.Uint64("bid_index", bidIndex))

	release, err := s.acquire(fmt.Sprintf("fill of bid %d", bidIndex))
	if err != nil {
		return nil, err
	}
	defer release()

	cc, err := s.prelude(viewID)
	if err != nil {
		return nil, err
	}

	var shareHex string
	if byHolder {
		dkey, ok := cc.prof.MyDKeys[cc.ref.ChainID][cc.ref.ContentID]
		if !ok {
			return nil, models.NewAppError(models.ConflictErrorCode, "profile holds no key for this listing")
		}
		shareHex = dkey.KeyShare
	} else {
		listing, ok := cc.prof.MyListings[cc.ref.ChainID][cc.ref.ContentID]
		if !ok {
			return nil, models.NewAppError(models.ConflictErrorCode, "profile does not sell this listing")
		}
		shareHex = listing.KeyShare
	}

	share, err := decodeShare(shareHex)
	if err != nil {
		return nil, err
	}

	// Pre-flight: confirm the bid is still funded before anything mutates.
	bid, err := s.market.GetBid(ctx, cc.desc, cc.ref.ChainID, cc.ref.ContentID, bidIndex)
	if err != nil {
		return nil, models.NewNetworkError("bid status check failed", err)
	}
	if !bid.Open() {
		s.views.BidRemoved(viewID, bidIndex)
		log.Info("stale bid dropped from local state")
		return &v1.BidActionResponse{Notice: staleBidNotice}, nil
	}

	var txHash string
	if byHolder {
		txHash, err = s.market.SellDkey(ctx, cc.desc, cc.ref.ChainID, cc.ref.ContentID, bidIndex, share)
	} else {
		txHash, err = s.market.FillBid(ctx, cc.desc, cc.ref.ChainID, cc.ref.ContentID, bidIndex, share)
	}
	if err != nil {
		return nil, models.NewNetworkError("failed to fill bid", err)
	}

	next := cc.prof.Clone()
	if byHolder {
		next.RemoveDKey(cc.ref.ChainID, cc.ref.ContentID)
	} else {
		next.UpdateListing(cc.ref.ChainID, cc.ref.ContentID, func(l profile.ListingSummary) profile.ListingSummary {
			l.UnitsSold++
			if l.OpenBids > 0 {
				l.OpenBids--
			}
			return l
		})
	}
	if err := s.store.Commit(ctx, next); err != nil {
		return nil, err
	}

	s.views.BidFilled(viewID, bidIndex)
	log.Info("bid filled", slog.Bool("by_holder", byHolder), slog.String("tx", txHash))

	return &v1.BidActionResponse{TxHash: txHash}, nil
}

// prelude resolves everything every operation needs: the open view, the
// current profile, the connection descriptor, and a connected wallet.
func (s *service) prelude(viewID string) (*callContext, error) {
	ref, err := s.views.Ref(viewID)
	if err != nil {
		return nil, err
	}

	prof := s.store.Current()
	if prof == nil {
		return nil, models.NewPreconditionError("create or restore a profile first")
	}

	addr, ok := prof.Address(ref.ChainID)
	if !ok {
		return nil, models.NewPreconditionError(fmt.Sprintf("connect a wallet for chain %d first", ref.ChainID))
	}

	return &callContext{
		prof: prof,
		desc: s.resolver.Resolve(prof.UserInfo[s.origin].ChainPrefs.ResolverPrefs()),
		ref:  ref,
		addr: addr,
	}, nil
}

func (s *service) acquire(action string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[action]; busy {
		return nil, models.NewBusyError(action)
	}
	s.inFlight[action] = struct{}{}

	return func() {
		s.mu.Lock()
		delete(s.inFlight, action)
		s.mu.Unlock()
	}, nil
}

func parseAmount(text string) (*big.Int, error) {
	amount, _, err := apd.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return nil, models.NewValidationError("bid amount is not a valid number")
	}
	if amount.Cmp(minBidAmount) < 0 {
		return nil, models.NewValidationError("bid amount must be at least 0.000001")
	}

	wei, err := market.EtherToWei(amount)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	return wei, nil
}

func addAmounts(current, delta string) (string, error) {
	a, _, err := apd.NewFromString(current)
	if err != nil {
		a = apd.New(0, 0)
	}
	d, _, err := apd.NewFromString(strings.TrimSpace(delta))
	if err != nil {
		return "", models.NewValidationError("bid amount is not a valid number")
	}

	var sum apd.Decimal
	if _, err := apd.BaseContext.WithPrecision(40).Add(&sum, a, d); err != nil {
		return "", fmt.Errorf("failed to add bid amounts: %w", err)
	}

	return sum.Text('f'), nil
}

func decodeShare(shareHex string) ([32]byte, error) {
	var share [32]byte
	raw, err := utils.ToHashBytes(shareHex)
	if err != nil {
		return share, models.NewAppError(models.InternalServerErrorCode, "key share unavailable for this listing")
	}
	copy(share[:], raw)
	return share, nil
}

func trimmedText(amount string) string {
	d, _, err := apd.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return strings.TrimSpace(amount)
	}
	return d.Text('f')
}

func NewService(store sessionStore, resolver chainResolver, marketC marketClient, viewsS viewsService, origin string, logger *slog.Logger) Service {
	return &service{
		inFlight: make(map[string]struct{}),
		store:    store,
		resolver: resolver,
		market:   marketC,
		views:    viewsS,
		origin:   origin,
		logger:   logger,
	}
}
