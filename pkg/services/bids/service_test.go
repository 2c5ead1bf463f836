package bids

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/clients/market"
	"dkey-backend/pkg/models"
	"dkey-backend/pkg/profile"
	"dkey-backend/pkg/services/views"
)

const (
	testOrigin = "dkey.example"
	testViewer = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	testCID    = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
	testViewID = "view-1"
)

type fakeStore struct {
	current *profile.Profile
	commits int
}

func (f *fakeStore) Current() *profile.Profile { return f.current }

func (f *fakeStore) Commit(_ context.Context, p *profile.Profile) error {
	f.current = p
	f.commits++
	return nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(chainconfig.Prefs) *chainconfig.ConnectionDescriptor {
	return &chainconfig.ConnectionDescriptor{DefaultChainID: 1, ChainIDs: []uint64{1}}
}

type fakeMarket struct {
	bid    *market.Bid
	bidErr error

	makeBidIndex uint64
	makeBidErr   error
	onMakeBid    func()

	makeCalls    int
	updateCalls  int
	reclaimCalls int
	fillCalls    int
	sellCalls    int

	lastAmount *big.Int
	lastIndex  uint64
	lastShare  [32]byte
}

func (f *fakeMarket) GetBid(context.Context, *chainconfig.ConnectionDescriptor, uint64, string, uint64) (*market.Bid, error) {
	return f.bid, f.bidErr
}

func (f *fakeMarket) MakeBid(_ context.Context, _ *chainconfig.ConnectionDescriptor, _ uint64, _ string, _, _ [32]byte, amountWei *big.Int) (uint64, string, error) {
	f.makeCalls++
	f.lastAmount = amountWei
	if f.onMakeBid != nil {
		f.onMakeBid()
	}
	if f.makeBidErr != nil {
		return 0, "", f.makeBidErr
	}
	return f.makeBidIndex, "0xbeef", nil
}

func (f *fakeMarket) UpdateBid(_ context.Context, _ *chainconfig.ConnectionDescriptor, _ uint64, _ string, bidIndex uint64, deltaWei *big.Int) (string, error) {
	f.updateCalls++
	f.lastIndex = bidIndex
	f.lastAmount = deltaWei
	return "0xbeef", nil
}

func (f *fakeMarket) ReclaimBid(_ context.Context, _ *chainconfig.ConnectionDescriptor, _ uint64, _ string, bidIndex uint64) (string, error) {
	f.reclaimCalls++
	f.lastIndex = bidIndex
	return "0xbeef", nil
}

func (f *fakeMarket) FillBid(_ context.Context, _ *chainconfig.ConnectionDescriptor, _ uint64, _ string, bidIndex uint64, keyShare [32]byte) (string, error) {
	f.fillCalls++
	f.lastIndex = bidIndex
	f.lastShare = keyShare
	return "0xbeef", nil
}

func (f *fakeMarket) SellDkey(_ context.Context, _ *chainconfig.ConnectionDescriptor, _ uint64, _ string, bidIndex uint64, keyShare [32]byte) (string, error) {
	f.sellCalls++
	f.lastIndex = bidIndex
	f.lastShare = keyShare
	return "0xbeef", nil
}

type fakeViews struct {
	refErr    error
	placed    int
	removed   []uint64
	filled    []uint64
	refreshed int
}

func (f *fakeViews) Ref(viewID string) (views.ViewRef, error) {
	if f.refErr != nil {
		return views.ViewRef{}, f.refErr
	}
	return views.ViewRef{ID: viewID, ContentID: testCID, ChainID: 1, FileName: "track.flac"}, nil
}

func (f *fakeViews) BidPlaced(string)                      { f.placed++ }
func (f *fakeViews) BidRemoved(_ string, bidIndex uint64)  { f.removed = append(f.removed, bidIndex) }
func (f *fakeViews) BidFilled(_ string, bidIndex uint64)   { f.filled = append(f.filled, bidIndex) }
func (f *fakeViews) RefreshCapabilities(string)            { f.refreshed++ }

type testRig struct {
	svc    Service
	store  *fakeStore
	market *fakeMarket
	views  *fakeViews
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	p, err := profile.New(nil)
	require.NoError(t, err)
	p.Addresses[1] = testViewer

	rig := &testRig{
		store:  &fakeStore{current: p},
		market: &fakeMarket{makeBidIndex: 7},
		views:  &fakeViews{},
	}
	rig.svc = NewService(rig.store, fakeResolver{}, rig.market, rig.views, testOrigin, slog.Default())

	return rig
}

func TestPlaceBelowMinimumRejectedLocally(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.svc.Place(context.Background(), testViewID, "0.0000005")
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.BadRequestErrorCode, appErr.Code)

	assert.Zero(t, rig.market.makeCalls)
	assert.Zero(t, rig.store.commits)
}

func TestPlaceRecordsAssignedBidIndex(t *testing.T) {
	rig := newTestRig(t)

	res, err := rig.svc.Place(context.Background(), testViewID, "0.002")
	require.NoError(t, err)
	assert.Equal(t, "0xbeef", res.TxHash)

	assert.Equal(t, "2000000000000000", rig.market.lastAmount.String())
	assert.Equal(t, 1, rig.views.placed)
	assert.Equal(t, 1, rig.store.commits)

	summary := rig.store.current.MyOpenBids[1][testCID]
	assert.Equal(t, uint64(7), summary.BidIndex)
	assert.Equal(t, "0.002", summary.Amount)
	assert.Equal(t, "track.flac", summary.FileName)
}

func TestPlaceRequiresWallet(t *testing.T) {
	rig := newTestRig(t)
	delete(rig.store.current.Addresses, 1)

	_, err := rig.svc.Place(context.Background(), testViewID, "0.002")
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.WalletRequiredErrorCode, appErr.Code)
	assert.Zero(t, rig.market.makeCalls)
}

func TestPlaceRejectsSecondOpenBid(t *testing.T) {
	rig := newTestRig(t)
	rig.store.current.SetOpenBid(1, profile.BidSummary{ContentID: testCID, BidIndex: 2, Amount: "0.001"})

	_, err := rig.svc.Place(context.Background(), testViewID, "0.002")
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ConflictErrorCode, appErr.Code)
	assert.Zero(t, rig.market.makeCalls)
}

func TestPlaceFailureLeavesProfileUntouched(t *testing.T) {
	rig := newTestRig(t)
	rig.market.makeBidErr = errors.New("rpc: insufficient funds")

	_, err := rig.svc.Place(context.Background(), testViewID, "0.002")
	require.Error(t, err)

	assert.Zero(t, rig.store.commits)
	assert.False(t, rig.store.current.HasOpenBid(1, testCID))
	assert.Zero(t, rig.views.placed)
}

func TestDoubleInvocationRejected(t *testing.T) {
	rig := newTestRig(t)

	var reentrantErr error
	rig.market.onMakeBid = func() {
		_, reentrantErr = rig.svc.Place(context.Background(), testViewID, "0.003")
	}

	_, err := rig.svc.Place(context.Background(), testViewID, "0.002")
	require.NoError(t, err)

	var appErr *models.AppError
	require.ErrorAs(t, reentrantErr, &appErr)
	assert.Equal(t, models.ConflictErrorCode, appErr.Code)
	assert.Equal(t, 1, rig.market.makeCalls)
}

func TestIncreaseAddsDelta(t *testing.T) {
	rig := newTestRig(t)
	rig.store.current.SetOpenBid(1, profile.BidSummary{ContentID: testCID, BidIndex: 4, Amount: "0.002"})

	_, err := rig.svc.Increase(context.Background(), testViewID, "0.001")
	require.NoError(t, err)

	assert.Equal(t, 1, rig.market.updateCalls)
	assert.Equal(t, uint64(4), rig.market.lastIndex)
	assert.Equal(t, "1000000000000000", rig.market.lastAmount.String())

	summary := rig.store.current.MyOpenBids[1][testCID]
	assert.Equal(t, "0.003", summary.Amount)
	assert.Equal(t, 1, rig.views.refreshed)
}

func TestIncreaseWithoutOpenBidRejected(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.svc.Increase(context.Background(), testViewID, "0.001")
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ConflictErrorCode, appErr.Code)
	assert.Zero(t, rig.market.updateCalls)
}

func TestReclaimRemovesOpenBid(t *testing.T) {
	rig := newTestRig(t)
	rig.store.current.SetOpenBid(1, profile.BidSummary{ContentID: testCID, BidIndex: 9, Amount: "0.002"})

	_, err := rig.svc.Reclaim(context.Background(), testViewID)
	require.NoError(t, err)

	assert.Equal(t, 1, rig.market.reclaimCalls)
	assert.Equal(t, uint64(9), rig.market.lastIndex)
	assert.False(t, rig.store.current.HasOpenBid(1, testCID))
	assert.Equal(t, []uint64{9}, rig.views.removed)
}

func sellerShare() (string, [32]byte) {
	var share [32]byte
	for i := range share {
		share[i] = byte(i)
	}
	return hex.EncodeToString(share[:]), share
}

func TestFillPreflightDropsStaleBidWithoutMutating(t *testing.T) {
	for name, amount := range map[string]*big.Int{
		"zero amount": big.NewInt(0),
		"sentinel":    new(big.Int).Set(market.NotOpenSentinel),
	} {
		t.Run(name, func(t *testing.T) {
			rig := newTestRig(t)
			shareHex, _ := sellerShare()
			rig.store.current.AddListing(1, profile.ListingSummary{ContentID: testCID, KeyShare: shareHex, UnitsTotal: 3, OpenBids: 1})
			rig.market.bid = &market.Bid{AmountWei: amount}

			res, err := rig.svc.FillByOwner(context.Background(), testViewID, 3)
			require.NoError(t, err)
			assert.Equal(t, staleBidNotice, res.Notice)
			assert.Empty(t, res.TxHash)

			// The stale bid is corrected locally; nothing on chain is touched.
			assert.Zero(t, rig.market.fillCalls)
			assert.Zero(t, rig.market.sellCalls)
			assert.Zero(t, rig.store.commits)
			assert.Equal(t, []uint64{3}, rig.views.removed)
		})
	}
}

func TestFillByOwnerHandsOverKeyShare(t *testing.T) {
	rig := newTestRig(t)
	shareHex, share := sellerShare()
	rig.store.current.AddListing(1, profile.ListingSummary{ContentID: testCID, KeyShare: shareHex, UnitsTotal: 3, OpenBids: 2})
	rig.market.bid = &market.Bid{AmountWei: big.NewInt(2_000_000_000_000)}

	res, err := rig.svc.FillByOwner(context.Background(), testViewID, 3)
	require.NoError(t, err)
	assert.Equal(t, "0xbeef", res.TxHash)

	assert.Equal(t, 1, rig.market.fillCalls)
	assert.Equal(t, share, rig.market.lastShare)
	assert.Equal(t, []uint64{3}, rig.views.filled)

	listing := rig.store.current.MyListings[1][testCID]
	assert.Equal(t, uint64(1), listing.UnitsSold)
	assert.Equal(t, uint64(1), listing.OpenBids)
}

func TestFillByHolderSellsDkey(t *testing.T) {
	rig := newTestRig(t)
	shareHex, share := sellerShare()
	rig.store.current.AddDKey(1, profile.DKeySummary{ContentID: testCID, KeyShare: shareHex})
	rig.market.bid = &market.Bid{AmountWei: big.NewInt(2_000_000_000_000)}

	res, err := rig.svc.FillByHolder(context.Background(), testViewID, 5)
	require.NoError(t, err)
	assert.Equal(t, "0xbeef", res.TxHash)

	assert.Equal(t, 1, rig.market.sellCalls)
	assert.Equal(t, share, rig.market.lastShare)
	assert.False(t, rig.store.current.IsDkeyOwner(1, testCID))
	assert.Equal(t, []uint64{5}, rig.views.filled)
}

func TestFillByOwnerWithoutListingRejected(t *testing.T) {
	rig := newTestRig(t)
	rig.market.bid = &market.Bid{AmountWei: big.NewInt(2_000_000_000_000)}

	_, err := rig.svc.FillByOwner(context.Background(), testViewID, 3)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ConflictErrorCode, appErr.Code)
	assert.Zero(t, rig.market.fillCalls)
}
