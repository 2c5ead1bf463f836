package dkeysworker

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/profile"
)

type fakeStore struct {
	current   *profile.Profile
	committed *profile.Profile
	commits   int
	commitErr error
}

func (f *fakeStore) Current() *profile.Profile { return f.current }

func (f *fakeStore) Commit(_ context.Context, p *profile.Profile) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = p
	f.commits++
	return nil
}

type fakeMarket struct {
	received map[uint64][]string
	err      error
	calls    int
}

func (f *fakeMarket) ReceivedDkeys(_ context.Context, _ *chainconfig.ConnectionDescriptor, chainID uint64, _ string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.received[chainID], nil
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func testProfile(t *testing.T) *profile.Profile {
	t.Helper()

	desc := &chainconfig.ConnectionDescriptor{DefaultChainID: 1, ChainIDs: []uint64{1}}
	p, err := profile.New(desc)
	require.NoError(t, err)
	p.Addresses[1] = "0x1111111111111111111111111111111111111111"

	return p
}

func TestSettlesFilledBidIntoDkey(t *testing.T) {
	p := testProfile(t)
	p.SetOpenBid(1, profile.BidSummary{
		ContentID: "bafycontent",
		FileName:  "track.flac",
		Amount:    "0.002",
		BidIndex:  7,
	})

	store := &fakeStore{current: p}
	market := &fakeMarket{received: map[uint64][]string{1: {"bafycontent"}}}

	w := NewWorker(store, market, testLogger())

	_, err := w.SyncReceivedDkeys(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, store.commits)

	next := store.committed
	require.NotNil(t, next)
	require.True(t, next.IsDkeyOwner(1, "bafycontent"))
	require.False(t, next.HasOpenBid(1, "bafycontent"))
	require.Equal(t, "track.flac", next.MyDKeys[1]["bafycontent"].FileName)
	require.Equal(t, "0.002", next.MyDKeys[1]["bafycontent"].Amount)

	// The shared snapshot is untouched until the commit swaps it in.
	require.True(t, p.HasOpenBid(1, "bafycontent"))
}

func TestAlreadyHeldDkeysAreNotRecommitted(t *testing.T) {
	p := testProfile(t)
	p.AddDKey(1, profile.DKeySummary{ContentID: "bafycontent"})

	store := &fakeStore{current: p}
	market := &fakeMarket{received: map[uint64][]string{1: {"bafycontent"}}}

	w := NewWorker(store, market, testLogger())

	_, err := w.SyncReceivedDkeys(context.Background())
	require.NoError(t, err)
	require.Zero(t, store.commits)
}

func TestNoProfileIsNotAnError(t *testing.T) {
	store := &fakeStore{}
	market := &fakeMarket{}

	w := NewWorker(store, market, testLogger())

	_, err := w.SyncReceivedDkeys(context.Background())
	require.NoError(t, err)
	require.Zero(t, market.calls)
}

func TestChainQueryFailureSkipsCommit(t *testing.T) {
	store := &fakeStore{current: testProfile(t)}
	market := &fakeMarket{err: errors.New("rpc down")}

	w := NewWorker(store, market, testLogger())

	_, err := w.SyncReceivedDkeys(context.Background())
	require.NoError(t, err)
	require.Zero(t, store.commits)
}
