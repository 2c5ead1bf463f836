package listings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/clients/market"
	"dkey-backend/pkg/encryption"
	"dkey-backend/pkg/models"
	"dkey-backend/pkg/profile"
)

const (
	testOrigin   = "dkey.example"
	testBaseURL  = "https://dkey.example/"
	testSeller   = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testCoverCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	testDirCID   = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
)

type fakeStore struct {
	current   *profile.Profile
	commits   int
	commitErr error
}

func (f *fakeStore) Current() *profile.Profile { return f.current }

func (f *fakeStore) Commit(_ context.Context, p *profile.Profile) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.current = p
	f.commits++
	return nil
}

type fakeResolver struct {
	desc *chainconfig.ConnectionDescriptor
}

func (f *fakeResolver) Resolve(chainconfig.Prefs) *chainconfig.ConnectionDescriptor {
	return f.desc
}

type fakeChain struct {
	probeErr error
	block    uint64
}

func (f *fakeChain) ProbeChain(context.Context, *chainconfig.ConnectionDescriptor, uint64) (uint64, error) {
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.block, nil
}

func (f *fakeChain) CurrentBlock(context.Context, *chainconfig.ConnectionDescriptor, uint64) uint64 {
	return f.block
}

type fakePinner struct {
	fileCalls int
	dirCalls  int
	dirFiles  map[string][]byte
}

func (f *fakePinner) AddFile(_ context.Context, _ string, _ []byte) (string, error) {
	f.fileCalls++
	return testCoverCID, nil
}

func (f *fakePinner) AddDirectory(_ context.Context, files map[string][]byte) (string, error) {
	f.dirCalls++
	f.dirFiles = files
	return testDirCID, nil
}

type fakeMarket struct {
	calls    int
	failures int
	params   market.CreateListingParams
}

func (f *fakeMarket) CreateListing(_ context.Context, _ *chainconfig.ConnectionDescriptor, _ uint64, params market.CreateListingParams) (string, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return "", errors.New("rpc: transaction underpriced")
	}
	f.params = params
	return "0xf00d", nil
}

type fakeEncryptor struct {
	calls int
}

func (f *fakeEncryptor) Encrypt(data []byte) (*encryption.Result, error) {
	f.calls++
	res := &encryption.Result{Ciphertext: append([]byte("sealed:"), data...)}
	res.ShareA[0] = 0xaa
	res.ShareB[0] = 0xbb
	return res, nil
}

type testRig struct {
	svc       Service
	store     *fakeStore
	chain     *fakeChain
	pinner    *fakePinner
	market    *fakeMarket
	encryptor *fakeEncryptor
}

func newTestRig(t *testing.T, method profile.PinningMethod) *testRig {
	t.Helper()

	p, err := profile.New(nil)
	require.NoError(t, err)
	p.Addresses[1] = testSeller
	p.UserInfo[testOrigin] = profile.UserInfo{
		ChainPrefs:    profile.ChainPrefs{DefaultChainID: 1, ChainIDs: []uint64{1, 137}},
		GatewayURL:    "https://gw.example/ipfs",
		PinningMethod: method,
	}

	rig := &testRig{
		store:     &fakeStore{current: p},
		chain:     &fakeChain{block: 777},
		pinner:    &fakePinner{},
		market:    &fakeMarket{},
		encryptor: &fakeEncryptor{},
	}
	rig.svc = NewService(
		rig.store,
		&fakeResolver{desc: &chainconfig.ConnectionDescriptor{DefaultChainID: 1, ChainIDs: []uint64{1, 137}}},
		rig.chain, rig.pinner, rig.market, rig.encryptor,
		testOrigin, testBaseURL, slog.Default(),
	)

	return rig
}

func validForm() CreationForm {
	return CreationForm{
		FileName:       "track.flac",
		FileData:       []byte("pcm data"),
		CoverName:      "cover.png",
		CoverData:      []byte("png data"),
		Description:    "lossless master",
		Units:          3,
		Price:          "0.5",
		RoyaltyPercent: 10,
	}
}

func TestStartLocalPinningRegistersListing(t *testing.T) {
	rig := newTestRig(t, profile.PinningLocal)

	sess, err := rig.svc.Start(context.Background(), validForm())
	require.NoError(t, err)

	assert.Equal(t, string(StageSuccess), sess.Stage)
	assert.Equal(t, testBaseURL+"?listing="+testDirCID, sess.ShareURL)
	assert.Equal(t, testCoverCID, sess.CoverCID)
	assert.Equal(t, "https://gw.example/ipfs/"+testCoverCID, sess.CoverLink)

	require.Contains(t, rig.pinner.dirFiles, models.MetadataFileName)
	require.Contains(t, rig.pinner.dirFiles, models.EncryptedFileName)

	var meta models.ListingMetadata
	require.NoError(t, json.Unmarshal(rig.pinner.dirFiles[models.MetadataFileName], &meta))
	assert.Equal(t, testSeller, meta.Seller)
	assert.Equal(t, testCoverCID, meta.CoverCID)
	assert.Equal(t, uint64(777), meta.CreatedAtBlock)
	assert.Equal(t, []uint64{1, 137}, meta.ChainIDs)
	assert.Equal(t, "0.5", meta.SuggestedPrice)

	assert.Equal(t, testDirCID, rig.market.params.ContentID)
	assert.Equal(t, uint64(3), rig.market.params.Units)
	assert.Equal(t, "500000000000000000", rig.market.params.PriceWei.String())
	assert.Equal(t, uint8(10), rig.market.params.RoyaltyPercent)
	assert.Equal(t, byte(0xbb), rig.market.params.KeyShare[0])

	assert.Equal(t, 1, rig.store.commits)
	assert.True(t, rig.store.current.IsListingOwner(1, testDirCID))
}

func TestManualPinningPasteFlow(t *testing.T) {
	rig := newTestRig(t, profile.PinningNone)
	ctx := context.Background()

	sess, err := rig.svc.Start(ctx, validForm())
	require.NoError(t, err)
	require.Equal(t, string(StagePasteCoverWait), sess.Stage)
	assert.Equal(t, "cover", sess.AwaitingPaste)

	// Encrypted payload is downloadable during the hand-off.
	blob, err := rig.svc.Artifact(sess.ID, models.EncryptedFileName)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed:pcm data"), blob)

	// An empty or malformed paste leaves the session untouched.
	_, err = rig.svc.PasteCoverCID(ctx, sess.ID, "  ")
	require.Error(t, err)
	_, err = rig.svc.PasteCoverCID(ctx, sess.ID, "not a cid")
	require.Error(t, err)

	after, err := rig.svc.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StagePasteCoverWait), after.Stage)

	sess, err = rig.svc.PasteCoverCID(ctx, sess.ID, testCoverCID)
	require.NoError(t, err)
	require.Equal(t, string(StagePasteDirectoryWait), sess.Stage)
	assert.Equal(t, "directory", sess.AwaitingPaste)

	blob, err = rig.svc.Artifact(sess.ID, models.MetadataFileName)
	require.NoError(t, err)
	var meta models.ListingMetadata
	require.NoError(t, json.Unmarshal(blob, &meta))
	assert.Equal(t, testCoverCID, meta.CoverCID)

	sess, err = rig.svc.PasteDirectoryCID(ctx, sess.ID, testDirCID)
	require.NoError(t, err)
	assert.Equal(t, string(StageSuccess), sess.Stage)
	assert.Equal(t, testBaseURL+"?listing="+testDirCID, sess.ShareURL)

	// Nothing was pinned locally along the way.
	assert.Zero(t, rig.pinner.fileCalls)
	assert.Zero(t, rig.pinner.dirCalls)
}

func TestStartRejectsInvalidForms(t *testing.T) {
	rig := newTestRig(t, profile.PinningLocal)

	cases := []struct {
		name   string
		mutate func(*CreationForm)
	}{
		{"no file", func(f *CreationForm) { f.FileData = nil }},
		{"no cover", func(f *CreationForm) { f.CoverData = nil }},
		{"empty description", func(f *CreationForm) { f.Description = "" }},
		{"zero units", func(f *CreationForm) { f.Units = 0 }},
		{"zero price", func(f *CreationForm) { f.Price = "0" }},
		{"garbage price", func(f *CreationForm) { f.Price = "one ether" }},
		{"zero royalty", func(f *CreationForm) { f.RoyaltyPercent = 0 }},
		{"full royalty", func(f *CreationForm) { f.RoyaltyPercent = 100 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := validForm()
			tc.mutate(&form)

			_, err := rig.svc.Start(context.Background(), form)
			require.Error(t, err)

			var appErr *models.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, models.BadRequestErrorCode, appErr.Code)
		})
	}

	assert.Zero(t, rig.encryptor.calls)
	assert.Zero(t, rig.market.calls)
}

func TestStartRequiresConnectedWallet(t *testing.T) {
	rig := newTestRig(t, profile.PinningLocal)
	delete(rig.store.current.Addresses, 1)

	_, err := rig.svc.Start(context.Background(), validForm())
	require.Error(t, err)

	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.WalletRequiredErrorCode, appErr.Code)
	assert.Zero(t, rig.encryptor.calls)
}

func TestProbeFailureMarksSessionFailed(t *testing.T) {
	rig := newTestRig(t, profile.PinningLocal)
	rig.chain.probeErr = errors.New("dial tcp: connection refused")

	sess, err := rig.svc.Start(context.Background(), validForm())
	require.NoError(t, err)
	assert.Equal(t, string(StageFailed), sess.Stage)
	assert.Equal(t, string(StageRpcChecking), sess.FailedStage)
	assert.Contains(t, sess.FailureReason, "connection refused")

	// Nothing was published or retried, so there is no registration to redo.
	_, err = rig.svc.RetryRegistration(context.Background(), sess.ID)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ConflictErrorCode, appErr.Code)
}

func TestRegistrationRetryReusesPublishedArtifacts(t *testing.T) {
	rig := newTestRig(t, profile.PinningLocal)
	rig.market.failures = 1

	sess, err := rig.svc.Start(context.Background(), validForm())
	require.NoError(t, err)
	require.Equal(t, string(StageFailed), sess.Stage)
	require.Equal(t, string(StageRegisteringOnChain), sess.FailedStage)
	require.Equal(t, testDirCID, sess.DirectoryCID)
	assert.Zero(t, rig.store.commits)

	sess, err = rig.svc.RetryRegistration(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StageSuccess), sess.Stage)

	assert.Equal(t, 1, rig.encryptor.calls)
	assert.Equal(t, 1, rig.pinner.fileCalls)
	assert.Equal(t, 1, rig.pinner.dirCalls)
	assert.Equal(t, 2, rig.market.calls)
	assert.Equal(t, 1, rig.store.commits)
}

func TestDiscardExpired(t *testing.T) {
	rig := newTestRig(t, profile.PinningNone)

	sess, err := rig.svc.Start(context.Background(), validForm())
	require.NoError(t, err)

	assert.False(t, rig.svc.DiscardExpired(time.Hour))
	assert.True(t, rig.svc.DiscardExpired(0))

	_, err = rig.svc.Session(sess.ID)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.NotFoundErrorCode, appErr.Code)
}
