package listings

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/clients/market"
	"dkey-backend/pkg/clients/pinner"
	"dkey-backend/pkg/encryption"
	"dkey-backend/pkg/models"
	v1 "dkey-backend/pkg/models/api/v1"
	"dkey-backend/pkg/profile"
)

const awaitingCover, awaitingDirectory = "cover", "directory"

type sessionStore interface {
	Current() *profile.Profile
	Commit(ctx context.Context, p *profile.Profile) error
}

type chainResolver interface {
	Resolve(prefs chainconfig.Prefs) *chainconfig.ConnectionDescriptor
}

type chainClient interface {
	ProbeChain(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64) (uint64, error)
	CurrentBlock(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64) uint64
}

type pinnerClient interface {
	AddFile(ctx context.Context, name string, data []byte) (string, error)
	AddDirectory(ctx context.Context, files map[string][]byte) (string, error)
}

type marketClient interface {
	CreateListing(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, params market.CreateListingParams) (string, error)
}

type contentEncryptor interface {
	Encrypt(data []byte) (*encryption.Result, error)
}

// Service drives the listing creation pipeline. At most one session exists at
// a time; starting a new one discards the previous session wholesale.
type Service interface {
	Start(ctx context.Context, form CreationForm) (*v1.CreationSession, error)
	PasteCoverCID(ctx context.Context, sessionID, contentID string) (*v1.CreationSession, error)
	PasteDirectoryCID(ctx context.Context, sessionID, contentID string) (*v1.CreationSession, error)
	RetryRegistration(ctx context.Context, sessionID string) (*v1.CreationSession, error)
	Session(sessionID string) (*v1.CreationSession, error)
	Artifact(sessionID, name string) ([]byte, error)
	DiscardExpired(olderThan time.Duration) bool
}

type session struct {
	id            string
	stage         Stage
	failedStage   Stage
	failureReason string
	awaiting      string

	chainID uint64
	seller  string
	form    CreationForm
	price   *apd.Decimal

	ciphertext []byte
	shareA     [32]byte
	shareB     [32]byte

	coverCID     string
	coverLink    string
	metadataBlob []byte
	directoryCID string
	shareURL     string
	txHash       string

	updatedAt time.Time
}

type service struct {
	mu      sync.Mutex
	current *session

	store     sessionStore
	resolver  chainResolver
	chain     chainClient
	pinner    pinnerClient
	market    marketClient
	encryptor contentEncryptor

	validate *validator.Validate
	origin   string
	baseURL  string
	logger   *slog.Logger
}

// Start validates the form and runs the pipeline until it finishes, fails, or
// parks at a paste-wait hand-off. A second call while one is running is
// rejected rather than queued.
func (s *service) Start(ctx context.Context, form CreationForm) (*v1.CreationSession, error) {
	log := s.logger.With(slog.String("method", "Start"))

	if !s.mu.TryLock() {
		return nil, models.NewBusyError("listing creation")
	}
	defer s.mu.Unlock()

	price, err := validateForm(s.validate, form)
	if err != nil {
		return nil, err
	}

	prof := s.store.Current()
	if prof == nil {
		return nil, models.NewPreconditionError("create or restore a profile first")
	}

	info := prof.UserInfo[s.origin]
	desc := s.resolver.Resolve(info.ChainPrefs.ResolverPrefs())

	chainID := form.ChainID
	if chainID == 0 {
		chainID = desc.DefaultChainID
	}

	id, err := uuid.NewV6()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	sess := &session{
		id:        id.String(),
		stage:     StageIdle,
		chainID:   chainID,
		form:      form,
		price:     price,
		updatedAt: time.Now(),
	}
	s.current = sess
	s.advance(sess, eventFormValidated)

	seller, ok := prof.Address(chainID)
	if !ok {
		return nil, models.NewPreconditionError(fmt.Sprintf("connect a wallet for chain %d first", chainID))
	}
	sess.seller = seller

	s.advance(sess, eventRpcCheckStarted)
	if _, err := s.chain.ProbeChain(ctx, desc, chainID); err != nil {
		return s.fail(sess, err), nil
	}
	s.advance(sess, eventRpcConfirmed)

	res, err := s.encryptor.Encrypt(form.FileData)
	if err != nil {
		return s.fail(sess, err), nil
	}
	sess.ciphertext = res.Ciphertext
	sess.shareA = res.ShareA
	sess.shareB = res.ShareB
	s.advance(sess, eventEncrypted)

	if info.PinningMethod != profile.PinningLocal {
		sess.awaiting = awaitingCover
		s.advance(sess, eventCoverHandedOff)
		log.Info("cover handed off for manual pinning", slog.String("session", sess.id))
		return s.view(sess), nil
	}

	coverCID, err := s.pinner.AddFile(ctx, form.CoverName, form.CoverData)
	if err != nil {
		return s.fail(sess, err), nil
	}
	sess.coverCID = coverCID
	sess.coverLink = coverLink(info.GatewayURL, coverCID)
	s.advance(sess, eventCoverPublished)

	return s.continueFromMetadata(ctx, sess, prof, info, desc)
}

// PasteCoverCID resumes a session parked at the cover hand-off. An invalid
// content id is rejected without touching the session state.
func (s *service) PasteCoverCID(ctx context.Context, sessionID, contentID string) (*v1.CreationSession, error) {
	if !s.mu.TryLock() {
		return nil, models.NewBusyError("listing creation")
	}
	defer s.mu.Unlock()

	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.stage != StagePasteCoverWait {
		return nil, models.NewAppError(models.ConflictErrorCode, "session is not waiting for a cover content id")
	}

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

	sess.awaiting = ""
	sess.coverCID = contentID
	sess.coverLink = coverLink(info.GatewayURL, contentID)
	s.advance(sess, eventCoverPasted)

	return s.continueFromMetadata(ctx, sess, prof, info, desc)
}

// PasteDirectoryCID resumes a session parked at the directory hand-off.
func (s *service) PasteDirectoryCID(ctx context.Context, sessionID, contentID string) (*v1.CreationSession, error) {
	if !s.mu.TryLock() {
		return nil, models.NewBusyError("listing creation")
	}
	defer s.mu.Unlock()

	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.stage != StagePasteDirectoryWait {
		return nil, models.NewAppError(models.ConflictErrorCode, "session is not waiting for a directory content id")
	}

	contentID = strings.TrimSpace(contentID)
	if err := pinner.ValidateCID(contentID); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	prof := s.store.Current()
	if prof == nil {
		return nil, models.NewPreconditionError("create or restore a profile first")
	}
	desc := s.resolver.Resolve(prof.UserInfo[s.origin].ChainPrefs.ResolverPrefs())

	sess.awaiting = ""
	sess.directoryCID = contentID
	s.advance(sess, eventDirectoryPasted)

	return s.register(ctx, sess, prof, desc)
}

// RetryRegistration re-runs only the on-chain registration of a failed
// session. Everything published earlier is reused as is; nothing is
// re-encrypted or re-pinned.
func (s *service) RetryRegistration(ctx context.Context, sessionID string) (*v1.CreationSession, error) {
	if !s.mu.TryLock() {
		return nil, models.NewBusyError("listing creation")
	}
	defer s.mu.Unlock()

	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.stage != StageFailed || sess.failedStage != StageRegisteringOnChain || sess.directoryCID == "" {
		return nil, models.NewAppError(models.ConflictErrorCode, "session has no failed registration to retry")
	}

	prof := s.store.Current()
	if prof == nil {
		return nil, models.NewPreconditionError("create or restore a profile first")
	}
	desc := s.resolver.Resolve(prof.UserInfo[s.origin].ChainPrefs.ResolverPrefs())

	s.advance(sess, eventRetryRegistration)

	return s.register(ctx, sess, prof, desc)
}

func (s *service) Session(sessionID string) (*v1.CreationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	return s.view(sess), nil
}

// Artifact serves the blobs the operator pins by hand during a hand-off.
func (s *service) Artifact(sessionID, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	switch name {
	case models.EncryptedFileName:
		if len(sess.ciphertext) > 0 {
			return sess.ciphertext, nil
		}
	case models.MetadataFileName:
		if len(sess.metadataBlob) > 0 {
			return sess.metadataBlob, nil
		}
	case sess.form.CoverName:
		return sess.form.CoverData, nil
	}

	return nil, models.NewAppError(models.NotFoundErrorCode, fmt.Sprintf("no artifact %q in this session", name))
}

// DiscardExpired drops the session if it has been idle longer than olderThan.
// Skipped entirely while a pipeline invocation is running.
func (s *service) DiscardExpired(olderThan time.Duration) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()

	if s.current == nil || time.Since(s.current.updatedAt) < olderThan {
		return false
	}

	s.logger.Info("discarding expired creation session",
		slog.String("session", s.current.id),
		slog.String("stage", string(s.current.stage)))
	s.current = nil

	return true
}

func (s *service) continueFromMetadata(ctx context.Context, sess *session, prof *profile.Profile, info profile.UserInfo, desc *chainconfig.ConnectionDescriptor) (*v1.CreationSession, error) {
	block := s.chain.CurrentBlock(ctx, desc, sess.chainID)

	meta := models.ListingMetadata{
		Seller:         sess.seller,
		FileName:       sess.form.FileName,
		Description:    sess.form.Description,
		Size:           int64(len(sess.form.FileData)),
		SuggestedPrice: sess.price.Text('f'),
		CoverCID:       sess.coverCID,
		ChainIDs:       desc.ChainIDs,
		CreatedAtBlock: block,
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return s.fail(sess, fmt.Errorf("failed to build metadata: %w", err)), nil
	}
	sess.metadataBlob = blob
	s.advance(sess, eventMetadataBuilt)

	if info.PinningMethod != profile.PinningLocal {
		sess.awaiting = awaitingDirectory
		s.advance(sess, eventDirectoryHandedOff)
		s.logger.Info("directory handed off for manual pinning", slog.String("session", sess.id))
		return s.view(sess), nil
	}

	directoryCID, err := s.pinner.AddDirectory(ctx, map[string][]byte{
		models.MetadataFileName:  sess.metadataBlob,
		models.EncryptedFileName: sess.ciphertext,
	})
	if err != nil {
		return s.fail(sess, err), nil
	}
	sess.directoryCID = directoryCID
	s.advance(sess, eventDirectoryPublished)

	return s.register(ctx, sess, prof, desc)
}

func (s *service) register(ctx context.Context, sess *session, prof *profile.Profile, desc *chainconfig.ConnectionDescriptor) (*v1.CreationSession, error) {
	log := s.logger.With(slog.String("method", "register"), slog.Uint64("chain_id", sess.chainID))

	priceWei, err := market.EtherToWei(sess.price)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	txHash, err := s.market.CreateListing(ctx, desc, sess.chainID, market.CreateListingParams{
		ContentID:      sess.directoryCID,
		KeyShare:       sess.shareB,
		Units:          sess.form.Units,
		PriceWei:       priceWei,
		RoyaltyPercent: uint8(sess.form.RoyaltyPercent),
	})
	if err != nil {
		return s.fail(sess, err), nil
	}
	sess.txHash = txHash

	next := prof.Clone()
	next.AddListing(sess.chainID, profile.ListingSummary{
		FileName:   sess.form.FileName,
		ContentID:  sess.directoryCID,
		Price:      sess.price.Text('f'),
		UnitsTotal: sess.form.Units,
		KeyShare:   hex.EncodeToString(sess.shareA[:]),
	})
	if err := s.store.Commit(ctx, next); err != nil {
		return s.fail(sess, fmt.Errorf("listing registered but profile not saved: %w", err)), nil
	}

	sess.shareURL = s.shareLink(sess, desc)
	s.advance(sess, eventRegistered)
	log.Info("listing registered", slog.String("content_id", sess.directoryCID), slog.String("tx", txHash))

	return s.view(sess), nil
}

func (s *service) shareLink(sess *session, desc *chainconfig.ConnectionDescriptor) string {
	url := s.baseURL + "?listing=" + sess.directoryCID
	if sess.chainID != desc.DefaultChainID {
		url += fmt.Sprintf("&chainId=%d", sess.chainID)
	}
	return url
}

func (s *service) lookup(sessionID string) (*session, error) {
	if s.current == nil || s.current.id != sessionID {
		return nil, models.NewAppError(models.NotFoundErrorCode, "no such creation session")
	}
	return s.current, nil
}

func (s *service) advance(sess *session, ev event) {
	next, err := nextStage(sess.stage, ev)
	if err != nil {
		s.logger.Error("illegal stage transition",
			slog.String("stage", string(sess.stage)),
			slog.String("event", string(ev)),
			slog.Any("error", err))
		return
	}
	sess.stage = next
	sess.updatedAt = time.Now()
}

func (s *service) fail(sess *session, cause error) *v1.CreationSession {
	sess.failedStage = sess.stage
	sess.failureReason = cause.Error()
	s.advance(sess, eventFailed)

	s.logger.Error("creation stage failed",
		slog.String("session", sess.id),
		slog.String("stage", string(sess.failedStage)),
		slog.Any("error", cause))

	return s.view(sess)
}

func (s *service) view(sess *session) *v1.CreationSession {
	return &v1.CreationSession{
		ID:            sess.id,
		Stage:         string(sess.stage),
		FailedStage:   string(sess.failedStage),
		FailureReason: sess.failureReason,
		FileName:      sess.form.FileName,
		CoverCID:      sess.coverCID,
		CoverLink:     sess.coverLink,
		DirectoryCID:  sess.directoryCID,
		ShareURL:      sess.shareURL,
		AwaitingPaste: sess.awaiting,
	}
}

func NewService(
	store sessionStore,
	resolver chainResolver,
	chain chainClient,
	pinnerC pinnerClient,
	marketC marketClient,
	encryptor contentEncryptor,
	origin string,
	baseURL string,
	logger *slog.Logger,
) Service {
	return &service{
		store:     store,
		resolver:  resolver,
		chain:     chain,
		pinner:    pinnerC,
		market:    marketC,
		encryptor: encryptor,
		validate:  validator.New(),
		origin:    origin,
		baseURL:   baseURL,
		logger:    logger,
	}
}
