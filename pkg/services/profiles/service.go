package profiles

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/models"
	v1 "dkey-backend/pkg/models/api/v1"
	"dkey-backend/pkg/profile"
	"dkey-backend/pkg/services/session"
)

type sessionStore interface {
	Current() *profile.Profile
	Commit(ctx context.Context, p *profile.Profile) error
	CreateNew(ctx context.Context, desc *chainconfig.ConnectionDescriptor) (*profile.Profile, error)
	RestoreFromText(ctx context.Context, text string, desc *chainconfig.ConnectionDescriptor) (*profile.Profile, error)
	RestoreDurable(ctx context.Context, desc *chainconfig.ConnectionDescriptor) (*profile.Profile, error)
	HasDurable(ctx context.Context) bool
}

type chainResolver interface {
	Resolve(prefs chainconfig.Prefs) *chainconfig.ConnectionDescriptor
}

type signer interface {
	SignerAddress() (string, error)
}

// Service manages the profile lifecycle: creation, restore from pasted text
// or from the durable tier, wallet connections and per-origin settings.
type Service interface {
	Overview(ctx context.Context) (*v1.ProfileResponse, error)
	Create(ctx context.Context) (*v1.ProfileResponse, error)
	Restore(ctx context.Context, payload string) (*v1.ProfileResponse, error)
	RestoreDurable(ctx context.Context) (*v1.ProfileResponse, error)
	Export(ctx context.Context) (string, error)
	ConnectWallet(ctx context.Context, chainID uint64, address string) (*v1.ProfileResponse, error)
	DisconnectWallet(ctx context.Context, chainID uint64) (*v1.ProfileResponse, error)
	SetUserInfo(ctx context.Context, req v1.UserInfoRequest) (*v1.ProfileResponse, error)
}

type service struct {
	mu sync.Mutex

	store    sessionStore
	resolver chainResolver
	signer   signer

	origin string
	logger *slog.Logger
}

func (s *service) Overview(ctx context.Context) (*v1.ProfileResponse, error) {
	return s.overview(ctx, s.store.Current()), nil
}

func (s *service) Create(ctx context.Context) (*v1.ProfileResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.CreateNew(ctx, s.resolver.Resolve(chainconfig.Prefs{}))
	if err != nil {
		return nil, err
	}

	return s.overview(ctx, p), nil
}

func (s *service) Restore(ctx context.Context, payload string) (*v1.ProfileResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, models.NewValidationError("profile payload is empty")
	}

	p, err := s.store.RestoreFromText(ctx, payload, s.resolver.Resolve(chainconfig.Prefs{}))
	if err != nil {
		return nil, models.NewValidationError("profile payload is not a valid profile")
	}

	// Re-resolve with the restored preferences so the descriptor matches what
	// the profile expects.
	s.resolver.Resolve(p.UserInfo[s.origin].ChainPrefs.ResolverPrefs())

	return s.overview(ctx, p), nil
}

func (s *service) RestoreDurable(ctx context.Context) (*v1.ProfileResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.RestoreDurable(ctx, s.resolver.Resolve(chainconfig.Prefs{}))
	if err != nil {
		if err == session.ErrNoProfile {
			return nil, models.NewAppError(models.NotFoundErrorCode, "no durable profile stored")
		}
		return nil, err
	}

	s.resolver.Resolve(p.UserInfo[s.origin].ChainPrefs.ResolverPrefs())

	return s.overview(ctx, p), nil
}

func (s *service) Export(_ context.Context) (string, error) {
	p := s.store.Current()
	if p == nil {
		return "", models.NewPreconditionError("create or restore a profile first")
	}

	return p.Serialize()
}

// ConnectWallet binds a wallet address to a chain. An empty address falls
// back to the configured signing key's address.
func (s *service) ConnectWallet(ctx context.Context, chainID uint64, address string) (*v1.ProfileResponse, error) {
	log := s.logger.With(slog.String("method", "ConnectWallet"), slog.Uint64("chain_id", chainID))

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.store.Current()
	if p == nil {
		return nil, models.NewPreconditionError("create or restore a profile first")
	}
	if chainID == 0 {
		return nil, models.NewValidationError("chain id is required")
	}

	address = strings.TrimSpace(address)
	if address == "" {
		signerAddr, err := s.signer.SignerAddress()
		if err != nil {
			return nil, models.NewPreconditionError("no wallet key configured and no address supplied")
		}
		address = signerAddr
	}
	if !common.IsHexAddress(address) {
		return nil, models.NewValidationError("wallet address is not a valid hex address")
	}

	next := p.Clone()
	next.Addresses[chainID] = common.HexToAddress(address).Hex()
	if err := s.store.Commit(ctx, next); err != nil {
		return nil, err
	}

	log.Info("wallet connected", slog.String("address", next.Addresses[chainID]))

	return s.overview(ctx, next), nil
}

func (s *service) DisconnectWallet(ctx context.Context, chainID uint64) (*v1.ProfileResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.store.Current()
	if p == nil {
		return nil, models.NewPreconditionError("create or restore a profile first")
	}

	next := p.Clone()
	delete(next.Addresses, chainID)
	if err := s.store.Commit(ctx, next); err != nil {
		return nil, err
	}

	return s.overview(ctx, next), nil
}

// SetUserInfo replaces the per-origin settings block and re-resolves the
// connection descriptor against the new chain preferences.
func (s *service) SetUserInfo(ctx context.Context, req v1.UserInfoRequest) (*v1.ProfileResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.store.Current()
	if p == nil {
		return nil, models.NewPreconditionError("create or restore a profile first")
	}

	method := profile.PinningMethod(req.PinningMethod)
	switch method {
	case "", profile.PinningNone:
		method = profile.PinningNone
	case profile.PinningLocal:
	default:
		return nil, models.NewValidationError("pinning method must be \"none\" or \"local\"")
	}

	next := p.Clone()
	next.UserInfo[s.origin] = profile.UserInfo{
		Username: req.Username,
		ChainPrefs: profile.ChainPrefs{
			DefaultChainID: req.DefaultChainID,
			ChainIDs:       req.ChainIDs,
			RPCURLs:        req.RPCURLs,
		},
		GatewayURL:    strings.TrimSuffix(req.GatewayURL, "/"),
		PinningMethod: method,
	}
	if err := s.store.Commit(ctx, next); err != nil {
		return nil, err
	}

	s.resolver.Resolve(next.UserInfo[s.origin].ChainPrefs.ResolverPrefs())

	return s.overview(ctx, next), nil
}

func (s *service) overview(ctx context.Context, p *profile.Profile) *v1.ProfileResponse {
	resp := &v1.ProfileResponse{
		DurableAvailable: s.store.HasDurable(ctx),
	}
	if p == nil {
		return resp
	}

	resp.Loaded = true
	resp.Addresses = p.Addresses
	resp.Username = p.UserInfo[s.origin].Username
	for _, m := range p.MyListings {
		resp.Listings += len(m)
	}
	for _, m := range p.MyDKeys {
		resp.DKeys += len(m)
	}
	for _, m := range p.MyOpenBids {
		resp.OpenBids += len(m)
	}

	return resp
}

func NewService(store sessionStore, resolver chainResolver, signerC signer, origin string, logger *slog.Logger) Service {
	return &service{
		store:    store,
		resolver: resolver,
		signer:   signerC,
		origin:   origin,
		logger:   logger,
	}
}
