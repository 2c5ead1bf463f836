package httpServer

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	v1 "dkey-backend/pkg/models/api/v1"
	"dkey-backend/pkg/services/listings"
)

type profiles interface {
	Overview(ctx context.Context) (*v1.ProfileResponse, error)
	Create(ctx context.Context) (*v1.ProfileResponse, error)
	Restore(ctx context.Context, payload string) (*v1.ProfileResponse, error)
	RestoreDurable(ctx context.Context) (*v1.ProfileResponse, error)
	Export(ctx context.Context) (string, error)
	ConnectWallet(ctx context.Context, chainID uint64, address string) (*v1.ProfileResponse, error)
	DisconnectWallet(ctx context.Context, chainID uint64) (*v1.ProfileResponse, error)
	SetUserInfo(ctx context.Context, req v1.UserInfoRequest) (*v1.ProfileResponse, error)
}

type creations interface {
	Start(ctx context.Context, form listings.CreationForm) (*v1.CreationSession, error)
	PasteCoverCID(ctx context.Context, sessionID, contentID string) (*v1.CreationSession, error)
	PasteDirectoryCID(ctx context.Context, sessionID, contentID string) (*v1.CreationSession, error)
	RetryRegistration(ctx context.Context, sessionID string) (*v1.CreationSession, error)
	Session(sessionID string) (*v1.CreationSession, error)
	Artifact(sessionID, name string) ([]byte, error)
}

type listingViews interface {
	Open(ctx context.Context, contentID string, preferredChainID uint64) (*v1.ListingView, error)
	LoadMoreBids(ctx context.Context, viewID string) (*v1.ListingView, error)
	View(viewID string) (*v1.ListingView, error)
	Close(viewID string)
}

type bids interface {
	Place(ctx context.Context, viewID, amount string) (*v1.BidActionResponse, error)
	Increase(ctx context.Context, viewID, delta string) (*v1.BidActionResponse, error)
	Reclaim(ctx context.Context, viewID string) (*v1.BidActionResponse, error)
	FillByOwner(ctx context.Context, viewID string, bidIndex uint64) (*v1.BidActionResponse, error)
	FillByHolder(ctx context.Context, viewID string, bidIndex uint64) (*v1.BidActionResponse, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	server          *fiber.App
	logger          *slog.Logger
	profiles        profiles
	creations       creations
	views           listingViews
	bids            bids
	namespace       string
	subsystem       string
	adminAuthTokens map[string]struct{}
}

func New(
	server *fiber.App,
	profiles profiles,
	creations creations,
	views listingViews,
	bids bids,
	adminAuthTokens []string,
	namespace string,
	subsystem string,
	logger *slog.Logger,
) *handler {
	adminTokensMap := make(map[string]struct{})
	for _, token := range adminAuthTokens {
		adminTokensMap[token] = struct{}{}
	}

	h := &handler{
		server:          server,
		profiles:        profiles,
		creations:       creations,
		views:           views,
		bids:            bids,
		namespace:       namespace,
		subsystem:       subsystem,
		adminAuthTokens: adminTokensMap,
		logger:          logger,
	}

	return h
}
