//go:build !debug

package httpServer

import (
	"time"

	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const (
	MaxRequests     = 30
	RateLimitWindow = 60 * time.Second
)

func (h *handler) RegisterRoutes() {
	h.logger.Info("Registering routes")

	m := newMetrics(h.namespace, h.subsystem)

	h.server.Use(m.metricsMiddleware)

	h.server.Use(limiter.New(limiter.Config{
		Max:               MaxRequests,
		Expiration:        RateLimitWindow,
		LimitReached:      h.limitReached,
		LimiterMiddleware: limiter.SlidingWindow{},
	}))

	h.server.Get("/health", h.health)
	h.server.Get("/metrics", h.adminAuthMiddleware, h.metrics)

	apiv1 := h.server.Group("/api/v1", h.loggerMiddleware)
	{
		{
			profile := apiv1.Group("/profile")
			profile.Get("/", h.getProfile)
			profile.Post("/", h.createProfile)
			profile.Post("/restore", h.restoreProfile)
			profile.Post("/restore-durable", h.restoreDurableProfile)
			profile.Get("/export", h.exportProfile)
			profile.Post("/wallet", h.connectWallet)
			profile.Delete("/wallet/:chain_id", h.disconnectWallet)
			profile.Put("/settings", h.setUserInfo)
		}

		{
			listings := apiv1.Group("/listings")
			listings.Post("/", h.startListing)
			listings.Get("/sessions/:session_id", h.creationSession)
			listings.Post("/sessions/:session_id/cover", h.pasteCoverCID)
			listings.Post("/sessions/:session_id/directory", h.pasteDirectoryCID)
			listings.Post("/sessions/:session_id/retry", h.retryRegistration)
			listings.Get("/sessions/:session_id/artifacts/:name", h.sessionArtifact)
		}

		{
			views := apiv1.Group("/views")
			views.Post("/", h.openView)
			views.Get("/:view_id", h.getView)
			views.Post("/:view_id/bids/more", h.loadMoreBids)
			views.Delete("/:view_id", h.closeView)
		}

		{
			bids := apiv1.Group("/bids")
			bids.Post("/place", h.placeBid)
			bids.Post("/increase", h.increaseBid)
			bids.Post("/reclaim", h.reclaimBid)
			bids.Post("/fill", h.fillBid)
			bids.Post("/sell", h.sellDkey)
		}
	}
}
