package httpServer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "dkey-backend/pkg/models/api/v1"
	"dkey-backend/pkg/services/listings"
	"dkey-backend/pkg/services/views"
)

func (h *handler) getProfile(c *fiber.Ctx) error {
	resp, err := h.profiles.Overview(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) createProfile(c *fiber.Ctx) error {
	resp, err := h.profiles.Create(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) restoreProfile(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.RestoreProfileRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse restore request", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid request")
	}

	resp, err := h.profiles.Restore(c.Context(), req.Payload)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) restoreDurableProfile(c *fiber.Ctx) error {
	resp, err := h.profiles.RestoreDurable(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) exportProfile(c *fiber.Ctx) error {
	blob, err := h.profiles.Export(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(blob)
}

func (h *handler) connectWallet(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.ConnectWalletRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse wallet request", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid request")
	}

	resp, err := h.profiles.ConnectWallet(c.Context(), req.ChainID, req.Address)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) disconnectWallet(c *fiber.Ctx) error {
	chainID, err := strconv.ParseUint(c.Params("chain_id"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid chain id")
	}

	resp, err := h.profiles.DisconnectWallet(c.Context(), chainID)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) setUserInfo(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.UserInfoRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse settings request", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid request")
	}

	resp, err := h.profiles.SetUserInfo(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) startListing(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	mp, err := c.MultipartForm()
	if err != nil {
		log.Error("failed to get multipart form", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid multipart form")
	}

	form := listings.CreationForm{
		Description: formValue(mp, "description"),
		Price:       formValue(mp, "price"),
	}
	form.FileName, form.FileData, err = formFile(mp, "file")
	if err != nil {
		log.Error("failed to read file part", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "file is required")
	}
	form.CoverName, form.CoverData, err = formFile(mp, "cover")
	if err != nil {
		log.Error("failed to read cover part", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "cover image is required")
	}

	form.Units, _ = strconv.ParseUint(formValue(mp, "units"), 10, 64)
	form.RoyaltyPercent, _ = strconv.Atoi(formValue(mp, "royalty_percent"))
	form.ChainID, _ = strconv.ParseUint(formValue(mp, "chain_id"), 10, 64)

	resp, err := h.creations.Start(c.Context(), form)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) creationSession(c *fiber.Ctx) error {
	resp, err := h.creations.Session(c.Params("session_id"))
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) pasteCoverCID(c *fiber.Ctx) error {
	return h.pasteCID(c, h.creations.PasteCoverCID)
}

func (h *handler) pasteDirectoryCID(c *fiber.Ctx) error {
	return h.pasteCID(c, h.creations.PasteDirectoryCID)
}

func (h *handler) pasteCID(c *fiber.Ctx, resume func(ctx context.Context, sessionID, contentID string) (*v1.CreationSession, error)) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.PasteCIDRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse paste request", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid request")
	}

	resp, err := resume(c.Context(), c.Params("session_id"), req.ContentID)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) retryRegistration(c *fiber.Ctx) error {
	resp, err := h.creations.RetryRegistration(c.Context(), c.Params("session_id"))
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) sessionArtifact(c *fiber.Ctx) error {
	name := c.Params("name")

	blob, err := h.creations.Artifact(c.Params("session_id"), name)
	if err != nil {
		return errorHandler(c, err)
	}

	c.Set(fiber.HeaderContentDisposition, "attachment; filename=\""+name+"\"")
	return c.Send(blob)
}

func (h *handler) openView(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.OpenViewRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse view request", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid request")
	}

	resp, err := h.views.Open(c.Context(), req.ContentID, req.ChainID)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) getView(c *fiber.Ctx) error {
	resp, err := h.views.View(c.Params("view_id"))
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) loadMoreBids(c *fiber.Ctx) error {
	resp, err := h.views.LoadMoreBids(c.Context(), c.Params("view_id"))
	if err != nil {
		if errors.Is(err, views.ErrStaleView) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) closeView(c *fiber.Ctx) error {
	h.views.Close(c.Params("view_id"))

	return okHandler(c)
}

func (h *handler) placeBid(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.PlaceBidRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse bid request", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid request")
	}

	resp, err := h.bids.Place(c.Context(), req.ViewID, req.Amount)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) increaseBid(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.IncreaseBidRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse bid request", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid request")
	}

	resp, err := h.bids.Increase(c.Context(), req.ViewID, req.Delta)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) reclaimBid(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.PlaceBidRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse bid request", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid request")
	}

	resp, err := h.bids.Reclaim(c.Context(), req.ViewID)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) fillBid(c *fiber.Ctx) error {
	return h.fill(c, h.bids.FillByOwner)
}

func (h *handler) sellDkey(c *fiber.Ctx) error {
	return h.fill(c, h.bids.FillByHolder)
}

func (h *handler) fill(c *fiber.Ctx, op func(ctx context.Context, viewID string, bidIndex uint64) (*v1.BidActionResponse, error)) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.BidTargetRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse fill request", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "invalid request")
	}

	resp, err := op(c.Context(), req.ViewID, req.BidIndex)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) health(c *fiber.Ctx) error {
	return okHandler(c)
}

func (h *handler) metrics(c *fiber.Ctx) error {
	m := promhttp.Handler()

	return adaptor.HTTPHandler(m)(c)
}

func formValue(mp *multipart.Form, key string) string {
	if vals, ok := mp.Value[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func formFile(mp *multipart.Form, key string) (string, []byte, error) {
	headers, ok := mp.File[key]
	if !ok || len(headers) == 0 {
		return "", nil, errors.New("missing form file " + key)
	}

	f, err := headers[0].Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}

	return headers[0].Filename, data, nil
}
