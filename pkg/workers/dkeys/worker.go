package dkeysworker

import (
	"context"
	"log/slog"
	"time"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/profile"
)

type store interface {
	Current() *profile.Profile
	Commit(ctx context.Context, p *profile.Profile) error
}

type marketClient interface {
	ReceivedDkeys(ctx context.Context, desc *chainconfig.ConnectionDescriptor, chainID uint64, owner string) ([]string, error)
}

type dkeysWorker struct {
	store  store
	market marketClient
	logger *slog.Logger
}

type Worker interface {
	SyncReceivedDkeys(ctx context.Context) (interval time.Duration, err error)
}

// SyncReceivedDkeys polls every connected chain for dkeys assigned to this
// profile's wallets. A dkey that matches one of our open bids means the owner
// filled that bid: the bid entry is settled into a held dkey.
func (w *dkeysWorker) SyncReceivedDkeys(ctx context.Context) (interval time.Duration, err error) {
	const (
		failureInterval = 15 * time.Second
		successInterval = 30 * time.Second
		noProfileWait   = 5 * time.Second
	)

	log := w.logger.With("worker", "SyncReceivedDkeys")

	interval = successInterval

	prof := w.store.Current()
	if prof == nil {
		interval = noProfileWait
		return
	}

	desc := prof.Descriptor()
	if desc == nil {
		interval = noProfileWait
		return
	}

	var (
		next    *profile.Profile
		settled int
	)
	for chainID, addr := range prof.Addresses {
		if addr == "" {
			continue
		}

		received, rErr := w.market.ReceivedDkeys(ctx, desc, chainID, addr)
		if rErr != nil {
			log.Warn("failed to query received dkeys",
				"chain_id", chainID,
				"error", rErr.Error())
			interval = failureInterval
			continue
		}

		for _, contentID := range received {
			if prof.IsDkeyOwner(chainID, contentID) {
				continue
			}

			if next == nil {
				next = prof.Clone()
			}

			summary := profile.DKeySummary{ContentID: contentID}
			if bid, ok := prof.MyOpenBids[chainID][contentID]; ok {
				summary.FileName = bid.FileName
				summary.Amount = bid.Amount
				next.RemoveOpenBid(chainID, contentID)
			}
			next.AddDKey(chainID, summary)
			settled++
		}
	}

	if next == nil {
		return
	}

	if cErr := w.store.Commit(ctx, next); cErr != nil {
		err = cErr
		interval = failureInterval
		return
	}

	log.Info("settled received dkeys", "count", settled)

	return
}

func NewWorker(
	store store,
	market marketClient,
	logger *slog.Logger,
) Worker {
	return &dkeysWorker{
		store:  store,
		market: market,
		logger: logger,
	}
}
