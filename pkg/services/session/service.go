package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/profile"
	profilesRepository "dkey-backend/pkg/repositories/profiles"
)

// ProfileKey is the fixed key the serialized profile blob is stored under.
const ProfileKey = "dkey_profile_json"

type snapshotsDb interface {
	SaveSnapshot(ctx context.Context, key string, payload string) error
	LoadSnapshot(ctx context.Context, key string) (string, error)
	DeleteSnapshot(ctx context.Context, key string) error
}

// Store is the single source of truth for the profile. The in-memory snapshot
// is authoritative; every successful state-changing operation re-serializes
// and re-persists through Commit before anything renders the new state.
type Store interface {
	Current() *profile.Profile
	Commit(ctx context.Context, p *profile.Profile) error

	CreateNew(ctx context.Context, desc *chainconfig.ConnectionDescriptor) (*profile.Profile, error)
	RestoreFromText(ctx context.Context, text string, desc *chainconfig.ConnectionDescriptor) (*profile.Profile, error)
	RestoreDurable(ctx context.Context, desc *chainconfig.ConnectionDescriptor) (*profile.Profile, error)
	HasDurable(ctx context.Context) bool
}

type service struct {
	mu        sync.RWMutex
	current   *profile.Profile
	snapshots snapshotsDb
	logger    *slog.Logger
}

var ErrNoProfile = errors.New("no profile loaded")

func (s *service) Current() *profile.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Commit persists the snapshot first, then swaps the shared pointer, so the
// in-memory profile and the durable copy never diverge past one operation.
func (s *service) Commit(ctx context.Context, p *profile.Profile) error {
	log := s.logger.With(slog.String("method", "Commit"))

	blob, err := p.Serialize()
	if err != nil {
		log.Error("failed to serialize profile", slog.Any("error", err))
		return fmt.Errorf("failed to serialize profile: %w", err)
	}

	if err := s.snapshots.SaveSnapshot(ctx, ProfileKey, blob); err != nil {
		log.Error("failed to persist profile snapshot", slog.Any("error", err))
		return fmt.Errorf("failed to persist profile: %w", err)
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	return nil
}

func (s *service) CreateNew(ctx context.Context, desc *chainconfig.ConnectionDescriptor) (*profile.Profile, error) {
	p, err := profile.New(desc)
	if err != nil {
		return nil, err
	}

	if err := s.Commit(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("created fresh profile")

	return p, nil
}

func (s *service) RestoreFromText(ctx context.Context, text string, desc *chainconfig.ConnectionDescriptor) (*profile.Profile, error) {
	p, err := profile.Deserialize(text, desc)
	if err != nil {
		return nil, err
	}

	if err := s.Commit(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// RestoreDurable loads the blob that survived a restart. Opt-in: callers ask
// for it explicitly instead of it being applied on boot.
func (s *service) RestoreDurable(ctx context.Context, desc *chainconfig.ConnectionDescriptor) (*profile.Profile, error) {
	log := s.logger.With(slog.String("method", "RestoreDurable"))

	blob, err := s.snapshots.LoadSnapshot(ctx, ProfileKey)
	if err != nil {
		if errors.Is(err, profilesRepository.ErrNotFound) {
			return nil, ErrNoProfile
		}
		log.Error("failed to load durable snapshot", slog.Any("error", err))
		return nil, err
	}

	p, err := profile.Deserialize(blob, desc)
	if err != nil {
		// A corrupt durable copy is dropped rather than kept around to fail
		// every future restore.
		log.Error("durable snapshot is corrupt, deleting", slog.Any("error", err))
		if dErr := s.snapshots.DeleteSnapshot(ctx, ProfileKey); dErr != nil {
			log.Error("failed to delete corrupt snapshot", slog.Any("error", dErr))
		}
		return nil, err
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	return p, nil
}

func (s *service) HasDurable(ctx context.Context) bool {
	_, err := s.snapshots.LoadSnapshot(ctx, ProfileKey)
	return err == nil
}

func NewStore(snapshots snapshotsDb, logger *slog.Logger) Store {
	return &service{
		snapshots: snapshots,
		logger:    logger,
	}
}
