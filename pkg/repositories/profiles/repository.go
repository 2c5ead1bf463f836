package profiles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	db *pgxpool.Pool
}

// Repository is the durable tier of the session store: one serialized profile
// blob per key, surviving restarts as an opt-in restore.
type Repository interface {
	SaveSnapshot(ctx context.Context, key string, payload string) (err error)
	LoadSnapshot(ctx context.Context, key string) (payload string, err error)
	DeleteSnapshot(ctx context.Context, key string) (err error)
}

var ErrNotFound = errors.New("no snapshot stored")

func (r *repository) SaveSnapshot(ctx context.Context, key string, payload string) (err error) {
	query := `
		INSERT INTO profiles.snapshots (key, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload,
			updated_at = NOW();
	`

	_, err = r.db.Exec(ctx, query, key, payload)

	return
}

func (r *repository) LoadSnapshot(ctx context.Context, key string) (payload string, err error) {
	query := `
		SELECT payload
		FROM profiles.snapshots
		WHERE key = $1
		LIMIT 1;
	`

	err = r.db.QueryRow(ctx, query, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrNotFound
		}
		return
	}

	return
}

func (r *repository) DeleteSnapshot(ctx context.Context, key string) (err error) {
	query := `
		DELETE FROM profiles.snapshots
		WHERE key = $1;
	`

	_, err = r.db.Exec(ctx, query, key)

	return
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{
		db: db,
	}
}
