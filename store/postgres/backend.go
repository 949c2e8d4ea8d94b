package postgres

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, user_id, device_id, salt, token, ip_address, user_agent, issued_at, rotated_at, expires_at`

const revokedColumns = `user_id, device_id, salt, token, ip_address, reason, revoked_at, grace_until, expires_at, replaced_by, grace_consumed`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Backend implements store.Backend on a pgx connection pool.
type Backend struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Backend = (*Backend)(nil)

// New returns a Backend over pool. now may be nil. The pool is owned by the
// caller.
func New(pool *pgxpool.Pool, now func() time.Time) *Backend {
	if now == nil {
		now = time.Now
	}
	return &Backend{pool: pool, now: now}
}

func (b *Backend) Name() string { return "postgres" }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrBackendUnavailable, err)
}

func (b *Backend) Insert(ctx context.Context, rec *store.RefreshRecord) error {
	if err := store.ValidateRecord(rec); err != nil {
		return err
	}
	return insertRecord(ctx, b.pool, rec)
}

func insertRecord(ctx context.Context, q querier, rec *store.RefreshRecord) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO gosession_refresh_records (
			id, user_id, device_id, salt, token, token_hash,
			ip_address, user_agent, issued_at, rotated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
	`, rec.ID, rec.UserID, rec.DeviceID, rec.Salt, rec.Token, rec.TokenHash(),
		rec.IPAddress, rec.UserAgent, rec.IssuedAt, nullTime(rec.RotatedAt), rec.ExpiresAt)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: duplicate record", store.ErrInvalidRecord)
	}
	return nil
}

// FindActive looks the token up by hash and then requires the stored user
// and device to match.
func (b *Backend) FindActive(ctx context.Context, userID, deviceID, token string) (*store.RefreshRecord, error) {
	if userID == "" || deviceID == "" {
		return nil, nil
	}
	rec, err := b.FindByToken(ctx, token)
	if err != nil || rec == nil {
		return nil, err
	}
	if !constantEqual(rec.UserID, userID) || !constantEqual(rec.DeviceID, deviceID) {
		return nil, nil
	}
	return rec, nil
}

func (b *Backend) FindByToken(ctx context.Context, token string) (*store.RefreshRecord, error) {
	if token == "" {
		return nil, nil
	}
	row := b.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM gosession_refresh_records
		WHERE token_hash = $1 AND expires_at > $2
	`, store.TokenHash(token), b.now())
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if !constantEqual(rec.Token, token) {
		return nil, nil
	}
	return rec, nil
}

func (b *Backend) Get(ctx context.Context, id string) (*store.RefreshRecord, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM gosession_refresh_records
		WHERE id = $1 AND expires_at > $2
	`, id, b.now())
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrRecordNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return rec, nil
}

func (b *Backend) ListActive(ctx context.Context, userID string) ([]store.RefreshRecord, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM gosession_refresh_records
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY issued_at, id
	`, userID, b.now())
	if err != nil {
		return nil, unavailable(err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (store.RefreshRecord, error) {
		rec, err := scanRecord(r)
		if err != nil {
			return store.RefreshRecord{}, err
		}
		return *rec, nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Revoke deletes the scoped rows, records the live ones in the registry and
// inserts next, all in one transaction.
func (b *Backend) Revoke(ctx context.Context, scope store.Scope, meta store.RevokeMeta, next *store.RefreshRecord) ([]store.RevokedRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if next != nil {
		if err := store.ValidateRecord(next); err != nil {
			return nil, err
		}
	}

	where, args := scopeClause(scope)
	now := b.now()
	var moved []store.RevokedRecord

	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			DELETE FROM gosession_refresh_records
			WHERE `+where+`
			RETURNING `+recordColumns, args...)
		if err != nil {
			return unavailable(err)
		}
		deleted, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (store.RefreshRecord, error) {
			rec, err := scanRecord(r)
			if err != nil {
				return store.RefreshRecord{}, err
			}
			return *rec, nil
		})
		if err != nil {
			return unavailable(err)
		}

		for i := range deleted {
			if !deleted[i].ExpiresAt.After(now) {
				continue
			}
			moved = append(moved, deleted[i].Revoked(meta))
		}
		if meta.RequireMatch && len(moved) == 0 {
			return store.ErrRecordNotFound
		}
		if err := insertRevoked(ctx, tx, moved); err != nil {
			return err
		}
		if next != nil {
			return insertRecord(ctx, tx, next)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) || errors.Is(err, store.ErrInvalidRecord) || errors.Is(err, store.ErrBackendUnavailable) {
			return nil, err
		}
		return nil, unavailable(err)
	}
	return moved, nil
}

func scopeClause(scope store.Scope) (string, []any) {
	switch scope.Kind() {
	case store.ScopeRecord:
		return "id = $1", []any{scope.RecordID()}
	case store.ScopeDevice:
		return "user_id = $1 AND device_id = $2", []any{scope.UserID(), scope.DeviceID()}
	default:
		return "user_id = $1", []any{scope.UserID()}
	}
}

func (b *Backend) LookupRevoked(ctx context.Context, token string) (*store.RevokedRecord, error) {
	if token == "" {
		return nil, nil
	}
	var (
		rec        store.RevokedRecord
		reason     string
		graceUntil *time.Time
	)
	err := b.pool.QueryRow(ctx, `
		SELECT `+revokedColumns+`
		FROM gosession_revoked_tokens
		WHERE token_hash = $1 AND expires_at > $2
	`, store.TokenHash(token), b.now()).Scan(
		&rec.UserID, &rec.DeviceID, &rec.Salt, &rec.Token, &rec.IPAddress,
		&reason, &rec.RevokedAt, &graceUntil, &rec.ExpiresAt, &rec.ReplacedBy, &rec.GraceConsumed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	rec.Reason = store.Reason(reason)
	if graceUntil != nil {
		rec.GraceUntil = *graceUntil
	}
	return &rec, nil
}

// InsertRevoked writes recs in one transaction. An existing entry for the
// same token is kept.
func (b *Backend) InsertRevoked(ctx context.Context, recs []store.RevokedRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		return insertRevoked(ctx, tx, recs)
	})
	if err != nil && !errors.Is(err, store.ErrBackendUnavailable) {
		return unavailable(err)
	}
	return err
}

func insertRevoked(ctx context.Context, tx pgx.Tx, recs []store.RevokedRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range recs {
		rec := &recs[i]
		if rec.Token == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO gosession_revoked_tokens (
				token_hash, `+revokedColumns+`
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (token_hash) DO NOTHING
		`, store.TokenHash(rec.Token), rec.UserID, rec.DeviceID, rec.Salt, rec.Token, rec.IPAddress,
			string(rec.Reason), rec.RevokedAt, nullTime(rec.GraceUntil), rec.ExpiresAt, rec.ReplacedBy, rec.GraceConsumed)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return unavailable(err)
	}
	return nil
}

// ConsumeGrace is a single conditional UPDATE, so exactly one caller wins.
func (b *Backend) ConsumeGrace(ctx context.Context, token string, now time.Time) (bool, error) {
	tag, err := b.pool.Exec(ctx, `
		UPDATE gosession_revoked_tokens
		SET grace_consumed = TRUE
		WHERE token_hash = $1
		  AND NOT grace_consumed
		  AND grace_until IS NOT NULL
		  AND grace_until >= $2
	`, store.TokenHash(token), now)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

// SweepResult counts the rows removed by Sweep.
type SweepResult struct {
	Records int64
	Revoked int64
}

// Sweep deletes rows whose token has expired. Reads already ignore them, so
// Sweep only reclaims space.
func (b *Backend) Sweep(ctx context.Context) (SweepResult, error) {
	now := b.now()
	var res SweepResult
	tag, err := b.pool.Exec(ctx, `DELETE FROM gosession_refresh_records WHERE expires_at <= $1`, now)
	if err != nil {
		return res, unavailable(err)
	}
	res.Records = tag.RowsAffected()
	tag, err = b.pool.Exec(ctx, `DELETE FROM gosession_revoked_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return res, unavailable(err)
	}
	res.Revoked = tag.RowsAffected()
	return res, nil
}

func scanRecord(row pgx.Row) (*store.RefreshRecord, error) {
	var (
		rec       store.RefreshRecord
		rotatedAt *time.Time
	)
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.DeviceID, &rec.Salt, &rec.Token,
		&rec.IPAddress, &rec.UserAgent, &rec.IssuedAt, &rotatedAt, &rec.ExpiresAt,
	); err != nil {
		return nil, err
	}
	if rotatedAt != nil {
		rec.RotatedAt = *rotatedAt
	}
	return &rec, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func constantEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
