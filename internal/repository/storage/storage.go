package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trunov/captionhub/internal/entities"
	"github.com/trunov/captionhub/internal/errs"
)

const recordColumns = `id, caption, caption_encrypted, raw_object_url, public_object_url, status, done, created_at, updated_at`

// Storage is the record store backed by Postgres.
type Storage struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Storage{dbpool: pool}, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := s.dbpool.Ping(ctx); err != nil {
		return classify("records.Ping", err)
	}
	return nil
}

func (s *Storage) Close() { s.dbpool.Close() }

func scanRecord(row pgx.Row) (entities.Record, error) {
	var r entities.Record
	var status string
	err := row.Scan(&r.ID, &r.Caption, &r.CaptionEncrypted, &r.RawObjectURL, &r.PublicObjectURL, &status, &r.Done, &r.CreatedAt, &r.UpdatedAt)
	r.Status = entities.Status(status)
	return r, err
}

// InsertRecord commits a new row and returns it with its assigned id.
func (s *Storage) InsertRecord(ctx context.Context, nr entities.NewRecord) (entities.Record, error) {
	row := s.dbpool.QueryRow(ctx, `
		INSERT INTO records (caption, caption_encrypted, raw_object_url, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+recordColumns,
		nr.Caption, nr.CaptionEncrypted, nr.RawObjectURL, string(nr.Status),
	)
	r, err := scanRecord(row)
	if err != nil {
		return entities.Record{}, classify("records.Insert", err)
	}
	return r, nil
}

// CompleteRecord marks a record completed with its public URL. It only
// matches rows awaiting or already past compression, so it can neither move
// a status backwards nor complete a text-only record; running it again with
// the same arguments changes nothing.
func (s *Storage) CompleteRecord(ctx context.Context, id int64, publicURL string) error {
	tag, err := s.dbpool.Exec(ctx, `
		UPDATE records
		SET public_object_url = $1, status = 'completed', updated_at = NOW()
		WHERE id = $2 AND status IN ('processing', 'completed')`,
		publicURL, id,
	)
	if err != nil {
		return classify("records.Complete", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.E(errs.KindNotFound, "records.Complete", fmt.Errorf("record %d is missing or not awaiting compression", id))
	}
	return nil
}

func (s *Storage) GetRecord(ctx context.Context, id int64) (entities.Record, error) {
	r, err := scanRecord(s.dbpool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id))
	if err != nil {
		return entities.Record{}, classify("records.Get", err)
	}
	return r, nil
}

func (s *Storage) ListRecords(ctx context.Context) ([]entities.Record, error) {
	rows, err := s.dbpool.Query(ctx, `SELECT `+recordColumns+` FROM records ORDER BY id`)
	if err != nil {
		return nil, classify("records.List", err)
	}
	return collect("records.List", rows)
}

func (s *Storage) ToggleDone(ctx context.Context, id int64) (entities.Record, error) {
	r, err := scanRecord(s.dbpool.QueryRow(ctx, `
		UPDATE records SET done = NOT done, updated_at = NOW()
		WHERE id = $1
		RETURNING `+recordColumns, id))
	if err != nil {
		return entities.Record{}, classify("records.ToggleDone", err)
	}
	return r, nil
}

func (s *Storage) DeleteRecord(ctx context.Context, id int64) (entities.Record, error) {
	r, err := scanRecord(s.dbpool.QueryRow(ctx, `DELETE FROM records WHERE id = $1 RETURNING `+recordColumns, id))
	if err != nil {
		return entities.Record{}, classify("records.Delete", err)
	}
	return r, nil
}

// ListStaleProcessing returns records still processing whose last update is
// older than olderThan, oldest first.
func (s *Storage) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]entities.Record, error) {
	rows, err := s.dbpool.Query(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, classify("records.ListStale", err)
	}
	return collect("records.ListStale", rows)
}

// TouchRecord bumps updated_at so the sweep does not pick the row again
// before stale_after has passed.
func (s *Storage) TouchRecord(ctx context.Context, id int64) error {
	if _, err := s.dbpool.Exec(ctx, `UPDATE records SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		return classify("records.Touch", err)
	}
	return nil
}

func collect(op string, rows pgx.Rows) ([]entities.Record, error) {
	defer rows.Close()
	out := make([]entities.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// classify maps driver errors onto errs kinds by SQLSTATE class.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.E(errs.KindNotFound, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23":
			return errs.E(errs.KindInvalidInput, op, err)
		}
	}
	return errs.E(errs.KindTransient, op, err)
}
