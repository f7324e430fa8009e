package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"link-redirect-service/models"

	"github.com/lib/pq"
)

// Postgres SQLSTATE codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type PostgresDB struct {
	db *sql.DB
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Most redirects are answered from cache; the pool only needs to absorb misses,
	// mutations and click batches.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{db: db}, nil
}

// NewPostgresDBFromConn wraps an already opened handle.
func NewPostgresDBFromConn(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks database connectivity
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const linkColumns = `id, short_code, original_url, password_protected, password_hash,
	expires_at, is_active, qr_code_options, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*models.Link, error) {
	var (
		link      models.Link
		hash      sql.NullString
		expiresAt sql.NullTime
		qr        []byte
	)
	err := row.Scan(&link.ID, &link.ShortCode, &link.OriginalURL, &link.PasswordProtected,
		&hash, &expiresAt, &link.IsActive, &qr, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if hash.Valid {
		link.PasswordHash = &hash.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		link.ExpiresAt = &t
	}
	if len(qr) > 0 {
		var opts models.QROptions
		if err := json.Unmarshal(qr, &opts); err != nil {
			return nil, fmt.Errorf("failed to decode qr_code_options: %w", err)
		}
		link.QROptions = &opts
	}
	return &link, nil
}

// GetActiveLinkByCode returns the link only when it is active. Inactive and
// absent links both yield models.ErrNotFound.
func (p *PostgresDB) GetActiveLinkByCode(ctx context.Context, shortCode string) (*models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM urls WHERE short_code = $1 AND is_active = TRUE`

	link, err := scanLink(p.db.QueryRowContext(ctx, query, shortCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get active link", err)
	}
	return link, nil
}

// GetLinkByCode returns the link regardless of its active flag.
func (p *PostgresDB) GetLinkByCode(ctx context.Context, shortCode string) (*models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM urls WHERE short_code = $1`

	link, err := scanLink(p.db.QueryRowContext(ctx, query, shortCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get link", err)
	}
	return link, nil
}

// CreateLink inserts a new link and fills ID and timestamps. A duplicate short
// code yields models.ErrCodeExists.
func (p *PostgresDB) CreateLink(ctx context.Context, link *models.Link) error {
	qr, err := encodeQR(link.QROptions)
	if err != nil {
		return err
	}

	query := `INSERT INTO urls (short_code, original_url, password_protected, password_hash,
	              expires_at, is_active, qr_code_options)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id, created_at, updated_at`

	err = p.db.QueryRowContext(ctx, query, link.ShortCode, link.OriginalURL, link.PasswordProtected,
		link.PasswordHash, link.ExpiresAt, link.IsActive, qr).
		Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrCodeExists
		}
		return storeErr("create link", err)
	}
	return nil
}

// UpdateLink rewrites the mutable columns of the link identified by ID.
func (p *PostgresDB) UpdateLink(ctx context.Context, link *models.Link) error {
	qr, err := encodeQR(link.QROptions)
	if err != nil {
		return err
	}

	query := `UPDATE urls
	          SET original_url = $2, password_protected = $3, password_hash = $4,
	              expires_at = $5, is_active = $6, qr_code_options = $7, updated_at = NOW()
	          WHERE id = $1
	          RETURNING updated_at`

	err = p.db.QueryRowContext(ctx, query, link.ID, link.OriginalURL, link.PasswordProtected,
		link.PasswordHash, link.ExpiresAt, link.IsActive, qr).Scan(&link.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return storeErr("update link", err)
	}
	return nil
}

// SetQROptions replaces the QR configuration of a link.
func (p *PostgresDB) SetQROptions(ctx context.Context, shortCode string, opts *models.QROptions) error {
	qr, err := encodeQR(opts)
	if err != nil {
		return err
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE urls SET qr_code_options = $2, updated_at = NOW() WHERE short_code = $1`,
		shortCode, qr)
	if err != nil {
		return storeErr("set qr options", err)
	}
	return requireRow(res)
}

// DeleteLink removes the link; its clicks are removed by the foreign key cascade.
func (p *PostgresDB) DeleteLink(ctx context.Context, shortCode string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM urls WHERE short_code = $1`, shortCode)
	if err != nil {
		return storeErr("delete link", err)
	}
	return requireRow(res)
}

// RecordClicks appends click events in one transaction. Events whose ID is
// already stored are ignored, so replaying a batch is harmless. Events for links
// deleted after the visit are dropped rather than failing the batch.
func (p *PostgresDB) RecordClicks(ctx context.Context, events []models.ClickEvent) error {
	if len(events) == 0 {
		return nil
	}

	err := p.recordClicks(ctx, events)
	if isForeignKeyViolation(err) {
		// a link was deleted between the existence check and the insert;
		// the retry sees the delete and skips its rows
		err = p.recordClicks(ctx, events)
	}
	return err
}

func (p *PostgresDB) recordClicks(ctx context.Context, events []models.ClickEvent) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO clicks (id, url_id, event_type, user_agent, clicked_at)
	                                      SELECT $1::uuid, $2::bigint, $3::varchar, $4::text, $5::timestamptz
	                                      WHERE EXISTS (SELECT 1 FROM urls WHERE id = $2::bigint)
	                                      ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return storeErr("prepare statement", err)
	}
	defer stmt.Close()

	for _, event := range events {
		_, err := stmt.ExecContext(ctx, event.ID, event.URLID, string(event.EventType),
			event.UserAgent, event.ClickedAt)
		if err != nil {
			return storeErr("insert click", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit transaction", err)
	}

	return nil
}

// CountClicks returns the number of recorded clicks of the given type for a link.
func (p *PostgresDB) CountClicks(ctx context.Context, urlID int64, eventType models.EventType) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clicks WHERE url_id = $1 AND event_type = $2`,
		urlID, string(eventType)).Scan(&count)
	if err != nil {
		return 0, storeErr("count clicks", err)
	}
	return count, nil
}

// encodeQR returns a JSON string or nil. lib/pq sends []byte as bytea, which
// jsonb rejects, so the document travels as text.
func encodeQR(opts *models.QROptions) (any, error) {
	if opts == nil {
		return nil, nil
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr_code_options: %w", err)
	}
	return string(data), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
}
