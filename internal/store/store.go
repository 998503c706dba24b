// Package store persists confirmed receipts in PostgreSQL.
package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	// ShortCodeLength is the length of generated receipt short codes.
	ShortCodeLength = 8
	// ShortCodeAttempts caps how many codes are tried before giving up.
	ShortCodeAttempts = 5

	shortCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	// ErrShortCodeExhausted is returned when every generated code collided.
	ErrShortCodeExhausted = errors.New("could not generate a unique short code")
	// ErrNotFound is returned when no receipt has the requested short code.
	ErrNotFound = errors.New("receipt not found")

	errCodeTaken = errors.New("short code already in use")
)

// Schema creates the receipts table.
const Schema = `
CREATE TABLE IF NOT EXISTS receipts (
	id           UUID PRIMARY KEY,
	short_code   TEXT NOT NULL UNIQUE,
	receipt_no   TEXT NOT NULL DEFAULT '',
	company_type TEXT NOT NULL DEFAULT '',
	record       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Saved identifies a stored receipt.
type Saved struct {
	ID        uuid.UUID      `json:"id"`
	ShortCode string         `json:"shortCode"`
	Record    receipt.Record `json:"record"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Store reads and writes receipts.
type Store struct {
	db      DB
	logger  *zap.Logger
	newCode func() (string, error)
	backoff time.Duration
}

// Connect opens a pgx pool for url and checks it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// New creates a Store over db.
func New(db DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		logger:  logger.With(zap.String("stage", rerrors.StageStore)),
		newCode: randomCode,
		backoff: 10 * time.Millisecond,
	}
}

// Migrate creates the receipts table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return storageError("failed to create receipts table", err)
	}
	return nil
}

// GenerateShortCode returns a code no stored receipt uses yet.
func (s *Store) GenerateShortCode(ctx context.Context) (string, error) {
	b := retry.WithMaxRetries(ShortCodeAttempts-1, retry.NewConstant(s.backoff))

	code, err := retry.DoValue(ctx, b, func(ctx context.Context) (string, error) {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}

		var exists bool
		err = s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM receipts WHERE short_code = $1)`, code).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check short code: %w", err)
		}
		if exists {
			s.logger.Debug("store: short code collision", zap.String("short_code", code))
			return "", retry.RetryableError(errCodeTaken)
		}
		return code, nil
	})
	if errors.Is(err, errCodeTaken) {
		s.logger.Error("store: short code attempts exhausted", zap.Int("attempts", ShortCodeAttempts))
		return "", storageError("short code generation failed", ErrShortCodeExhausted)
	}
	if err != nil {
		return "", storageError("short code generation failed", err)
	}
	return code, nil
}

// Save inserts r under a new short code.
func (s *Store) Save(ctx context.Context, r receipt.Record) (*Saved, error) {
	code, err := s.GenerateShortCode(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return nil, storageError("failed to encode receipt", err)
	}

	saved := &Saved{ID: uuid.New(), ShortCode: code, Record: r}
	err = s.db.QueryRow(ctx, `
		INSERT INTO receipts (id, short_code, receipt_no, company_type, record)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		saved.ID, code, r.ReceiptNo, string(r.CompanyType), payload,
	).Scan(&saved.CreatedAt)
	if err != nil {
		return nil, storageError("failed to insert receipt", err)
	}

	s.logger.Info("store: receipt saved",
		zap.String("short_code", code),
		zap.String("receipt_no", r.ReceiptNo))
	return saved, nil
}

// GetByShortCode loads the receipt stored under code.
func (s *Store) GetByShortCode(ctx context.Context, code string) (*Saved, error) {
	var (
		saved   Saved
		payload []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, short_code, record, created_at
		FROM receipts
		WHERE short_code = $1`, code,
	).Scan(&saved.ID, &saved.ShortCode, &payload, &saved.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("failed to load receipt", err)
	}

	if err := json.Unmarshal(payload, &saved.Record); err != nil {
		return nil, storageError("stored receipt is corrupt", err)
	}
	return &saved, nil
}

func storageError(msg string, err error) error {
	return rerrors.Wrap(rerrors.ErrorTypeStorage, msg, err).WithStage(rerrors.StageStore)
}

func randomCode() (string, error) {
	buf := make([]byte, ShortCodeLength)
	max := big.NewInt(int64(len(shortCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = shortCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
