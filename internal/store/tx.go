package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type txKey struct{}

// TxFromContext returns the transaction stored by TxManager.WithTx
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// RetryConfig configures retry behavior for serialization failures and deadlocks
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseBackoff: 50 * time.Millisecond,
	}
}

// TxManager runs functions inside database transactions
type TxManager struct {
	db     *sql.DB
	retry  RetryConfig
	logger *zap.Logger
}

// NewTxManager creates a transaction manager
func NewTxManager(db *sql.DB, logger *zap.Logger) *TxManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TxManager{db: db, retry: DefaultRetryConfig(), logger: logger}
}

// WithRetryConfig overrides the retry policy
func (m *TxManager) WithRetryConfig(cfg RetryConfig) *TxManager {
	m.retry = cfg
	return m
}

// WithTx runs fn inside a transaction carried by the context passed to fn.
// Nested calls reuse the outer transaction. Serialization failures and
// deadlocks are retried with exponential backoff.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	var lastErr error
	attempts := m.retry.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}

		err := m.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		lastErr = err
		if attempt == attempts-1 {
			break
		}
		backoff := m.retry.BaseBackoff * time.Duration(1<<uint(attempt))
		m.logger.Debug("retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("transaction failed after %d attempts: %w", attempts, lastErr)
}

func (m *TxManager) runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
