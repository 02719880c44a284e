package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/playvault/backend/internal/config"
	"github.com/playvault/backend/internal/models"
	"github.com/shopspring/decimal"
)

const pqUniqueViolation = "23505"

// TransactionService is the entry point of the transaction engine. Execute
// deduplicates via the idempotency store, serialises contenders through the
// ordered-lock coordinator, and commits the header plus ledger entries in a
// single serializable database transaction.
type TransactionService struct {
	db          *sql.DB
	idempotency *IdempotencyService
	coordinator *LockCoordinator
	ledger      *DoubleEntryService
	cfg         *config.EngineConfig
}

func NewTransactionService(db *sql.DB, redisClient *redis.Client, cfg *config.EngineConfig) *TransactionService {
	return &TransactionService{
		db:          db,
		idempotency: NewIdempotencyService(redisClient, cfg),
		coordinator: NewLockCoordinator(NewLockService(redisClient), cfg),
		ledger:      NewDoubleEntryService(db),
		cfg:         cfg,
	}
}

// Execute runs one ledger operation exactly once per idempotency key.
// A replayed key returns the stored result without re-executing work.
// Non-retriable domain failures are recorded under the key with a short TTL
// and re-raised; retriable domain failures and infrastructure failures
// propagate uncached.
func (ts *TransactionService) Execute(ctx context.Context, txType models.TransactionType, op models.TransferOperation, idempotencyKey string) (*models.TransactionResult, error) {
	if idempotencyKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}

	cached, err := ts.idempotency.Check(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		log.Printf("[EXECUTOR] Idempotent replay for key %s, transaction %s", idempotencyKey, cached.TransactionID)
		return cached, nil
	}

	claimed, err := ts.idempotency.Claim(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrRequestAlreadyProcessing
	}
	// Unclaim must run even when the caller's context is already cancelled.
	defer ts.idempotency.Unclaim(context.Background(), idempotencyKey)

	transactionID := uuid.NewString()
	walletIDs := make([]string, 0, 2)
	if op.FromWalletID != "" {
		walletIDs = append(walletIDs, op.FromWalletID)
	}
	walletIDs = append(walletIDs, op.ToWalletID)

	var result *models.TransactionResult
	err = ts.coordinator.WithWalletLocks(ctx, walletIDs, func() error {
		res, runErr := ts.runTransaction(ctx, transactionID, txType, op, idempotencyKey)
		if runErr != nil {
			return runErr
		}
		result = res
		return nil
	})

	if err != nil {
		if domainErr, ok := AsDomain(err); ok && !domainErr.Retriable() {
			failure := &models.TransactionResult{
				TransactionID: transactionID,
				Status:        models.TransactionStatusFailed,
				Error:         string(domainErr.Code),
			}
			if storeErr := ts.idempotency.Store(ctx, idempotencyKey, failure); storeErr != nil {
				log.Printf("[EXECUTOR] Failed to store failure for key %s: %v", idempotencyKey, storeErr)
			}
		}
		return nil, err
	}

	if storeErr := ts.idempotency.Store(ctx, idempotencyKey, result); storeErr != nil {
		// The transaction is durable; losing the cache entry only costs a
		// reconstruction on replay.
		log.Printf("[EXECUTOR] Failed to store result for key %s: %v", idempotencyKey, storeErr)
	}
	return result, nil
}

func (ts *TransactionService) runTransaction(ctx context.Context, transactionID string, txType models.TransactionType, op models.TransferOperation, idempotencyKey string) (*models.TransactionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.cfg.TxTimeout)
	defer cancel()

	dbTx, err := ts.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ts.cfg.LockWaitTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	if err := ts.insertHeader(ctx, dbTx, transactionID, txType, op, idempotencyKey); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			// The cache missed but the key was already executed (or is mid
			// flight). The unique index is the durable guard; rebuild the
			// original result from the committed rows if there is one.
			dbTx.Rollback()
			log.Printf("[EXECUTOR] Duplicate idempotency key %s, reconstructing result", idempotencyKey)
			return ts.reconstructResult(ctx, idempotencyKey)
		}
		return nil, fmt.Errorf("insert transaction header: %w", err)
	}

	outcome, err := ts.ledger.RecordTransferTx(ctx, dbTx, transactionID, op)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	result := &models.TransactionResult{
		TransactionID: transactionID,
		Status:        models.TransactionStatusCompleted,
		ToBalance:     outcome.ToBalance.String(),
	}
	if outcome.FromBalance != nil {
		result.FromBalance = outcome.FromBalance.String()
	}
	log.Printf("[EXECUTOR] Transaction %s (%s) committed for key %s", transactionID, txType, idempotencyKey)
	return result, nil
}

func (ts *TransactionService) insertHeader(ctx context.Context, dbTx *sql.Tx, transactionID string, txType models.TransactionType, op models.TransferOperation, idempotencyKey string) error {
	var metadata any
	if len(op.Metadata) > 0 {
		data, err := json.Marshal(op.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = data
	}

	now := time.Now().UTC()
	_, err := dbTx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, idempotency_key, type, status, metadata, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		transactionID, idempotencyKey, string(txType), string(models.TransactionStatusCompleted),
		metadata, now, now)
	return err
}

// reconstructResult rebuilds the original success result for a key whose
// cache entry was lost. Runs outside any transaction; ledger entries are
// immutable so the read is stable.
func (ts *TransactionService) reconstructResult(ctx context.Context, idempotencyKey string) (*models.TransactionResult, error) {
	var transactionID string
	var status string
	err := ts.db.QueryRowContext(ctx, `
		SELECT id, status
		FROM transactions
		WHERE idempotency_key = $1`, idempotencyKey).Scan(&transactionID, &status)
	if err == sql.ErrNoRows {
		// Another instance holds the row open but has not committed yet.
		return nil, ErrRequestAlreadyProcessing
	}
	if err != nil {
		return nil, fmt.Errorf("look up transaction for key %s: %w", idempotencyKey, err)
	}
	if status != string(models.TransactionStatusCompleted) {
		return nil, ErrRequestAlreadyProcessing
	}

	rows, err := ts.db.QueryContext(ctx, `
		SELECT entry_type, running_balance
		FROM ledger_entries
		WHERE transaction_id = $1`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load ledger entries for transaction %s: %w", transactionID, err)
	}
	defer rows.Close()

	result := &models.TransactionResult{
		TransactionID: transactionID,
		Status:        models.TransactionStatusCompleted,
	}
	for rows.Next() {
		var entryType string
		var runningBalance decimal.Decimal
		if err := rows.Scan(&entryType, &runningBalance); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		switch models.EntryType(entryType) {
		case models.EntryTypeCredit:
			result.ToBalance = runningBalance.String()
		case models.EntryTypeDebit:
			result.FromBalance = runningBalance.String()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger entries: %w", err)
	}
	return result, nil
}
