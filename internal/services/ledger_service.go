package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/playvault/backend/internal/models"
	"github.com/shopspring/decimal"
)

// DoubleEntryService writes balanced ledger movements inside a database
// transaction opened by the executor. Every successful movement produces a
// credit entry, a debit entry (unless minting), and a version-CAS balance
// update on each touched wallet.
type DoubleEntryService struct {
	db *sql.DB
}

func NewDoubleEntryService(db *sql.DB) *DoubleEntryService {
	return &DoubleEntryService{db: db}
}

// TransferOutcome carries the post-transfer balances back to the executor.
// FromBalance is nil when no source wallet was involved.
type TransferOutcome struct {
	FromBalance *decimal.Decimal
	ToBalance   decimal.Decimal
}

// RecordTransferTx applies op inside dbTx: reads the wallet rows, validates
// the source balance, appends the credit and debit entries with running
// balances, and CAS-updates both wallets. Any error leaves dbTx for the
// executor to roll back.
func (s *DoubleEntryService) RecordTransferTx(ctx context.Context, dbTx *sql.Tx, transactionID string, op models.TransferOperation) (*TransferOutcome, error) {
	if !op.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", op.Amount)
	}

	toWallet, err := s.readWallet(ctx, dbTx, op.ToWalletID)
	if err == sql.ErrNoRows {
		return nil, ErrDestinationWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read destination wallet %s: %w", op.ToWalletID, err)
	}

	var fromWallet *models.Wallet
	if op.FromWalletID != "" {
		fromWallet, err = s.readWallet(ctx, dbTx, op.FromWalletID)
		if err == sql.ErrNoRows {
			return nil, ErrSourceWalletNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("read source wallet %s: %w", op.FromWalletID, err)
		}
		if fromWallet.Balance.LessThan(op.Amount) {
			return nil, ErrInsufficientBalance
		}
	}

	newTo := toWallet.Balance.Add(op.Amount)
	var newFrom decimal.Decimal
	if fromWallet != nil {
		newFrom = fromWallet.Balance.Sub(op.Amount)
	}

	// Both entries share one timestamp so the pair reads as a single event.
	entryTime := time.Now().UTC()

	if err := s.appendEntry(ctx, dbTx, transactionID, toWallet, models.EntryTypeCredit, op, newTo, op.FromWalletID, entryTime); err != nil {
		return nil, fmt.Errorf("append credit entry: %w", err)
	}

	if fromWallet != nil {
		if err := s.appendEntry(ctx, dbTx, transactionID, fromWallet, models.EntryTypeDebit, op, newFrom, op.ToWalletID, entryTime); err != nil {
			return nil, fmt.Errorf("append debit entry: %w", err)
		}
	}

	if fromWallet != nil {
		if err := s.casUpdateWallet(ctx, dbTx, fromWallet, newFrom); err != nil {
			if err == errVersionConflict {
				return nil, ErrConcurrentModificationSource
			}
			return nil, err
		}
	}
	if err := s.casUpdateWallet(ctx, dbTx, toWallet, newTo); err != nil {
		if err == errVersionConflict {
			return nil, ErrConcurrentModificationDestination
		}
		return nil, err
	}

	outcome := &TransferOutcome{ToBalance: newTo}
	if fromWallet != nil {
		outcome.FromBalance = &newFrom
	}
	return outcome, nil
}

func (s *DoubleEntryService) readWallet(ctx context.Context, dbTx *sql.Tx, walletID string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := dbTx.QueryRowContext(ctx, `
		SELECT id, balance, version
		FROM wallets
		WHERE id = $1`, walletID).Scan(&wallet.ID, &wallet.Balance, &wallet.Version)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *DoubleEntryService) appendEntry(ctx context.Context, dbTx *sql.Tx, transactionID string, wallet *models.Wallet, entryType models.EntryType, op models.TransferOperation, runningBalance decimal.Decimal, counterpartyID string, createdAt time.Time) error {
	counterparty := sql.NullString{String: counterpartyID, Valid: counterpartyID != ""}

	_, err := dbTx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, transaction_id, wallet_id, asset_type_id, entry_type, amount, running_balance, counterparty_wallet_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.NewString(), transactionID, wallet.ID, op.AssetTypeID, string(entryType),
		op.Amount, runningBalance, counterparty, op.Description, createdAt)
	return err
}

var errVersionConflict = fmt.Errorf("wallet version conflict")

func (s *DoubleEntryService) casUpdateWallet(ctx context.Context, dbTx *sql.Tx, wallet *models.Wallet, newBalance decimal.Decimal) error {
	result, err := dbTx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now().UTC(), wallet.ID, wallet.Version)
	if err != nil {
		return fmt.Errorf("update wallet %s: %w", wallet.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update wallet %s: %w", wallet.ID, err)
	}
	if rowsAffected == 0 {
		return errVersionConflict
	}
	return nil
}
