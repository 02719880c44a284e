package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/playvault/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDoubleEntryService_RecordTransferTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDoubleEntryService(db)
	ctx := context.Background()

	readWalletQuery := "SELECT id, balance, version FROM wallets WHERE id = \\$1"
	updateWalletQuery := "UPDATE wallets SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4"

	t.Run("successful transfer", func(t *testing.T) {
		fromWalletID := "wallet-a"
		toWalletID := "wallet-b"
		transactionID := "tx-123"
		op := models.TransferOperation{
			FromWalletID: fromWalletID,
			ToWalletID:   toWalletID,
			AssetTypeID:  "asset-gold",
			Amount:       decimal.NewFromInt(1000),
			Description:  "purchase",
		}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		// Destination is read first, then the source
		mock.ExpectQuery(readWalletQuery).
			WithArgs(toWalletID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).
				AddRow(toWalletID, "2000", 3))

		mock.ExpectQuery(readWalletQuery).
			WithArgs(fromWalletID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).
				AddRow(fromWalletID, "5000", 1))

		// Credit entry for the destination
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), transactionID, toWalletID, "asset-gold", "CREDIT",
				op.Amount, decimal.NewFromInt(3000), fromWalletID, "purchase", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Debit entry for the source
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), transactionID, fromWalletID, "asset-gold", "DEBIT",
				op.Amount, decimal.NewFromInt(4000), toWalletID, "purchase", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// CAS update source, then destination
		mock.ExpectExec(updateWalletQuery).
			WithArgs(decimal.NewFromInt(4000), sqlmock.AnyArg(), fromWalletID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec(updateWalletQuery).
			WithArgs(decimal.NewFromInt(3000), sqlmock.AnyArg(), toWalletID, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		outcome, err := service.RecordTransferTx(ctx, tx, transactionID, op)
		assert.NoError(t, err)
		assert.NotNil(t, outcome)
		assert.Equal(t, "3000", outcome.ToBalance.String())
		assert.NotNil(t, outcome.FromBalance)
		assert.Equal(t, "4000", outcome.FromBalance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		op := models.TransferOperation{
			FromWalletID: "wallet-a",
			ToWalletID:   "wallet-b",
			AssetTypeID:  "asset-gold",
			Amount:       decimal.NewFromInt(6000),
		}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery(readWalletQuery).
			WithArgs("wallet-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).
				AddRow("wallet-b", "2000", 0))

		mock.ExpectQuery(readWalletQuery).
			WithArgs("wallet-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).
				AddRow("wallet-a", "5000", 0))

		outcome, err := service.RecordTransferTx(ctx, tx, "tx-123", op)
		assert.Nil(t, outcome)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("destination wallet not found", func(t *testing.T) {
		op := models.TransferOperation{
			FromWalletID: "wallet-a",
			ToWalletID:   "missing",
			AssetTypeID:  "asset-gold",
			Amount:       decimal.NewFromInt(10),
		}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery(readWalletQuery).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := service.RecordTransferTx(ctx, tx, "tx-123", op)
		assert.ErrorIs(t, err, ErrDestinationWalletNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mint without source wallet", func(t *testing.T) {
		op := models.TransferOperation{
			ToWalletID:  "wallet-b",
			AssetTypeID: "asset-gold",
			Amount:      decimal.NewFromInt(50),
		}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery(readWalletQuery).
			WithArgs("wallet-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).
				AddRow("wallet-b", "0", 0))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "tx-123", "wallet-b", "asset-gold", "CREDIT",
				op.Amount, decimal.NewFromInt(50), nil, "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateWalletQuery).
			WithArgs(decimal.NewFromInt(50), sqlmock.AnyArg(), "wallet-b", 0).
			WillReturnResult(sqlmock.NewResult(0, 1))

		outcome, err := service.RecordTransferTx(ctx, tx, "tx-123", op)
		assert.NoError(t, err)
		assert.Nil(t, outcome.FromBalance)
		assert.Equal(t, "50", outcome.ToBalance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version conflict on source", func(t *testing.T) {
		op := models.TransferOperation{
			FromWalletID: "wallet-a",
			ToWalletID:   "wallet-b",
			AssetTypeID:  "asset-gold",
			Amount:       decimal.NewFromInt(100),
		}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery(readWalletQuery).
			WithArgs("wallet-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).
				AddRow("wallet-b", "0", 0))

		mock.ExpectQuery(readWalletQuery).
			WithArgs("wallet-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).
				AddRow("wallet-a", "500", 7))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))

		// No rows affected: someone else bumped the version
		mock.ExpectExec(updateWalletQuery).
			WithArgs(decimal.NewFromInt(400), sqlmock.AnyArg(), "wallet-a", 7).
			WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := service.RecordTransferTx(ctx, tx, "tx-123", op)
		assert.ErrorIs(t, err, ErrConcurrentModificationSource)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		op := models.TransferOperation{
			ToWalletID:  "wallet-b",
			AssetTypeID: "asset-gold",
			Amount:      decimal.Zero,
		}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		_, err := service.RecordTransferTx(ctx, tx, "tx-123", op)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "amount must be positive")
	})
}
