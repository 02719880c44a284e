package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/playvault/backend/internal/config"
	"github.com/playvault/backend/internal/models"
	"github.com/shopspring/decimal"
)

const balanceKeyPrefix = "balance:"

// WalletService owns the read side and wallet provisioning. It never writes
// balances; those belong to the double-entry writer.
type WalletService struct {
	db       *sql.DB
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewWalletService(db *sql.DB, redisClient *redis.Client, cfg *config.EngineConfig) *WalletService {
	return &WalletService{
		db:       db,
		redis:    redisClient,
		cacheTTL: cfg.BalanceCacheTTL,
	}
}

// GetOrCreateUserWallet provisions the user's wallet for an asset on first
// use. The unique index on (owner_id, owner_type, asset_type_id) makes the
// insert race-safe; losers of the race fall through to the select.
func (s *WalletService) GetOrCreateUserWallet(ctx context.Context, ownerID, assetTypeID string) (*models.Wallet, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, owner_id, owner_type, asset_type_id, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $5)
		ON CONFLICT (owner_id, owner_type, asset_type_id) DO NOTHING`,
		uuid.NewString(), ownerID, string(models.OwnerTypeUser), assetTypeID, now)
	if err != nil {
		return nil, fmt.Errorf("create wallet for user %s: %w", ownerID, err)
	}

	return s.getWallet(ctx, ownerID, models.OwnerTypeUser, assetTypeID)
}

// GetUserWallet looks up an existing user wallet without provisioning one.
func (s *WalletService) GetUserWallet(ctx context.Context, ownerID, assetTypeID string) (*models.Wallet, error) {
	return s.getWallet(ctx, ownerID, models.OwnerTypeUser, assetTypeID)
}

// GetSystemWallet resolves a seeded system wallet (TREASURY or REVENUE) for
// an asset.
func (s *WalletService) GetSystemWallet(ctx context.Context, ownerID, assetTypeID string) (*models.Wallet, error) {
	return s.getWallet(ctx, ownerID, models.OwnerTypeSystem, assetTypeID)
}

func (s *WalletService) getWallet(ctx context.Context, ownerID string, ownerType models.OwnerType, assetTypeID string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_type, asset_type_id, balance, version
		FROM wallets
		WHERE owner_id = $1 AND owner_type = $2 AND asset_type_id = $3`,
		ownerID, string(ownerType), assetTypeID).
		Scan(&wallet.ID, &wallet.OwnerID, &wallet.OwnerType, &wallet.AssetTypeID, &wallet.Balance, &wallet.Version)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// GetBalance reads a wallet balance through the Redis cache. The cache is a
// read-side convenience only; the wallets row stays authoritative.
func (s *WalletService) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	cached, err := s.redis.Get(ctx, balanceKeyPrefix+walletID).Result()
	if err == nil {
		if balance, parseErr := decimal.NewFromString(cached); parseErr == nil {
			return balance, nil
		}
	} else if err != redis.Nil {
		log.Printf("[WALLET] Balance cache read failed for %s: %v", walletID, err)
	}

	var balance decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE id = $1`, walletID).Scan(&balance); err != nil {
		return decimal.Decimal{}, err
	}

	if err := s.redis.Set(ctx, balanceKeyPrefix+walletID, balance.String(), s.cacheTTL).Err(); err != nil {
		log.Printf("[WALLET] Balance cache write failed for %s: %v", walletID, err)
	}
	return balance, nil
}

// InvalidateBalance drops cached balances after a committed write.
func (s *WalletService) InvalidateBalance(ctx context.Context, walletIDs ...string) {
	keys := make([]string, 0, len(walletIDs))
	for _, id := range walletIDs {
		if id != "" {
			keys = append(keys, balanceKeyPrefix+id)
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[WALLET] Balance cache invalidation failed: %v", err)
	}
}

// ListUserWallets returns all wallets owned by a user, one per asset.
func (s *WalletService) ListUserWallets(ctx context.Context, ownerID string) ([]models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, owner_type, asset_type_id, balance, version
		FROM wallets
		WHERE owner_id = $1 AND owner_type = $2
		ORDER BY asset_type_id`,
		ownerID, string(models.OwnerTypeUser))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wallets := []models.Wallet{}
	for rows.Next() {
		var wallet models.Wallet
		if err := rows.Scan(&wallet.ID, &wallet.OwnerID, &wallet.OwnerType, &wallet.AssetTypeID, &wallet.Balance, &wallet.Version); err != nil {
			return nil, err
		}
		wallets = append(wallets, wallet)
	}
	return wallets, rows.Err()
}

// GetLedger returns a wallet's entries, newest first.
func (s *WalletService) GetLedger(ctx context.Context, walletID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, wallet_id, asset_type_id, entry_type, amount, running_balance,
		       COALESCE(counterparty_wallet_id, '') AS counterparty_wallet_id,
		       COALESCE(description, '') AS description, created_at
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.WalletID, &entry.AssetTypeID,
			&entry.EntryType, &entry.Amount, &entry.RunningBalance,
			&entry.CounterpartyWalletID, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetUserStats aggregates credited/debited totals and entry counts per
// wallet for a user.
func (s *WalletService) GetUserStats(ctx context.Context, ownerID string) ([]models.WalletStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.asset_type_id, w.balance,
		       COALESCE(SUM(e.amount) FILTER (WHERE e.entry_type = 'CREDIT'), 0) AS total_credited,
		       COALESCE(SUM(e.amount) FILTER (WHERE e.entry_type = 'DEBIT'), 0) AS total_debited,
		       COUNT(e.id) AS transaction_count
		FROM wallets w
		LEFT JOIN ledger_entries e ON e.wallet_id = w.id
		WHERE w.owner_id = $1 AND w.owner_type = $2
		GROUP BY w.id, w.asset_type_id, w.balance
		ORDER BY w.asset_type_id`,
		ownerID, string(models.OwnerTypeUser))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []models.WalletStats{}
	for rows.Next() {
		var st models.WalletStats
		if err := rows.Scan(&st.WalletID, &st.AssetTypeID, &st.Balance, &st.TotalCredited, &st.TotalDebited, &st.TransactionCount); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
