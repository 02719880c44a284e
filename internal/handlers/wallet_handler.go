package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/playvault/backend/internal/models"
	"github.com/playvault/backend/internal/services"
)

// WalletHandler maps the HTTP façade onto the transaction engine. Wallet
// resolution happens here: the executor only ever sees wallet ids.
type WalletHandler struct {
	executor  *services.TransactionService
	wallets   *services.WalletService
	validator *services.ValidationHelper
}

func NewWalletHandler(executor *services.TransactionService, wallets *services.WalletService) *WalletHandler {
	return &WalletHandler{
		executor:  executor,
		wallets:   wallets,
		validator: services.NewValidationHelper(),
	}
}

type walletOperationRequest struct {
	UserID      string         `json:"userId" validate:"required,max=64"`
	AssetTypeID string         `json:"assetTypeId" validate:"required,max=64"`
	Amount      string         `json:"amount" validate:"required"`
	Description string         `json:"description,omitempty" validate:"max=200"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TopUp mints funds from the Treasury wallet into a user wallet
// @Summary Top up a user wallet
// @Description Credit a user wallet from the seeded Treasury wallet
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string true "Idempotency key"
// @Param operation body walletOperationRequest true "Operation data"
// @Success 200 {object} models.TransactionResult
// @Failure 400 {object} services.ErrorResponse
// @Router /wallet/topup [post]
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	h.handleOperation(w, r, models.TransactionTypeTopup)
}

// Bonus credits a user wallet from the Revenue wallet
// @Summary Grant a bonus
// @Description Credit a user wallet from the Revenue wallet
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string true "Idempotency key"
// @Param operation body walletOperationRequest true "Operation data"
// @Success 200 {object} models.TransactionResult
// @Failure 400 {object} services.ErrorResponse
// @Router /wallet/bonus [post]
func (h *WalletHandler) Bonus(w http.ResponseWriter, r *http.Request) {
	h.handleOperation(w, r, models.TransactionTypeBonus)
}

// Spend debits a user wallet into the Revenue wallet
// @Summary Spend from a user wallet
// @Description Debit a user wallet into the Revenue wallet
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string true "Idempotency key"
// @Param operation body walletOperationRequest true "Operation data"
// @Success 200 {object} models.TransactionResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /wallet/spend [post]
func (h *WalletHandler) Spend(w http.ResponseWriter, r *http.Request) {
	h.handleOperation(w, r, models.TransactionTypePurchase)
}

func (h *WalletHandler) handleOperation(w http.ResponseWriter, r *http.Request, txType models.TransactionType) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		services.SendErrorResponse(w, string(services.CodeIdempotencyKeyRequired), http.StatusBadRequest, nil)
		return
	}

	var req walletOperationRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := services.ParseAmount(req.Amount)
	if err != nil {
		services.SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}

	op, err := h.resolveWallets(r, txType, req)
	if err != nil {
		log.Printf("[WALLET] Failed to resolve wallets for user %s: %v", req.UserID, err)
		services.SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		return
	}
	op.Amount = amount
	op.Description = req.Description
	op.Metadata = req.Metadata

	result, err := h.executor.Execute(r.Context(), txType, *op, idempotencyKey)
	if err != nil {
		writeExecuteError(w, err)
		return
	}

	h.wallets.InvalidateBalance(r.Context(), op.FromWalletID, op.ToWalletID)

	w.Header().Set("Content-Type", "application/json")
	if result.Status == models.TransactionStatusFailed {
		// A replayed key whose original run failed returns the stored
		// failure record.
		w.WriteHeader(statusForCode(services.ErrorCode(result.Error)))
	}
	json.NewEncoder(w).Encode(result)
}

// resolveWallets applies the type -> wallet wiring: TOPUP mints from
// Treasury, BONUS pays from Revenue, PURCHASE sinks into Revenue. The user
// side is auto-created for credits.
func (h *WalletHandler) resolveWallets(r *http.Request, txType models.TransactionType, req walletOperationRequest) (*models.TransferOperation, error) {
	ctx := r.Context()
	op := &models.TransferOperation{AssetTypeID: req.AssetTypeID}

	switch txType {
	case models.TransactionTypeTopup:
		treasury, err := h.wallets.GetSystemWallet(ctx, models.SystemOwnerTreasury, req.AssetTypeID)
		if err != nil {
			return nil, err
		}
		user, err := h.wallets.GetOrCreateUserWallet(ctx, req.UserID, req.AssetTypeID)
		if err != nil {
			return nil, err
		}
		op.FromWalletID, op.ToWalletID = treasury.ID, user.ID
	case models.TransactionTypeBonus:
		revenue, err := h.wallets.GetSystemWallet(ctx, models.SystemOwnerRevenue, req.AssetTypeID)
		if err != nil {
			return nil, err
		}
		user, err := h.wallets.GetOrCreateUserWallet(ctx, req.UserID, req.AssetTypeID)
		if err != nil {
			return nil, err
		}
		op.FromWalletID, op.ToWalletID = revenue.ID, user.ID
	case models.TransactionTypePurchase:
		user, err := h.wallets.GetUserWallet(ctx, req.UserID, req.AssetTypeID)
		if err != nil {
			return nil, err
		}
		revenue, err := h.wallets.GetSystemWallet(ctx, models.SystemOwnerRevenue, req.AssetTypeID)
		if err != nil {
			return nil, err
		}
		op.FromWalletID, op.ToWalletID = user.ID, revenue.ID
	}
	return op, nil
}

// GetBalance returns the balances of a user's wallets
// @Summary Get user balances
// @Description Read balances for one asset or all of the user's wallets
// @Tags wallet
// @Produce json
// @Param userId path string true "User ID"
// @Param assetTypeId query string false "Asset type ID"
// @Success 200 {object} object{userId=string,balances=[]object}
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet/{userId}/balance [get]
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	assetTypeID := r.URL.Query().Get("assetTypeId")

	type balanceEntry struct {
		WalletID    string `json:"walletId"`
		AssetTypeID string `json:"assetTypeId"`
		Balance     string `json:"balance"`
	}
	balances := []balanceEntry{}

	if assetTypeID != "" {
		wallet, err := h.wallets.GetUserWallet(r.Context(), userID, assetTypeID)
		if err != nil {
			services.SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
			return
		}
		balance, err := h.wallets.GetBalance(r.Context(), wallet.ID)
		if err != nil {
			services.SendErrorResponse(w, "Failed to read balance", http.StatusInternalServerError, nil)
			return
		}
		balances = append(balances, balanceEntry{wallet.ID, wallet.AssetTypeID, balance.String()})
	} else {
		wallets, err := h.wallets.ListUserWallets(r.Context(), userID)
		if err != nil {
			services.SendErrorResponse(w, "Failed to read balances", http.StatusInternalServerError, nil)
			return
		}
		for _, wallet := range wallets {
			balances = append(balances, balanceEntry{wallet.ID, wallet.AssetTypeID, wallet.Balance.String()})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"userId":   userID,
		"balances": balances,
	})
}

// GetLedger returns a user's ledger history for an asset
// @Summary Get ledger history
// @Description List ledger entries for a user's wallet, newest first
// @Tags wallet
// @Produce json
// @Param userId path string true "User ID"
// @Param assetTypeId query string true "Asset type ID"
// @Param limit query int false "Number of entries to return (default: 50, max: 200)"
// @Success 200 {object} object{entries=[]models.LedgerEntry,count=int}
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet/{userId}/ledger [get]
func (h *WalletHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	assetTypeID := r.URL.Query().Get("assetTypeId")
	if assetTypeID == "" {
		services.SendErrorResponse(w, "assetTypeId is required", http.StatusBadRequest, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	wallet, err := h.wallets.GetUserWallet(r.Context(), userID, assetTypeID)
	if err != nil {
		services.SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		return
	}

	entries, err := h.wallets.GetLedger(r.Context(), wallet.ID, limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch ledger", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetStats returns aggregate wallet statistics for a user
// @Summary Get wallet statistics
// @Description Per-asset credited/debited totals and entry counts
// @Tags wallet
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} object{userId=string,wallets=[]models.WalletStats}
// @Failure 500 {object} services.ErrorResponse
// @Router /wallet/{userId}/stats [get]
func (h *WalletHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	stats, err := h.wallets.GetUserStats(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch stats", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"userId":  userID,
		"wallets": stats,
	})
}

func writeExecuteError(w http.ResponseWriter, err error) {
	if domainErr, ok := services.AsDomain(err); ok {
		services.SendErrorResponse(w, string(domainErr.Code), statusForCode(domainErr.Code), nil)
		return
	}
	log.Printf("[WALLET] Execute failed: %v", err)
	services.SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
}

func statusForCode(code services.ErrorCode) int {
	switch code {
	case services.CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case services.CodeSourceWalletNotFound, services.CodeDestinationWalletNotFound:
		return http.StatusNotFound
	case services.CodeConcurrentModificationSource, services.CodeConcurrentModificationDestination,
		services.CodeRequestAlreadyProcessing:
		return http.StatusConflict
	case services.CodeLockUnavailable:
		return http.StatusServiceUnavailable
	case services.CodeIdempotencyKeyRequired:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
