package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fitstack/internal/auth"
	"github.com/dukerupert/fitstack/internal/model"
)

type walletReader interface {
	GetOrCreate(ctx context.Context, owner model.Owner) (*model.Wallet, error)
	Transactions(ctx context.Context, owner model.Owner) ([]model.Transaction, error)
}

type WalletHandler struct {
	wallets walletReader
	logger  *slog.Logger
}

func NewWalletHandler(wallets walletReader, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, logger: logger.With("component", "wallet")}
}

type walletResponse struct {
	Wallet       *model.Wallet       `json:"wallet"`
	Transactions []model.Transaction `json:"transactions"`
}

// Get returns the caller's wallet and its transaction history. Coaches see
// their coach wallet.
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	owner := model.Owner{ID: ac.UserID, Type: model.OwnerUser}
	if ac.Role == model.RoleCoach {
		owner.Type = model.OwnerCoach
	}

	wallet, err := h.wallets.GetOrCreate(r.Context(), owner)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	txs, err := h.wallets.Transactions(r.Context(), owner)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, walletResponse{Wallet: wallet, Transactions: txs})
}
