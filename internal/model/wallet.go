package model

import "time"

type OwnerType string

const (
	OwnerUser     OwnerType = "user"
	OwnerCoach    OwnerType = "coach"
	OwnerPlatform OwnerType = "platform"
)

// Owner keys a wallet.
type Owner struct {
	ID   string    `json:"id"`
	Type OwnerType `json:"type"`
}

type TransactionType string

const (
	TxRefund              TransactionType = "refund"
	TxSubscriptionPayment TransactionType = "subscription_payment"
	TxSessionCommission   TransactionType = "session_commission"
	TxPlatformFee         TransactionType = "platform_fee"
)

// Wallet balances and amounts are in minor currency units.
type Wallet struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	OwnerType OwnerType `json:"owner_type"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Transaction struct {
	ID          string          `json:"id"`
	WalletID    string          `json:"wallet_id"`
	Seq         int64           `json:"seq"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
	RelatedID   *string         `json:"related_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
