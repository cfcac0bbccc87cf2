package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы сделки
const (
	TradeStatusPending   = "pending"
	TradeStatusCompleted = "completed"
	TradeStatusCancelled = "cancelled"
	TradeStatusRefunded  = "refunded"
	TradeStatusDisputed  = "disputed"
)

// Trade представляет сделку покупки информации между покупателем и продавцом.
// Сумма и комиссия фиксируются в момент покупки и далее не меняются
type Trade struct {
	ID             uuid.UUID       `json:"id"`
	BuyerID        uuid.UUID       `json:"buyer_id"`
	SellerID       uuid.UUID       `json:"seller_id"`
	ListingID      uuid.UUID       `json:"listing_id"`
	Amount         decimal.Decimal `json:"amount"`
	Commission     decimal.Decimal `json:"commission"`
	Status         string          `json:"status"`
	BuyerMessage   string          `json:"buyer_message,omitempty"`
	SellerResponse string          `json:"seller_response,omitempty"`
	RefundReason   string          `json:"refund_reason,omitempty"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	Rating         TradeRating     `json:"rating"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Дополнительные поля для API
	Buyer   *UserSummary    `json:"buyer,omitempty"`
	Seller  *UserSummary    `json:"seller,omitempty"`
	Listing *ListingSummary `json:"listing,omitempty"`
}

// TradeRating хранит две независимые оценки по сделке: каждая сторона
// выставляет свою ровно один раз
type TradeRating struct {
	BuyerRating   *int   `json:"buyer_rating,omitempty"`
	BuyerComment  string `json:"buyer_comment,omitempty"`
	SellerRating  *int   `json:"seller_rating,omitempty"`
	SellerComment string `json:"seller_comment,omitempty"`
}

// IsParty сообщает, является ли пользователь стороной сделки
func (t *Trade) IsParty(userID uuid.UUID) bool {
	return t.BuyerID == userID || t.SellerID == userID
}
