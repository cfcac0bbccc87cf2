package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/infogap-api/internal/db"
	"github.com/rajivgeraev/infogap-api/internal/models"
)

// Store хранит записи сделок. Движок работает только через этот интерфейс
type Store interface {
	Insert(ctx context.Context, q db.Querier, t *models.Trade) error
	Get(ctx context.Context, q db.Querier, id uuid.UUID) (*models.Trade, error)
	HasActiveTradeForListing(ctx context.Context, q db.Querier, buyerID, listingID uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, q db.Querier, id uuid.UUID, at time.Time) error
	MarkRefunded(ctx context.Context, q db.Querier, id uuid.UUID, reason string, amount decimal.Decimal, at time.Time) error
	SetBuyerRating(ctx context.Context, q db.Querier, id uuid.UUID, rating int, comment string) error
	SetSellerRating(ctx context.Context, q db.Querier, id uuid.UUID, rating int, comment string) error
	RatingsReceivedBy(ctx context.Context, q db.Querier, userID uuid.UUID) ([]int, error)
	SaveUserRating(ctx context.Context, q db.Querier, userID uuid.UUID, average decimal.Decimal, count int) error
}

// PGStore реализует Store поверх PostgreSQL
type PGStore struct{}

// Insert сохраняет новую сделку
func (PGStore) Insert(ctx context.Context, q db.Querier, t *models.Trade) error {
	_, err := q.Exec(ctx, `
		INSERT INTO trades (id, buyer_id, seller_id, listing_id, amount, commission, status, buyer_message, refund_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
	`, t.ID, t.BuyerID, t.SellerID, t.ListingID, t.Amount, t.Commission, t.Status, t.BuyerMessage, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания сделки: %w", err)
	}
	return nil
}

// Get возвращает сделку по ID
func (PGStore) Get(ctx context.Context, q db.Querier, id uuid.UUID) (*models.Trade, error) {
	t := &models.Trade{}
	var buyerMessage, sellerResponse, refundReason, buyerComment, sellerComment pgtype.Text
	var buyerRating, sellerRating pgtype.Int4
	var completedAt, refundedAt pgtype.Timestamptz

	err := q.QueryRow(ctx, `
		SELECT id, buyer_id, seller_id, listing_id, amount, commission, status,
		       buyer_message, seller_response, refund_reason, refund_amount,
		       buyer_rating, buyer_comment, seller_rating, seller_comment,
		       completed_at, refunded_at, created_at, updated_at
		FROM trades WHERE id = $1
	`, id).Scan(
		&t.ID, &t.BuyerID, &t.SellerID, &t.ListingID, &t.Amount, &t.Commission, &t.Status,
		&buyerMessage, &sellerResponse, &refundReason, &t.RefundAmount,
		&buyerRating, &buyerComment, &sellerRating, &sellerComment,
		&completedAt, &refundedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, fmt.Errorf("ошибка запроса сделки: %w", err)
	}

	t.BuyerMessage = buyerMessage.String
	t.SellerResponse = sellerResponse.String
	t.RefundReason = refundReason.String
	t.Rating.BuyerComment = buyerComment.String
	t.Rating.SellerComment = sellerComment.String
	if buyerRating.Valid {
		v := int(buyerRating.Int32)
		t.Rating.BuyerRating = &v
	}
	if sellerRating.Valid {
		v := int(sellerRating.Int32)
		t.Rating.SellerRating = &v
	}
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}
	if refundedAt.Valid {
		at := refundedAt.Time
		t.RefundedAt = &at
	}

	return t, nil
}

// HasActiveTradeForListing проверяет, нет ли у покупателя уже сделки по лоту
// в статусе pending или completed
func (PGStore) HasActiveTradeForListing(ctx context.Context, q db.Querier, buyerID, listingID uuid.UUID) (bool, error) {
	var count int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE buyer_id = $1 AND listing_id = $2 AND status IN ($3, $4)
	`, buyerID, listingID, models.TradeStatusPending, models.TradeStatusCompleted).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки существующих сделок: %w", err)
	}
	return count > 0, nil
}

// MarkCompleted переводит сделку в статус completed
func (PGStore) MarkCompleted(ctx context.Context, q db.Querier, id uuid.UUID, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE trades SET status = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, models.TradeStatusCompleted, at)
	if err != nil {
		return fmt.Errorf("ошибка завершения сделки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// MarkRefunded переводит сделку в статус refunded и фиксирует параметры возврата
func (PGStore) MarkRefunded(ctx context.Context, q db.Querier, id uuid.UUID, reason string, amount decimal.Decimal, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE trades SET status = $2, refund_reason = $3, refund_amount = $4, refunded_at = $5, updated_at = NOW()
		WHERE id = $1
	`, id, models.TradeStatusRefunded, reason, amount, at)
	if err != nil {
		return fmt.Errorf("ошибка оформления возврата: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// SetBuyerRating записывает оценку покупателя
func (PGStore) SetBuyerRating(ctx context.Context, q db.Querier, id uuid.UUID, rating int, comment string) error {
	tag, err := q.Exec(ctx, `
		UPDATE trades SET buyer_rating = $2, buyer_comment = $3, updated_at = NOW()
		WHERE id = $1 AND buyer_rating IS NULL
	`, id, rating, comment)
	if err != nil {
		return fmt.Errorf("ошибка сохранения оценки покупателя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRated
	}
	return nil
}

// SetSellerRating записывает оценку продавца
func (PGStore) SetSellerRating(ctx context.Context, q db.Querier, id uuid.UUID, rating int, comment string) error {
	tag, err := q.Exec(ctx, `
		UPDATE trades SET seller_rating = $2, seller_comment = $3, updated_at = NOW()
		WHERE id = $1 AND seller_rating IS NULL
	`, id, rating, comment)
	if err != nil {
		return fmt.Errorf("ошибка сохранения оценки продавца: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRated
	}
	return nil
}

// RatingsReceivedBy собирает все оценки, полученные пользователем по его
// сделкам: как покупателем (оценки продавцов) и как продавцом (оценки покупателей)
func (PGStore) RatingsReceivedBy(ctx context.Context, q db.Querier, userID uuid.UUID) ([]int, error) {
	rows, err := q.Query(ctx, `
		SELECT seller_rating FROM trades WHERE buyer_id = $1 AND seller_rating IS NOT NULL
		UNION ALL
		SELECT buyer_rating FROM trades WHERE seller_id = $1 AND buyer_rating IS NOT NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса оценок пользователя: %w", err)
	}
	defer rows.Close()

	var ratings []int
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("ошибка сканирования оценки: %w", err)
		}
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}

// SaveUserRating обновляет агрегированный рейтинг пользователя
func (PGStore) SaveUserRating(ctx context.Context, q db.Querier, userID uuid.UUID, average decimal.Decimal, count int) error {
	_, err := q.Exec(ctx, `
		UPDATE users SET rating_average = $2, rating_count = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, average, count)
	if err != nil {
		return fmt.Errorf("ошибка обновления рейтинга пользователя: %w", err)
	}
	return nil
}
