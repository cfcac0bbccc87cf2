package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/infogap-api/internal/db"
)

// ErrNotFound возвращается, когда активный лот не найден
var ErrNotFound = errors.New("лот не найден или снят с продажи")

// ActiveListing содержит срез данных лота, нужный движку сделок
type ActiveListing struct {
	ID       uuid.UUID
	SellerID uuid.UUID
	Price    decimal.Decimal
}

// Catalog предоставляет движку сделок доступ к каталогу лотов.
// Движок не знает про схему хранения: так его можно тестировать без базы
type Catalog interface {
	FindActiveListing(ctx context.Context, q db.Querier, id uuid.UUID) (*ActiveListing, error)
	IncrementPurchaseCount(ctx context.Context, q db.Querier, id uuid.UUID) error
}

// PG реализует Catalog поверх PostgreSQL
type PG struct{}

// FindActiveListing возвращает продавца и цену активного лота
func (PG) FindActiveListing(ctx context.Context, q db.Querier, id uuid.UUID) (*ActiveListing, error) {
	l := &ActiveListing{ID: id}

	err := q.QueryRow(ctx, `
		SELECT seller_id, price FROM listings
		WHERE id = $1 AND is_active = true
	`, id).Scan(&l.SellerID, &l.Price)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка запроса лота: %w", err)
	}

	return l, nil
}

// IncrementPurchaseCount увеличивает счётчик покупок лота
func (PG) IncrementPurchaseCount(ctx context.Context, q db.Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `
		UPDATE listings SET purchases = purchases + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления счётчика покупок: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
