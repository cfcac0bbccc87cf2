package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/infogap-api/internal/db"
)

var (
	// ErrAccountNotFound возвращается, когда счёт пользователя не найден
	ErrAccountNotFound = errors.New("счёт пользователя не найден")
	// ErrNegativeBalance возвращается, когда списание увело бы баланс в минус
	ErrNegativeBalance = errors.New("операция привела бы к отрицательному балансу")
)

// Balance представляет состояние счёта пользователя
type Balance struct {
	Balance     decimal.Decimal
	TotalSpent  decimal.Decimal
	TotalEarned decimal.Decimal
}

// Ledger ведёт счета пользователей: баланс, суммарные траты и заработок.
// Изменения всех трёх полей выполняются одним UPDATE: частичное применение
// нарушило бы согласованность счёта
type Ledger interface {
	GetBalance(ctx context.Context, q db.Querier, userID uuid.UUID) (*Balance, error)
	Adjust(ctx context.Context, q db.Querier, userID uuid.UUID, delta, spentDelta, earnedDelta decimal.Decimal) error
	ClampDebit(ctx context.Context, q db.Querier, userID uuid.UUID, amount decimal.Decimal) error
}

// PG реализует Ledger поверх PostgreSQL
type PG struct{}

// GetBalance возвращает текущее состояние счёта
func (PG) GetBalance(ctx context.Context, q db.Querier, userID uuid.UUID) (*Balance, error) {
	b := &Balance{}

	err := q.QueryRow(ctx, `
		SELECT balance, total_spent, total_earned FROM users WHERE id = $1
	`, userID).Scan(&b.Balance, &b.TotalSpent, &b.TotalEarned)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("ошибка запроса счёта: %w", err)
	}

	return b, nil
}

// Adjust атомарно изменяет баланс, траты и заработок. Списание, уводящее
// баланс в минус, отклоняется на уровне SQL
func (PG) Adjust(ctx context.Context, q db.Querier, userID uuid.UUID, delta, spentDelta, earnedDelta decimal.Decimal) error {
	tag, err := q.Exec(ctx, `
		UPDATE users
		SET balance = balance + $2,
		    total_spent = total_spent + $3,
		    total_earned = total_earned + $4,
		    updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= 0
	`, userID, delta, spentDelta, earnedDelta)
	if err != nil {
		return fmt.Errorf("ошибка изменения счёта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// либо счёта нет, либо не хватает средств
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("ошибка проверки счёта: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrNegativeBalance
	}
	return nil
}

// ClampDebit списывает amount с баланса и заработка, не опуская их ниже нуля.
// Недостача поглощается площадкой и отдельно не учитывается
func (PG) ClampDebit(ctx context.Context, q db.Querier, userID uuid.UUID, amount decimal.Decimal) error {
	tag, err := q.Exec(ctx, `
		UPDATE users
		SET balance = GREATEST(balance - $2, 0),
		    total_earned = GREATEST(total_earned - $2, 0),
		    updated_at = NOW()
		WHERE id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("ошибка списания со счёта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
