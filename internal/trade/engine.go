package trade

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/infogap-api/internal/catalog"
	"github.com/rajivgeraev/infogap-api/internal/config"
	"github.com/rajivgeraev/infogap-api/internal/db"
	"github.com/rajivgeraev/infogap-api/internal/ledger"
	"github.com/rajivgeraev/infogap-api/internal/models"
)

// TxRunner выполняет fn в транзакции хранилища
type TxRunner func(ctx context.Context, fn func(q db.Querier) error) error

// Engine реализует движок сделок: покупка, возврат и оценки. Все денежные операции
// проходят через Ledger, каталог лотов только читается. Балансы покупателя и
// продавца меняются строго внутри одной транзакции
type Engine struct {
	catalog catalog.Catalog
	ledger  ledger.Ledger
	store   Store
	q       db.Querier
	inTx    TxRunner
	locks   *accountLocks

	commissionRate    decimal.Decimal
	fullRefundWindow  time.Duration
	partialRefundDays int

	now func() time.Time
}

// RefundResult содержит итог возврата для ответа покупателю
type RefundResult struct {
	RefundAmount decimal.Decimal `json:"refund_amount"`
	NewBalance   decimal.Decimal `json:"new_balance"`
}

// NewEngine создаёт движок сделок
func NewEngine(cat catalog.Catalog, led ledger.Ledger, store Store, q db.Querier, inTx TxRunner, tc config.TradeConfig) *Engine {
	return &Engine{
		catalog:           cat,
		ledger:            led,
		store:             store,
		q:                 q,
		inTx:              inTx,
		locks:             newAccountLocks(),
		commissionRate:    tc.CommissionRate,
		fullRefundWindow:  time.Duration(tc.FullRefundHours) * time.Hour,
		partialRefundDays: tc.PartialRefundDays,
		now:               time.Now,
	}
}

// Purchase проводит покупку лота: списывает цену с покупателя, создаёт сделку,
// увеличивает счётчик покупок и зачисляет продавцу цену за вычетом комиссии.
// Сделка создаётся в статусе pending и в том же вызове переводится в completed:
// промежуточный статус оставлен отдельным шагом, чтобы при подключении внешней
// оплаты между шагами мог появиться асинхронный разрыв
func (e *Engine) Purchase(ctx context.Context, buyerID, listingID uuid.UUID, message string) (*models.Trade, error) {
	// Предварительное чтение лота: до взятия блокировок нужно знать продавца
	l, err := e.catalog.FindActiveListing(ctx, e.q, listingID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrListingUnavailable
		}
		return nil, err
	}

	if l.SellerID == buyerID {
		return nil, ErrOwnListing
	}

	unlock := e.locks.LockPair(buyerID, l.SellerID)
	defer unlock()

	var created *models.Trade

	err = e.inTx(ctx, func(q db.Querier) error {
		// Повторная проверка внутри транзакции: лот могли снять с продажи
		l, err := e.catalog.FindActiveListing(ctx, q, listingID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return ErrListingUnavailable
			}
			return err
		}
		if l.SellerID == buyerID {
			return ErrOwnListing
		}

		exists, err := e.store.HasActiveTradeForListing(ctx, q, buyerID, listingID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateTrade
		}

		balance, err := e.ledger.GetBalance(ctx, q, buyerID)
		if err != nil {
			return err
		}
		if balance.Balance.LessThan(l.Price) {
			return ErrInsufficientFunds
		}

		commission := l.Price.Mul(e.commissionRate).Round(2)

		// Списание с покупателя: баланс вниз, траты вверх
		if err := e.ledger.Adjust(ctx, q, buyerID, l.Price.Neg(), l.Price, decimal.Zero); err != nil {
			if errors.Is(err, ledger.ErrNegativeBalance) {
				return ErrInsufficientFunds
			}
			return err
		}

		now := e.now()
		t := &models.Trade{
			ID:           uuid.New(),
			BuyerID:      buyerID,
			SellerID:     l.SellerID,
			ListingID:    listingID,
			Amount:       l.Price,
			Commission:   commission,
			Status:       models.TradeStatusPending,
			BuyerMessage: message,
			RefundAmount: decimal.Zero,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.store.Insert(ctx, q, t); err != nil {
			return err
		}

		if err := e.catalog.IncrementPurchaseCount(ctx, q, listingID); err != nil {
			return err
		}

		// Оплата с баланса проходит мгновенно, поэтому сделка сразу завершается
		completedAt := e.now()
		if err := e.store.MarkCompleted(ctx, q, t.ID, completedAt); err != nil {
			return err
		}
		t.Status = models.TradeStatusCompleted
		t.CompletedAt = &completedAt

		// Зачисление продавцу за вычетом комиссии
		earnings := l.Price.Sub(commission)
		if err := e.ledger.Adjust(ctx, q, l.SellerID, earnings, decimal.Zero, earnings); err != nil {
			return err
		}

		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Refund оформляет возврат по завершённой сделке. Размер возврата зависит от
// времени, прошедшего с завершения: до FullRefundHours включительно полная
// сумма, далее до PartialRefundDays включительно половина, потом отказ.
// Комиссия площадки не возвращается: продавец теряет возврат минус комиссию
func (e *Engine) Refund(ctx context.Context, tradeID, requesterID uuid.UUID, reason string) (*RefundResult, error) {
	t, err := e.store.Get(ctx, e.q, tradeID)
	if err != nil {
		return nil, err
	}

	if t.BuyerID != requesterID {
		return nil, ErrNotBuyer
	}
	if t.Status != models.TradeStatusCompleted {
		return nil, ErrNotCompleted
	}

	unlock := e.locks.LockPair(t.BuyerID, t.SellerID)
	defer unlock()

	var result *RefundResult

	err = e.inTx(ctx, func(q db.Querier) error {
		t, err := e.store.Get(ctx, q, tradeID)
		if err != nil {
			return err
		}
		if t.Status != models.TradeStatusCompleted || t.CompletedAt == nil {
			return ErrNotCompleted
		}

		refund, err := e.refundAmount(t)
		if err != nil {
			return err
		}

		// Возврат покупателю: баланс вверх, траты вниз
		if err := e.ledger.Adjust(ctx, q, t.BuyerID, refund, refund.Neg(), decimal.Zero); err != nil {
			return err
		}

		// С продавца списывается возврат за вычетом комиссии. Если средств не
		// хватает, баланс и заработок прижимаются к нулю, недостачу поглощает
		// площадка
		deduction := refund.Sub(t.Commission)
		sellerBalance, err := e.ledger.GetBalance(ctx, q, t.SellerID)
		if err != nil {
			return err
		}
		if sellerBalance.Balance.GreaterThanOrEqual(deduction) {
			if err := e.ledger.Adjust(ctx, q, t.SellerID, deduction.Neg(), decimal.Zero, deduction.Neg()); err != nil {
				return err
			}
		} else {
			if err := e.ledger.ClampDebit(ctx, q, t.SellerID, deduction); err != nil {
				return err
			}
		}

		if err := e.store.MarkRefunded(ctx, q, t.ID, reason, refund, e.now()); err != nil {
			return err
		}

		newBalance, err := e.ledger.GetBalance(ctx, q, t.BuyerID)
		if err != nil {
			return err
		}

		result = &RefundResult{RefundAmount: refund, NewBalance: newBalance.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// refundAmount вычисляет размер возврата по времени с момента завершения.
// Обе границы включительные
func (e *Engine) refundAmount(t *models.Trade) (decimal.Decimal, error) {
	elapsed := e.now().Sub(*t.CompletedAt)

	if elapsed <= e.fullRefundWindow {
		return t.Amount, nil
	}
	if elapsed <= time.Duration(e.partialRefundDays)*24*time.Hour {
		return t.Amount.Mul(decimal.NewFromFloat(0.5)).Round(2), nil
	}
	return decimal.Zero, ErrRefundWindowExpired
}

// Rate выставляет оценку по завершённой сделке. Каждая сторона оценивает
// ровно один раз; после записи пересчитывается агрегированный рейтинг
// контрагента по всем полученным им оценкам
func (e *Engine) Rate(ctx context.Context, tradeID, requesterID uuid.UUID, rating int, comment string) (*models.TradeRating, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	t, err := e.store.Get(ctx, e.q, tradeID)
	if err != nil {
		return nil, err
	}

	if t.Status != models.TradeStatusCompleted {
		return nil, ErrNotCompleted
	}

	isBuyer := t.BuyerID == requesterID
	isSeller := t.SellerID == requesterID
	if !isBuyer && !isSeller {
		return nil, ErrNotParty
	}

	unlock := e.locks.LockPair(t.BuyerID, t.SellerID)
	defer unlock()

	var updated *models.TradeRating

	err = e.inTx(ctx, func(q db.Querier) error {
		t, err := e.store.Get(ctx, q, tradeID)
		if err != nil {
			return err
		}
		if t.Status != models.TradeStatusCompleted {
			return ErrNotCompleted
		}

		if isBuyer {
			if t.Rating.BuyerRating != nil {
				return ErrAlreadyRated
			}
			if err := e.store.SetBuyerRating(ctx, q, t.ID, rating, comment); err != nil {
				return err
			}
			t.Rating.BuyerRating = &rating
			t.Rating.BuyerComment = comment
		} else {
			if t.Rating.SellerRating != nil {
				return ErrAlreadyRated
			}
			if err := e.store.SetSellerRating(ctx, q, t.ID, rating, comment); err != nil {
				return err
			}
			t.Rating.SellerRating = &rating
			t.Rating.SellerComment = comment
		}

		// Оценка адресована контрагенту: пересчитываем его рейтинг
		target := t.SellerID
		if isSeller {
			target = t.BuyerID
		}

		ratings, err := e.store.RatingsReceivedBy(ctx, q, target)
		if err != nil {
			return err
		}
		if len(ratings) > 0 {
			sum := 0
			for _, r := range ratings {
				sum += r
			}
			average := decimal.NewFromInt(int64(sum)).
				Div(decimal.NewFromInt(int64(len(ratings)))).
				Round(1)
			if err := e.store.SaveUserRating(ctx, q, target, average, len(ratings)); err != nil {
				return err
			}
		}

		updated = &t.Rating
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}
