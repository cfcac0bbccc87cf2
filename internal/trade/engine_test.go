package trade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/infogap-api/internal/catalog"
	"github.com/rajivgeraev/infogap-api/internal/config"
	"github.com/rajivgeraev/infogap-api/internal/db"
	"github.com/rajivgeraev/infogap-api/internal/ledger"
	"github.com/rajivgeraev/infogap-api/internal/models"
)

// Тесты движка работают без базы: каталог, счета и сделки подменяются
// общей in-memory реализацией всех трёх интерфейсов

type memAccount struct {
	balance     decimal.Decimal
	totalSpent  decimal.Decimal
	totalEarned decimal.Decimal
	ratingAvg   decimal.Decimal
	ratingCount int
}

type memListing struct {
	sellerID  uuid.UUID
	price     decimal.Decimal
	active    bool
	purchases int
}

type memBackend struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*memAccount
	listings map[uuid.UUID]*memListing
	trades   map[uuid.UUID]*models.Trade
}

func newMemBackend() *memBackend {
	return &memBackend{
		accounts: make(map[uuid.UUID]*memAccount),
		listings: make(map[uuid.UUID]*memListing),
		trades:   make(map[uuid.UUID]*models.Trade),
	}
}

func (m *memBackend) addAccount(balance string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.accounts[id] = &memAccount{
		balance:     decimal.RequireFromString(balance),
		totalSpent:  decimal.Zero,
		totalEarned: decimal.Zero,
	}
	return id
}

func (m *memBackend) addListing(sellerID uuid.UUID, price string, active bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.listings[id] = &memListing{sellerID: sellerID, price: decimal.RequireFromString(price), active: active}
	return id
}

// catalog.Catalog

func (m *memBackend) FindActiveListing(_ context.Context, _ db.Querier, id uuid.UUID) (*catalog.ActiveListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok || !l.active {
		return nil, catalog.ErrNotFound
	}
	return &catalog.ActiveListing{ID: id, SellerID: l.sellerID, Price: l.price}, nil
}

func (m *memBackend) IncrementPurchaseCount(_ context.Context, _ db.Querier, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return catalog.ErrNotFound
	}
	l.purchases++
	return nil
}

// ledger.Ledger

func (m *memBackend) GetBalance(_ context.Context, _ db.Querier, userID uuid.UUID) (*ledger.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &ledger.Balance{Balance: a.balance, TotalSpent: a.totalSpent, TotalEarned: a.totalEarned}, nil
}

func (m *memBackend) Adjust(_ context.Context, _ db.Querier, userID uuid.UUID, delta, spentDelta, earnedDelta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if a.balance.Add(delta).IsNegative() {
		return ledger.ErrNegativeBalance
	}
	a.balance = a.balance.Add(delta)
	a.totalSpent = a.totalSpent.Add(spentDelta)
	a.totalEarned = a.totalEarned.Add(earnedDelta)
	return nil
}

func (m *memBackend) ClampDebit(_ context.Context, _ db.Querier, userID uuid.UUID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.balance = decimal.Max(a.balance.Sub(amount), decimal.Zero)
	a.totalEarned = decimal.Max(a.totalEarned.Sub(amount), decimal.Zero)
	return nil
}

// Store

func (m *memBackend) Insert(_ context.Context, _ db.Querier, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.trades[t.ID] = &cp
	return nil
}

func (m *memBackend) Get(_ context.Context, _ db.Querier, id uuid.UUID) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memBackend) HasActiveTradeForListing(_ context.Context, _ db.Querier, buyerID, listingID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.BuyerID == buyerID && t.ListingID == listingID &&
			(t.Status == models.TradeStatusPending || t.Status == models.TradeStatusCompleted) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBackend) MarkCompleted(_ context.Context, _ db.Querier, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return ErrTradeNotFound
	}
	t.Status = models.TradeStatusCompleted
	t.CompletedAt = &at
	return nil
}

func (m *memBackend) MarkRefunded(_ context.Context, _ db.Querier, id uuid.UUID, reason string, amount decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return ErrTradeNotFound
	}
	t.Status = models.TradeStatusRefunded
	t.RefundReason = reason
	t.RefundAmount = amount
	t.RefundedAt = &at
	return nil
}

func (m *memBackend) SetBuyerRating(_ context.Context, _ db.Querier, id uuid.UUID, rating int, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return ErrTradeNotFound
	}
	if t.Rating.BuyerRating != nil {
		return ErrAlreadyRated
	}
	t.Rating.BuyerRating = &rating
	t.Rating.BuyerComment = comment
	return nil
}

func (m *memBackend) SetSellerRating(_ context.Context, _ db.Querier, id uuid.UUID, rating int, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return ErrTradeNotFound
	}
	if t.Rating.SellerRating != nil {
		return ErrAlreadyRated
	}
	t.Rating.SellerRating = &rating
	t.Rating.SellerComment = comment
	return nil
}

func (m *memBackend) RatingsReceivedBy(_ context.Context, _ db.Querier, userID uuid.UUID) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ratings []int
	for _, t := range m.trades {
		if t.BuyerID == userID && t.Rating.SellerRating != nil {
			ratings = append(ratings, *t.Rating.SellerRating)
		}
		if t.SellerID == userID && t.Rating.BuyerRating != nil {
			ratings = append(ratings, *t.Rating.BuyerRating)
		}
	}
	return ratings, nil
}

func (m *memBackend) SaveUserRating(_ context.Context, _ db.Querier, userID uuid.UUID, average decimal.Decimal, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.ratingAvg = average
	a.ratingCount = count
	return nil
}

// testClock позволяет сдвигать время движка в тестах

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *memBackend, *testClock) {
	t.Helper()

	backend := newMemBackend()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

	runner := func(ctx context.Context, fn func(q db.Querier) error) error {
		return fn(nil)
	}

	eng := NewEngine(backend, backend, backend, nil, runner, config.TradeConfig{
		CommissionRate:    decimal.NewFromFloat(0.05),
		FullRefundHours:   24,
		PartialRefundDays: 7,
	})
	eng.now = clock.Now

	return eng, backend, clock
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(expected).Equal(actual),
		"ожидалось %s, получено %s %v", expected, actual, msgAndArgs)
}

func TestPurchaseSettlement(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "жду подробностей")
	require.NoError(t, err)

	assert.Equal(t, models.TradeStatusCompleted, tr.Status)
	require.NotNil(t, tr.CompletedAt)
	assertDecimal(t, "40", tr.Amount)
	assertDecimal(t, "2.00", tr.Commission)
	assert.Equal(t, "жду подробностей", tr.BuyerMessage)

	// Баланс покупателя: 100 - 40, траты +40
	assertDecimal(t, "60", backend.accounts[buyer].balance)
	assertDecimal(t, "40", backend.accounts[buyer].totalSpent)

	// Продавец получает цену минус комиссию
	assertDecimal(t, "38.00", backend.accounts[seller].balance)
	assertDecimal(t, "38.00", backend.accounts[seller].totalEarned)

	// Счётчик покупок лота увеличен
	assert.Equal(t, 1, backend.listings[listing].purchases)
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("30")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	_, err := eng.Purchase(ctx, buyer, listing, "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Отказ не оставляет следов
	assertDecimal(t, "30", backend.accounts[buyer].balance)
	assertDecimal(t, "0", backend.accounts[buyer].totalSpent)
	assertDecimal(t, "0", backend.accounts[seller].balance)
	assert.Empty(t, backend.trades)
	assert.Equal(t, 0, backend.listings[listing].purchases)
}

func TestPurchaseOwnListing(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	seller := backend.addAccount("1000")
	listing := backend.addListing(seller, "40", true)

	_, err := eng.Purchase(ctx, seller, listing, "")
	assert.ErrorIs(t, err, ErrOwnListing)
	assertDecimal(t, "1000", backend.accounts[seller].balance)
	assert.Empty(t, backend.trades)
}

func TestPurchaseInactiveListing(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", false)

	_, err := eng.Purchase(ctx, buyer, listing, "")
	assert.ErrorIs(t, err, ErrListingUnavailable)
}

func TestPurchaseDuplicate(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	_, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	_, err = eng.Purchase(ctx, buyer, listing, "")
	assert.ErrorIs(t, err, ErrDuplicateTrade)

	// Повторная попытка не трогает баланс
	assertDecimal(t, "60", backend.accounts[buyer].balance)
	assert.Len(t, backend.trades, 1)
}

func TestPurchaseAgainAfterRefund(t *testing.T) {
	eng, backend, clock := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = eng.Refund(ctx, tr.ID, buyer, "не то")
	require.NoError(t, err)

	// После возврата лот можно купить снова
	_, err = eng.Purchase(ctx, buyer, listing, "")
	assert.NoError(t, err)
}

func TestRefundFullTier(t *testing.T) {
	eng, backend, clock := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	clock.Advance(23*time.Hour + 59*time.Minute)

	res, err := eng.Refund(ctx, tr.ID, buyer, "передумал")
	require.NoError(t, err)

	assertDecimal(t, "40", res.RefundAmount)
	assertDecimal(t, "100", res.NewBalance)

	// Продавец теряет возврат минус комиссию: 40 - 2 = 38
	assertDecimal(t, "0.00", backend.accounts[seller].balance)

	stored := backend.trades[tr.ID]
	assert.Equal(t, models.TradeStatusRefunded, stored.Status)
	assert.Equal(t, "передумал", stored.RefundReason)
	require.NotNil(t, stored.RefundedAt)
}

func TestRefundBoundaryExactlyFullWindow(t *testing.T) {
	eng, backend, clock := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	// Ровно 24 часа: граница включительная, возврат полный
	clock.Advance(24 * time.Hour)

	res, err := eng.Refund(ctx, tr.ID, buyer, "")
	require.NoError(t, err)
	assertDecimal(t, "40", res.RefundAmount)
}

func TestRefundPartialTier(t *testing.T) {
	eng, backend, clock := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	// Спустя двое суток действует тариф 50%
	clock.Advance(48 * time.Hour)

	res, err := eng.Refund(ctx, tr.ID, buyer, "информация устарела")
	require.NoError(t, err)

	assertDecimal(t, "20.00", res.RefundAmount)
	assertDecimal(t, "80.00", res.NewBalance)

	// Покупатель: 60 + 20, траты 40 - 20
	assertDecimal(t, "20", backend.accounts[buyer].totalSpent)

	// Продавец: 38 - (20 - 2) = 20
	assertDecimal(t, "20.00", backend.accounts[seller].balance)
	assertDecimal(t, "20.00", backend.accounts[seller].totalEarned)
}

func TestRefundBoundaryExactlyPartialWindow(t *testing.T) {
	eng, backend, clock := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	// Ровно 7 суток: ещё действует тариф 50%
	clock.Advance(7 * 24 * time.Hour)

	res, err := eng.Refund(ctx, tr.ID, buyer, "")
	require.NoError(t, err)
	assertDecimal(t, "20.00", res.RefundAmount)
}

func TestRefundWindowExpired(t *testing.T) {
	eng, backend, clock := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)

	_, err = eng.Refund(ctx, tr.ID, buyer, "слишком поздно")
	assert.ErrorIs(t, err, ErrRefundWindowExpired)

	// Отказ ничего не меняет
	assertDecimal(t, "60", backend.accounts[buyer].balance)
	assertDecimal(t, "38.00", backend.accounts[seller].balance)
	assert.Equal(t, models.TradeStatusCompleted, backend.trades[tr.ID].Status)
}

func TestRefundSellerShortfallClamped(t *testing.T) {
	eng, backend, clock := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	// Продавец успел потратить почти всё до возврата
	backend.accounts[seller].balance = decimal.RequireFromString("5")

	clock.Advance(time.Hour)

	res, err := eng.Refund(ctx, tr.ID, buyer, "")
	require.NoError(t, err)
	assertDecimal(t, "40", res.RefundAmount)

	// Списать надо 38, но есть только 5: баланс и заработок прижимаются к нулю
	assertDecimal(t, "0", backend.accounts[seller].balance)
	assertDecimal(t, "0.00", backend.accounts[seller].totalEarned)

	// Покупатель получает возврат полностью, несмотря на недостачу продавца
	assertDecimal(t, "100", backend.accounts[buyer].balance)
}

func TestRefundOnlyBuyer(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	_, err = eng.Refund(ctx, tr.ID, seller, "")
	assert.ErrorIs(t, err, ErrNotBuyer)

	outsider := backend.addAccount("0")
	_, err = eng.Refund(ctx, tr.ID, outsider, "")
	assert.ErrorIs(t, err, ErrNotBuyer)
}

func TestRefundNotCompleted(t *testing.T) {
	eng, backend, clock := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = eng.Refund(ctx, tr.ID, buyer, "")
	require.NoError(t, err)

	// Повторный возврат по той же сделке невозможен
	_, err = eng.Refund(ctx, tr.ID, buyer, "")
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRefundTradeNotFound(t *testing.T) {
	eng, backend, _ := newTestEngine(t)

	buyer := backend.addAccount("100")
	_, err := eng.Refund(context.Background(), uuid.New(), buyer, "")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestRateValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	for _, rating := range []int{0, -1, 6, 100} {
		_, err := eng.Rate(context.Background(), uuid.New(), uuid.New(), rating, "")
		assert.ErrorIs(t, err, ErrInvalidRating, "rating=%d", rating)
	}
}

func TestRateOncePerParty(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	rating, err := eng.Rate(ctx, tr.ID, buyer, 5, "отличная информация")
	require.NoError(t, err)
	require.NotNil(t, rating.BuyerRating)
	assert.Equal(t, 5, *rating.BuyerRating)

	// Вторая оценка покупателя отклоняется
	_, err = eng.Rate(ctx, tr.ID, buyer, 4, "")
	assert.ErrorIs(t, err, ErrAlreadyRated)

	// Оценка продавца независима от оценки покупателя
	rating, err = eng.Rate(ctx, tr.ID, seller, 4, "быстрый покупатель")
	require.NoError(t, err)
	require.NotNil(t, rating.SellerRating)
	assert.Equal(t, 4, *rating.SellerRating)
	require.NotNil(t, rating.BuyerRating)

	_, err = eng.Rate(ctx, tr.ID, seller, 3, "")
	assert.ErrorIs(t, err, ErrAlreadyRated)
}

func TestRateNotParty(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	outsider := backend.addAccount("0")
	_, err = eng.Rate(ctx, tr.ID, outsider, 5, "")
	assert.ErrorIs(t, err, ErrNotParty)
}

func TestRateNotCompleted(t *testing.T) {
	eng, backend, clock := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = eng.Refund(ctx, tr.ID, buyer, "")
	require.NoError(t, err)

	_, err = eng.Rate(ctx, tr.ID, buyer, 5, "")
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRateAggregatesCounterpartyRating(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	seller := backend.addAccount("0")

	// Три покупателя оценивают одного продавца: 5, 4, 4 -> 4.333... -> 4.3
	ratings := []int{5, 4, 4}
	for _, r := range ratings {
		buyer := backend.addAccount("100")
		listing := backend.addListing(seller, "10", true)

		tr, err := eng.Purchase(ctx, buyer, listing, "")
		require.NoError(t, err)

		_, err = eng.Rate(ctx, tr.ID, buyer, r, "")
		require.NoError(t, err)
	}

	assertDecimal(t, "4.3", backend.accounts[seller].ratingAvg)
	assert.Equal(t, 3, backend.accounts[seller].ratingCount)
}

func TestRateDoesNotTouchRequesterRating(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	listing := backend.addListing(seller, "40", true)

	tr, err := eng.Purchase(ctx, buyer, listing, "")
	require.NoError(t, err)

	_, err = eng.Rate(ctx, tr.ID, buyer, 5, "")
	require.NoError(t, err)

	// Рейтинг самого покупателя не пересчитывается
	assert.Equal(t, 0, backend.accounts[buyer].ratingCount)
	assertDecimal(t, "5", backend.accounts[seller].ratingAvg)
	assert.Equal(t, 1, backend.accounts[seller].ratingCount)
}

func TestConcurrentPurchasesShareOneBalance(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	ctx := context.Background()

	// Баланса хватает только на одну из двух покупок по 60
	buyer := backend.addAccount("100")
	seller := backend.addAccount("0")
	l1 := backend.addListing(seller, "60", true)
	l2 := backend.addListing(seller, "60", true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, listing := range []uuid.UUID{l1, l2} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = eng.Purchase(ctx, buyer, id, "")
		}(i, listing)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}
	}

	require.Equal(t, 1, succeeded)
	assertDecimal(t, "40", backend.accounts[buyer].balance)
	assertDecimal(t, "60", backend.accounts[buyer].totalSpent)
}
