package trade

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rajivgeraev/infogap-api/internal/config"
	"github.com/rajivgeraev/infogap-api/internal/db"
	"github.com/rajivgeraev/infogap-api/internal/models"
	engine "github.com/rajivgeraev/infogap-api/internal/trade"
	"github.com/rajivgeraev/infogap-api/internal/utils"
)

// TradeService представляет HTTP-слой сделок. Вся логика расчетов живет
// в движке, сервис только разбирает запросы и переводит ошибки в статусы
type TradeService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	engine     *engine.Engine
	summaries  summarySource
}

// NewTradeService создает новый экземпляр TradeService
func NewTradeService(cfg *config.Config, eng *engine.Engine) *TradeService {
	return &TradeService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		engine:     eng,
		summaries:  pgSummaries{},
	}
}

// tradeError переводит ошибку движка в HTTP-ответ
func tradeError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, engine.ErrTradeNotFound),
		errors.Is(err, engine.ErrListingUnavailable):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrNotBuyer),
		errors.Is(err, engine.ErrNotParty):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrDuplicateTrade),
		errors.Is(err, engine.ErrNotCompleted),
		errors.Is(err, engine.ErrAlreadyRated):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrOwnListing),
		errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrRefundWindowExpired),
		errors.Is(err, engine.ErrInvalidRating):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("Ошибка движка сделок: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Внутренняя ошибка сервера"})
	}
}

func parseUserID(c fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Locals("userID").(string))
}

// CreateTrade проводит покупку лота
func (s *TradeService) CreateTrade(c fiber.Ctx) error {
	buyerID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	var requestData struct {
		ListingID string `json:"listing_id"`
		Message   string `json:"message"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	listingID, err := uuid.Parse(requestData.ListingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID лота"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	trade, err := s.engine.Purchase(ctx, buyerID, listingID, requestData.Message)
	if err != nil {
		return tradeError(c, err)
	}

	s.attachDetails(trade)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"trade":   trade,
		"message": "Покупка успешно завершена",
	})
}

// GetTrade возвращает сделку. Доступна только ее сторонам
func (s *TradeService) GetTrade(c fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сделки"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	trade, err := engine.PGStore{}.Get(ctx, db.Pool, tradeID)
	if err != nil {
		return tradeError(c, err)
	}

	if !trade.IsParty(userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Сделка доступна только ее участникам"})
	}

	s.attachDetails(trade)

	return c.JSON(fiber.Map{"trade": trade})
}

// RefundTrade оформляет возврат по сделке
func (s *TradeService) RefundTrade(c fiber.Ctx) error {
	buyerID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сделки"})
	}

	var requestData struct {
		Reason string `json:"reason"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	result, err := s.engine.Refund(ctx, tradeID, buyerID, requestData.Reason)
	if err != nil {
		return tradeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"refund_amount": result.RefundAmount,
		"new_balance":   result.NewBalance,
		"message":       "Возврат успешно оформлен",
	})
}

// RateTrade выставляет оценку по завершенной сделке
func (s *TradeService) RateTrade(c fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сделки"})
	}

	var requestData struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	rating, err := s.engine.Rate(ctx, tradeID, userID, requestData.Rating, requestData.Comment)
	if err != nil {
		return tradeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"rating":  rating,
		"message": "Оценка сохранена",
	})
}

// GetMyPurchases возвращает сделки, в которых пользователь выступает покупателем
func (s *TradeService) GetMyPurchases(c fiber.Ctx) error {
	return s.listTrades(c, "buyer_id")
}

// GetMySales возвращает сделки, в которых пользователь выступает продавцом
func (s *TradeService) GetMySales(c fiber.Ctx) error {
	return s.listTrades(c, "seller_id")
}

// parsePagination извлекает limit и offset из параметров page и limit
func (s *TradeService) parsePagination(c fiber.Ctx) (limit, offset int) {
	limit = s.cfg.Pagination.DefaultLimit
	if v, err := strconv.Atoi(c.Query("limit", "")); err == nil && v > 0 {
		limit = v
	}
	if limit > s.cfg.Pagination.MaxLimit {
		limit = s.cfg.Pagination.MaxLimit
	}

	page := 1
	if v, err := strconv.Atoi(c.Query("page", "")); err == nil && v > 0 {
		page = v
	}

	return limit, (page - 1) * limit
}

// listTrades выбирает сделки пользователя по указанной роли с фильтром статуса
func (s *TradeService) listTrades(c fiber.Ctx, roleColumn string) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	limit, offset := s.parsePagination(c)

	where := roleColumn + " = $1"
	args := []any{userID}
	if status := c.Query("status", "all"); status != "all" {
		args = append(args, status)
		where += " AND status = $2"
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE `+where, args...).Scan(&total); err != nil {
		log.Printf("Ошибка подсчета сделок: %v", err)
	}

	args = append(args, limit, offset)
	rows, err := db.Pool.Query(ctx, `
		SELECT id, buyer_id, seller_id, listing_id, amount, commission, status,
		       buyer_message, seller_response, refund_reason, refund_amount,
		       buyer_rating, buyer_comment, seller_rating, seller_comment,
		       completed_at, refunded_at, created_at, updated_at
		FROM trades
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		log.Printf("Ошибка запроса сделок: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения сделок"})
	}
	defer rows.Close()

	trades := make([]models.Trade, 0)
	for rows.Next() {
		var t models.Trade
		var buyerMessage, sellerResponse, refundReason, buyerComment, sellerComment pgtype.Text
		var buyerRating, sellerRating pgtype.Int4
		var completedAt, refundedAt pgtype.Timestamptz

		if err := rows.Scan(
			&t.ID, &t.BuyerID, &t.SellerID, &t.ListingID, &t.Amount, &t.Commission, &t.Status,
			&buyerMessage, &sellerResponse, &refundReason, &t.RefundAmount,
			&buyerRating, &buyerComment, &sellerRating, &sellerComment,
			&completedAt, &refundedAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			log.Printf("Ошибка сканирования сделки: %v", err)
			continue
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

		trades = append(trades, t)
	}

	for i := range trades {
		s.attachDetails(&trades[i])
	}

	return c.JSON(fiber.Map{
		"trades": trades,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetTradeStats возвращает сводку по сделкам пользователя
func (s *TradeService) GetTradeStats(c fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var stats struct {
		Purchases       int `json:"purchases"`
		Sales           int `json:"sales"`
		RefundsReceived int `json:"refunds_received"`
		RefundsIssued   int `json:"refunds_issued"`
	}

	err = db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE buyer_id = $1 AND status = 'completed'),
			COUNT(*) FILTER (WHERE seller_id = $1 AND status = 'completed'),
			COUNT(*) FILTER (WHERE buyer_id = $1 AND status = 'refunded'),
			COUNT(*) FILTER (WHERE seller_id = $1 AND status = 'refunded')
		FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
	`, userID).Scan(&stats.Purchases, &stats.Sales, &stats.RefundsReceived, &stats.RefundsIssued)
	if err != nil {
		log.Printf("Ошибка запроса статистики сделок: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения статистики"})
	}

	user, err := db.GetUserByID(userID)
	if err != nil {
		log.Printf("Ошибка получения пользователя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения статистики"})
	}

	return c.JSON(fiber.Map{
		"stats":          stats,
		"total_spent":    user.TotalSpent,
		"total_earned":   user.TotalEarned,
		"rating_average": user.RatingAverage,
		"rating_count":   user.RatingCount,
	})
}

// attachDetails подгружает карточки сторон и лота для ответа API
func (s *TradeService) attachDetails(t *models.Trade) {
	t.Buyer = s.summaries.userSummary(t.BuyerID)
	t.Seller = s.summaries.userSummary(t.SellerID)
	t.Listing = s.summaries.listingSummary(t.ListingID)
}

// summarySource подгружает вложенные карточки для ответов API
type summarySource interface {
	userSummary(id uuid.UUID) *models.UserSummary
	listingSummary(id uuid.UUID) *models.ListingSummary
}

// pgSummaries реализует summarySource поверх PostgreSQL
type pgSummaries struct{}

func (pgSummaries) userSummary(id uuid.UUID) *models.UserSummary {
	user, err := db.GetUserByID(id)
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Printf("Ошибка получения пользователя %s: %v", id, err)
		}
		return nil
	}
	return user.Summary()
}

func (pgSummaries) listingSummary(id uuid.UUID) *models.ListingSummary {
	ctx, cancel := db.GetContext()
	defer cancel()

	var summary models.ListingSummary
	err := db.Pool.QueryRow(ctx, `
		SELECT id, title, description, category, price FROM listings WHERE id = $1
	`, id).Scan(&summary.ID, &summary.Title, &summary.Description, &summary.Category, &summary.Price)
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Printf("Ошибка получения лота %s: %v", id, err)
		}
		return nil
	}
	return &summary
}
