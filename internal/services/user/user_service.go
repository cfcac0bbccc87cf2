package user

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/infogap-api/internal/config"
	"github.com/rajivgeraev/infogap-api/internal/db"
	"github.com/rajivgeraev/infogap-api/internal/ledger"
	"github.com/rajivgeraev/infogap-api/internal/utils"
)

// UserService представляет сервис для работы с профилями и балансом
type UserService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	ledger     ledger.Ledger
}

// NewUserService создает новый экземпляр UserService
func NewUserService(cfg *config.Config, led ledger.Ledger) *UserService {
	return &UserService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		ledger:     led,
	}
}

func parseUserID(c fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Locals("userID").(string))
}

// GetProfile возвращает профиль текущего пользователя
func (s *UserService) GetProfile(c fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	user, err := db.GetUserByID(userID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Пользователь не найден"})
		}
		log.Printf("Ошибка получения пользователя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения профиля"})
	}

	return c.JSON(fiber.Map{"user": user})
}

// UpdateProfile обновляет профиль текущего пользователя
func (s *UserService) UpdateProfile(c fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	var requestData struct {
		Username  string `json:"username"`
		Phone     string `json:"phone"`
		Bio       string `json:"bio"`
		AvatarURL string `json:"avatar_url"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if strings.TrimSpace(requestData.Username) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Имя пользователя обязательно"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	// Проверяем, что имя не занято другим пользователем
	var taken bool
	err = db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 AND id <> $2)
	`, requestData.Username, userID).Scan(&taken)
	if err != nil {
		log.Printf("Ошибка проверки имени пользователя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	if taken {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Имя пользователя уже занято"})
	}

	_, err = db.Pool.Exec(ctx, `
		UPDATE users
		SET username = $1, phone = $2, bio = $3, avatar_url = $4, updated_at = NOW()
		WHERE id = $5
	`, requestData.Username, requestData.Phone, requestData.Bio, requestData.AvatarURL, userID)
	if err != nil {
		log.Printf("Ошибка обновления профиля: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления профиля"})
	}

	user, err := db.GetUserByID(userID)
	if err != nil {
		log.Printf("Ошибка получения пользователя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения профиля"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user":    user,
		"message": "Профиль успешно обновлен",
	})
}

// GetBalance возвращает баланс и обороты текущего пользователя
func (s *UserService) GetBalance(c fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	balance, err := s.ledger.GetBalance(ctx, db.Pool, userID)
	if err != nil {
		if err == ledger.ErrAccountNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Пользователь не найден"})
		}
		log.Printf("Ошибка получения баланса: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения баланса"})
	}

	return c.JSON(fiber.Map{
		"balance":      balance.Balance,
		"total_spent":  balance.TotalSpent,
		"total_earned": balance.TotalEarned,
	})
}

// Recharge пополняет баланс текущего пользователя
func (s *UserService) Recharge(c fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	var requestData struct {
		Amount decimal.Decimal `json:"amount"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if !requestData.Amount.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Сумма пополнения должна быть больше нуля"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	if err := s.ledger.Adjust(ctx, db.Pool, userID, requestData.Amount, decimal.Zero, decimal.Zero); err != nil {
		if err == ledger.ErrAccountNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Пользователь не найден"})
		}
		log.Printf("Ошибка пополнения баланса: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка пополнения баланса"})
	}

	balance, err := s.ledger.GetBalance(ctx, db.Pool, userID)
	if err != nil {
		log.Printf("Ошибка получения баланса: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения баланса"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"balance": balance.Balance,
		"message": "Баланс успешно пополнен",
	})
}

// GetStats возвращает сводку активности пользователя: покупки, продажи,
// опубликованные лоты и обороты
func (s *UserService) GetStats(c fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var purchases, sales, refunds int
	err = db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE buyer_id = $1 AND status = 'completed'),
			COUNT(*) FILTER (WHERE seller_id = $1 AND status = 'completed'),
			COUNT(*) FILTER (WHERE buyer_id = $1 AND status = 'refunded')
		FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
	`, userID).Scan(&purchases, &sales, &refunds)
	if err != nil {
		log.Printf("Ошибка запроса статистики сделок: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения статистики"})
	}

	var published int
	err = db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM listings WHERE seller_id = $1
	`, userID).Scan(&published)
	if err != nil {
		log.Printf("Ошибка подсчета лотов: %v", err)
	}

	user, err := db.GetUserByID(userID)
	if err != nil {
		log.Printf("Ошибка получения пользователя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения статистики"})
	}

	return c.JSON(fiber.Map{
		"purchases":      purchases,
		"sales":          sales,
		"refunds":        refunds,
		"published":      published,
		"total_spent":    user.TotalSpent,
		"total_earned":   user.TotalEarned,
		"rating_average": user.RatingAverage,
		"rating_count":   user.RatingCount,
	})
}

// GetPublicProfile возвращает публичную карточку пользователя
func (s *UserService) GetPublicProfile(c fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	user, err := db.GetUserByID(userID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Пользователь не найден"})
		}
		log.Printf("Ошибка получения пользователя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения пользователя"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	// Количество активных лотов для карточки продавца
	var activeListings int
	err = db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM listings WHERE seller_id = $1 AND is_active = true AND is_private = false
	`, userID).Scan(&activeListings)
	if err != nil {
		log.Printf("Ошибка подсчета лотов пользователя: %v", err)
	}

	return c.JSON(fiber.Map{
		"user":            user.Summary(),
		"bio":             user.Bio,
		"active_listings": activeListings,
		"member_since":    user.CreatedAt,
	})
}
