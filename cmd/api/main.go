package main

import (
	"log"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/rajivgeraev/infogap-api/internal/catalog"
	"github.com/rajivgeraev/infogap-api/internal/config"
	"github.com/rajivgeraev/infogap-api/internal/db"
	"github.com/rajivgeraev/infogap-api/internal/ledger"
	"github.com/rajivgeraev/infogap-api/internal/services/auth"
	"github.com/rajivgeraev/infogap-api/internal/services/cloudinary"
	"github.com/rajivgeraev/infogap-api/internal/services/listing"
	tradeapi "github.com/rajivgeraev/infogap-api/internal/services/trade"
	"github.com/rajivgeraev/infogap-api/internal/services/user"
	"github.com/rajivgeraev/infogap-api/internal/trade"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	// Инициализируем базу данных
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer db.CloseDB()

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "InfoGap API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Собираем движок сделок поверх общего пула
	engine := trade.NewEngine(catalog.PG{}, ledger.PG{}, trade.PGStore{}, db.Pool, db.InTx, cfg.TradeConfig)

	// Создаём сервисы
	authService := auth.NewAuthService(cfg)
	userService := user.NewUserService(cfg, ledger.PG{})
	listingService := listing.NewListingService(cfg)
	tradeService := tradeapi.NewTradeService(cfg, engine)
	cloudinaryService := cloudinary.NewCloudinaryService(cfg)

	// Регистрируем маршруты
	authService.SetupRoutes(app)
	userService.SetupRoutes(app)
	listingService.SetupRoutes(app)
	tradeService.SetupRoutes(app)
	cloudinaryService.SetupRoutes(app)

	// Запускаем сервер
	log.Printf("✅ InfoGap API запущен на порту %s", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
