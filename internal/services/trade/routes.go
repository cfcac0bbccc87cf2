package trade

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/infogap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API сделок
func (s *TradeService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/trades")

	// Все маршруты сделок требуют авторизации
	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Post("/purchase", s.CreateTrade)
	api.Get("/my-purchases", s.GetMyPurchases)
	api.Get("/my-sales", s.GetMySales)
	api.Get("/stats", s.GetTradeStats)
	api.Get("/:id", s.GetTrade)
	api.Post("/:id/refund", s.RefundTrade)
	api.Post("/:id/rate", s.RateTrade)
}
