package user

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/infogap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API пользователей.
// Защищенные пути регистрируются до /:id, иначе параметр перехватил
// бы статические сегменты
func (s *UserService) SetupRoutes(app *fiber.App) {
	authRequired := middleware.AuthMiddleware(s.jwtService)

	app.Get("/api/users/profile", authRequired, s.GetProfile)
	app.Put("/api/users/profile", authRequired, s.UpdateProfile)
	app.Get("/api/users/balance", authRequired, s.GetBalance)
	app.Post("/api/users/recharge", authRequired, s.Recharge)
	app.Get("/api/users/me/stats", authRequired, s.GetStats)

	// Публичная карточка пользователя
	app.Get("/api/users/:id", s.GetPublicProfile)
}
