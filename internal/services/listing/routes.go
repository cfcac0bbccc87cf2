package listing

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/infogap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API лотов
func (s *ListingService) SetupRoutes(app *fiber.App) {
	authRequired := middleware.AuthMiddleware(s.jwtService)

	// Публичные маршруты. Карточка лота доступна и без токена,
	// но с токеном покупатель видит купленное содержимое.
	// Статические пути регистрируются раньше параметра :id
	app.Get("/api/listings", s.GetPublicListings)
	app.Get("/api/listings/categories", s.GetCategories)
	app.Get("/api/listings/popular", s.GetPopularListings)
	app.Get("/api/listings/my", authRequired, s.GetMyListings)
	app.Get("/api/listings/:id", middleware.OptionalAuth(s.jwtService), s.GetListing)

	// Защищенные маршруты (требуют авторизации)
	app.Post("/api/listings", authRequired, s.CreateListing)
	app.Put("/api/listings/:id", authRequired, s.UpdateListing)
	app.Delete("/api/listings/:id", authRequired, s.DeleteListing)
}
