package listing

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/infogap-api/internal/config"
	"github.com/rajivgeraev/infogap-api/internal/db"
	"github.com/rajivgeraev/infogap-api/internal/models"
	"github.com/rajivgeraev/infogap-api/internal/utils"
)

// RequestImage представляет структуру изображения в запросе создания лота
type RequestImage struct {
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
	PublicID   string `json:"public_id"`
	IsMain     bool   `json:"is_main"`
}

// ListingService представляет сервис для работы с лотами
type ListingService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewListingService создает новый экземпляр ListingService
func NewListingService(cfg *config.Config) *ListingService {
	return &ListingService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

const listingColumns = `id, seller_id, title, description, category, price, tags,
	   is_private, is_active, views, purchases, rating_average, rating_count,
	   preview_content, created_at, updated_at`

// scanListing читает строку listings без поля content
func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Category, &l.Price, &l.Tags,
		&l.IsPrivate, &l.IsActive, &l.Views, &l.Purchases, &l.RatingAverage, &l.RatingCount,
		&l.PreviewContent, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// loadImages подгружает изображения лота
func loadImages(listingID uuid.UUID) []models.ListingImage {
	ctx, cancel := db.GetContext()
	defer cancel()

	rows, err := db.Pool.Query(ctx, `
		SELECT id, listing_id, url, preview_url, public_id, is_main, position, created_at
		FROM listing_images
		WHERE listing_id = $1
		ORDER BY position ASC
	`, listingID)
	if err != nil {
		log.Printf("Ошибка запроса изображений: %v", err)
		return nil
	}
	defer rows.Close()

	var images []models.ListingImage
	for rows.Next() {
		var img models.ListingImage
		if err := rows.Scan(
			&img.ID, &img.ListingID, &img.URL, &img.PreviewURL,
			&img.PublicID, &img.IsMain, &img.Position, &img.CreatedAt,
		); err != nil {
			log.Printf("Ошибка сканирования изображения: %v", err)
			continue
		}
		images = append(images, img)
	}

	return images
}

// loadSeller подгружает публичную карточку продавца
func loadSeller(sellerID uuid.UUID) *models.UserSummary {
	user, err := db.GetUserByID(sellerID)
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Printf("Ошибка получения данных продавца: %v", err)
		}
		return nil
	}
	return user.Summary()
}

// parsePagination извлекает limit и offset из параметров page и limit
func (s *ListingService) parsePagination(c fiber.Ctx) (limit, offset int) {
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

// CreateListing обрабатывает создание нового лота
func (s *ListingService) CreateListing(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	sellerUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	var requestData struct {
		Title          string          `json:"title"`
		Description    string          `json:"description"`
		Category       string          `json:"category"`
		Price          decimal.Decimal `json:"price"`
		Tags           []string        `json:"tags"`
		IsPrivate      bool            `json:"is_private"`
		Content        string          `json:"content"`
		PreviewContent string          `json:"preview_content"`
		Images         []RequestImage  `json:"images"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	// Валидация обязательных полей
	if strings.TrimSpace(requestData.Title) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название обязательно"})
	}

	if strings.TrimSpace(requestData.Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Содержимое лота обязательно"})
	}

	if !models.ValidCategories[requestData.Category] {
		requestData.Category = "other"
	}

	if !requestData.Price.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Цена должна быть больше нуля"})
	}

	listingID := uuid.New()

	// Начинаем транзакцию
	ctx, cancel := db.GetContext()
	defer cancel()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO listings (id, seller_id, title, description, category, price, tags, is_private, content, preview_content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, listingID, sellerUUID, requestData.Title, requestData.Description, requestData.Category,
		requestData.Price, requestData.Tags, requestData.IsPrivate, requestData.Content, requestData.PreviewContent)
	if err != nil {
		log.Printf("Ошибка вставки лота: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения лота"})
	}

	// Вставляем изображения, если они есть
	for i, img := range requestData.Images {
		isMain := img.IsMain || i == 0

		_, err = tx.Exec(ctx, `
			INSERT INTO listing_images (listing_id, url, preview_url, public_id, is_main, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, listingID, img.URL, img.PreviewURL, img.PublicID, isMain, i)
		if err != nil {
			log.Printf("Ошибка вставки изображения: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения изображений"})
		}
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"listing_id": listingID,
		"message":    "Лот успешно создан",
	})
}

// GetPublicListings возвращает витрину активных публичных лотов с фильтрами
func (s *ListingService) GetPublicListings(c fiber.Ctx) error {
	limit, offset := s.parsePagination(c)

	// Собираем условия фильтрации
	where := []string{"is_active = true", "is_private = false"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if category := c.Query("category"); category != "" {
		where = append(where, "category = "+arg(category))
	}

	if minPrice := c.Query("min_price"); minPrice != "" {
		if p, err := decimal.NewFromString(minPrice); err == nil {
			where = append(where, "price >= "+arg(p))
		}
	}

	if maxPrice := c.Query("max_price"); maxPrice != "" {
		if p, err := decimal.NewFromString(maxPrice); err == nil {
			where = append(where, "price <= "+arg(p))
		}
	}

	if tags := c.Query("tags"); tags != "" {
		where = append(where, "tags && "+arg(strings.Split(tags, ",")))
	}

	if search := c.Query("search"); search != "" {
		pattern := "%" + search + "%"
		where = append(where, "(title ILIKE "+arg(pattern)+" OR description ILIKE "+arg(pattern)+")")
	}

	orderBy := "created_at DESC"
	switch c.Query("sort") {
	case "price_asc":
		orderBy = "price ASC"
	case "price_desc":
		orderBy = "price DESC"
	case "popular":
		orderBy = "purchases DESC, views DESC"
	case "rating":
		orderBy = "rating_average DESC, rating_count DESC"
	}

	whereClause := strings.Join(where, " AND ")

	ctx, cancel := db.GetContext()
	defer cancel()

	// Общее количество до применения пагинации
	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE `+whereClause, args...).Scan(&total); err != nil {
		log.Printf("Ошибка подсчета лотов: %v", err)
	}

	query := `SELECT ` + listingColumns + ` FROM listings WHERE ` + whereClause +
		` ORDER BY ` + orderBy + ` LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		log.Printf("Ошибка запроса лотов: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения лотов"})
	}
	defer rows.Close()

	listings := make([]models.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}
		listings = append(listings, *l)
	}

	for i := range listings {
		listings[i].Images = loadImages(listings[i].ID)
		listings[i].Seller = loadSeller(listings[i].SellerID)
	}

	return c.JSON(fiber.Map{
		"listings": listings,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetListing возвращает детальную карточку лота. Содержимое видят только
// продавец и покупатели с завершенной сделкой по этому лоту
func (s *ListingService) GetListing(c fiber.Ctx) error {
	listingUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID лота"})
	}

	// Пользователь опционален: маршрут публичный
	var viewerID uuid.UUID
	hasViewer := false
	if v, ok := c.Locals("userID").(string); ok && v != "" {
		if parsed, err := uuid.Parse(v); err == nil {
			viewerID = parsed
			hasViewer = true
		}
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	listing, err := scanListing(db.Pool.QueryRow(ctx, `
		SELECT `+listingColumns+` FROM listings WHERE id = $1
	`, listingUUID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Лот не найден"})
		}
		log.Printf("Ошибка получения лота: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения лота"})
	}

	isOwner := hasViewer && listing.SellerID == viewerID

	// Скрытые и снятые лоты видит только продавец
	if (!listing.IsActive || listing.IsPrivate) && !isOwner {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Лот не найден"})
	}

	// Счетчик просмотров не учитывает самого продавца
	if !isOwner {
		if _, err := db.Pool.Exec(ctx, `UPDATE listings SET views = views + 1 WHERE id = $1`, listingUUID); err != nil {
			log.Printf("Ошибка обновления счетчика просмотров: %v", err)
		} else {
			listing.Views++
		}
	}

	// Проверяем право на содержимое: продавец или покупатель завершенной сделки
	hasAccess := isOwner
	if !hasAccess && hasViewer {
		err = db.Pool.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM trades
				WHERE listing_id = $1 AND buyer_id = $2 AND status = 'completed'
			)
		`, listingUUID, viewerID).Scan(&hasAccess)
		if err != nil {
			log.Printf("Ошибка проверки доступа к содержимому: %v", err)
			hasAccess = false
		}
	}

	if hasAccess {
		err = db.Pool.QueryRow(ctx, `SELECT content FROM listings WHERE id = $1`, listingUUID).Scan(&listing.Content)
		if err != nil {
			log.Printf("Ошибка получения содержимого лота: %v", err)
		}
	}

	listing.Images = loadImages(listingUUID)
	listing.Seller = loadSeller(listing.SellerID)

	return c.JSON(fiber.Map{
		"listing":    listing,
		"is_owner":   isOwner,
		"has_access": hasAccess,
	})
}

// GetMyListings возвращает список лотов текущего пользователя
func (s *ListingService) GetMyListings(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	sellerUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	limit, offset := s.parsePagination(c)
	status := c.Query("status", "all") // all, active, inactive

	where := "seller_id = $1"
	args := []any{sellerUUID}
	switch status {
	case "active":
		where += " AND is_active = true"
	case "inactive":
		where += " AND is_active = false"
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE `+where, args...).Scan(&total); err != nil {
		log.Printf("Ошибка подсчета лотов: %v", err)
	}

	args = append(args, limit, offset)
	rows, err := db.Pool.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE `+where+`
		ORDER BY updated_at DESC
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		log.Printf("Ошибка запроса лотов: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения лотов"})
	}
	defer rows.Close()

	listings := make([]models.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}
		listings = append(listings, *l)
	}

	for i := range listings {
		listings[i].Images = loadImages(listings[i].ID)
	}

	return c.JSON(fiber.Map{
		"listings": listings,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// UpdateListing обновляет лот. Цена фиксируется после первой сделки
func (s *ListingService) UpdateListing(c fiber.Ctx) error {
	listingUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID лота"})
	}

	userID := c.Locals("userID").(string)
	sellerUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	var requestData struct {
		Title          string           `json:"title"`
		Description    string           `json:"description"`
		Category       string           `json:"category"`
		Price          *decimal.Decimal `json:"price"`
		Tags           []string         `json:"tags"`
		IsPrivate      *bool            `json:"is_private"`
		IsActive       *bool            `json:"is_active"`
		Content        string           `json:"content"`
		PreviewContent string           `json:"preview_content"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if strings.TrimSpace(requestData.Title) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название обязательно"})
	}

	if !models.ValidCategories[requestData.Category] {
		requestData.Category = "other"
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var ownerID uuid.UUID
	var currentPrice decimal.Decimal
	err = db.Pool.QueryRow(ctx, `SELECT seller_id, price FROM listings WHERE id = $1`, listingUUID).
		Scan(&ownerID, &currentPrice)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Лот не найден"})
		}
		log.Printf("Ошибка запроса лота: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения лота"})
	}

	if ownerID != sellerUUID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "У вас нет доступа к редактированию этого лота"})
	}

	newPrice := currentPrice
	if requestData.Price != nil && !requestData.Price.Equal(currentPrice) {
		if !requestData.Price.IsPositive() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Цена должна быть больше нуля"})
		}

		// После первой сделки цена меняться не может
		var hasTrades bool
		err = db.Pool.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM trades WHERE listing_id = $1)
		`, listingUUID).Scan(&hasTrades)
		if err != nil {
			log.Printf("Ошибка проверки сделок по лоту: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
		}
		if hasTrades {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Цена не может быть изменена после первой сделки"})
		}

		newPrice = *requestData.Price
	}

	isPrivate := requestData.IsPrivate
	isActive := requestData.IsActive

	_, err = db.Pool.Exec(ctx, `
		UPDATE listings
		SET title = $1, description = $2, category = $3, price = $4, tags = $5,
			is_private = COALESCE($6, is_private),
			is_active = COALESCE($7, is_active),
			content = CASE WHEN $8 <> '' THEN $8 ELSE content END,
			preview_content = $9,
			updated_at = NOW()
		WHERE id = $10
	`, requestData.Title, requestData.Description, requestData.Category, newPrice, requestData.Tags,
		isPrivate, isActive, requestData.Content, requestData.PreviewContent, listingUUID)
	if err != nil {
		log.Printf("Ошибка обновления лота: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления лота"})
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"listing_id": listingUUID,
		"message":    "Лот успешно обновлен",
	})
}

// DeleteListing снимает лот с продажи. Запись остается для истории сделок
func (s *ListingService) DeleteListing(c fiber.Ctx) error {
	listingUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID лота"})
	}

	userID := c.Locals("userID").(string)
	sellerUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var ownerID uuid.UUID
	err = db.Pool.QueryRow(ctx, `SELECT seller_id FROM listings WHERE id = $1`, listingUUID).Scan(&ownerID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Лот не найден"})
		}
		log.Printf("Ошибка запроса лота: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения лота"})
	}

	if ownerID != sellerUUID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "У вас нет доступа к удалению этого лота"})
	}

	_, err = db.Pool.Exec(ctx, `
		UPDATE listings SET is_active = false, updated_at = NOW() WHERE id = $1
	`, listingUUID)
	if err != nil {
		log.Printf("Ошибка снятия лота: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка удаления лота"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Лот снят с продажи",
	})
}

// GetCategories возвращает список категорий с количеством активных лотов
func (s *ListingService) GetCategories(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	rows, err := db.Pool.Query(ctx, `
		SELECT category, COUNT(*), ROUND(AVG(price), 2)
		FROM listings
		WHERE is_active = true AND is_private = false
		GROUP BY category
		ORDER BY COUNT(*) DESC
	`)
	if err != nil {
		log.Printf("Ошибка запроса категорий: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения категорий"})
	}
	defer rows.Close()

	type categoryStat struct {
		count    int
		avgPrice decimal.Decimal
	}

	stats := make(map[string]categoryStat)
	for rows.Next() {
		var category string
		var st categoryStat
		if err := rows.Scan(&category, &st.count, &st.avgPrice); err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}
		stats[category] = st
	}

	// Категории без лотов тоже попадают в ответ с нулем
	categories := make([]fiber.Map, 0, len(models.ValidCategories))
	for category := range models.ValidCategories {
		categories = append(categories, fiber.Map{
			"name":      category,
			"count":     stats[category].count,
			"avg_price": stats[category].avgPrice,
		})
	}

	return c.JSON(fiber.Map{"categories": categories})
}

// GetPopularListings возвращает самые покупаемые активные лоты
func (s *ListingService) GetPopularListings(c fiber.Ctx) error {
	limit := 10
	if v, err := strconv.Atoi(c.Query("limit", "")); err == nil && v > 0 && v <= s.cfg.Pagination.MaxLimit {
		limit = v
	}

	// days ограничивает выборку свежими лотами, 0 означает без ограничения
	days := 0
	if v, err := strconv.Atoi(c.Query("days", "")); err == nil && v > 0 && v <= 365 {
		days = v
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	query := `
		SELECT ` + listingColumns + ` FROM listings
		WHERE is_active = true AND is_private = false`
	args := []any{}
	if days > 0 {
		query += ` AND created_at >= NOW() - make_interval(days => $1)`
		args = append(args, days)
	}
	args = append(args, limit)
	query += ` ORDER BY purchases DESC, views DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		log.Printf("Ошибка запроса популярных лотов: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения лотов"})
	}
	defer rows.Close()

	listings := make([]models.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}
		listings = append(listings, *l)
	}

	for i := range listings {
		listings[i].Images = loadImages(listings[i].ID)
		listings[i].Seller = loadSeller(listings[i].SellerID)
	}

	return c.JSON(fiber.Map{"listings": listings})
}
