package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Допустимые категории информации
var ValidCategories = map[string]bool{
	"business":   true,
	"investment": true,
	"technology": true,
	"education":  true,
	"lifestyle":  true,
	"other":      true,
}

// Listing представляет информационный лот на площадке
type Listing struct {
	ID             uuid.UUID       `json:"id"`
	SellerID       uuid.UUID       `json:"seller_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	Tags           []string        `json:"tags"`
	IsPrivate      bool            `json:"is_private"`
	IsActive       bool            `json:"is_active"`
	Views          int             `json:"views"`
	Purchases      int             `json:"purchases"`
	RatingAverage  decimal.Decimal `json:"rating_average"`
	RatingCount    int             `json:"rating_count"`
	Content        string          `json:"content,omitempty"`
	PreviewContent string          `json:"preview_content,omitempty"`
	Images         []ListingImage  `json:"images"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Дополнительные поля для API
	Seller *UserSummary `json:"seller,omitempty"`
}

// ListingImage представляет изображение лота
type ListingImage struct {
	ID         uuid.UUID `json:"id"`
	ListingID  uuid.UUID `json:"listing_id"`
	URL        string    `json:"url"`
	PreviewURL string    `json:"preview_url,omitempty"`
	PublicID   string    `json:"public_id"`
	IsMain     bool      `json:"is_main"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListingSummary представляет краткую карточку лота для вложенных ответов
type ListingSummary struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// Summary возвращает краткую карточку лота
func (l *Listing) Summary() *ListingSummary {
	return &ListingSummary{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Category:    l.Category,
		Price:       l.Price,
	}
}
