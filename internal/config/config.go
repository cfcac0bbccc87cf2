package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config структура конфигурации
type Config struct {
	Port             string
	TelegramBotToken string
	JWTSecret        string
	DatabaseURL      string
	DatabaseConfig   DatabaseConfig
	CloudinaryConfig CloudinaryConfig
	TradeConfig      TradeConfig
	Pagination       PaginationConfig
	AppEnv           string
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// CloudinaryConfig содержит конфигурацию для Cloudinary
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
	UploadFolder string
}

// TradeConfig содержит платёжную политику площадки: комиссию и окна возврата
type TradeConfig struct {
	CommissionRate    decimal.Decimal // доля от суммы сделки, удерживаемая площадкой
	FullRefundHours   int             // в течение этого срока возврат полный
	PartialRefundDays int             // далее, до этого срока возврат 50%
}

// PaginationConfig содержит лимиты постраничной выдачи
type PaginationConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// LoadConfig загружает переменные из .env
func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "infogap_user"),
		Password: getEnv("PGPASSWORD", "infogap_pass"),
		Name:     getEnv("PGDATABASE", "infogap"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}

	// Формируем строку подключения к базе данных
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.SSLMode)

	cloudinaryConfig := CloudinaryConfig{
		CloudName:    getEnv("CLOUDINARY_CLOUD_NAME", ""),
		APIKey:       getEnv("CLOUDINARY_API_KEY", ""),
		APISecret:    getEnv("CLOUDINARY_API_SECRET", ""),
		UploadPreset: getEnv("CLOUDINARY_UPLOAD_PRESET", "infogap_listings"),
		UploadFolder: getEnv("CLOUDINARY_UPLOAD_FOLDER", "infogap"),
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		DatabaseURL:      dbURL,
		DatabaseConfig:   dbConfig,
		CloudinaryConfig: cloudinaryConfig,
		TradeConfig:      loadTradeConfig(),
		Pagination: PaginationConfig{
			DefaultLimit: getEnvInt("PAGINATION_DEFAULT_LIMIT", 20),
			MaxLimit:     getEnvInt("PAGINATION_MAX_LIMIT", 100),
		},
		AppEnv: getEnv("APP_ENV", "production"), // По умолчанию production
	}

	if cfg.JWTSecret == "" {
		log.Fatal("❌ Ошибка: Не заданы обязательные переменные окружения")
	}

	return cfg
}

// loadTradeConfig читает параметры сделок. Ставка комиссии хранится как decimal:
// расчёты с балансами не должны терять точность
func loadTradeConfig() TradeConfig {
	tc := TradeConfig{
		CommissionRate:    decimal.NewFromFloat(0.05),
		FullRefundHours:   getEnvInt("FULL_REFUND_HOURS", 24),
		PartialRefundDays: getEnvInt("PARTIAL_REFUND_DAYS", 7),
	}

	if raw, exists := os.LookupEnv("COMMISSION_RATE"); exists {
		rate, err := decimal.NewFromString(raw)
		if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			log.Printf("⚠️ Некорректное значение COMMISSION_RATE (%q), используем 0.05", raw)
		} else {
			tc.CommissionRate = rate
		}
	}

	return tc
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Printf("⚠️ Некорректное значение %s (%q), используем %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
