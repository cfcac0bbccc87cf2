package db

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rajivgeraev/infogap-api/internal/models"
)

const userColumns = `id, username, email, phone, password_hash, avatar_url, bio,
	   balance, total_spent, total_earned, rating_average, rating_count,
	   is_active, created_at, updated_at`

// scanUser читает строку users в модель, разворачивая nullable поля
func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	var email, phone, passwordHash, avatarURL, bio pgtype.Text

	err := row.Scan(
		&user.ID, &user.Username, &email, &phone, &passwordHash, &avatarURL, &bio,
		&user.Balance, &user.TotalSpent, &user.TotalEarned,
		&user.RatingAverage, &user.RatingCount,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if email.Valid {
		user.Email = email.String
	}
	if phone.Valid {
		user.Phone = phone.String
	}
	if passwordHash.Valid {
		user.PasswordHash = passwordHash.String
	}
	if avatarURL.Valid {
		user.AvatarURL = avatarURL.String
	}
	if bio.Valid {
		user.Bio = bio.String
	}

	return &user, nil
}

// GetUserByID получает пользователя по ID
func GetUserByID(userID uuid.UUID) (*models.User, error) {
	ctx, cancel := GetContext()
	defer cancel()

	row := Pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE id = $1
	`, userID)

	return scanUser(row)
}

// GetUserByLogin ищет пользователя по имени или email для входа
func GetUserByLogin(login string) (*models.User, error) {
	ctx, cancel := GetContext()
	defer cancel()

	row := Pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE username = $1 OR email = $1
	`, login)

	return scanUser(row)
}

// UserExists проверяет, занято ли имя пользователя или email
func UserExists(username, email string) (bool, error) {
	ctx, cancel := GetContext()
	defer cancel()

	var exists bool
	err := Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 OR email = $2)
	`, username, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка при проверке пользователя: %w", err)
	}

	return exists, nil
}

// CreateUser создает нового пользователя с паролем
func CreateUser(username, email, passwordHash string) (*models.User, error) {
	ctx, cancel := GetContext()
	defer cancel()

	row := Pool.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, last_login_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		RETURNING `+userColumns+`
	`, username, email, passwordHash)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	return user, nil
}

// TouchLastLogin обновляет время последнего входа
func TouchLastLogin(userID uuid.UUID) error {
	ctx, cancel := GetContext()
	defer cancel()

	_, err := Pool.Exec(ctx, `
		UPDATE users SET last_login_at = CURRENT_TIMESTAMP WHERE id = $1
	`, userID)

	return err
}

// CreateOrUpdateTelegramUser создает нового пользователя через Telegram или обновляет существующего
func CreateOrUpdateTelegramUser(telegramID int64, username, firstName, lastName, photoURL string,
	isPremium bool, languageCode string, rawData []byte) (*models.User, error) {
	ctx, cancel := GetContext()
	defer cancel()

	// Начинаем транзакцию
	tx, err := Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// Проверяем, существует ли пользователь Telegram
	var userID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT user_id FROM telegram_users WHERE telegram_id = $1
	`, telegramID).Scan(&userID)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("ошибка при проверке существования пользователя Telegram: %w", err)
	}

	if err == pgx.ErrNoRows {
		// Создаем запись в users. Telegram не дает ни email, ни пароля,
		// поэтому имя берем из профиля, при конфликте добавляем суффикс
		displayName := username
		if displayName == "" {
			displayName = fmt.Sprintf("tg_%d", telegramID)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO users (username, avatar_url, last_login_at)
			VALUES ($1, $2, CURRENT_TIMESTAMP)
			ON CONFLICT (username) DO NOTHING
			RETURNING id
		`, displayName, photoURL).Scan(&userID)
		if err == pgx.ErrNoRows {
			err = tx.QueryRow(ctx, `
				INSERT INTO users (username, avatar_url, last_login_at)
				VALUES ($1, $2, CURRENT_TIMESTAMP)
				RETURNING id
			`, fmt.Sprintf("%s_%d", displayName, telegramID), photoURL).Scan(&userID)
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
		}

		// Создаем запись в telegram_users
		_, err = tx.Exec(ctx, `
			INSERT INTO telegram_users (user_id, telegram_id, username, first_name, last_name, photo_url, is_premium, language_code, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, userID, telegramID, username, firstName, lastName, photoURL, isPremium, languageCode, rawData)
		if err != nil {
			return nil, fmt.Errorf("ошибка при создании Telegram пользователя: %w", err)
		}
	} else {
		// Обновляем данные профиля и время входа существующего пользователя
		_, err = tx.Exec(ctx, `
			UPDATE users SET last_login_at = CURRENT_TIMESTAMP WHERE id = $1
		`, userID)
		if err != nil {
			return nil, fmt.Errorf("ошибка при обновлении времени входа пользователя: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE telegram_users
			SET username = $1, first_name = $2, last_name = $3, photo_url = $4,
				is_premium = $5, language_code = $6, raw_data = $7, updated_at = CURRENT_TIMESTAMP
			WHERE telegram_id = $8
		`, username, firstName, lastName, photoURL, isPremium, languageCode, rawData, telegramID)
		if err != nil {
			return nil, fmt.Errorf("ошибка при обновлении Telegram пользователя: %w", err)
		}
	}

	row := tx.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE id = $1
	`, userID)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	// Фиксируем транзакцию
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	return user, nil
}
