package trade

import "errors"

// Ошибки движка сделок. Каждая проверка срабатывает до любых изменений:
// отклонённая операция не оставляет следов в хранилище
var (
	ErrListingUnavailable  = errors.New("информация не существует или снята с продажи")
	ErrOwnListing          = errors.New("нельзя купить собственную информацию")
	ErrDuplicateTrade      = errors.New("информация уже куплена или есть незавершённая сделка")
	ErrInsufficientFunds   = errors.New("недостаточно средств на балансе")
	ErrTradeNotFound       = errors.New("сделка не найдена")
	ErrNotBuyer            = errors.New("запросить возврат может только покупатель")
	ErrNotParty            = errors.New("пользователь не является стороной сделки")
	ErrNotCompleted        = errors.New("операция доступна только для завершённых сделок")
	ErrRefundWindowExpired = errors.New("срок возврата истёк")
	ErrAlreadyRated        = errors.New("оценка по этой сделке уже выставлена")
	ErrInvalidRating       = errors.New("оценка должна быть целым числом от 1 до 5")
)
