package trade

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// accountLocks выдаёт мьютекс на каждый счёт. Операции движка читают и
// переписывают балансы двух пользователей, поэтому пары блокировок берутся
// в фиксированном порядке (по возрастанию ID), иначе возможен deadlock
type accountLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (a *accountLocks) get(id uuid.UUID) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.locks[id]
	if !ok {
		m = &sync.Mutex{}
		a.locks[id] = m
	}
	return m
}

// LockPair блокирует счета двух пользователей и возвращает функцию разблокировки
func (a *accountLocks) LockPair(first, second uuid.UUID) func() {
	if first == second {
		m := a.get(first)
		m.Lock()
		return m.Unlock
	}

	if strings.Compare(first.String(), second.String()) > 0 {
		first, second = second, first
	}

	m1, m2 := a.get(first), a.get(second)
	m1.Lock()
	m2.Lock()
	return func() {
		m2.Unlock()
		m1.Unlock()
	}
}
