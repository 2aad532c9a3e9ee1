package service

import (
	"fmt"
	"sync"
)

// keyLock serialises state transitions per entity. Mutexes are created on
// first use and never evicted; the key space is bounded by the number of
// tables and bookings the engine touches during its lifetime.
type keyLock struct {
	locks sync.Map // string -> *sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyLock) Lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func bookingKey(id int64) string {
	return fmt.Sprintf("booking:%d", id)
}

func tableKey(id int64) string {
	return fmt.Sprintf("table:%d", id)
}
