package subscriptions

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAccountLocksSerializeSameAccount(t *testing.T) {
	locks := newAccountLocks()
	accountID := uuid.New()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(accountID)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestAccountLocksReleaseEntries(t *testing.T) {
	locks := newAccountLocks()

	unlock := locks.Lock(uuid.New())
	unlock()
	unlockA := locks.Lock(uuid.New())
	unlockB := locks.Lock(uuid.New())
	unlockB()
	unlockA()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.entries)
}
