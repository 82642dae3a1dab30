package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockMap(t *testing.T) {
	l := newLockMap()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  = map[string]int{}
		overlap bool
	)
	for i := 0; i < 50; i++ {
		id := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock(id)
			defer unlock()

			mu.Lock()
			inside[id]++
			if inside[id] > 1 {
				overlap = true
			}
			mu.Unlock()

			mu.Lock()
			inside[id]--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.Zero(t, l.len())
}
