package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_ZeroBeforeStore(t *testing.T) {
	var s Snapshot[[]string]
	assert.Nil(t, s.Load())

	var n Snapshot[int]
	assert.Equal(t, 0, n.Load())
}

func TestSnapshot_ConcurrentSwap(t *testing.T) {
	var s Snapshot[map[string]int]
	s.Store(map[string]int{"a": 1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Store(map[string]int{"a": i})
			_ = s.Load()["a"]
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Load(), 1)
}
