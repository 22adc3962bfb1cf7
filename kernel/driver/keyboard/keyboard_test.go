package keyboard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatch(t *testing.T) {
	var l Latch
	assert.False(t, l.Poll())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RequestQuit()
		}()
	}
	wg.Wait()

	assert.True(t, l.Poll())
	assert.True(t, l.Poll(), "quit requests stay latched")
}
