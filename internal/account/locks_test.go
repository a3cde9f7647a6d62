package account

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocks_SerializesSameUser(t *testing.T) {
	l := NewLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(7)
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.Len())
}

func TestLocks_IndependentUsers(t *testing.T) {
	l := NewLocks()

	unlockA := l.Lock(1)
	done := make(chan struct{})
	go func() {
		unlock := l.Lock(2)
		unlock()
		close(done)
	}()
	<-done

	assert.Equal(t, 1, l.Len())
	unlockA()
	// releasing twice is harmless
	unlockA()
	assert.Equal(t, 0, l.Len())
}
