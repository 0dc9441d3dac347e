package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestLockSerialisesSameKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("a", "b", "a")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.Len())
}

func TestLockOrderAvoidsDeadlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Lock("x", "y")()
		}()
		go func() {
			defer wg.Done()
			l.Lock("y", "x")()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, l.Len())
}
