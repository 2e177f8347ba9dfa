package sdk

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcherSerializesWork(t *testing.T) {
	t.Parallel()

	d := newDispatcher(16)

	const goroutines = 20
	const iterations = 50

	var counter int
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				_, _ = d.call(func() (any, error) {
					counter++
					return nil, nil
				})
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)

	value, err := d.call(func() (any, error) { return counter, nil })
	require.NoError(t, err)
	require.Equal(t, goroutines*iterations, value)
}

func TestDispatcherCallReturnsValueAndError(t *testing.T) {
	t.Parallel()

	d := newDispatcher(1)

	value, err := d.call(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", value)

	_, err = d.call(func() (any, error) { return nil, fmt.Errorf("boom") })
	require.EqualError(t, err, "boom")
}

func TestDispatcherNilReceiver(t *testing.T) {
	t.Parallel()

	var d *dispatcher
	require.Error(t, d.do(func() {}))
	_, err := d.call(func() (any, error) { return nil, nil })
	require.Error(t, err)

	require.NoError(t, newDispatcher(1).do(nil))
}
