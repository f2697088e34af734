package payment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDispatchCallsListenersInOrder(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	var order []int
	d.Listen(EventTransactionCreated, func(context.Context, Event) error { order = append(order, 1); return nil })
	d.Listen(EventTransactionCreated, func(context.Context, Event) error { order = append(order, 2); return errors.New("boom") })
	d.Listen(EventTransactionCreated, func(context.Context, Event) error { order = append(order, 3); return nil })
	d.Listen(EventTransactionCompleted, func(context.Context, Event) error { order = append(order, 99); return nil })

	d.Dispatch(context.Background(), Event{Type: EventTransactionCreated})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestDispatchWithoutListeners(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), Event{Type: EventTransactionCreating})
	})

	var nilDispatcher *Dispatcher
	assert.NotPanics(t, func() {
		nilDispatcher.Dispatch(context.Background(), Event{Type: EventTransactionCreating})
	})
}

func TestListenWhileDispatching(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Listen(EventTransactionCompleted, func(context.Context, Event) error { return nil })
		}()
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), Event{Type: EventTransactionCompleted})
		}()
	}
	wg.Wait()

	d.mu.RLock()
	defer d.mu.RUnlock()
	assert.Len(t, d.listeners[EventTransactionCompleted], 20)
}
