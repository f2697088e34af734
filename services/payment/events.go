package payment

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"webpay-gateway-api/models"
)

type EventType string

const (
	EventTransactionCreating  EventType = "transaction.creating"
	EventTransactionCreated   EventType = "transaction.created"
	EventTransactionCompleted EventType = "transaction.completed"
)

// Event describes one step of a transaction lifecycle. Response is set on
// Created, Transaction on Completed.
type Event struct {
	Type        EventType
	Request     *models.ApiRequest
	Response    *models.Response
	Transaction *models.Transaction
}

type Listener func(ctx context.Context, event Event) error

// Dispatcher calls listeners synchronously, in the order they subscribed.
// A failing listener is logged and does not stop the others or the caller.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]Listener
	logger    *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		listeners: make(map[EventType][]Listener),
		logger:    logger.With(zap.String("component", "events")),
	}
}

func (d *Dispatcher) Listen(eventType EventType, listener Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listeners[eventType] = append(d.listeners[eventType], listener)
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	if d == nil {
		return
	}

	d.mu.RLock()
	listeners := append([]Listener(nil), d.listeners[event.Type]...)
	d.mu.RUnlock()

	for _, listener := range listeners {
		if err := listener(ctx, event); err != nil {
			d.logger.Error("event listener failed",
				zap.String("event", string(event.Type)),
				zap.Error(err))
		}
	}
}
