/*
Package events delivers domain events to in-process subscribers.

PURPOSE:
  The service layer publishes one event per committed mutation; consumers
  (analytics, notifications) subscribe here. Delivery is asynchronous and
  best-effort: a slow or panicking subscriber never blocks or fails the
  command that produced the event.
*/
package events

import (
	"context"
	"log"
	"sync"

	"github.com/warp/point-engine/point"
)

// Subscriber handles published events. Called from the dispatcher's
// goroutine, one event at a time per Publish call.
type Subscriber func(ctx context.Context, event point.Event)

// Dispatcher is an in-process point.Publisher fanning out to subscribers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	wg          sync.WaitGroup
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a subscriber for all subsequent events.
func (d *Dispatcher) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, s)
}

// Publish delivers the events to every subscriber asynchronously. Events
// from one Publish call reach each subscriber in order.
func (d *Dispatcher) Publish(ctx context.Context, evts ...point.Event) {
	d.mu.RLock()
	subs := make([]Subscriber, len(d.subscribers))
	copy(subs, d.subscribers)
	d.mu.RUnlock()

	for _, s := range subs {
		s := s
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("events: subscriber panic recovered: %v", r)
				}
			}()
			for _, e := range evts {
				s(context.WithoutCancel(ctx), e)
			}
		}()
	}
}

// Wait blocks until all in-flight deliveries finish. Test helper and
// shutdown hook.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
