package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/point-engine/events"
	"github.com/warp/point-engine/point"
)

func earnedEvent(memberID uuid.UUID) point.Event {
	mp := point.NewMemberPoint(memberID)
	r, err := mp.Earn(100, point.EarnSystem, nil, point.DefaultEarnPolicy(), time.Now())
	if err != nil {
		panic(err)
	}
	return r.Event
}

func TestDispatcher_DeliversToAllSubscribers(t *testing.T) {
	d := events.NewDispatcher()
	memberID := uuid.Must(uuid.NewV7())

	var mu sync.Mutex
	var got []string
	for _, name := range []string{"a", "b"} {
		name := name
		d.Subscribe(func(_ context.Context, e point.Event) {
			mu.Lock()
			got = append(got, name+":"+e.Kind())
			mu.Unlock()
		})
	}

	d.Publish(context.Background(), earnedEvent(memberID))
	d.Wait()

	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"a:point.earned", "b:point.earned"}, got)
}

func TestDispatcher_PanickingSubscriber_DoesNotAffectOthers(t *testing.T) {
	// GIVEN: One subscriber that panics
	// WHEN: Publishing
	// THEN: The other subscriber still receives the event

	d := events.NewDispatcher()

	delivered := make(chan string, 1)
	d.Subscribe(func(context.Context, point.Event) {
		panic("bad subscriber")
	})
	d.Subscribe(func(_ context.Context, e point.Event) {
		delivered <- e.Kind()
	})

	d.Publish(context.Background(), earnedEvent(uuid.Must(uuid.NewV7())))
	d.Wait()

	assert.Equal(t, "point.earned", <-delivered)
}

func TestDispatcher_CanceledPublishContext_StillDelivers(t *testing.T) {
	// GIVEN: A request context that is canceled right after the command commits
	// WHEN: Events publish asynchronously
	// THEN: Delivery proceeds anyway; committed events are never lost

	d := events.NewDispatcher()
	delivered := make(chan struct{}, 1)
	d.Subscribe(func(ctx context.Context, _ point.Event) {
		assert.NoError(t, ctx.Err())
		delivered <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Publish(ctx, earnedEvent(uuid.Must(uuid.NewV7())))
	cancel()
	d.Wait()

	<-delivered
}
