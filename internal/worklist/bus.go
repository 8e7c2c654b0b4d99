package worklist

import (
	"sync"
	"sync/atomic"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/openimaging/upsd/pkg/api"
)

type (
	// Bus decouples state-transition producers from the notification
	// pipeline. Publish hands the event to a caravan topic and returns;
	// a single consumer goroutine invokes the handler in publish order,
	// which preserves per-workitem event ordering for every downstream
	// subscriber
	Bus struct {
		prod      topic.Producer[*api.StateChangeEvent]
		cons      topic.Consumer[*api.StateChangeEvent]
		handler   BusHandler
		stop      chan struct{}
		wg        sync.WaitGroup
		published atomic.Int64
		startOnce sync.Once
		stopOnce  sync.Once
	}

	// BusHandler consumes one published state-change event
	BusHandler func(*api.StateChangeEvent)
)

// NewBus creates an event bus delivering to the provided handler
func NewBus(handler BusHandler) *Bus {
	t := caravan.NewTopic[*api.StateChangeEvent]()
	return &Bus{
		prod:    t.NewProducer(),
		cons:    t.NewConsumer(),
		handler: handler,
		stop:    make(chan struct{}),
	}
}

// Start begins consuming published events
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.wg.Go(func() {
			for {
				select {
				case <-b.stop:
					return
				case ev, ok := <-b.cons.Receive():
					if !ok {
						return
					}
					b.handler(ev)
				}
			}
		})
	})
}

// Publish enqueues a state-change event. The caller is never delayed by
// slow or stalled subscribers; delivery happens asynchronously
func (b *Bus) Publish(ev *api.StateChangeEvent) {
	b.published.Add(1)
	b.prod.Send() <- ev
}

// Published returns the number of events accepted by the bus
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Stop drains nothing further and shuts the consumer down. Events still
// queued on the topic are discarded
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	b.wg.Wait()
	b.prod.Close()
	b.cons.Close()
}
