package presence

import (
	"context"
	"fmt"
	"sync"
)

const defaultSubscriptionBuffer = 256

// SubscribeOptions configure one push subscription.
type SubscribeOptions struct {
	// ExcludeClient suppresses the subscriber's own echoes.
	ExcludeClient string
	// DeviceClass, when not DeviceUnknown, delivers only records of that class.
	DeviceClass DeviceClass
	// LeaderOnly delivers only the authoritative records: the current
	// leader's, or desktop-class writes while no leader has been named.
	LeaderOnly bool
	// Buffer is the number of records that may queue ahead of a slow
	// subscriber before deliveries start failing. Zero means the default.
	Buffer int
}

func (o SubscribeOptions) filter() Filter {
	return Filter{
		ExcludeClient: o.ExcludeClient,
		DeviceClass:   o.DeviceClass,
		LeaderOnly:    o.LeaderOnly,
	}
}

// Subscription is a push-mode registration on one room. Writers hand records
// to the subscription's buffer; a dedicated goroutine forwards them to
// Updates, so a slow consumer backs up into its own buffer instead of
// delaying the writer or any other subscriber.
type Subscription struct {
	room *roomState
	opts SubscribeOptions

	in      chan Record
	updates chan Record
	errs    chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func newSubscription(parentCtx context.Context, room *roomState, opts SubscribeOptions) *Subscription {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultSubscriptionBuffer
	}
	ctx, cancel := context.WithCancel(parentCtx)
	sub := &Subscription{
		room:    room,
		opts:    opts,
		in:      make(chan Record, opts.Buffer),
		updates: make(chan Record),
		errs:    make(chan error, 8),
		ctx:     ctx,
		cancel:  cancel,
	}

	sub.wg.Add(1)
	go func() {
		sub.run()
		sub.wg.Done()
	}()
	return sub
}

// Updates delivers one Record per write to the subscribed room. The channel
// is closed by Cancel.
func (sub *Subscription) Updates() <-chan Record {
	return sub.updates
}

// Errors reports delivery failures for this subscription only. Failures never
// propagate to the writer that triggered them.
func (sub *Subscription) Errors() <-chan error {
	return sub.errs
}

// Cancel stops delivery, releases the room registration and closes Updates.
// It is safe to call more than once.
func (sub *Subscription) Cancel() {
	sub.once.Do(func() {
		sub.room.removeSub(sub)
		sub.cancel()
		sub.wg.Wait()
		close(sub.updates)
	})
}

// deliver is called by the room's write path with the room lock held. It must
// never block: overflow goes to the subscription's error channel, not to the
// writer.
func (sub *Subscription) deliver(rec Record, leaderID string) {
	if !sub.opts.filter().matches(rec, leaderID) {
		return
	}
	select {
	case sub.in <- rec:
	default:
		select {
		case sub.errs <- fmt.Errorf("%w: subscriber buffer full, dropped update for %q", ErrDeliveryFailure, rec.ClientID):
		default:
			// Error channel full too. The consumer is gone for all practical
			// purposes; eviction will age its view out.
		}
	}
}

func (sub *Subscription) run() {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case rec := <-sub.in:
			select {
			case sub.updates <- rec:
			case <-sub.ctx.Done():
				return
			}
		}
	}
}
