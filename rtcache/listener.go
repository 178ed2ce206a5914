package rtcache

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/hkwi/rtnl"
	"github.com/hkwi/rtnl/rtobj"
	"github.com/pkg/errors"
)

// Listener applies notifications of its groups to the session cache and
// publishes every change of the cache to those kinds on Events, whether it
// came from a notification or from a request made through the session.
type Listener struct {
	session *Session
	tr      *rtnl.Transport
	groups  []Group
	kinds   []rtobj.Kind
	log     *slog.Logger

	events chan Event
	wake   chan struct{}
	space  chan struct{}
	limit  int
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	lock    sync.Mutex
	queue   []Event
	stopped bool
	closing bool
	err     error
}

func newListener(ctx context.Context, session *Session, tr *rtnl.Transport, groups []Group) *Listener {
	ctx, cancel := context.WithCancel(ctx)
	self := &Listener{
		session: session,
		tr:      tr,
		groups:  groups,
		log:     session.log.With("listener", tr.PortID()),
		events:  make(chan Event, session.cfg.EventBuffer),
		wake:    make(chan struct{}, 1),
		space:   make(chan struct{}, 1),
		limit:   max(session.cfg.EventBuffer, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, g := range groups {
		if kind := g.Kind(); kind != 0 && !slices.Contains(self.kinds, kind) {
			self.kinds = append(self.kinds, kind)
		}
	}
	go self.run(ctx)
	return self
}

// Events is closed when the listener stops.
func (self *Listener) Events() <-chan Event {
	return self.events
}

// Err tells why the listener stopped, nil after Close.
func (self *Listener) Err() error {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.err
}

func (self *Listener) Close() error {
	self.once.Do(func() {
		self.lock.Lock()
		self.closing = true
		self.lock.Unlock()

		self.cancel()
		self.tr.Close()
		<-self.done
		self.session.forget(self)
	})
	return nil
}

func (self *Listener) fail(err error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	if !self.closing {
		self.err = err
	}
}

func (self *Listener) wants(kind rtobj.Kind) bool {
	return slices.Contains(self.kinds, kind)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// enqueue must not block, it runs with the cache locked.
func (self *Listener) enqueue(ev Event) {
	self.lock.Lock()
	defer self.lock.Unlock()
	if self.stopped || self.closing {
		return
	}
	self.queue = append(self.queue, ev)
	signal(self.wake)
}

func (self *Listener) next() (Event, bool) {
	self.lock.Lock()
	defer self.lock.Unlock()
	if len(self.queue) == 0 {
		return Event{}, false
	}
	ev := self.queue[0]
	self.queue[0] = Event{}
	self.queue = self.queue[1:]
	signal(self.space)
	return ev, true
}

func (self *Listener) backlog() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	return len(self.queue)
}

func (self *Listener) stop() {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.stopped = true
}

func (self *Listener) run(ctx context.Context) {
	defer close(self.done)

	received := make(chan struct{})
	go func() {
		defer close(received)
		defer self.stop()
		self.receive(ctx)
	}()
	self.deliver(ctx, received)
	<-received
	close(self.events)
}

// deliver moves queued events to Events. Once receiving stopped, the events
// still queued are delivered before it returns.
func (self *Listener) deliver(ctx context.Context, received <-chan struct{}) {
	for {
		ev, ok := self.next()
		if !ok {
			select {
			case <-self.wake:
			case <-received:
				if self.backlog() == 0 {
					return
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case self.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// await blocks reading while consumers lag behind, so that a slow consumer
// ends in a socket overrun rather than an unbounded queue.
func (self *Listener) await(ctx context.Context) bool {
	for self.backlog() >= self.limit {
		select {
		case <-self.space:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (self *Listener) receive(ctx context.Context) {
	for {
		if !self.await(ctx) {
			self.fail(ctx.Err())
			return
		}
		frame, err := self.tr.Receive(ctx)
		switch {
		case err == nil:
		case errors.Is(err, rtnl.NLE_MSG_OVERFLOW):
			self.session.metrics.overrun()
			self.log.Warn("notification overrun", "resync", self.session.cfg.ResyncOnOverrun)
			if !self.session.cfg.ResyncOnOverrun {
				continue
			}
			if !self.resync(ctx) {
				return
			}
			continue
		case errors.Is(err, rtnl.NLE_MSG_TRUNC):
			self.session.metrics.decodeError()
			self.log.Debug("skipping datagram", "err", err)
			continue
		default:
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			self.fail(err)
			return
		}
		if frame.Kind != rtnl.FrameData {
			continue
		}
		self.handle(frame.Message)
	}
}

// resync dumps the kinds of the listener again; the diff is queued by the
// cache like any other change.
func (self *Listener) resync(ctx context.Context) bool {
	if _, err := self.session.Refresh(ctx, self.kinds...); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			self.log.Warn("resync failed", "err", err)
			err = errors.Wrap(err, "resync")
		}
		self.fail(err)
		return false
	}
	return true
}

func (self *Listener) handle(msg rtnl.Message) {
	kind, ok := rtobj.KindOf(msg.Header.Type)
	if !ok || !self.wants(kind) {
		self.log.Debug("ignoring notification", "hdr", msg.Header.String())
		return
	}
	obj, err := rtobj.Decode(msg)
	if err != nil {
		self.session.metrics.decodeError()
		self.log.Debug("skipping notification", "err", err)
		return
	}

	cache := self.session.cache
	if rtobj.Action(msg) != rtobj.OpDel {
		if !self.session.skip(obj) {
			cache.ApplyDelta(kind, obj.Key(), obj)
		}
		return
	}
	ev, changed := cache.ApplyDelta(kind, obj.Key(), nil)
	if link, ok := ev.Object.(rtobj.Link); ok && changed {
		cache.PurgeLink(link.Index)
	}
}
