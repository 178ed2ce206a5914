package rtlink

import (
	"context"
	"reflect"

	"github.com/hkwi/rtnl"
	"github.com/hkwi/rtnl/rtcache"
	"github.com/hkwi/rtnl/rtobj"
)

// Listener reports the links present at start, then every link change.
type Listener struct {
	events  *rtcache.Listener
	initial []Message
	started bool
	known   map[int]rtobj.Link
}

// Subscribing before the dump leaves no gap: changes racing with the dump
// are replayed by the cache and reported again by Recv. Links already in the
// initial dump are not reported twice.
func NewListener(ctx context.Context, s *rtcache.Session) (*Listener, error) {
	events, err := s.Subscribe(ctx, rtcache.GroupLink)
	if err != nil {
		return nil, err
	}
	snap, err := s.DumpLinks(ctx)
	if err != nil {
		events.Close()
		return nil, err
	}
	ret := &Listener{events: events, known: make(map[int]rtobj.Link)}
	for _, obj := range snap.Objects {
		link := obj.(rtobj.Link)
		ret.known[link.Index] = link
		ret.initial = append(ret.initial, Message{Op: rtobj.OpNew, Link: link})
	}
	return ret, nil
}

type Message struct {
	Op rtobj.Op
	rtobj.Link
}

func (self *Listener) message(ev rtcache.Event) (Message, bool) {
	link, ok := ev.Object.(rtobj.Link)
	if !ok {
		return Message{}, false
	}
	if ev.Type == rtcache.Removed {
		delete(self.known, link.Index)
		return Message{Op: rtobj.OpDel, Link: link}, true
	}
	if known, ok := self.known[link.Index]; ok && reflect.DeepEqual(known, link) {
		return Message{}, false
	}
	self.known[link.Index] = link
	return Message{Op: rtobj.OpNew, Link: link}, true
}

// Recv returns RTM_NEWLINK, RTM_DELLINK sequence including initial dump.
// It blocks until at least one message is available.
// Not safe for concurrent use.
func (self *Listener) Recv(ctx context.Context) ([]Message, error) {
	if !self.started {
		self.started = true
		if len(self.initial) != 0 {
			ret := self.initial
			self.initial = nil
			return ret, nil
		}
	}
	var ret []Message
	for len(ret) == 0 {
		select {
		case ev, ok := <-self.events.Events():
			if !ok {
				return nil, self.closed()
			}
			if msg, ok := self.message(ev); ok {
				ret = append(ret, msg)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for {
		select {
		case ev, ok := <-self.events.Events():
			if !ok {
				return ret, nil
			}
			if msg, ok := self.message(ev); ok {
				ret = append(ret, msg)
			}
		default:
			return ret, nil
		}
	}
}

func (self *Listener) closed() error {
	if err := self.events.Err(); err != nil {
		return err
	}
	return rtnl.NLE_BAD_SOCK
}

func (self *Listener) Close() error {
	return self.events.Close()
}
