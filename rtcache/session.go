package rtcache

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/hkwi/rtnl"
	"github.com/hkwi/rtnl/rtobj"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type Group uint32

const (
	GroupLink      Group = unix.RTNLGRP_LINK
	GroupIPv4Addr  Group = unix.RTNLGRP_IPV4_IFADDR
	GroupIPv6Addr  Group = unix.RTNLGRP_IPV6_IFADDR
	GroupIPv4Route Group = unix.RTNLGRP_IPV4_ROUTE
	GroupIPv6Route Group = unix.RTNLGRP_IPV6_ROUTE
	GroupNeigh     Group = unix.RTNLGRP_NEIGH
)

var groupNames = map[string]Group{
	"link":       GroupLink,
	"ipv4-addr":  GroupIPv4Addr,
	"ipv6-addr":  GroupIPv6Addr,
	"ipv4-route": GroupIPv4Route,
	"ipv6-route": GroupIPv6Route,
	"neigh":      GroupNeigh,
}

func ParseGroup(name string) (Group, error) {
	if g, ok := groupNames[name]; ok {
		return g, nil
	}
	return 0, errors.Wrapf(rtnl.NLE_INVAL, "unknown group %q", name)
}

// Kind tells which objects the group announces.
func (self Group) Kind() rtobj.Kind {
	switch self {
	case GroupLink:
		return rtobj.KindLink
	case GroupIPv4Addr, GroupIPv6Addr:
		return rtobj.KindAddress
	case GroupIPv4Route, GroupIPv6Route:
		return rtobj.KindRoute
	case GroupNeigh:
		return rtobj.KindNeighbor
	}
	return 0
}

// Dialer opens the sockets of listeners.
type Dialer func() (rtnl.Socket, error)

type Option func(*Session)

func WithDialer(dial Dialer) Option {
	return func(s *Session) { s.dial = dial }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is one request/response transport and the cache it fills.
type Session struct {
	cfg     Config
	tr      *rtnl.Transport
	cache   *Cache
	dial    Dialer
	metrics *Metrics
	log     *slog.Logger

	lock      sync.Mutex
	listeners []*Listener
	closed    bool
}

// Open connects to the kernel.
func Open(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sockConfig := rtnl.SockConfig{
		RecvBuffer: cfg.ReceiveBufferSize,
		SendBuffer: cfg.SendBufferSize,
	}
	sock, err := rtnl.NlConnect(sockConfig)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithDialer(func() (rtnl.Socket, error) {
		return rtnl.NlConnect(sockConfig)
	})}, opts...)
	return NewSession(sock, cfg, opts...), nil
}

// NewSession builds a session over an already connected socket.
func NewSession(sock rtnl.Socket, cfg Config, opts ...Option) *Session {
	self := &Session{cfg: cfg}
	for _, opt := range opts {
		opt(self)
	}
	if self.log == nil {
		if cfg.Log {
			self.log = slog.Default().With("t", "rtnl")
		} else {
			self.log = slog.New(slog.DiscardHandler)
		}
	}
	self.tr = rtnl.NewTransport(sock, self.log.With("port", sock.PortID()))
	self.cache = NewCache(self.metrics)
	self.cache.notify = self.dispatch
	return self
}

// dispatch queues a cache change on the listeners of its kind. Changes made
// through the session reach listeners the same way notifications do.
func (self *Session) dispatch(ev Event) {
	self.metrics.delta(ev.Kind, ev.Type)
	self.lock.Lock()
	defer self.lock.Unlock()
	for _, l := range self.listeners {
		if l.wants(ev.Kind) {
			l.enqueue(ev)
		}
	}
}

func (self *Session) Cache() *Cache {
	return self.cache
}

func (self *Session) Query() QueryEngine {
	return NewQueryEngine(self.cache)
}

func (self *Session) ResolveRoute(dst netip.Addr) (rtobj.Route, error) {
	return self.Query().ResolveRoute(dst)
}

func (self *Session) execute(ctx context.Context, name string, req rtnl.Message) ([]rtnl.Message, error) {
	if d := self.cfg.requestTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	start := time.Now()
	msgs, err := self.tr.Execute(ctx, req)
	self.metrics.exchange(name, start, err)
	return msgs, err
}

func (self *Session) skip(obj rtobj.Object) bool {
	r, ok := obj.(rtobj.Route)
	return ok && self.cfg.SkipClonedRoutes && r.Cloned()
}

// fetch dumps one kind. Messages which fail to decode are skipped.
func (self *Session) fetch(ctx context.Context, kind rtobj.Kind) ([]rtobj.Object, error) {
	msgs, err := self.execute(ctx, "dump "+kind.String(), rtobj.DumpRequest(kind, unix.AF_UNSPEC))
	if err != nil {
		return nil, err
	}
	var objs []rtobj.Object
	for _, msg := range msgs {
		if k, ok := rtobj.KindOf(msg.Header.Type); !ok || k != kind {
			self.log.Debug("unexpected message in dump", "kind", kind, "hdr", msg.Header.String())
			continue
		}
		obj, err := rtobj.Decode(msg)
		if err != nil {
			self.metrics.decodeError()
			self.log.Debug("skipping message", "kind", kind, "err", err)
			continue
		}
		if !self.skip(obj) {
			objs = append(objs, obj)
		}
	}
	return objs, nil
}

func (self *Session) refresh(ctx context.Context, kind rtobj.Kind) (Snapshot, []Event, error) {
	r := self.cache.BeginRefresh(kind)
	objs, err := self.fetch(ctx, kind)
	if err != nil {
		r.Abort()
		return Snapshot{}, nil, err
	}
	snap, events := r.Commit(objs)
	self.log.Debug("refreshed", "kind", kind, "objects", len(snap.Objects), "changes", len(events), "generation", snap.Generation)
	return snap, events, nil
}

// Refresh dumps the given kinds, all when none are given, and returns the
// changes applied to the cache. It stops at the first failing dump.
func (self *Session) Refresh(ctx context.Context, kinds ...rtobj.Kind) ([]Event, error) {
	if len(kinds) == 0 {
		kinds = rtobj.Kinds
	}
	var ret []Event
	for _, kind := range kinds {
		_, events, err := self.refresh(ctx, kind)
		if err != nil {
			return ret, err
		}
		ret = append(ret, events...)
	}
	return ret, nil
}

func (self *Session) DumpLinks(ctx context.Context) (Snapshot, error) {
	snap, _, err := self.refresh(ctx, rtobj.KindLink)
	return snap, err
}

func (self *Session) DumpAddresses(ctx context.Context) (Snapshot, error) {
	snap, _, err := self.refresh(ctx, rtobj.KindAddress)
	return snap, err
}

func (self *Session) DumpRoutes(ctx context.Context) (Snapshot, error) {
	snap, _, err := self.refresh(ctx, rtobj.KindRoute)
	return snap, err
}

func (self *Session) DumpNeighbors(ctx context.Context) (Snapshot, error) {
	snap, _, err := self.refresh(ctx, rtobj.KindNeighbor)
	return snap, err
}

// GetLink asks the kernel for one link, by index or, when index is 0, by name.
// The answer is stored in the cache.
func (self *Session) GetLink(ctx context.Context, index int, name string) (rtobj.Link, error) {
	msgs, err := self.execute(ctx, "get link", rtobj.GetLinkRequest(index, name))
	if err != nil {
		return rtobj.Link{}, err
	}
	for _, msg := range msgs {
		if msg.Header.Type != unix.RTM_NEWLINK {
			continue
		}
		link, err := rtobj.DecodeLink(msg.Data)
		if err != nil {
			return rtobj.Link{}, err
		}
		self.cache.ApplyDelta(rtobj.KindLink, link.Key(), link)
		return link, nil
	}
	return rtobj.Link{}, notFound("link %d %q", index, name)
}

// change sends a NEW or DEL request and applies what the kernel echoes back.
func (self *Session) change(ctx context.Context, obj rtobj.Object, del bool) error {
	newType, delType, _ := rtobj.MsgTypes(obj.Kind())
	req := rtnl.Message{
		Header: rtnl.Header{Type: newType, Flags: unix.NLM_F_ACK | unix.NLM_F_ECHO | unix.NLM_F_CREATE | unix.NLM_F_EXCL},
		Data:   obj.Encode(),
	}
	if del {
		req.Header = rtnl.Header{Type: delType, Flags: unix.NLM_F_ACK | unix.NLM_F_ECHO}
	}
	name := "new " + obj.Kind().String()
	if del {
		name = "del " + obj.Kind().String()
	}
	msgs, err := self.execute(ctx, name, req)
	if err != nil {
		return err
	}
	echoed := false
	for _, msg := range msgs {
		echo, err := rtobj.Decode(msg)
		if err != nil {
			self.metrics.decodeError()
			self.log.Debug("skipping echo", "err", err)
			continue
		}
		if echo.Kind() != obj.Kind() {
			continue
		}
		echoed = true
		if rtobj.Action(msg) == rtobj.OpDel {
			self.cache.ApplyDelta(echo.Kind(), echo.Key(), nil)
		} else if !self.skip(echo) {
			self.cache.ApplyDelta(echo.Kind(), echo.Key(), echo)
		}
	}
	if del && !echoed {
		self.cache.ApplyDelta(obj.Kind(), obj.Key(), nil)
	}
	return nil
}

func (self *Session) AddRoute(ctx context.Context, r rtobj.Route) error {
	return self.change(ctx, r, false)
}

func (self *Session) DelRoute(ctx context.Context, r rtobj.Route) error {
	return self.change(ctx, r, true)
}

func (self *Session) AddAddress(ctx context.Context, a rtobj.Address) error {
	return self.change(ctx, a, false)
}

func (self *Session) DelAddress(ctx context.Context, a rtobj.Address) error {
	return self.change(ctx, a, true)
}

// Subscribe opens a listener on its own socket. Without groups, the groups
// of the configuration are joined.
func (self *Session) Subscribe(ctx context.Context, groups ...Group) (*Listener, error) {
	if len(groups) == 0 {
		for _, name := range self.cfg.Groups {
			g, err := ParseGroup(name)
			if err != nil {
				return nil, err
			}
			groups = append(groups, g)
		}
	}
	if self.dial == nil {
		return nil, errors.Wrap(rtnl.NLE_BAD_SOCK, "no dialer")
	}

	self.lock.Lock()
	defer self.lock.Unlock()
	if self.closed {
		return nil, rtnl.NLE_BAD_SOCK
	}
	sock, err := self.dial()
	if err != nil {
		return nil, err
	}
	tr := rtnl.NewTransport(sock, self.log.With("port", sock.PortID()))
	ids := make([]uint32, len(groups))
	for i, g := range groups {
		ids[i] = uint32(g)
	}
	if err := tr.Subscribe(ids...); err != nil {
		tr.Close()
		return nil, err
	}
	l := newListener(ctx, self, tr, groups)
	self.listeners = append(self.listeners, l)
	return l, nil
}

func (self *Session) forget(l *Listener) {
	self.lock.Lock()
	defer self.lock.Unlock()
	for i, x := range self.listeners {
		if x == l {
			self.listeners = append(self.listeners[:i], self.listeners[i+1:]...)
			return
		}
	}
}

// Close closes every listener and the transport. A blocked exchange fails
// with NLE_BAD_SOCK.
func (self *Session) Close() error {
	self.lock.Lock()
	if self.closed {
		self.lock.Unlock()
		return nil
	}
	self.closed = true
	listeners := self.listeners
	self.listeners = nil
	self.lock.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	return self.tr.Close()
}
