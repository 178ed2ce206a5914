// Package nltest provides an in-memory rtnl.Socket driven by a script, for
// testing code which talks to the kernel.
package nltest

import (
	"context"
	"net"
	"sync"

	"github.com/hkwi/rtnl"
	"github.com/josharian/native"
	"golang.org/x/sys/unix"
)

// Handler answers one request with zero or more datagrams.
type Handler func(req rtnl.Message) [][]rtnl.Message

type datagram struct {
	b   []byte
	err error
}

// Socket is a fake netlink socket. Replies produced by Handler and frames
// passed to Inject are received in order.
type Socket struct {
	Handler Handler

	port   uint32
	queue  chan datagram
	closed chan struct{}
	once   sync.Once

	lock   sync.Mutex
	sent   []rtnl.Message
	groups map[uint32]bool
}

func NewSocket(port uint32, handler Handler) *Socket {
	return &Socket{
		Handler: handler,
		port:    port,
		queue:   make(chan datagram, 1024),
		closed:  make(chan struct{}),
		groups:  make(map[uint32]bool),
	}
}

func (self *Socket) PortID() uint32 {
	return self.port
}

func (self *Socket) Send(ctx context.Context, b []byte) error {
	select {
	case <-self.closed:
		return net.ErrClosed
	default:
	}
	msgs, err := rtnl.ParseMessages(b)
	if err != nil {
		return err
	}
	self.lock.Lock()
	self.sent = append(self.sent, msgs...)
	handler := self.Handler
	self.lock.Unlock()

	if handler == nil {
		return nil
	}
	for _, req := range msgs {
		for _, dgram := range handler(req) {
			self.Inject(dgram...)
		}
	}
	return nil
}

func (self *Socket) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-self.closed:
		return nil, net.ErrClosed
	default:
	}
	select {
	case d := <-self.queue:
		return d.b, d.err
	case <-self.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (self *Socket) JoinGroup(group uint32) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.groups[group] = true
	return nil
}

func (self *Socket) LeaveGroup(group uint32) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	delete(self.groups, group)
	return nil
}

func (self *Socket) Joined(group uint32) bool {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.groups[group]
}

func (self *Socket) Close() error {
	self.once.Do(func() { close(self.closed) })
	return nil
}

// Sent returns the requests seen so far.
func (self *Socket) Sent() []rtnl.Message {
	self.lock.Lock()
	defer self.lock.Unlock()
	return append([]rtnl.Message{}, self.sent...)
}

// Inject queues frames as a single datagram.
func (self *Socket) Inject(msgs ...rtnl.Message) {
	var b []byte
	for _, m := range msgs {
		buf, err := m.MarshalBinary()
		if err != nil {
			panic(err)
		}
		b = append(b, buf...)
	}
	self.InjectRaw(b)
}

func (self *Socket) InjectRaw(b []byte) {
	self.queue <- datagram{b: b}
}

// InjectError makes one Receive fail with err, ENOBUFS for an overrun.
func (self *Socket) InjectError(err error) {
	self.queue <- datagram{err: err}
}

// Reply builds a frame answering req.
func Reply(req rtnl.Message, typ uint16, flags uint16, data []byte) rtnl.Message {
	return rtnl.Message{
		Header: rtnl.Header{
			Type:  typ,
			Flags: flags,
			Seq:   req.Header.Seq,
			Pid:   req.Header.Pid,
		},
		Data: data,
	}
}

// Multi builds one part of a multipart reply.
func Multi(req rtnl.Message, typ uint16, data []byte) rtnl.Message {
	return Reply(req, typ, unix.NLM_F_MULTI, data)
}

func Done(req rtnl.Message) rtnl.Message {
	return Reply(req, unix.NLMSG_DONE, unix.NLM_F_MULTI, make([]byte, 4))
}

// Error builds a NLMSG_ERROR frame; errno 0 is an ack.
func Error(req rtnl.Message, errno unix.Errno) rtnl.Message {
	hdr, err := rtnl.Message{Header: req.Header}.MarshalBinary()
	if err != nil {
		panic(err)
	}
	data := make([]byte, 4, 4+len(hdr))
	native.Endian.PutUint32(data, uint32(-int32(errno)))
	data = append(data, hdr[:unix.NLMSG_HDRLEN]...)
	return Reply(req, unix.NLMSG_ERROR, 0, data)
}

// ExtError is Error with an extended ack message, as sent with NETLINK_CAP_ACK.
func ExtError(req rtnl.Message, errno unix.Errno, text string) rtnl.Message {
	m := Error(req, errno)
	m.Header.Flags |= unix.NLM_F_CAPPED | unix.NLM_F_ACK_TLVS
	m.Data = append(m.Data, rtnl.AttrList{rtnl.StringAttr(unix.NLMSGERR_ATTR_MSG, text)}.Bytes()...)
	return m
}

func Ack(req rtnl.Message) rtnl.Message {
	return Error(req, 0)
}

// Notify builds a kernel originated notification frame.
func Notify(typ uint16, data []byte) rtnl.Message {
	return rtnl.Message{
		Header: rtnl.Header{Type: typ},
		Data:   data,
	}
}
