package rtnl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type FrameKind int

const (
	FrameData FrameKind = iota
	FrameDone
	FrameAck
	FrameError
)

func (self FrameKind) String() string {
	switch self {
	case FrameData:
		return "data"
	case FrameDone:
		return "done"
	case FrameAck:
		return "ack"
	case FrameError:
		return "error"
	}
	return "unknown"
}

// Frame is one received frame. Err is a *ProtocolError for FrameError.
type Frame struct {
	Kind    FrameKind
	Message Message
	Err     error
}

// Transport correlates requests and replies over one Socket.
type Transport struct {
	sock Socket
	log  *slog.Logger

	exchange sync.Mutex // one Execute at a time
	recv     sync.Mutex // guards pending
	pending  []Message

	lock        sync.Mutex
	seqNext     uint32
	outstanding map[uint32]bool
	subscribed  bool
	closed      bool
}

func NewTransport(sock Socket, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default().With("t", "transport")
	}
	return &Transport{
		sock:        sock,
		log:         logger,
		seqNext:     uint32(time.Now().Unix()),
		outstanding: make(map[uint32]bool),
	}
}

func (self *Transport) PortID() uint32 {
	return self.sock.PortID()
}

// Subscribe joins multicast groups. From then on frames which are not
// addressed to this port are delivered as notifications.
func (self *Transport) Subscribe(groups ...uint32) error {
	for _, group := range groups {
		if err := self.sock.JoinGroup(group); err != nil {
			return transportError("subscribe", err)
		}
	}
	self.lock.Lock()
	self.subscribed = true
	self.lock.Unlock()
	return nil
}

// Request completes the header of msg, sends it and returns the sequence number.
func (self *Transport) Request(ctx context.Context, msg Message) (uint32, error) {
	self.lock.Lock()
	if self.closed {
		self.lock.Unlock()
		return 0, transportError("send", NLE_BAD_SOCK)
	}
	seq := self.seqNext
	self.seqNext++
	if self.seqNext == 0 {
		self.seqNext = 1
	}
	self.outstanding[seq] = true
	self.lock.Unlock()

	msg.Header.Seq = seq
	msg.Header.Pid = self.sock.PortID()
	msg.Header.Flags |= unix.NLM_F_REQUEST
	buf, err := msg.MarshalBinary()
	if err == nil {
		err = self.sock.Send(ctx, buf)
		if err != nil {
			err = transportError("send", err)
		}
	}
	if err != nil {
		self.forget(seq)
		return 0, err
	}
	return seq, nil
}

func (self *Transport) forget(seq uint32) {
	self.lock.Lock()
	delete(self.outstanding, seq)
	self.lock.Unlock()
}

// Receive blocks until one acceptable frame arrives. Stale and foreign frames
// are logged and discarded.
func (self *Transport) Receive(ctx context.Context) (Frame, error) {
	self.recv.Lock()
	defer self.recv.Unlock()

	for {
		if len(self.pending) == 0 {
			buf, err := self.sock.Receive(ctx)
			if err != nil {
				return Frame{}, transportError("receive", err)
			}
			msgs, err := ParseMessages(buf)
			if err != nil {
				return Frame{}, errors.Wrap(err, "datagram")
			}
			self.pending = msgs
			continue
		}
		m := self.pending[0]
		self.pending = self.pending[1:]

		if !self.accept(m.Header) {
			self.log.Debug("discard frame", "hdr", m.Header.String(), "port", self.sock.PortID())
			continue
		}
		switch m.Header.Type {
		case unix.NLMSG_NOOP:
			continue
		case unix.NLMSG_OVERRUN:
			return Frame{}, transportError("receive", NLE_MSG_OVERFLOW)
		case unix.NLMSG_ERROR:
			code, request, extMsg, err := parseError(m)
			if err != nil {
				return Frame{}, err
			}
			self.forget(m.Header.Seq)
			if code == 0 {
				return Frame{Kind: FrameAck, Message: m}, nil
			}
			perr := NewProtocolError(code, request)
			perr.Message = extMsg
			return Frame{Kind: FrameError, Message: m, Err: perr}, nil
		case unix.NLMSG_DONE:
			self.forget(m.Header.Seq)
			if code := doneCode(m); code < 0 {
				return Frame{Kind: FrameError, Message: m, Err: NewProtocolError(code, m.Header)}, nil
			}
			return Frame{Kind: FrameDone, Message: m}, nil
		default:
			return Frame{Kind: FrameData, Message: m}, nil
		}
	}
}

// accept tells replies to outstanding requests and, when subscribed,
// notifications apart from stale or foreign frames.
func (self *Transport) accept(hdr Header) bool {
	port := self.sock.PortID()

	self.lock.Lock()
	defer self.lock.Unlock()
	if hdr.Pid == port || hdr.Pid == 0 {
		if self.outstanding[hdr.Seq] {
			return true
		}
		return self.subscribed && hdr.Pid == 0
	}
	return self.subscribed
}

// Execute runs one complete exchange: the request, all its data frames, and
// the terminating DONE or ACK. Nothing is returned from a failed exchange.
func (self *Transport) Execute(ctx context.Context, msg Message) ([]Message, error) {
	self.exchange.Lock()
	defer self.exchange.Unlock()

	seq, err := self.Request(ctx, msg)
	if err != nil {
		return nil, err
	}
	defer self.forget(seq)

	multi := msg.Header.Flags&unix.NLM_F_DUMP == unix.NLM_F_DUMP
	acked := msg.Header.Flags&unix.NLM_F_ACK != 0
	var ret []Message
	var intr bool
	for {
		frame, err := self.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if frame.Message.Header.Seq != seq {
			self.log.Debug("discard frame", "hdr", frame.Message.Header.String(), "seq", seq)
			continue
		}
		switch frame.Kind {
		case FrameError:
			return nil, frame.Err
		case FrameAck:
			return ret, nil
		case FrameDone:
			if intr {
				return nil, errors.Wrapf(NLE_DUMP_INTR, "seq %d", seq)
			}
			return ret, nil
		case FrameData:
			ret = append(ret, frame.Message)
			if frame.Message.Header.Flags&unix.NLM_F_DUMP_INTR != 0 {
				intr = true
			}
			if !multi && !acked && frame.Message.Header.Flags&unix.NLM_F_MULTI == 0 {
				return ret, nil
			}
		}
	}
}

// Close releases the socket. A blocked Receive fails with NLE_BAD_SOCK.
func (self *Transport) Close() error {
	self.lock.Lock()
	if self.closed {
		self.lock.Unlock()
		return nil
	}
	self.closed = true
	self.lock.Unlock()
	return self.sock.Close()
}
