package rtnl

import (
	"context"
	"os"

	"github.com/mdlayher/socket"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// socket.c

// Socket is a datagram endpoint which speaks netlink. NlSock is the kernel one.
type Socket interface {
	Send(ctx context.Context, b []byte) error
	Receive(ctx context.Context) ([]byte, error)
	JoinGroup(group uint32) error
	LeaveGroup(group uint32) error
	PortID() uint32
	Close() error
}

type SockConfig struct {
	RecvBuffer int // SO_RCVBUF, kernel default when 0
	SendBuffer int // SO_SNDBUF, kernel default when 0
	Groups     []uint32
}

type NlSock struct {
	conn  *socket.Conn
	Local unix.SockaddrNetlink
	Peer  unix.SockaddrNetlink
}

// NlConnect opens a NETLINK_ROUTE socket. The kernel assigns the port id.
func NlConnect(cfg SockConfig) (*NlSock, error) {
	conn, err := socket.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE, "netlink", &socket.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}
	sk := &NlSock{
		conn:  conn,
		Local: unix.SockaddrNetlink{Family: unix.AF_NETLINK},
		Peer:  unix.SockaddrNetlink{Family: unix.AF_NETLINK},
	}
	if err := sk.init(cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return sk, nil
}

func (self *NlSock) init(cfg SockConfig) error {
	if cfg.RecvBuffer > 0 || cfg.SendBuffer > 0 {
		if err := self.SetBufferSize(cfg.RecvBuffer, cfg.SendBuffer); err != nil {
			return err
		}
	}
	if err := self.conn.Bind(&self.Local); err != nil {
		return errors.Wrap(err, "bind")
	}
	if sa, err := self.conn.Getsockname(); err != nil {
		return errors.Wrap(err, "getsockname")
	} else if local, ok := sa.(*unix.SockaddrNetlink); ok {
		self.Local = *local
	} else {
		return errors.Wrapf(NLE_BAD_SOCK, "unexpected local address %T", sa)
	}
	// Older kernels lack these; replies then simply carry less detail.
	_ = self.conn.SetsockoptInt(SOL_NETLINK, unix.NETLINK_EXT_ACK, 1)
	_ = self.conn.SetsockoptInt(SOL_NETLINK, unix.NETLINK_CAP_ACK, 1)

	for _, group := range cfg.Groups {
		if err := self.JoinGroup(group); err != nil {
			return err
		}
	}
	return nil
}

func (self *NlSock) SetBufferSize(rxbuf, txbuf int) error {
	if rxbuf <= 0 {
		rxbuf = 32768
	}
	if txbuf <= 0 {
		txbuf = 32768
	}
	if err := self.conn.SetsockoptInt(unix.SOL_SOCKET, unix.SO_SNDBUF, txbuf); err != nil {
		return errors.Wrap(err, "SO_SNDBUF")
	}
	if err := self.conn.SetsockoptInt(unix.SOL_SOCKET, unix.SO_RCVBUF, rxbuf); err != nil {
		return errors.Wrap(err, "SO_RCVBUF")
	}
	return nil
}

func (self *NlSock) PortID() uint32 {
	return self.Local.Pid
}

func (self *NlSock) Send(ctx context.Context, b []byte) error {
	_, err := self.conn.Sendmsg(ctx, b, nil, &self.Peer, 0)
	return err
}

// Receive returns one datagram, which may hold several frames.
func (self *NlSock) Receive(ctx context.Context) ([]byte, error) {
	b := make([]byte, os.Getpagesize())
	for {
		n, _, _, _, err := self.conn.Recvmsg(ctx, b, nil, unix.MSG_PEEK|unix.MSG_TRUNC)
		if err != nil {
			return nil, err
		}
		if n <= len(b) {
			break
		}
		b = make([]byte, NLMSG_ALIGN(n))
	}
	n, _, _, _, err := self.conn.Recvmsg(ctx, b, nil, 0)
	if err != nil {
		return nil, err
	}
	return b[:n], nil
}

func (self *NlSock) JoinGroup(group uint32) error {
	return errors.Wrapf(self.conn.SetsockoptInt(SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(group)), "join group %d", group)
}

func (self *NlSock) LeaveGroup(group uint32) error {
	return errors.Wrapf(self.conn.SetsockoptInt(SOL_NETLINK, unix.NETLINK_DROP_MEMBERSHIP, int(group)), "leave group %d", group)
}

// Close unblocks pending Send and Receive calls.
func (self *NlSock) Close() error {
	return self.conn.Close()
}
