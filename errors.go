package rtnl

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// error.h

type NlError int

const (
	NLE_SUCCESS NlError = iota
	NLE_FAILURE
	NLE_INTR
	NLE_BAD_SOCK
	NLE_AGAIN
	NLE_NOMEM
	NLE_EXIST
	NLE_INVAL
	NLE_RANGE
	NLE_MSGSIZE
	NLE_OPNOTSUPP
	NLE_AF_NOSUPPORT
	NLE_OBJ_NOTFOUND
	NLE_NOATTR
	NLE_MISSING_ATTR
	NLE_AF_MISMATCH
	NLE_SEQ_MISMATCH
	NLE_MSG_OVERFLOW
	NLE_MSG_TRUNC
	NLE_NOADDR
	NLE_SRCRT_NOSUPPORT
	NLE_MSG_TOOSHORT
	NLE_MSGTYPE_NOSUPPORT
	NLE_OBJ_MISMATCH
	NLE_NOCACHE
	NLE_BUSY
	NLE_PROTO_MISMATCH
	NLE_NOACCESS
	NLE_PERM
	NLE_PKTLOC_FILE
	NLE_PARSE_ERR
	NLE_NODEV
	NLE_IMMUTABLE
	NLE_DUMP_INTR

	// not in libnl
	NLE_NOBUFS
	NLE_TIMEOUT
	NLE_MALFORMED_ATTR
)

func (self NlError) Error() string {
	switch self {
	default:
		return "Unspecific failure"
	case NLE_SUCCESS:
		return "Success"
	case NLE_INTR:
		return "Interrupted system call"
	case NLE_BAD_SOCK:
		return "Bad socket"
	case NLE_AGAIN:
		return "Try again"
	case NLE_NOMEM:
		return "Out of memory"
	case NLE_EXIST:
		return "Object exists"
	case NLE_INVAL:
		return "Invalid input data or parameter"
	case NLE_RANGE:
		return "Input data out of range"
	case NLE_MSGSIZE:
		return "Message size not sufficient"
	case NLE_OPNOTSUPP:
		return "Operation not supported"
	case NLE_AF_NOSUPPORT:
		return "Address family not supported"
	case NLE_OBJ_NOTFOUND:
		return "Object not found"
	case NLE_NOATTR:
		return "Attribute not available"
	case NLE_MISSING_ATTR:
		return "Missing attribute"
	case NLE_AF_MISMATCH:
		return "Address family mismatch"
	case NLE_SEQ_MISMATCH:
		return "Message sequence number mismatch"
	case NLE_MSG_OVERFLOW:
		return "Kernel reported message overflow"
	case NLE_MSG_TRUNC:
		return "Kernel reported truncated message"
	case NLE_NOADDR:
		return "Invalid address for specified address family"
	case NLE_MSG_TOOSHORT:
		return "Netlink message is too short"
	case NLE_MSGTYPE_NOSUPPORT:
		return "Netlink message type is not supported"
	case NLE_OBJ_MISMATCH:
		return "Object type does not match cache"
	case NLE_NOCACHE:
		return "Unknown or invalid cache type"
	case NLE_BUSY:
		return "Object busy"
	case NLE_PROTO_MISMATCH:
		return "Protocol mismatch"
	case NLE_NOACCESS:
		return "No Access"
	case NLE_PERM:
		return "Operation not permitted"
	case NLE_PARSE_ERR:
		return "Unable to parse object"
	case NLE_NODEV:
		return "No such device"
	case NLE_IMMUTABLE:
		return "Immutable attribute"
	case NLE_DUMP_INTR:
		return "Dump inconsistency detected, interrupted"
	case NLE_NOBUFS:
		return "No buffer space available"
	case NLE_TIMEOUT:
		return "Timed out"
	case NLE_MALFORMED_ATTR:
		return "Malformed attribute"
	}
}

// nl_syserr2nlerr, folded to the kinds callers act on.
var errnoKind = map[unix.Errno]NlError{
	unix.ENOENT:          NLE_OBJ_NOTFOUND,
	unix.ESRCH:           NLE_OBJ_NOTFOUND,
	unix.ENODEV:          NLE_OBJ_NOTFOUND,
	unix.EADDRNOTAVAIL:   NLE_OBJ_NOTFOUND,
	unix.EEXIST:          NLE_EXIST,
	unix.EADDRINUSE:      NLE_EXIST,
	unix.EBUSY:           NLE_BUSY,
	unix.EAGAIN:          NLE_BUSY,
	unix.EPERM:           NLE_PERM,
	unix.EACCES:          NLE_PERM,
	unix.EINVAL:          NLE_INVAL,
	unix.ERANGE:          NLE_INVAL,
	unix.EFAULT:          NLE_INVAL,
	unix.ENOPROTOOPT:     NLE_INVAL,
	unix.ENETUNREACH:     NLE_INVAL,
	unix.ENOBUFS:         NLE_NOBUFS,
	unix.ENOMEM:          NLE_NOBUFS,
	unix.EOPNOTSUPP:      NLE_OPNOTSUPP,
	unix.EAFNOSUPPORT:    NLE_OPNOTSUPP,
	unix.EPROTONOSUPPORT: NLE_OPNOTSUPP,
}

// ErrnoKind maps a kernel errno to one of NLE_OBJ_NOTFOUND, NLE_EXIST, NLE_BUSY,
// NLE_PERM, NLE_INVAL, NLE_NOBUFS, NLE_OPNOTSUPP or NLE_FAILURE.
func ErrnoKind(errno unix.Errno) NlError {
	if kind, ok := errnoKind[errno]; ok {
		return kind
	}
	return NLE_FAILURE
}

// ProtocolError is a NLMSG_ERROR reply with a non-zero code.
type ProtocolError struct {
	Code    int32
	Err     NlError
	Request Header
	Message string // extended ack, if the kernel sent one
}

func NewProtocolError(code int32, request Header) *ProtocolError {
	errno := unix.Errno(-code)
	if code > 0 {
		errno = unix.Errno(code)
	}
	return &ProtocolError{
		Code:    code,
		Err:     ErrnoKind(errno),
		Request: request,
	}
}

func (self *ProtocolError) Errno() unix.Errno {
	if self.Code < 0 {
		return unix.Errno(-self.Code)
	}
	return unix.Errno(self.Code)
}

func (self *ProtocolError) Error() string {
	msg := fmt.Sprintf("netlink error %d (%s) for request type %d seq %d", self.Code, self.Errno(), self.Request.Type, self.Request.Seq)
	if self.Message != "" {
		msg += ": " + self.Message
	}
	return msg
}

func (self *ProtocolError) Unwrap() error {
	return self.Err
}

// TransportError is a socket level failure.
type TransportError struct {
	Op  string
	Err error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("netlink %s: %v", self.Op, self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

// transportError folds close, deadline and overrun conditions into NlError kinds.
func transportError(op string, err error) error {
	switch {
	case errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed), errors.Is(err, unix.EBADF):
		err = NLE_BAD_SOCK
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		err = NLE_TIMEOUT
	case errors.Is(err, unix.ENOBUFS):
		err = NLE_MSG_OVERFLOW
	}
	return &TransportError{Op: op, Err: err}
}

// IsDecodeError reports whether err spoils a single message only.
func IsDecodeError(err error) bool {
	return errors.Is(err, NLE_MALFORMED_ATTR) ||
		errors.Is(err, NLE_MISSING_ATTR) ||
		errors.Is(err, NLE_MSG_TOOSHORT) ||
		errors.Is(err, NLE_AF_NOSUPPORT)
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
