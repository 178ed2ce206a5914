package rtnl

import (
	"github.com/josharian/native"
	"github.com/pkg/errors"
)

// Fixed family headers which precede the attributes of RTM_* messages.

const SOL_NETLINK = 0x10e // 270

// IfInfomsg is struct ifinfomsg.
type IfInfomsg struct {
	Family uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

const SizeofIfInfomsg = 16

func (self IfInfomsg) Bytes() []byte {
	b := make([]byte, SizeofIfInfomsg)
	b[0] = self.Family
	native.Endian.PutUint16(b[2:4], self.Type)
	native.Endian.PutUint32(b[4:8], uint32(self.Index))
	native.Endian.PutUint32(b[8:12], self.Flags)
	native.Endian.PutUint32(b[12:16], self.Change)
	return b
}

func ParseIfInfomsg(b []byte) (IfInfomsg, error) {
	if len(b) < SizeofIfInfomsg {
		return IfInfomsg{}, tooShort("ifinfomsg", len(b))
	}
	return IfInfomsg{
		Family: b[0],
		Type:   native.Endian.Uint16(b[2:4]),
		Index:  int32(native.Endian.Uint32(b[4:8])),
		Flags:  native.Endian.Uint32(b[8:12]),
		Change: native.Endian.Uint32(b[12:16]),
	}, nil
}

// IfAddrmsg is struct ifaddrmsg.
type IfAddrmsg struct {
	Family    uint8
	Prefixlen uint8
	Flags     uint8
	Scope     uint8
	Index     uint32
}

const SizeofIfAddrmsg = 8

func (self IfAddrmsg) Bytes() []byte {
	b := make([]byte, SizeofIfAddrmsg)
	b[0] = self.Family
	b[1] = self.Prefixlen
	b[2] = self.Flags
	b[3] = self.Scope
	native.Endian.PutUint32(b[4:8], self.Index)
	return b
}

func ParseIfAddrmsg(b []byte) (IfAddrmsg, error) {
	if len(b) < SizeofIfAddrmsg {
		return IfAddrmsg{}, tooShort("ifaddrmsg", len(b))
	}
	return IfAddrmsg{
		Family:    b[0],
		Prefixlen: b[1],
		Flags:     b[2],
		Scope:     b[3],
		Index:     native.Endian.Uint32(b[4:8]),
	}, nil
}

// RtMsg is struct rtmsg.
type RtMsg struct {
	Family   uint8
	DstLen   uint8
	SrcLen   uint8
	Tos      uint8
	Table    uint8
	Protocol uint8
	Scope    uint8
	Type     uint8
	Flags    uint32
}

const SizeofRtMsg = 12

func (self RtMsg) Bytes() []byte {
	b := make([]byte, SizeofRtMsg)
	b[0] = self.Family
	b[1] = self.DstLen
	b[2] = self.SrcLen
	b[3] = self.Tos
	b[4] = self.Table
	b[5] = self.Protocol
	b[6] = self.Scope
	b[7] = self.Type
	native.Endian.PutUint32(b[8:12], self.Flags)
	return b
}

func ParseRtMsg(b []byte) (RtMsg, error) {
	if len(b) < SizeofRtMsg {
		return RtMsg{}, tooShort("rtmsg", len(b))
	}
	return RtMsg{
		Family:   b[0],
		DstLen:   b[1],
		SrcLen:   b[2],
		Tos:      b[3],
		Table:    b[4],
		Protocol: b[5],
		Scope:    b[6],
		Type:     b[7],
		Flags:    native.Endian.Uint32(b[8:12]),
	}, nil
}

// Ndmsg is struct ndmsg.
type Ndmsg struct {
	Family  uint8
	Ifindex uint32
	State   uint16
	Flags   uint8
	Type    uint8
}

const SizeofNdmsg = 12

func (self Ndmsg) Bytes() []byte {
	b := make([]byte, SizeofNdmsg)
	b[0] = self.Family
	native.Endian.PutUint32(b[4:8], self.Ifindex)
	native.Endian.PutUint16(b[8:10], self.State)
	b[10] = self.Flags
	b[11] = self.Type
	return b
}

func ParseNdmsg(b []byte) (Ndmsg, error) {
	if len(b) < SizeofNdmsg {
		return Ndmsg{}, tooShort("ndmsg", len(b))
	}
	return Ndmsg{
		Family:  b[0],
		Ifindex: native.Endian.Uint32(b[4:8]),
		State:   native.Endian.Uint16(b[8:10]),
		Flags:   b[10],
		Type:    b[11],
	}, nil
}

func tooShort(what string, n int) error {
	return errors.Wrapf(NLE_MSG_TOOSHORT, "%s of %d bytes", what, n)
}
