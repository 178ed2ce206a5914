package rtnl

import (
	"fmt"

	"github.com/josharian/native"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Header is struct nlmsghdr.
type Header struct {
	Len   uint32
	Type  uint16
	Flags uint16
	Seq   uint32
	Pid   uint32
}

func (self Header) String() string {
	return fmt.Sprintf("len=%d type=%d flags=%#x seq=%d pid=%d", self.Len, self.Type, self.Flags, self.Seq, self.Pid)
}

func (self Header) put(b []byte) {
	native.Endian.PutUint32(b[0:4], self.Len)
	native.Endian.PutUint16(b[4:6], self.Type)
	native.Endian.PutUint16(b[6:8], self.Flags)
	native.Endian.PutUint32(b[8:12], self.Seq)
	native.Endian.PutUint32(b[12:16], self.Pid)
}

func parseHeader(b []byte) Header {
	return Header{
		Len:   native.Endian.Uint32(b[0:4]),
		Type:  native.Endian.Uint16(b[4:6]),
		Flags: native.Endian.Uint16(b[6:8]),
		Seq:   native.Endian.Uint32(b[8:12]),
		Pid:   native.Endian.Uint32(b[12:16]),
	}
}

// Message is a single netlink frame. Data is the payload without padding.
type Message struct {
	Header Header
	Data   []byte
}

// MarshalBinary encodes the frame. The length field is always recomputed.
func (self Message) MarshalBinary() ([]byte, error) {
	length := unix.NLMSG_HDRLEN + len(self.Data)
	if uint64(length) > uint64(^uint32(0)) {
		return nil, errors.Errorf("message length %d overflows", length)
	}
	buf := make([]byte, NLMSG_ALIGN(length))
	hdr := self.Header
	hdr.Len = uint32(length)
	hdr.put(buf)
	copy(buf[unix.NLMSG_HDRLEN:], self.Data)
	return buf, nil
}

// ParseMessages splits a datagram into frames.
func ParseMessages(buf []byte) ([]Message, error) {
	var ret []Message
	for len(buf) >= unix.NLMSG_HDRLEN {
		hdr := parseHeader(buf)
		if int(hdr.Len) < unix.NLMSG_HDRLEN || int(hdr.Len) > len(buf) {
			return nil, errors.Wrapf(NLE_MSG_TRUNC, "frame declares length %d with %d bytes left", hdr.Len, len(buf))
		}
		data := make([]byte, int(hdr.Len)-unix.NLMSG_HDRLEN)
		copy(data, buf[unix.NLMSG_HDRLEN:hdr.Len])
		ret = append(ret, Message{Header: hdr, Data: data})
		if next := NLMSG_ALIGN(int(hdr.Len)); next < len(buf) {
			buf = buf[next:]
		} else {
			buf = nil
		}
	}
	if len(buf) != 0 {
		return nil, errors.Wrapf(NLE_MSG_TRUNC, "%d trailing bytes", len(buf))
	}
	return ret, nil
}

// nlmsgerr
const sizeofNlMsgerr = 4 + unix.NLMSG_HDRLEN

// parseError decodes a NLMSG_ERROR payload. A zero code is an ack.
func parseError(m Message) (code int32, request Header, extMsg string, err error) {
	if len(m.Data) < sizeofNlMsgerr {
		err = errors.Wrapf(NLE_MSG_TOOSHORT, "nlmsgerr of %d bytes", len(m.Data))
		return
	}
	code = int32(native.Endian.Uint32(m.Data[0:4]))
	request = parseHeader(m.Data[4:])

	if m.Header.Flags&unix.NLM_F_ACK_TLVS == 0 {
		return
	}
	// With NLM_F_CAPPED only the request header is echoed, otherwise the whole request.
	offset := sizeofNlMsgerr
	if m.Header.Flags&unix.NLM_F_CAPPED == 0 {
		offset = 4 + NLMSG_ALIGN(int(request.Len))
	}
	if offset > len(m.Data) {
		return
	}
	if tlvs, perr := extAckPolicy.Parse(m.Data[offset:]); perr == nil {
		if a, ok := tlvs.Get(unix.NLMSGERR_ATTR_MSG); ok {
			extMsg = a.Text()
		}
	}
	return
}

var extAckPolicy = MapPolicy{
	Prefix: "NLMSGERR_ATTR",
	Names: map[uint16]string{
		unix.NLMSGERR_ATTR_MSG:  "MSG",
		unix.NLMSGERR_ATTR_OFFS: "OFFS",
	},
	Rule: map[uint16]Policy{
		unix.NLMSGERR_ATTR_MSG:  NLA_NUL_STRING,
		unix.NLMSGERR_ATTR_OFFS: NLA_U32,
	},
}

// doneCode reads the int32 a NLMSG_DONE frame may carry.
func doneCode(m Message) int32 {
	if len(m.Data) < 4 {
		return 0
	}
	return int32(native.Endian.Uint32(m.Data[0:4]))
}
