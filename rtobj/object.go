// Package rtobj holds the typed routing objects carried by RTM_* messages.
//
// Object is a closed union over Link, Address, Route and Neighbor. Objects are
// plain values; consumers switch on the concrete type or on Kind().
package rtobj

import (
	"net/netip"

	"github.com/hkwi/rtnl"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type Kind int

const (
	KindLink Kind = iota + 1
	KindAddress
	KindRoute
	KindNeighbor
)

var Kinds = []Kind{KindLink, KindAddress, KindRoute, KindNeighbor}

func (self Kind) String() string {
	switch self {
	case KindLink:
		return "link"
	case KindAddress:
		return "address"
	case KindRoute:
		return "route"
	case KindNeighbor:
		return "neighbor"
	}
	return "unknown"
}

// Key is the identity of an object within its kind.
type Key interface {
	Kind() Kind
}

type Object interface {
	Kind() Kind
	Key() Key
	// Encode returns the message payload: fixed header and attributes.
	Encode() []byte
	routingObject()
}

type Op int

const (
	OpNew Op = iota
	OpDel
)

// Action tells whether msg announces or withdraws an object.
func Action(msg rtnl.Message) Op {
	switch msg.Header.Type {
	case unix.RTM_DELLINK, unix.RTM_DELADDR, unix.RTM_DELROUTE, unix.RTM_DELNEIGH:
		return OpDel
	}
	return OpNew
}

// KindOf maps a RTM_* message type to the kind of object it carries.
func KindOf(msgType uint16) (Kind, bool) {
	switch msgType {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK, unix.RTM_GETLINK:
		return KindLink, true
	case unix.RTM_NEWADDR, unix.RTM_DELADDR, unix.RTM_GETADDR:
		return KindAddress, true
	case unix.RTM_NEWROUTE, unix.RTM_DELROUTE, unix.RTM_GETROUTE:
		return KindRoute, true
	case unix.RTM_NEWNEIGH, unix.RTM_DELNEIGH, unix.RTM_GETNEIGH:
		return KindNeighbor, true
	}
	return 0, false
}

// MsgTypes returns the new, del and get message types of kind.
func MsgTypes(kind Kind) (newType, delType, getType uint16) {
	switch kind {
	case KindLink:
		return unix.RTM_NEWLINK, unix.RTM_DELLINK, unix.RTM_GETLINK
	case KindAddress:
		return unix.RTM_NEWADDR, unix.RTM_DELADDR, unix.RTM_GETADDR
	case KindRoute:
		return unix.RTM_NEWROUTE, unix.RTM_DELROUTE, unix.RTM_GETROUTE
	case KindNeighbor:
		return unix.RTM_NEWNEIGH, unix.RTM_DELNEIGH, unix.RTM_GETNEIGH
	}
	panic(errors.Wrapf(rtnl.NLE_NOCACHE, "kind %d", kind))
}

// Decode builds the object carried by a RTM_{NEW,DEL}{LINK,ADDR,ROUTE,NEIGH} message.
func Decode(msg rtnl.Message) (Object, error) {
	kind, ok := KindOf(msg.Header.Type)
	if !ok {
		return nil, errors.Wrapf(rtnl.NLE_MSGTYPE_NOSUPPORT, "message type %d", msg.Header.Type)
	}
	var obj Object
	var err error
	switch kind {
	case KindLink:
		obj, err = DecodeLink(msg.Data)
	case KindAddress:
		obj, err = DecodeAddress(msg.Data)
	case KindRoute:
		obj, err = DecodeRoute(msg.Data)
	case KindNeighbor:
		obj, err = DecodeNeighbor(msg.Data)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s seq %d", kind, msg.Header.Seq)
	}
	return obj, nil
}

// DumpRequest builds the RTM_GET* dump request for kind. family 0 dumps all families.
func DumpRequest(kind Kind, family uint8) rtnl.Message {
	_, _, getType := MsgTypes(kind)
	var data []byte
	switch kind {
	case KindLink:
		data = rtnl.IfInfomsg{Family: family}.Bytes()
	case KindAddress:
		data = rtnl.IfAddrmsg{Family: family}.Bytes()
	case KindRoute:
		data = rtnl.RtMsg{Family: family}.Bytes()
	case KindNeighbor:
		data = rtnl.Ndmsg{Family: family}.Bytes()
	}
	return rtnl.Message{
		Header: rtnl.Header{Type: getType, Flags: unix.NLM_F_DUMP},
		Data:   data,
	}
}

func payload(hdr []byte, attrs rtnl.AttrList) []byte {
	buf := make([]byte, rtnl.NLMSG_ALIGN(len(hdr)), rtnl.NLMSG_ALIGN(len(hdr))+attrs.Len())
	copy(buf, hdr)
	return append(buf, attrs.Bytes()...)
}

func parseAttrs(policy rtnl.MapPolicy, data []byte, hdrlen int) (rtnl.AttrList, error) {
	offset := rtnl.NLMSG_ALIGN(hdrlen)
	if len(data) <= offset {
		return nil, nil
	}
	return policy.Parse(data[offset:])
}

func addrFrom(attr rtnl.Attr) (netip.Addr, error) {
	addr, ok := netip.AddrFromSlice(attr.Value)
	if !ok {
		return netip.Addr{}, errors.Wrapf(rtnl.NLE_MALFORMED_ATTR, "address attribute %d of %d bytes", attr.Field(), len(attr.Value))
	}
	return addr, nil
}

func unspecified(family uint8) (netip.Addr, error) {
	switch family {
	case unix.AF_INET:
		return netip.IPv4Unspecified(), nil
	case unix.AF_INET6:
		return netip.IPv6Unspecified(), nil
	}
	return netip.Addr{}, errors.Wrapf(rtnl.NLE_AF_NOSUPPORT, "family %d", family)
}

func missing(name string) error {
	return errors.Wrap(rtnl.NLE_MISSING_ATTR, name)
}
