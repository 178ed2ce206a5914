package rtobj

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/hkwi/rtnl"
	"github.com/josharian/native"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type RouteKey struct {
	Family   uint8
	Dst      netip.Prefix
	Table    uint32
	Priority uint32
}

func (RouteKey) Kind() Kind { return KindRoute }

// NextHop is one path of a multipath route.
type NextHop struct {
	Index   int
	Gateway netip.Addr
	Hops    uint8 // weight - 1
	Flags   uint8 // RTNH_F_*
}

type Route struct {
	Family    uint8
	Dst       netip.Prefix
	Src       netip.Prefix
	Gateway   netip.Addr
	PrefSrc   netip.Addr
	OutIndex  int
	InIndex   int
	Table     uint32
	Priority  uint32 // metric
	Protocol  uint8  // RTPROT_*
	Scope     uint8  // RT_SCOPE_*
	Type      uint8  // RTN_*
	Tos       uint8
	Flags     uint32 // RTM_F_*
	MTU       uint32 // RTAX_MTU
	Multipath []NextHop
	Unknown   rtnl.AttrList
}

func (Route) routingObject() {}

func (Route) Kind() Kind { return KindRoute }

func (self Route) Key() Key {
	return RouteKey{
		Family:   self.Family,
		Dst:      self.Dst,
		Table:    self.Table,
		Priority: self.Priority,
	}
}

// Cloned reports a cache entry created by the kernel, such as a PMTU exception.
func (self Route) Cloned() bool {
	return self.Flags&unix.RTM_F_CLONED != 0
}

// Via reports whether the route leaves through link index.
func (self Route) Via(index int) bool {
	if self.OutIndex == index {
		return true
	}
	for _, nh := range self.Multipath {
		if nh.Index == index {
			return true
		}
	}
	return false
}

func (self Route) String() string {
	var b strings.Builder
	fmt.Fprint(&b, self.Dst)
	if self.Gateway.IsValid() {
		fmt.Fprintf(&b, " via %s", self.Gateway)
	}
	if self.OutIndex != 0 {
		fmt.Fprintf(&b, " dev %d", self.OutIndex)
	}
	for _, nh := range self.Multipath {
		fmt.Fprintf(&b, " nexthop via %s dev %d weight %d", nh.Gateway, nh.Index, int(nh.Hops)+1)
	}
	fmt.Fprintf(&b, " table %s", TableName(self.Table))
	if self.Priority != 0 {
		fmt.Fprintf(&b, " metric %d", self.Priority)
	}
	if self.PrefSrc.IsValid() {
		fmt.Fprintf(&b, " src %s", self.PrefSrc)
	}
	return b.String()
}

func DecodeRoute(data []byte) (Route, error) {
	hdr, err := rtnl.ParseRtMsg(data)
	if err != nil {
		return Route{}, err
	}
	attrs, err := parseAttrs(rtnl.RoutePolicy, data, rtnl.SizeofRtMsg)
	if err != nil {
		return Route{}, err
	}
	route := Route{
		Family:   hdr.Family,
		Table:    uint32(hdr.Table),
		Protocol: hdr.Protocol,
		Scope:    hdr.Scope,
		Type:     hdr.Type,
		Tos:      hdr.Tos,
		Flags:    hdr.Flags,
	}
	var dst, src netip.Addr
	for _, attr := range attrs {
		var err error
		switch attr.Field() {
		case rtnl.RTA_DST:
			dst, err = addrFrom(attr)
		case rtnl.RTA_SRC:
			src, err = addrFrom(attr)
		case rtnl.RTA_GATEWAY:
			route.Gateway, err = addrFrom(attr)
		case rtnl.RTA_PREFSRC:
			route.PrefSrc, err = addrFrom(attr)
		case rtnl.RTA_OIF:
			route.OutIndex = int(attr.Int32())
		case rtnl.RTA_IIF:
			route.InIndex = int(attr.Int32())
		case rtnl.RTA_TABLE:
			route.Table = attr.Uint32()
		case rtnl.RTA_PRIORITY:
			route.Priority = attr.Uint32()
		case rtnl.RTA_METRICS:
			if mtu, ok := attr.Nested.Get(rtnl.RTAX_MTU); ok {
				route.MTU = mtu.Uint32()
			}
		case rtnl.RTA_MULTIPATH:
			route.Multipath, err = decodeNextHops(attr.Value)
		default:
			route.Unknown = append(route.Unknown, attr)
		}
		if err != nil {
			return Route{}, err
		}
	}
	if !dst.IsValid() {
		if dst, err = unspecified(hdr.Family); err != nil {
			return Route{}, err
		}
	}
	if route.Dst, err = prefix(dst, hdr.DstLen); err != nil {
		return Route{}, err
	}
	if src.IsValid() {
		if route.Src, err = prefix(src, hdr.SrcLen); err != nil {
			return Route{}, err
		}
	}
	return route, nil
}

func prefix(addr netip.Addr, bits uint8) (netip.Prefix, error) {
	p := netip.PrefixFrom(addr, int(bits))
	if !p.IsValid() {
		return netip.Prefix{}, errors.Wrapf(rtnl.NLE_MALFORMED_ATTR, "prefix length %d for %s", bits, addr)
	}
	return p, nil
}

// struct rtnexthop
const sizeofRtNexthop = 8

var nextHopPolicy = rtnl.MapPolicy{
	Prefix: "RTA",
	Names:  rtnl.RTA_itoa,
	Rule: map[uint16]rtnl.Policy{
		rtnl.RTA_GATEWAY: rtnl.NLA_BINARY,
	},
}

func decodeNextHops(b []byte) ([]NextHop, error) {
	var ret []NextHop
	for len(b) >= sizeofRtNexthop {
		length := int(native.Endian.Uint16(b[0:2]))
		if length < sizeofRtNexthop || length > len(b) {
			return nil, errors.Wrapf(rtnl.NLE_MALFORMED_ATTR, "rtnexthop declares length %d with %d bytes left", length, len(b))
		}
		nh := NextHop{
			Flags: b[2],
			Hops:  b[3],
			Index: int(int32(native.Endian.Uint32(b[4:8]))),
		}
		attrs, err := nextHopPolicy.Parse(b[sizeofRtNexthop:length])
		if err != nil {
			return nil, err
		}
		if gw, ok := attrs.Get(rtnl.RTA_GATEWAY); ok {
			if nh.Gateway, err = addrFrom(gw); err != nil {
				return nil, err
			}
		}
		ret = append(ret, nh)
		if next := rtnl.NLA_ALIGN(length); next < len(b) {
			b = b[next:]
		} else {
			b = nil
		}
	}
	if len(b) != 0 {
		return nil, errors.Wrapf(rtnl.NLE_MALFORMED_ATTR, "%d trailing rtnexthop bytes", len(b))
	}
	return ret, nil
}

func encodeNextHops(hops []NextHop) []byte {
	var ret []byte
	for _, nh := range hops {
		var attrs rtnl.AttrList
		if nh.Gateway.IsValid() {
			attrs = append(attrs, rtnl.BytesAttr(rtnl.RTA_GATEWAY, nh.Gateway.AsSlice()))
		}
		b := make([]byte, sizeofRtNexthop, sizeofRtNexthop+attrs.Len())
		native.Endian.PutUint16(b[0:2], uint16(sizeofRtNexthop+attrs.Len()))
		b[2] = nh.Flags
		b[3] = nh.Hops
		native.Endian.PutUint32(b[4:8], uint32(int32(nh.Index)))
		ret = append(ret, append(b, attrs.Bytes()...)...)
	}
	return ret
}

func (self Route) Encode() []byte {
	hdr := rtnl.RtMsg{
		Family:   self.Family,
		Tos:      self.Tos,
		Protocol: self.Protocol,
		Scope:    self.Scope,
		Type:     self.Type,
		Flags:    self.Flags,
	}
	if self.Table < 256 {
		hdr.Table = uint8(self.Table)
	} else {
		hdr.Table = unix.RT_TABLE_COMPAT
	}
	attrs := rtnl.AttrList{rtnl.U32Attr(rtnl.RTA_TABLE, self.Table)}
	if self.Dst.IsValid() {
		hdr.DstLen = uint8(self.Dst.Bits())
		if self.Dst.Bits() > 0 {
			attrs = append(attrs, rtnl.BytesAttr(rtnl.RTA_DST, self.Dst.Addr().AsSlice()))
		}
	}
	if self.Src.IsValid() {
		hdr.SrcLen = uint8(self.Src.Bits())
		attrs = append(attrs, rtnl.BytesAttr(rtnl.RTA_SRC, self.Src.Addr().AsSlice()))
	}
	if self.Gateway.IsValid() {
		attrs = append(attrs, rtnl.BytesAttr(rtnl.RTA_GATEWAY, self.Gateway.AsSlice()))
	}
	if self.PrefSrc.IsValid() {
		attrs = append(attrs, rtnl.BytesAttr(rtnl.RTA_PREFSRC, self.PrefSrc.AsSlice()))
	}
	if self.OutIndex != 0 {
		attrs = append(attrs, rtnl.U32Attr(rtnl.RTA_OIF, uint32(self.OutIndex)))
	}
	if self.InIndex != 0 {
		attrs = append(attrs, rtnl.U32Attr(rtnl.RTA_IIF, uint32(self.InIndex)))
	}
	if self.Priority != 0 {
		attrs = append(attrs, rtnl.U32Attr(rtnl.RTA_PRIORITY, self.Priority))
	}
	if self.MTU != 0 {
		attrs = append(attrs, rtnl.NestedAttr(rtnl.RTA_METRICS|unix.NLA_F_NESTED, rtnl.U32Attr(rtnl.RTAX_MTU, self.MTU)))
	}
	if len(self.Multipath) != 0 {
		attrs = append(attrs, rtnl.BytesAttr(rtnl.RTA_MULTIPATH, encodeNextHops(self.Multipath)))
	}
	attrs = append(attrs, self.Unknown...)
	return payload(hdr.Bytes(), attrs)
}
