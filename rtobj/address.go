package rtobj

import (
	"fmt"
	"net/netip"

	"github.com/hkwi/rtnl"
	"github.com/josharian/native"
)

type AddressKey struct {
	Index     int
	Family    uint8
	Local     netip.Addr
	PrefixLen uint8
}

func (AddressKey) Kind() Kind { return KindAddress }

type Address struct {
	Family    uint8
	PrefixLen uint8
	Flags     uint32 // IFA_F_*
	Scope     uint8
	Index     int
	Local     netip.Addr
	Peer      netip.Addr // point to point peer, if any
	Broadcast netip.Addr
	Label     string
	Preferred uint32 // lifetime in seconds, 0xFFFFFFFF is forever
	Valid     uint32
	Unknown   rtnl.AttrList
}

func (Address) routingObject() {}

func (Address) Kind() Kind { return KindAddress }

func (self Address) Key() Key {
	return AddressKey{
		Index:     self.Index,
		Family:    self.Family,
		Local:     self.Local,
		PrefixLen: self.PrefixLen,
	}
}

func (self Address) Prefix() netip.Prefix {
	return netip.PrefixFrom(self.Local, int(self.PrefixLen))
}

func (self Address) String() string {
	s := fmt.Sprintf("%s dev %d", self.Prefix(), self.Index)
	if self.Peer.IsValid() {
		s += fmt.Sprintf(" peer %s", self.Peer)
	}
	if self.Label != "" {
		s += " label " + self.Label
	}
	return s
}

const sizeofIfaCacheinfo = 16

func DecodeAddress(data []byte) (Address, error) {
	hdr, err := rtnl.ParseIfAddrmsg(data)
	if err != nil {
		return Address{}, err
	}
	attrs, err := parseAttrs(rtnl.AddrPolicy, data, rtnl.SizeofIfAddrmsg)
	if err != nil {
		return Address{}, err
	}
	addr := Address{
		Family:    hdr.Family,
		PrefixLen: hdr.Prefixlen,
		Flags:     uint32(hdr.Flags),
		Scope:     hdr.Scope,
		Index:     int(hdr.Index),
	}
	var address netip.Addr
	for _, attr := range attrs {
		var err error
		switch attr.Field() {
		case rtnl.IFA_ADDRESS:
			address, err = addrFrom(attr)
		case rtnl.IFA_LOCAL:
			addr.Local, err = addrFrom(attr)
		case rtnl.IFA_BROADCAST:
			addr.Broadcast, err = addrFrom(attr)
		case rtnl.IFA_LABEL:
			addr.Label = attr.Text()
		case rtnl.IFA_FLAGS:
			addr.Flags = attr.Uint32()
		case rtnl.IFA_CACHEINFO:
			if len(attr.Value) >= sizeofIfaCacheinfo {
				addr.Preferred = native.Endian.Uint32(attr.Value[0:4])
				addr.Valid = native.Endian.Uint32(attr.Value[4:8])
			}
		default:
			addr.Unknown = append(addr.Unknown, attr)
		}
		if err != nil {
			return Address{}, err
		}
	}
	// IPv4 reports the local address in IFA_LOCAL and the peer in IFA_ADDRESS,
	// IPv6 only sends IFA_ADDRESS.
	switch {
	case !addr.Local.IsValid():
		addr.Local = address
	case address.IsValid() && address != addr.Local:
		addr.Peer = address
	}
	if !addr.Local.IsValid() {
		return Address{}, missing("IFA_LOCAL")
	}
	if addr.Index == 0 {
		return Address{}, missing("ifa_index")
	}
	return addr, nil
}

func (self Address) Encode() []byte {
	var attrs rtnl.AttrList
	if self.Local.IsValid() {
		attrs = append(attrs, rtnl.BytesAttr(rtnl.IFA_LOCAL, self.Local.AsSlice()))
		if self.Peer.IsValid() {
			attrs = append(attrs, rtnl.BytesAttr(rtnl.IFA_ADDRESS, self.Peer.AsSlice()))
		} else {
			attrs = append(attrs, rtnl.BytesAttr(rtnl.IFA_ADDRESS, self.Local.AsSlice()))
		}
	}
	if self.Broadcast.IsValid() {
		attrs = append(attrs, rtnl.BytesAttr(rtnl.IFA_BROADCAST, self.Broadcast.AsSlice()))
	}
	if self.Label != "" {
		attrs = append(attrs, rtnl.StringAttr(rtnl.IFA_LABEL, self.Label))
	}
	attrs = append(attrs, rtnl.U32Attr(rtnl.IFA_FLAGS, self.Flags))
	if self.Preferred != 0 || self.Valid != 0 {
		ci := make([]byte, sizeofIfaCacheinfo)
		native.Endian.PutUint32(ci[0:4], self.Preferred)
		native.Endian.PutUint32(ci[4:8], self.Valid)
		attrs = append(attrs, rtnl.BytesAttr(rtnl.IFA_CACHEINFO, ci))
	}
	attrs = append(attrs, self.Unknown...)

	return payload(rtnl.IfAddrmsg{
		Family:    self.Family,
		Prefixlen: self.PrefixLen,
		Flags:     uint8(self.Flags),
		Scope:     self.Scope,
		Index:     uint32(self.Index),
	}.Bytes(), attrs)
}
