package rtobj

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/hkwi/rtnl"
)

type NeighborKey struct {
	Index  int
	Family uint8
	Dst    netip.Addr
}

func (NeighborKey) Kind() Kind { return KindNeighbor }

type Neighbor struct {
	Family  uint8
	Index   int
	State   NUD
	Flags   uint8 // NTF_*
	Type    uint8
	Dst     netip.Addr
	LLAddr  net.HardwareAddr
	Probes  uint32
	VLAN    uint16
	Master  int
	Unknown rtnl.AttrList
}

func (Neighbor) routingObject() {}

func (Neighbor) Kind() Kind { return KindNeighbor }

func (self Neighbor) Key() Key {
	return NeighborKey{
		Index:  self.Index,
		Family: self.Family,
		Dst:    self.Dst,
	}
}

func (self Neighbor) String() string {
	return fmt.Sprintf("%s dev %d lladdr %s %v", self.Dst, self.Index, self.LLAddr, self.State)
}

func DecodeNeighbor(data []byte) (Neighbor, error) {
	hdr, err := rtnl.ParseNdmsg(data)
	if err != nil {
		return Neighbor{}, err
	}
	attrs, err := parseAttrs(rtnl.NeighPolicy, data, rtnl.SizeofNdmsg)
	if err != nil {
		return Neighbor{}, err
	}
	neigh := Neighbor{
		Family: hdr.Family,
		Index:  int(int32(hdr.Ifindex)),
		State:  NUD(hdr.State),
		Flags:  hdr.Flags,
		Type:   hdr.Type,
	}
	for _, attr := range attrs {
		var err error
		switch attr.Field() {
		case rtnl.NDA_DST:
			neigh.Dst, err = addrFrom(attr)
		case rtnl.NDA_LLADDR:
			neigh.LLAddr = net.HardwareAddr(attr.Value)
		case rtnl.NDA_PROBES:
			neigh.Probes = attr.Uint32()
		case rtnl.NDA_VLAN:
			neigh.VLAN = attr.Uint16()
		case rtnl.NDA_MASTER:
			neigh.Master = int(attr.Int32())
		default:
			neigh.Unknown = append(neigh.Unknown, attr)
		}
		if err != nil {
			return Neighbor{}, err
		}
	}
	// bridge fdb entries carry no destination
	if !neigh.Dst.IsValid() {
		return Neighbor{}, missing("NDA_DST")
	}
	if neigh.Index == 0 {
		return Neighbor{}, missing("ndm_ifindex")
	}
	return neigh, nil
}

func (self Neighbor) Encode() []byte {
	var attrs rtnl.AttrList
	if self.Dst.IsValid() {
		attrs = append(attrs, rtnl.BytesAttr(rtnl.NDA_DST, self.Dst.AsSlice()))
	}
	if len(self.LLAddr) != 0 {
		attrs = append(attrs, rtnl.BytesAttr(rtnl.NDA_LLADDR, self.LLAddr))
	}
	if self.Probes != 0 {
		attrs = append(attrs, rtnl.U32Attr(rtnl.NDA_PROBES, self.Probes))
	}
	if self.VLAN != 0 {
		attrs = append(attrs, rtnl.U16Attr(rtnl.NDA_VLAN, self.VLAN))
	}
	if self.Master != 0 {
		attrs = append(attrs, rtnl.U32Attr(rtnl.NDA_MASTER, uint32(self.Master)))
	}
	attrs = append(attrs, self.Unknown...)

	return payload(rtnl.Ndmsg{
		Family:  self.Family,
		Ifindex: uint32(self.Index),
		State:   uint16(self.State),
		Flags:   self.Flags,
		Type:    self.Type,
	}.Bytes(), attrs)
}
