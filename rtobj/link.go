package rtobj

import (
	"fmt"
	"net"

	"github.com/hkwi/rtnl"
	"golang.org/x/sys/unix"
)

type LinkKey struct {
	Index int
}

func (LinkKey) Kind() Kind { return KindLink }

type Link struct {
	Family       uint8
	Type         uint16 // ARPHRD_*
	Index        int
	Flags        IFF
	Name         string
	MTU          uint32
	HardwareAddr net.HardwareAddr
	Broadcast    net.HardwareAddr
	Master       int // IFLA_MASTER, bridge or bond
	ParentIndex  int // IFLA_LINK, e.g. the lower device of a vlan
	OperState    OperState
	TxQLen       uint32
	Carrier      bool
	Alias        string
	LinkInfo     rtnl.AttrList // IFLA_LINKINFO children
	Unknown      rtnl.AttrList
}

func (Link) routingObject() {}

func (Link) Kind() Kind { return KindLink }

func (self Link) Key() Key { return LinkKey{Index: self.Index} }

// InfoKind returns the driver kind such as "veth" or "bridge".
func (self Link) InfoKind() string {
	if attr, ok := self.LinkInfo.Get(rtnl.IFLA_INFO_KIND); ok {
		return attr.Text()
	}
	return ""
}

func (self Link) String() string {
	return fmt.Sprintf("%d: %s <%v> mtu %d state %v", self.Index, self.Name, self.Flags, self.MTU, self.OperState)
}

func DecodeLink(data []byte) (Link, error) {
	info, err := rtnl.ParseIfInfomsg(data)
	if err != nil {
		return Link{}, err
	}
	attrs, err := parseAttrs(rtnl.RouteLinkPolicy, data, rtnl.SizeofIfInfomsg)
	if err != nil {
		return Link{}, err
	}
	if info.Index == 0 {
		return Link{}, missing("ifi_index")
	}
	link := Link{
		Family: info.Family,
		Type:   info.Type,
		Index:  int(info.Index),
		Flags:  IFF(info.Flags),
	}
	for _, attr := range attrs {
		switch attr.Field() {
		case rtnl.IFLA_IFNAME:
			link.Name = attr.Text()
		case rtnl.IFLA_MTU:
			link.MTU = attr.Uint32()
		case rtnl.IFLA_ADDRESS:
			link.HardwareAddr = net.HardwareAddr(attr.Value)
		case rtnl.IFLA_BROADCAST:
			link.Broadcast = net.HardwareAddr(attr.Value)
		case rtnl.IFLA_MASTER:
			link.Master = int(attr.Int32())
		case rtnl.IFLA_LINK:
			link.ParentIndex = int(attr.Int32())
		case rtnl.IFLA_OPERSTATE:
			link.OperState = OperState(attr.Uint8())
		case rtnl.IFLA_TXQLEN:
			link.TxQLen = attr.Uint32()
		case rtnl.IFLA_CARRIER:
			link.Carrier = attr.Uint8() != 0
		case rtnl.IFLA_IFALIAS:
			link.Alias = attr.Text()
		case rtnl.IFLA_LINKINFO:
			link.LinkInfo = attr.Nested
		default:
			link.Unknown = append(link.Unknown, attr)
		}
	}
	return link, nil
}

func (self Link) Encode() []byte {
	var attrs rtnl.AttrList
	if self.Name != "" {
		attrs = append(attrs, rtnl.StringAttr(rtnl.IFLA_IFNAME, self.Name))
	}
	if self.MTU != 0 {
		attrs = append(attrs, rtnl.U32Attr(rtnl.IFLA_MTU, self.MTU))
	}
	if len(self.HardwareAddr) != 0 {
		attrs = append(attrs, rtnl.BytesAttr(rtnl.IFLA_ADDRESS, self.HardwareAddr))
	}
	if len(self.Broadcast) != 0 {
		attrs = append(attrs, rtnl.BytesAttr(rtnl.IFLA_BROADCAST, self.Broadcast))
	}
	if self.Master != 0 {
		attrs = append(attrs, rtnl.U32Attr(rtnl.IFLA_MASTER, uint32(self.Master)))
	}
	if self.ParentIndex != 0 {
		attrs = append(attrs, rtnl.U32Attr(rtnl.IFLA_LINK, uint32(self.ParentIndex)))
	}
	if self.OperState != 0 {
		attrs = append(attrs, rtnl.U8Attr(rtnl.IFLA_OPERSTATE, uint8(self.OperState)))
	}
	if self.TxQLen != 0 {
		attrs = append(attrs, rtnl.U32Attr(rtnl.IFLA_TXQLEN, self.TxQLen))
	}
	if self.Carrier {
		attrs = append(attrs, rtnl.U8Attr(rtnl.IFLA_CARRIER, 1))
	}
	if self.Alias != "" {
		attrs = append(attrs, rtnl.StringAttr(rtnl.IFLA_IFALIAS, self.Alias))
	}
	if self.LinkInfo != nil {
		attrs = append(attrs, rtnl.NestedAttr(rtnl.IFLA_LINKINFO|unix.NLA_F_NESTED, self.LinkInfo...))
	}
	attrs = append(attrs, self.Unknown...)

	return payload(rtnl.IfInfomsg{
		Family: self.Family,
		Type:   self.Type,
		Index:  int32(self.Index),
		Flags:  uint32(self.Flags),
	}.Bytes(), attrs)
}

// GetLinkRequest asks for a single link by index, or by name when index is 0.
func GetLinkRequest(index int, name string) rtnl.Message {
	var attrs rtnl.AttrList
	if index == 0 {
		attrs = append(attrs, rtnl.StringAttr(rtnl.IFLA_IFNAME, name))
	}
	return rtnl.Message{
		Header: rtnl.Header{Type: unix.RTM_GETLINK},
		Data:   payload(rtnl.IfInfomsg{Index: int32(index)}.Bytes(), attrs),
	}
}
