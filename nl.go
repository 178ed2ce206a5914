// Package rtnl implements the routing netlink (NETLINK_ROUTE) transport.
//
// This started as a golang port of libnl. For basic concept, please have a look at
// original libnl documentation http://www.infradead.org/~tgr/libnl/ .
//
// The package covers the wire level: nested attribute encoding, message framing,
// sequence correlation and multipart reassembly over a single socket. Typed routing
// objects live in rtobj, and the synchronized object cache in rtcache.
package rtnl

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func align(size, tick int) int {
	return (size + tick - 1) &^ (tick - 1)
}

func NLMSG_ALIGN(size int) int {
	return align(size, unix.NLMSG_ALIGNTO)
}

func NLA_ALIGN(size int) int {
	return align(size, unix.NLA_ALIGNTO)
}

var NLA_HDRLEN int = NLA_ALIGN(unix.SizeofNlAttr)

const NLA_TYPE_MASK = ^uint16(unix.NLA_F_NESTED | unix.NLA_F_NET_BYTEORDER)

// Attr represents single netlink attribute.
// Type keeps the wire value, flag bits included. A container attribute carries its
// children in Nested (non-nil, possibly empty) and no Value.
type Attr struct {
	Type   uint16
	Value  []byte
	Nested AttrList
}

func (self Attr) Field() uint16 {
	return self.Type & NLA_TYPE_MASK
}

func (self Attr) IsNested() bool {
	return self.Nested != nil
}

func (self Attr) netOrder() bool {
	return self.Type&unix.NLA_F_NET_BYTEORDER != 0
}

func (self Attr) Uint8() uint8 {
	if len(self.Value) != 1 {
		return 0
	}
	return self.Value[0]
}

func (self Attr) Uint16() uint16 {
	if len(self.Value) != 2 {
		return 0
	}
	if self.netOrder() {
		return binary.BigEndian.Uint16(self.Value)
	}
	return nlenc.Uint16(self.Value)
}

func (self Attr) Uint32() uint32 {
	if len(self.Value) != 4 {
		return 0
	}
	if self.netOrder() {
		return binary.BigEndian.Uint32(self.Value)
	}
	return nlenc.Uint32(self.Value)
}

func (self Attr) Int32() int32 {
	return int32(self.Uint32())
}

func (self Attr) Uint64() uint64 {
	if len(self.Value) != 8 {
		return 0
	}
	if self.netOrder() {
		return binary.BigEndian.Uint64(self.Value)
	}
	return nlenc.Uint64(self.Value)
}

// Text returns the value as a string with the NUL terminator removed.
func (self Attr) Text() string {
	return NlaStringRemoveNul(string(self.Value))
}

// Len returns the encoded length, header included and padding excluded.
func (self Attr) Len() int {
	if self.Nested != nil {
		return NLA_HDRLEN + self.Nested.Len()
	}
	return NLA_HDRLEN + len(self.Value)
}

func (self Attr) appendTo(buf []byte) ([]byte, error) {
	length := self.Len()
	if length > 0xFFFF {
		return nil, errors.Errorf("attribute %d: length %d overflows", self.Field(), length)
	}
	var hdr [4]byte
	nlenc.PutUint16(hdr[0:2], uint16(length))
	nlenc.PutUint16(hdr[2:4], self.Type)
	buf = append(buf, hdr[:]...)
	if self.Nested != nil {
		var err error
		for _, child := range self.Nested {
			if buf, err = child.appendTo(buf); err != nil {
				return nil, err
			}
		}
	} else {
		buf = append(buf, self.Value...)
	}
	return append(buf, make([]byte, NLA_ALIGN(length)-length)...), nil
}

func U8Attr(t uint16, v uint8) Attr {
	return Attr{Type: t, Value: []byte{v}}
}

func U16Attr(t uint16, v uint16) Attr {
	return Attr{Type: t, Value: nlenc.Uint16Bytes(v)}
}

func U32Attr(t uint16, v uint32) Attr {
	return Attr{Type: t, Value: nlenc.Uint32Bytes(v)}
}

func U64Attr(t uint16, v uint64) Attr {
	return Attr{Type: t, Value: nlenc.Uint64Bytes(v)}
}

// StringAttr encodes v NUL terminated.
func StringAttr(t uint16, v string) Attr {
	return Attr{Type: t, Value: nlenc.Bytes(v)}
}

func BytesAttr(t uint16, v []byte) Attr {
	return Attr{Type: t, Value: append([]byte{}, v...)}
}

func FlagAttr(t uint16) Attr {
	return Attr{Type: t, Value: []byte{}}
}

func NestedAttr(t uint16, children ...Attr) Attr {
	return Attr{Type: t, Nested: append(AttrList{}, children...)}
}

type AttrList []Attr

func (self AttrList) Get(field uint16) (Attr, bool) {
	for _, attr := range self {
		if attr.Field() == field {
			return attr, true
		}
	}
	return Attr{}, false
}

func (self AttrList) Len() int {
	var n int
	for _, attr := range self {
		n += NLA_ALIGN(attr.Len())
	}
	return n
}

// MarshalBinary encodes the attributes as padded TLV records.
func (self AttrList) MarshalBinary() ([]byte, error) {
	ret := make([]byte, 0, self.Len())
	var err error
	for _, attr := range self {
		if ret, err = attr.appendTo(ret); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Bytes is MarshalBinary for attribute lists known to fit. It panics on overflow.
func (self AttrList) Bytes() []byte {
	ret, err := self.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return ret
}

// Policy decodes an attribute buffer. Its concrete type is the schema: a
// SimplePolicy is a leaf value, MapPolicy and ListPolicy are containers.
type Policy interface {
	Parse([]byte) (AttrList, error)
}

// SimplePolicy represents non-nested netlink attribute policy.
type SimplePolicy uint16

const (
	NLA_UNSPEC SimplePolicy = iota
	NLA_U8
	NLA_U16
	NLA_U32
	NLA_U64
	NLA_STRING
	NLA_FLAG
	NLA_MSECS
	NLA_NESTED
	NLA_NESTED_COMPAT
	NLA_NUL_STRING
	NLA_BINARY
	NLA_S8
	NLA_S16
	NLA_S32
	NLA_S64
)

func (self SimplePolicy) size() int {
	switch self {
	case NLA_U8, NLA_S8:
		return 1
	case NLA_U16, NLA_S16:
		return 2
	case NLA_U32, NLA_S32:
		return 4
	case NLA_U64, NLA_S64, NLA_MSECS:
		return 8
	case NLA_FLAG:
		return 0
	}
	return -1
}

func (self SimplePolicy) validate(value []byte) error {
	if n := self.size(); n >= 0 && len(value) != n {
		return errors.Wrapf(NLE_MALFORMED_ATTR, "want %d value bytes, got %d", n, len(value))
	}
	return nil
}

// Parse decodes a sequence of attributes which all share this policy.
func (self SimplePolicy) Parse(buf []byte) (AttrList, error) {
	var ret AttrList
	err := walkAttrs(buf, func(typ uint16, value []byte) error {
		attr, err := self.parseOne(typ, value)
		if err != nil {
			return err
		}
		ret = append(ret, attr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (self SimplePolicy) parseOne(typ uint16, value []byte) (Attr, error) {
	switch self {
	case NLA_NESTED, NLA_NESTED_COMPAT:
		nested, err := binList.Parse(value)
		if err != nil {
			return Attr{}, err
		}
		return Attr{Type: typ, Nested: append(AttrList{}, nested...)}, nil
	}
	if err := self.validate(value); err != nil {
		return Attr{}, errors.Wrapf(err, "attribute %d", typ&NLA_TYPE_MASK)
	}
	return Attr{Type: typ, Value: append([]byte{}, value...)}, nil
}

// walkAttrs calls fn for every attribute record in buf. Every declared length is
// checked against what remains of buf.
func walkAttrs(buf []byte, fn func(typ uint16, value []byte) error) error {
	for len(buf) > 0 {
		if len(buf) < NLA_HDRLEN {
			return errors.Wrapf(NLE_MALFORMED_ATTR, "%d trailing bytes", len(buf))
		}
		length := int(nlenc.Uint16(buf[0:2]))
		typ := nlenc.Uint16(buf[2:4])
		if length < NLA_HDRLEN || length > len(buf) {
			return errors.Wrapf(NLE_MALFORMED_ATTR, "attribute %d declares length %d with %d bytes left",
				typ&NLA_TYPE_MASK, length, len(buf))
		}
		if err := fn(typ, buf[NLA_HDRLEN:length]); err != nil {
			return err
		}
		if next := NLA_ALIGN(length); next < len(buf) {
			buf = buf[next:]
		} else {
			buf = nil
		}
	}
	return nil
}

func NlaStringRemoveNul(a string) string {
	return strings.Split(a, "\x00")[0]
}

func NlaStringEquals(a, b string) bool {
	return NlaStringRemoveNul(a) == NlaStringRemoveNul(b)
}

// ListPolicy parses an array of attributes whose payloads all follow Nested.
type ListPolicy struct {
	Nested Policy
}

func (self ListPolicy) Parse(buf []byte) (AttrList, error) {
	if simple, ok := self.Nested.(SimplePolicy); ok {
		return simple.Parse(buf)
	}
	var ret AttrList
	err := walkAttrs(buf, func(typ uint16, value []byte) error {
		attrs, err := self.Nested.Parse(value)
		if err != nil {
			return err
		}
		ret = append(ret, Attr{Type: typ, Nested: append(AttrList{}, attrs...)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (self ListPolicy) Dump(attrs AttrList) string {
	var comps []string
	for _, attr := range attrs {
		comps = append(comps, fmt.Sprintf("%d: %s", attr.Field(), dumpValue(self.Nested, attr)))
	}
	return fmt.Sprintf("[%s]", strings.Join(comps, ", "))
}

var binList Policy = ListPolicy{Nested: NLA_BINARY}

// MapPolicy is the schema of an attribute set. Types without a Rule are kept
// as opaque bytes.
type MapPolicy struct {
	Prefix string
	Names  map[uint16]string
	Rule   map[uint16]Policy
}

func (self MapPolicy) Parse(buf []byte) (AttrList, error) {
	var ret AttrList
	err := walkAttrs(buf, func(typ uint16, value []byte) error {
		field := typ & NLA_TYPE_MASK
		switch policy := self.Rule[field].(type) {
		case nil:
			ret = append(ret, Attr{Type: typ, Value: append([]byte{}, value...)})
		case SimplePolicy:
			attr, err := policy.parseOne(typ, value)
			if err != nil {
				return errors.Wrap(err, self.name(field))
			}
			ret = append(ret, attr)
		default:
			attrs, err := policy.Parse(value)
			if err != nil {
				return errors.Wrap(err, self.name(field))
			}
			ret = append(ret, Attr{Type: typ, Nested: append(AttrList{}, attrs...)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (self MapPolicy) name(field uint16) string {
	if n, ok := self.Names[field]; ok {
		return fmt.Sprintf("%s_%s", self.Prefix, n)
	}
	return fmt.Sprintf("%s_%d", self.Prefix, field)
}

func (self MapPolicy) Dump(attrs AttrList) string {
	var comps []string
	for _, attr := range attrs {
		comps = append(comps, fmt.Sprintf("%s: %s", self.name(attr.Field()), dumpValue(self.Rule[attr.Field()], attr)))
	}
	return fmt.Sprintf("%s(%s)", self.Prefix, strings.Join(comps, ", "))
}

func dumpValue(p Policy, attr Attr) string {
	switch policy := p.(type) {
	case MapPolicy:
		return policy.Dump(attr.Nested)
	case ListPolicy:
		return policy.Dump(attr.Nested)
	case SimplePolicy:
		switch policy {
		case NLA_U8:
			return fmt.Sprint(attr.Uint8())
		case NLA_U16:
			return fmt.Sprint(attr.Uint16())
		case NLA_U32:
			return fmt.Sprint(attr.Uint32())
		case NLA_S32:
			return fmt.Sprint(attr.Int32())
		case NLA_U64, NLA_MSECS:
			return fmt.Sprint(attr.Uint64())
		case NLA_STRING, NLA_NUL_STRING:
			return fmt.Sprintf("%q", attr.Text())
		case NLA_FLAG:
			return "true"
		}
	}
	if attr.IsNested() {
		return binList.(ListPolicy).Dump(attr.Nested)
	}
	return fmt.Sprintf("%x", attr.Value)
}
