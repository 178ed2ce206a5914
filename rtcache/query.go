package rtcache

import (
	"net/netip"
	"slices"

	"github.com/hkwi/rtnl"
	"github.com/hkwi/rtnl/rtobj"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// QueryEngine reads from a Cache. It never talks to the kernel.
type QueryEngine struct {
	cache *Cache
}

func NewQueryEngine(cache *Cache) QueryEngine {
	return QueryEngine{cache: cache}
}

func notFound(format string, args ...interface{}) error {
	return errors.Wrapf(rtnl.NLE_OBJ_NOTFOUND, format, args...)
}

// table rank: local, main, default, then the others by id
func tableRank(table uint32) (int, uint32) {
	switch table {
	case unix.RT_TABLE_LOCAL:
		return 0, table
	case unix.RT_TABLE_MAIN:
		return 1, table
	case unix.RT_TABLE_DEFAULT:
		return 2, table
	}
	return 3, table
}

// betterRoute orders candidates: longest prefix, lowest metric, table
// rank, then the most recently inserted.
func betterRoute(a, b entry) int {
	ra, rb := a.obj.(rtobj.Route), b.obj.(rtobj.Route)
	if d := rb.Dst.Bits() - ra.Dst.Bits(); d != 0 {
		return d
	}
	if ra.Priority != rb.Priority {
		if ra.Priority < rb.Priority {
			return -1
		}
		return 1
	}
	rankA, idA := tableRank(ra.Table)
	rankB, idB := tableRank(rb.Table)
	if rankA != rankB {
		return rankA - rankB
	}
	if idA != idB {
		if idA < idB {
			return -1
		}
		return 1
	}
	if a.stamp > b.stamp {
		return -1
	}
	if a.stamp < b.stamp {
		return 1
	}
	return 0
}

// ResolveRoute does a longest prefix match over every table.
func (self QueryEngine) ResolveRoute(dst netip.Addr) (rtobj.Route, error) {
	return self.resolve(dst, func(rtobj.Route) bool { return true })
}

func (self QueryEngine) ResolveRouteInTable(dst netip.Addr, table uint32) (rtobj.Route, error) {
	return self.resolve(dst, func(r rtobj.Route) bool { return r.Table == table })
}

func (self QueryEngine) resolve(dst netip.Addr, filter func(rtobj.Route) bool) (rtobj.Route, error) {
	dst = dst.Unmap()
	if !dst.IsValid() {
		return rtobj.Route{}, errors.Wrap(rtnl.NLE_INVAL, "invalid destination")
	}
	family := uint8(unix.AF_INET6)
	if dst.Is4() {
		family = unix.AF_INET
	}
	candidates := self.cache.sorted(rtobj.KindRoute, func(o rtobj.Object) bool {
		r := o.(rtobj.Route)
		return r.Family == family && !r.Cloned() && r.Dst.Contains(dst) && filter(r)
	})
	if len(candidates) == 0 {
		return rtobj.Route{}, notFound("no route to %s", dst)
	}
	return slices.MinFunc(candidates, betterRoute).obj.(rtobj.Route), nil
}

func (self QueryEngine) LinkByIndex(index int) (rtobj.Link, error) {
	if obj, ok := self.cache.Get(rtobj.KindLink, rtobj.LinkKey{Index: index}); ok {
		return obj.(rtobj.Link), nil
	}
	return rtobj.Link{}, notFound("link %d", index)
}

func (self QueryEngine) LinkByName(name string) (rtobj.Link, error) {
	for obj := range self.cache.Query(rtobj.KindLink, func(o rtobj.Object) bool {
		return o.(rtobj.Link).Name == name
	}) {
		return obj.(rtobj.Link), nil
	}
	return rtobj.Link{}, notFound("link %q", name)
}

// Links returns every link ordered by index.
func (self QueryEngine) Links() []rtobj.Link {
	var ret []rtobj.Link
	for obj := range self.cache.Query(rtobj.KindLink, nil) {
		ret = append(ret, obj.(rtobj.Link))
	}
	slices.SortFunc(ret, func(a, b rtobj.Link) int { return a.Index - b.Index })
	return ret
}

func (self QueryEngine) AddressesForLink(index int) []rtobj.Address {
	var ret []rtobj.Address
	for obj := range self.cache.Query(rtobj.KindAddress, func(o rtobj.Object) bool {
		return o.(rtobj.Address).Index == index
	}) {
		ret = append(ret, obj.(rtobj.Address))
	}
	return ret
}

func (self QueryEngine) NeighborsForLink(index int) []rtobj.Neighbor {
	var ret []rtobj.Neighbor
	for obj := range self.cache.Query(rtobj.KindNeighbor, func(o rtobj.Object) bool {
		return o.(rtobj.Neighbor).Index == index
	}) {
		ret = append(ret, obj.(rtobj.Neighbor))
	}
	return ret
}

func (self QueryEngine) RoutesForLink(index int) []rtobj.Route {
	var ret []rtobj.Route
	for obj := range self.cache.Query(rtobj.KindRoute, func(o rtobj.Object) bool {
		return o.(rtobj.Route).Via(index)
	}) {
		ret = append(ret, obj.(rtobj.Route))
	}
	return ret
}
