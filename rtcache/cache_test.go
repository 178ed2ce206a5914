package rtcache

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/hkwi/rtnl"
	"github.com/hkwi/rtnl/rtobj"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var cmpOpts = []cmp.Option{
	cmpopts.EquateComparable(netip.Addr{}, netip.Prefix{}),
	cmpopts.EquateEmpty(),
}

func route(dst string, table, metric uint32, oif int) rtobj.Route {
	p := netip.MustParsePrefix(dst)
	family := uint8(unix.AF_INET6)
	if p.Addr().Is4() {
		family = unix.AF_INET
	}
	return rtobj.Route{
		Family:   family,
		Dst:      p,
		OutIndex: oif,
		Table:    table,
		Priority: metric,
		Protocol: unix.RTPROT_BOOT,
		Scope:    unix.RT_SCOPE_UNIVERSE,
		Type:     unix.RTN_UNICAST,
	}
}

func address(index int, local string) rtobj.Address {
	p := netip.MustParsePrefix(local)
	return rtobj.Address{
		Family:    unix.AF_INET,
		PrefixLen: uint8(p.Bits()),
		Index:     index,
		Local:     p.Addr(),
	}
}

func link(index int, name string) rtobj.Link {
	return rtobj.Link{
		Family: unix.AF_UNSPEC,
		Type:   unix.ARPHRD_ETHER,
		Index:  index,
		Flags:  rtobj.IFF_UP,
		Name:   name,
		MTU:    1500,
	}
}

func objects(objs ...rtobj.Object) []rtobj.Object {
	return objs
}

func eventTypes(events []Event) map[EventType]int {
	ret := make(map[EventType]int)
	for _, ev := range events {
		ret[ev.Type]++
	}
	return ret
}

func TestReplaceIdempotent(t *testing.T) {
	c := NewCache(nil)
	objs := objects(
		route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2),
		route("10.1.0.0/16", unix.RT_TABLE_MAIN, 0, 2),
	)
	gen1, events := c.Replace(rtobj.KindRoute, objs)
	if len(events) != 2 {
		t.Errorf("first replace: %d events", len(events))
	}
	first := c.Snapshot(rtobj.KindRoute)

	gen2, events := c.Replace(rtobj.KindRoute, objs)
	if len(events) != 0 {
		t.Errorf("second replace reported %v", events)
	}
	if gen2 <= gen1 || c.KindGeneration(rtobj.KindRoute) != gen2 {
		t.Errorf("generation %d then %d", gen1, gen2)
	}
	if diff := cmp.Diff(first.Objects, c.Snapshot(rtobj.KindRoute).Objects, cmpOpts...); diff != "" {
		t.Errorf("snapshot changed (-first +second):\n%s", diff)
	}
	if c.KindGeneration(rtobj.KindLink) != 0 {
		t.Error("link store was never refreshed")
	}
}

func TestReplaceEvents(t *testing.T) {
	c := NewCache(nil)
	kept := route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	changed := route("10.1.0.0/16", unix.RT_TABLE_MAIN, 0, 2)
	changed2 := route("10.1.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	dropped := route("10.2.0.0/16", unix.RT_TABLE_MAIN, 0, 2)
	dropped2 := route("10.2.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	c.Replace(rtobj.KindRoute, objects(dropped2, kept, changed2, changed, dropped))

	changed.OutIndex = 3
	changed2.OutIndex = 3
	var added []rtobj.Object
	for i := 0; i < 8; i++ {
		added = append(added, route(netip.PrefixFrom(netip.AddrFrom4([4]byte{10, 3, byte(i), 0}), 24).String(), unix.RT_TABLE_MAIN, 0, 2))
	}
	want := []Event{}
	for _, obj := range added {
		want = append(want, Event{Type: Added, Kind: rtobj.KindRoute, Object: obj})
	}
	want = append(want,
		Event{Type: Updated, Kind: rtobj.KindRoute, Object: changed},
		Event{Type: Updated, Kind: rtobj.KindRoute, Object: changed2},
		Event{Type: Removed, Kind: rtobj.KindRoute, Object: dropped2},
		Event{Type: Removed, Kind: rtobj.KindRoute, Object: dropped},
	)

	dump := append(objects(kept, changed, changed2), added...)
	_, events := c.Replace(rtobj.KindRoute, dump)
	if diff := cmp.Diff(want, events, cmpOpts...); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}

	// insertion order: the unchanged entry keeps its place
	snap := c.Snapshot(rtobj.KindRoute)
	if diff := cmp.Diff(dump, snap.Objects, cmpOpts...); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}

	// the same dump into fresh caches always reports in dump order
	for i := 0; i < 20; i++ {
		_, events := NewCache(nil).Replace(rtobj.KindRoute, added)
		for j, ev := range events {
			if diff := cmp.Diff(added[j], ev.Object, cmpOpts...); diff != "" {
				t.Fatalf("event %d (-want +got):\n%s", j, diff)
			}
		}
	}
}

func TestCacheNotify(t *testing.T) {
	c := NewCache(nil)
	var seen []Event
	c.notify = func(ev Event) {
		seen = append(seen, ev)
	}
	a := route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	b := route("10.1.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	x := route("10.9.0.0/24", unix.RT_TABLE_MAIN, 0, 3)

	_, replaced := c.Replace(rtobj.KindRoute, objects(a, b))
	added, _ := c.ApplyDelta(rtobj.KindRoute, x.Key(), x)
	c.ApplyDelta(rtobj.KindRoute, x.Key(), x)
	purged := c.PurgeLink(2)

	want := append(append(replaced, added), purged...)
	if diff := cmp.Diff(want, seen, cmpOpts...); diff != "" {
		t.Errorf("notified (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]rtobj.Object{a, b}, []rtobj.Object{purged[0].Object, purged[1].Object}, cmpOpts...); diff != "" {
		t.Errorf("purge order (-want +got):\n%s", diff)
	}
}

func TestReplaceAtomic(t *testing.T) {
	c := NewCache(nil)
	before := objects(route("10.0.0.0/8", unix.RT_TABLE_MAIN, 0, 1), route("10.1.0.0/16", unix.RT_TABLE_MAIN, 0, 1))
	after := objects(route("172.16.0.0/12", unix.RT_TABLE_MAIN, 0, 2), route("172.16.1.0/24", unix.RT_TABLE_MAIN, 0, 2), route("172.16.2.0/24", unix.RT_TABLE_MAIN, 0, 2))
	c.Replace(rtobj.KindRoute, before)

	var stop atomic.Bool
	var wg sync.WaitGroup
	var torn atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				var oif = -1
				for obj := range c.Query(rtobj.KindRoute, nil) {
					r := obj.(rtobj.Route)
					if oif >= 0 && r.OutIndex != oif {
						torn.Add(1)
					}
					oif = r.OutIndex
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			c.Replace(rtobj.KindRoute, after)
		} else {
			c.Replace(rtobj.KindRoute, before)
		}
	}
	stop.Store(true)
	wg.Wait()
	if torn.Load() != 0 {
		t.Errorf("%d readers saw a mix of two generations", torn.Load())
	}
}

func TestRefreshReplaysDeltas(t *testing.T) {
	c := NewCache(nil)
	a := route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	b := route("10.1.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	x := route("10.9.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	c.Replace(rtobj.KindRoute, objects(a, b))

	r := c.BeginRefresh(rtobj.KindRoute)
	// notifications racing with the dump
	if _, changed := c.ApplyDelta(rtobj.KindRoute, x.Key(), x); !changed {
		t.Fatal("x not added")
	}
	if _, changed := c.ApplyDelta(rtobj.KindRoute, a.Key(), nil); !changed {
		t.Fatal("a not removed")
	}
	// another kind is not journaled
	c.ApplyDelta(rtobj.KindLink, rtobj.LinkKey{Index: 2}, link(2, "eth0"))

	// the dump saw the state before the deltas
	snap, events := r.Commit(objects(a, b))
	if diff := cmp.Diff(objects(b, x), snap.Objects, cmpOpts...); diff != "" {
		t.Errorf("after commit (-want +got):\n%s", diff)
	}
	if len(events) != 0 {
		t.Errorf("commit reported changes already applied live: %v", events)
	}
	if snap.Generation != c.Generation() {
		t.Errorf("snapshot generation %d, cache %d", snap.Generation, c.Generation())
	}
}

func TestRefreshAbort(t *testing.T) {
	c := NewCache(nil)
	a := route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	gen, _ := c.Replace(rtobj.KindRoute, objects(a))

	r := c.BeginRefresh(rtobj.KindRoute)
	b := route("10.1.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	c.ApplyDelta(rtobj.KindRoute, b.Key(), b)
	r.Abort()
	r.Abort()

	if c.Generation() != gen {
		t.Errorf("generation moved to %d", c.Generation())
	}
	if c.Len(rtobj.KindRoute) != 2 {
		t.Errorf("live delta lost: %d routes", c.Len(rtobj.KindRoute))
	}

	defer func() {
		if recover() == nil {
			t.Error("commit after abort did not panic")
		}
	}()
	r.Commit(nil)
}

func TestMismatchPanics(t *testing.T) {
	cases := map[string]func(c *Cache){
		"replace": func(c *Cache) {
			c.Replace(rtobj.KindRoute, objects(link(1, "lo")))
		},
		"key": func(c *Cache) {
			c.ApplyDelta(rtobj.KindRoute, rtobj.LinkKey{Index: 1}, nil)
		},
		"object": func(c *Cache) {
			r := route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
			other := route("10.0.1.0/24", unix.RT_TABLE_MAIN, 0, 2)
			c.ApplyDelta(rtobj.KindRoute, other.Key(), r)
		},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				err, _ := recover().(error)
				if !errors.Is(err, rtnl.NLE_OBJ_MISMATCH) {
					t.Errorf("want NLE_OBJ_MISMATCH panic, got %v", err)
				}
			}()
			f(NewCache(nil))
		})
	}
}

func TestApplyDelta(t *testing.T) {
	c := NewCache(nil)
	l := link(2, "eth0")
	if ev, changed := c.ApplyDelta(rtobj.KindLink, l.Key(), l); !changed || ev.Type != Added {
		t.Errorf("add: %v %v", ev, changed)
	}
	if _, changed := c.ApplyDelta(rtobj.KindLink, l.Key(), l); changed {
		t.Error("same object reported as a change")
	}
	l.MTU = 9000
	if ev, changed := c.ApplyDelta(rtobj.KindLink, l.Key(), l); !changed || ev.Type != Updated {
		t.Errorf("update: %v %v", ev, changed)
	}
	if ev, changed := c.ApplyDelta(rtobj.KindLink, l.Key(), nil); !changed || ev.Type != Removed || ev.Object.(rtobj.Link).MTU != 9000 {
		t.Errorf("remove: %v %v", ev, changed)
	}
	if _, changed := c.ApplyDelta(rtobj.KindLink, l.Key(), nil); changed {
		t.Error("removing a missing key reported as a change")
	}
}

func TestPurgeLink(t *testing.T) {
	c := NewCache(nil)
	c.Replace(rtobj.KindAddress, objects(address(2, "10.0.0.1/24"), address(3, "10.0.1.1/24")))
	multi := route("10.5.0.0/16", unix.RT_TABLE_MAIN, 0, 0)
	multi.Multipath = []rtobj.NextHop{{Index: 2}, {Index: 2, Gateway: netip.MustParseAddr("10.0.0.9")}}
	shared := route("10.6.0.0/16", unix.RT_TABLE_MAIN, 0, 0)
	shared.Multipath = []rtobj.NextHop{{Index: 2}, {Index: 3}}
	c.Replace(rtobj.KindRoute, objects(
		route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2),
		route("10.0.1.0/24", unix.RT_TABLE_MAIN, 0, 3),
		multi,
		shared,
	))
	c.Replace(rtobj.KindNeighbor, objects(rtobj.Neighbor{
		Family: unix.AF_INET,
		Index:  2,
		State:  unix.NUD_REACHABLE,
		Dst:    netip.MustParseAddr("10.0.0.9"),
	}))

	events := c.PurgeLink(2)
	if diff := cmp.Diff(map[EventType]int{Removed: 4}, eventTypes(events)); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if n := c.Len(rtobj.KindAddress); n != 1 {
		t.Errorf("%d addresses left", n)
	}
	if n := c.Len(rtobj.KindNeighbor); n != 0 {
		t.Errorf("%d neighbors left", n)
	}
	if _, ok := c.Get(rtobj.KindRoute, shared.Key()); !ok {
		t.Error("route with a surviving next hop was purged")
	}
	if n := c.Len(rtobj.KindRoute); n != 2 {
		t.Errorf("%d routes left", n)
	}
}

func TestQueryIsStable(t *testing.T) {
	c := NewCache(nil)
	c.Replace(rtobj.KindLink, objects(link(3, "eth1"), link(1, "lo"), link(2, "eth0")))
	seq := c.Query(rtobj.KindLink, func(o rtobj.Object) bool {
		return o.(rtobj.Link).Index != 1
	})
	c.ApplyDelta(rtobj.KindLink, rtobj.LinkKey{Index: 3}, nil)

	for i := 0; i < 2; i++ {
		var names []string
		for obj := range seq {
			names = append(names, obj.(rtobj.Link).Name)
		}
		if diff := cmp.Diff([]string{"eth1", "eth0"}, names); diff != "" {
			t.Errorf("pass %d (-want +got):\n%s", i, diff)
		}
	}
}
