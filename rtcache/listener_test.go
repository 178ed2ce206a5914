package rtcache

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hkwi/rtnl/nltest"
	"github.com/hkwi/rtnl/rtobj"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sys/unix"
)

func nextEvent(t *testing.T, l *Listener) Event {
	t.Helper()
	select {
	case ev, ok := <-l.Events():
		if !ok {
			t.Fatalf("events closed: %v", l.Err())
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
	return Event{}
}

func TestListenerEvents(t *testing.T) {
	f := newFixture(t, DefaultConfig)
	ctx := context.Background()
	eth0 := link(2, "eth0")
	viaEth0 := route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	f.kernel.set(rtobj.KindLink, link(1, "lo"), eth0)
	f.kernel.set(rtobj.KindRoute, viaEth0)
	if _, err := f.session.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	l, err := f.session.Subscribe(ctx, GroupLink, GroupIPv4Route)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	for _, g := range []Group{GroupLink, GroupIPv4Route} {
		if !f.listen.Joined(uint32(g)) {
			t.Errorf("group %d not joined", g)
		}
	}
	if f.listen.Joined(uint32(GroupNeigh)) {
		t.Error("joined an unrequested group")
	}

	added := route("10.7.0.0/16", unix.RT_TABLE_MAIN, 0, 1)
	f.listen.Inject(nltest.Notify(unix.RTM_NEWROUTE, added.Encode()))
	ev := nextEvent(t, l)
	if diff := cmp.Diff(Event{Type: Added, Kind: rtobj.KindRoute, Object: added}, ev, cmpOpts...); diff != "" {
		t.Errorf("event (-want +got):\n%s", diff)
	}

	// no change, unsubscribed kind, cloned route, garbage: all silent
	cloned := route("10.7.0.9/32", unix.RT_TABLE_MAIN, 0, 1)
	cloned.Flags = unix.RTM_F_CLONED
	f.listen.Inject(
		nltest.Notify(unix.RTM_NEWROUTE, added.Encode()),
		nltest.Notify(unix.RTM_NEWADDR, address(2, "10.0.0.1/24").Encode()),
		nltest.Notify(unix.RTM_NEWROUTE, cloned.Encode()),
		nltest.Notify(unix.RTM_NEWLINK, []byte{1}),
	)

	eth0.MTU = 9000
	f.listen.Inject(nltest.Notify(unix.RTM_NEWLINK, eth0.Encode()))
	ev = nextEvent(t, l)
	if ev.Type != Updated || ev.Object.(rtobj.Link).MTU != 9000 {
		t.Errorf("unexpected %v", ev)
	}
	if _, ok := f.session.Cache().Get(rtobj.KindRoute, cloned.Key()); ok {
		t.Error("cloned route cached")
	}
	if n := testutil.ToFloat64(f.metrics.DecodeErrors); n != 1 {
		t.Errorf("%v decode errors counted", n)
	}

	// removing a link takes its routes along
	f.listen.Inject(nltest.Notify(unix.RTM_DELLINK, eth0.Encode()))
	ev = nextEvent(t, l)
	if ev.Type != Removed || ev.Kind != rtobj.KindLink {
		t.Errorf("unexpected %v", ev)
	}
	ev = nextEvent(t, l)
	if diff := cmp.Diff(Event{Type: Removed, Kind: rtobj.KindRoute, Object: viaEth0}, ev, cmpOpts...); diff != "" {
		t.Errorf("event (-want +got):\n%s", diff)
	}
	if n := f.session.Cache().Len(rtobj.KindRoute); n != 1 {
		t.Errorf("%d routes left", n)
	}
	if n := testutil.ToFloat64(f.metrics.Deltas.WithLabelValues("route", "removed")); n != 1 {
		t.Errorf("%v route removals counted", n)
	}
}

func TestListenerOverrun(t *testing.T) {
	f := newFixture(t, DefaultConfig)
	ctx := context.Background()
	stale := route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	kept := route("10.1.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	f.kernel.set(rtobj.KindLink, link(2, "eth0"))
	f.kernel.set(rtobj.KindRoute, stale, kept)
	if _, err := f.session.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	l, err := f.session.Subscribe(ctx, GroupLink, GroupIPv4Route)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// notifications lost in the overrun
	fresh := route("10.2.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	f.kernel.set(rtobj.KindRoute, kept, fresh)
	f.listen.InjectError(unix.ENOBUFS)

	got := map[EventType]rtobj.Object{}
	for i := 0; i < 2; i++ {
		ev := nextEvent(t, l)
		got[ev.Type] = ev.Object
	}
	want := map[EventType]rtobj.Object{Added: fresh, Removed: stale}
	if diff := cmp.Diff(want, got, cmpOpts...); diff != "" {
		t.Errorf("resync events (-want +got):\n%s", diff)
	}
	if n := testutil.ToFloat64(f.metrics.Overruns); n != 1 {
		t.Errorf("%v overruns counted", n)
	}

	// still listening
	f.listen.Inject(nltest.Notify(unix.RTM_DELROUTE, kept.Encode()))
	if ev := nextEvent(t, l); ev.Type != Removed {
		t.Errorf("unexpected %v", ev)
	}
}

func TestListenerOverrunNoResync(t *testing.T) {
	cfg := DefaultConfig
	cfg.ResyncOnOverrun = false
	f := newFixture(t, cfg)
	ctx := context.Background()
	l, err := f.session.Subscribe(ctx, GroupIPv4Route)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	f.listen.InjectError(unix.ENOBUFS)
	r := route("10.2.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	f.listen.Inject(nltest.Notify(unix.RTM_NEWROUTE, r.Encode()))
	if ev := nextEvent(t, l); ev.Type != Added {
		t.Errorf("unexpected %v", ev)
	}
	if len(f.sock.Sent()) != 0 {
		t.Error("resync requested")
	}
}

func TestListenerClose(t *testing.T) {
	f := newFixture(t, DefaultConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := f.session.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range DefaultConfig.Groups {
		g, _ := ParseGroup(name)
		if !f.listen.Joined(uint32(g)) {
			t.Errorf("%s not joined", name)
		}
	}
	l.Close()
	l.Close()
	if _, ok := <-l.Events(); ok {
		t.Error("events still open")
	}
	if l.Err() != nil {
		t.Errorf("closed listener reports %v", l.Err())
	}

	f.listen = nltest.NewSocket(listenerPort, nil)
	l, err = f.session.Subscribe(ctx, GroupLink)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, ok := <-l.Events(); ok {
		t.Error("events still open")
	}
	if !errors.Is(l.Err(), context.Canceled) {
		t.Errorf("want context.Canceled, got %v", l.Err())
	}
}

func TestListenerSessionChanges(t *testing.T) {
	f := newFixture(t, DefaultConfig)
	ctx := context.Background()
	l, err := f.session.Subscribe(ctx, GroupIPv4Route)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	expect := func(want ...Event) {
		t.Helper()
		for _, w := range want {
			if diff := cmp.Diff(w, nextEvent(t, l), cmpOpts...); diff != "" {
				t.Errorf("event (-want +got):\n%s", diff)
			}
		}
	}

	// the echo reaches the cache before the multicast copy
	r := route("10.9.0.0/16", unix.RT_TABLE_MAIN, 0, 2)
	marker := route("10.8.0.0/16", unix.RT_TABLE_MAIN, 0, 2)
	if err := f.session.AddRoute(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := f.session.AddAddress(ctx, address(2, "10.9.0.1/16")); err != nil {
		t.Fatal(err)
	}
	f.listen.Inject(
		nltest.Notify(unix.RTM_NEWROUTE, r.Encode()),
		nltest.Notify(unix.RTM_NEWROUTE, marker.Encode()),
	)
	expect(
		Event{Type: Added, Kind: rtobj.KindRoute, Object: r},
		Event{Type: Added, Kind: rtobj.KindRoute, Object: marker},
	)

	if err := f.session.DelRoute(ctx, r); err != nil {
		t.Fatal(err)
	}
	f.listen.Inject(
		nltest.Notify(unix.RTM_DELROUTE, r.Encode()),
		nltest.Notify(unix.RTM_DELROUTE, marker.Encode()),
	)
	expect(
		Event{Type: Removed, Kind: rtobj.KindRoute, Object: r},
		Event{Type: Removed, Kind: rtobj.KindRoute, Object: marker},
	)

	// a refresh started by the user is reported too
	dumped := route("10.7.0.0/16", unix.RT_TABLE_MAIN, 0, 2)
	f.kernel.set(rtobj.KindRoute, dumped)
	if _, err := f.session.Refresh(ctx, rtobj.KindRoute, rtobj.KindAddress); err != nil {
		t.Fatal(err)
	}
	f.listen.Inject(nltest.Notify(unix.RTM_NEWROUTE, marker.Encode()))
	expect(
		Event{Type: Added, Kind: rtobj.KindRoute, Object: dumped},
		Event{Type: Added, Kind: rtobj.KindRoute, Object: marker},
	)
	if n := testutil.ToFloat64(f.metrics.Deltas.WithLabelValues("route", "added")); n != 4 {
		t.Errorf("%v route additions counted", n)
	}
}

func TestListenerRefreshRace(t *testing.T) {
	f := newFixture(t, DefaultConfig)
	ctx := context.Background()
	stale := route("10.0.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	kept := route("10.1.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	f.kernel.set(rtobj.KindRoute, stale, kept)

	l, err := f.session.Subscribe(ctx, GroupIPv4Route)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if _, err := f.session.DumpRoutes(ctx); err != nil {
		t.Fatal(err)
	}
	for _, want := range []rtobj.Object{stale, kept} {
		if diff := cmp.Diff(Event{Type: Added, Kind: rtobj.KindRoute, Object: want}, nextEvent(t, l), cmpOpts...); diff != "" {
			t.Errorf("initial dump (-want +got):\n%s", diff)
		}
	}

	// raced is announced while the dump is in flight and missing from it
	raced := route("10.5.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	dumped := route("10.6.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	f.kernel.set(rtobj.KindRoute, kept, dumped)
	f.kernel.onDump = func() {
		f.kernel.onDump = nil
		f.listen.Inject(nltest.Notify(unix.RTM_NEWROUTE, raced.Encode()))
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if _, ok := f.session.Cache().Get(rtobj.KindRoute, raced.Key()); ok {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Error("notification not applied during the dump")
	}
	events, err := f.session.Refresh(ctx, rtobj.KindRoute)
	if err != nil {
		t.Fatal(err)
	}

	want := []Event{
		{Type: Added, Kind: rtobj.KindRoute, Object: dumped},
		{Type: Removed, Kind: rtobj.KindRoute, Object: stale},
	}
	if diff := cmp.Diff(want, events, cmpOpts...); diff != "" {
		t.Errorf("refresh (-want +got):\n%s", diff)
	}
	want = append([]Event{{Type: Added, Kind: rtobj.KindRoute, Object: raced}}, want...)
	for _, w := range want {
		if diff := cmp.Diff(w, nextEvent(t, l), cmpOpts...); diff != "" {
			t.Errorf("listener (-want +got):\n%s", diff)
		}
	}
	if diff := cmp.Diff(objects(kept, raced, dumped), f.session.Cache().Snapshot(rtobj.KindRoute).Objects, cmpOpts...); diff != "" {
		t.Errorf("cache (-want +got):\n%s", diff)
	}

	// nothing else is pending
	last := route("10.9.0.0/24", unix.RT_TABLE_MAIN, 0, 2)
	f.listen.Inject(nltest.Notify(unix.RTM_NEWROUTE, last.Encode()))
	if diff := cmp.Diff(Event{Type: Added, Kind: rtobj.KindRoute, Object: last}, nextEvent(t, l), cmpOpts...); diff != "" {
		t.Errorf("event (-want +got):\n%s", diff)
	}
}
