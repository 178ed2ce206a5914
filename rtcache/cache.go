// Package rtcache keeps routing objects in sync with the kernel.
//
// A Session dumps objects into a Cache, and a Listener applies notifications
// to the same Cache. A dump in flight journals the notifications it races
// with, so Commit can replay them on top of the dump result.
package rtcache

import (
	"cmp"
	"iter"
	"reflect"
	"slices"
	"sync"

	"github.com/hkwi/rtnl"
	"github.com/hkwi/rtnl/rtobj"
	"github.com/pkg/errors"
)

type EventType int

const (
	Added EventType = iota + 1
	Updated
	Removed
)

func (self EventType) String() string {
	switch self {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

type Event struct {
	Type   EventType
	Kind   rtobj.Kind
	Object rtobj.Object
}

type entry struct {
	obj   rtobj.Object
	stamp uint64 // insertion order
}

type store map[rtobj.Key]entry

func byStamp(a, b entry) int {
	return cmp.Compare(a.stamp, b.stamp)
}

type delta struct {
	key rtobj.Key
	obj rtobj.Object // nil for removal
}

// Snapshot is a point in time copy of one kind, in insertion order.
type Snapshot struct {
	Kind       rtobj.Kind
	Generation uint64
	Objects    []rtobj.Object
}

type Cache struct {
	lock       sync.RWMutex
	stores     map[rtobj.Kind]store
	kindGen    map[rtobj.Kind]uint64
	generation uint64
	stamp      uint64
	refreshes  []*Refresh
	metrics    *Metrics
	notify     func(Event) // called with the lock held, in change order
}

func NewCache(metrics *Metrics) *Cache {
	self := &Cache{
		stores:  make(map[rtobj.Kind]store),
		kindGen: make(map[rtobj.Kind]uint64),
		metrics: metrics,
	}
	for _, kind := range rtobj.Kinds {
		self.stores[kind] = make(store)
	}
	return self
}

func mismatch(format string, args ...interface{}) {
	panic(errors.Wrapf(rtnl.NLE_OBJ_MISMATCH, format, args...))
}

func (self *Cache) storeOf(kind rtobj.Kind) store {
	s, ok := self.stores[kind]
	if !ok {
		panic(errors.Wrapf(rtnl.NLE_NOCACHE, "kind %d", kind))
	}
	return s
}

func (self *Cache) emit(events ...Event) {
	if self.notify == nil {
		return
	}
	for _, ev := range events {
		self.notify(ev)
	}
}

func (self *Cache) nextStamp() uint64 {
	self.stamp++
	return self.stamp
}

// Generation counts full refreshes over all kinds.
func (self *Cache) Generation() uint64 {
	self.lock.RLock()
	defer self.lock.RUnlock()
	return self.generation
}

// KindGeneration is the generation of the last refresh of kind, 0 if never refreshed.
func (self *Cache) KindGeneration(kind rtobj.Kind) uint64 {
	self.lock.RLock()
	defer self.lock.RUnlock()
	return self.kindGen[kind]
}

// Replace swaps the whole store of kind and returns the new generation and
// the changes against the previous store.
func (self *Cache) Replace(kind rtobj.Kind, objs []rtobj.Object) (uint64, []Event) {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.replaceLocked(kind, objs, nil)
}

func (self *Cache) replaceLocked(kind rtobj.Kind, objs []rtobj.Object, replay []delta) (uint64, []Event) {
	old := self.storeOf(kind)
	next := make(store, len(objs))
	for _, obj := range objs {
		if obj.Kind() != kind {
			mismatch("%s in %s store", obj.Kind(), kind)
		}
		key := obj.Key()
		if prev, ok := old[key]; ok && reflect.DeepEqual(prev.obj, obj) {
			next[key] = prev
		} else {
			next[key] = entry{obj: obj, stamp: self.nextStamp()}
		}
	}
	for _, d := range replay {
		self.applyTo(next, kind, d.key, d.obj)
	}

	type change struct {
		ev    Event
		stamp uint64
	}
	var changes []change
	for key, e := range old {
		if _, ok := next[key]; !ok {
			changes = append(changes, change{Event{Type: Removed, Kind: kind, Object: e.obj}, e.stamp})
		}
	}
	for key, e := range next {
		prev, ok := old[key]
		switch {
		case !ok:
			changes = append(changes, change{Event{Type: Added, Kind: kind, Object: e.obj}, e.stamp})
		case prev.stamp == e.stamp:
		case reflect.DeepEqual(prev.obj, e.obj):
			// replayed delta already seen by the live store
			next[key] = prev
		default:
			changes = append(changes, change{Event{Type: Updated, Kind: kind, Object: e.obj}, e.stamp})
		}
	}
	// by type, then in dump order; removals in their old order
	slices.SortFunc(changes, func(a, b change) int {
		return cmp.Or(cmp.Compare(a.ev.Type, b.ev.Type), cmp.Compare(a.stamp, b.stamp))
	})
	var events []Event
	for _, c := range changes {
		events = append(events, c.ev)
	}

	self.stores[kind] = next
	self.generation++
	self.kindGen[kind] = self.generation
	self.metrics.objects(kind, len(next))
	self.metrics.generation(self.generation)
	self.emit(events...)
	return self.generation, events
}

// ApplyDelta inserts, updates or, with a nil obj, removes one entry. The
// returned bool tells whether the store changed.
func (self *Cache) ApplyDelta(kind rtobj.Kind, key rtobj.Key, obj rtobj.Object) (Event, bool) {
	if key.Kind() != kind {
		mismatch("%s key in %s store", key.Kind(), kind)
	}
	if obj != nil && (obj.Kind() != kind || obj.Key() != key) {
		mismatch("%s object under %v in %s store", obj.Kind(), key, kind)
	}

	self.lock.Lock()
	defer self.lock.Unlock()
	for _, r := range self.refreshes {
		if r.kind == kind {
			r.deltas = append(r.deltas, delta{key: key, obj: obj})
		}
	}
	s := self.storeOf(kind)
	ev, changed := self.applyTo(s, kind, key, obj)
	if changed {
		self.metrics.objects(kind, len(s))
		self.emit(ev)
	}
	return ev, changed
}

func (self *Cache) applyTo(s store, kind rtobj.Kind, key rtobj.Key, obj rtobj.Object) (Event, bool) {
	prev, exists := s[key]
	switch {
	case obj == nil && !exists:
		return Event{}, false
	case obj == nil:
		delete(s, key)
		return Event{Type: Removed, Kind: kind, Object: prev.obj}, true
	case !exists:
		s[key] = entry{obj: obj, stamp: self.nextStamp()}
		return Event{Type: Added, Kind: kind, Object: obj}, true
	case reflect.DeepEqual(prev.obj, obj):
		return Event{Type: Updated, Kind: kind, Object: obj}, false
	default:
		s[key] = entry{obj: obj, stamp: self.nextStamp()}
		return Event{Type: Updated, Kind: kind, Object: obj}, true
	}
}

// PurgeLink drops the addresses, neighbors and routes bound to link index,
// which the kernel does not always announce when a link goes away.
func (self *Cache) PurgeLink(index int) []Event {
	self.lock.Lock()
	defer self.lock.Unlock()

	bound := map[rtobj.Kind]func(rtobj.Object) bool{
		rtobj.KindAddress: func(o rtobj.Object) bool {
			return o.(rtobj.Address).Index == index
		},
		rtobj.KindNeighbor: func(o rtobj.Object) bool {
			return o.(rtobj.Neighbor).Index == index
		},
		rtobj.KindRoute: func(o rtobj.Object) bool {
			r := o.(rtobj.Route)
			if r.OutIndex == index {
				return true
			}
			for _, nh := range r.Multipath {
				if nh.Index != index {
					return false
				}
			}
			return len(r.Multipath) != 0
		},
	}
	var events []Event
	for _, kind := range []rtobj.Kind{rtobj.KindAddress, rtobj.KindNeighbor, rtobj.KindRoute} {
		s := self.storeOf(kind)
		var gone []entry
		for _, e := range s {
			if bound[kind](e.obj) {
				gone = append(gone, e)
			}
		}
		slices.SortFunc(gone, byStamp)
		for _, e := range gone {
			key := e.obj.Key()
			for _, r := range self.refreshes {
				if r.kind == kind {
					r.deltas = append(r.deltas, delta{key: key})
				}
			}
			if ev, ok := self.applyTo(s, kind, key, nil); ok {
				events = append(events, ev)
			}
		}
		self.metrics.objects(kind, len(s))
	}
	self.emit(events...)
	return events
}

func (self *Cache) sorted(kind rtobj.Kind, pred func(rtobj.Object) bool) []entry {
	self.lock.RLock()
	defer self.lock.RUnlock()

	var ret []entry
	for _, e := range self.storeOf(kind) {
		if pred == nil || pred(e.obj) {
			ret = append(ret, e)
		}
	}
	slices.SortFunc(ret, byStamp)
	return ret
}

// Query returns the objects of kind matching pred, nil matching all. The
// result is fixed when Query is called and may be ranged over repeatedly.
func (self *Cache) Query(kind rtobj.Kind, pred func(rtobj.Object) bool) iter.Seq[rtobj.Object] {
	entries := self.sorted(kind, pred)
	return func(yield func(rtobj.Object) bool) {
		for _, e := range entries {
			if !yield(e.obj) {
				return
			}
		}
	}
}

func (self *Cache) Snapshot(kind rtobj.Kind) Snapshot {
	self.lock.RLock()
	defer self.lock.RUnlock()
	return self.snapshotLocked(kind)
}

func (self *Cache) snapshotLocked(kind rtobj.Kind) Snapshot {
	entries := make([]entry, 0, len(self.storeOf(kind)))
	for _, e := range self.storeOf(kind) {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, byStamp)
	snap := Snapshot{Kind: kind, Generation: self.kindGen[kind]}
	for _, e := range entries {
		snap.Objects = append(snap.Objects, e.obj)
	}
	return snap
}

func (self *Cache) Get(kind rtobj.Kind, key rtobj.Key) (rtobj.Object, bool) {
	self.lock.RLock()
	defer self.lock.RUnlock()
	e, ok := self.storeOf(kind)[key]
	return e.obj, ok
}

func (self *Cache) Len(kind rtobj.Kind) int {
	self.lock.RLock()
	defer self.lock.RUnlock()
	return len(self.storeOf(kind))
}

// Refresh journals the deltas of one kind while its dump is in flight.
type Refresh struct {
	cache  *Cache
	kind   rtobj.Kind
	deltas []delta
	done   bool
}

func (self *Cache) BeginRefresh(kind rtobj.Kind) *Refresh {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.storeOf(kind)
	r := &Refresh{cache: self, kind: kind}
	self.refreshes = append(self.refreshes, r)
	return r
}

func (self *Refresh) finishLocked() {
	if self.done {
		panic(errors.Errorf("%s refresh already finished", self.kind))
	}
	self.done = true
	c := self.cache
	c.refreshes = slices.DeleteFunc(c.refreshes, func(r *Refresh) bool { return r == self })
}

// Commit replaces the store with the dump result, replays the deltas seen
// since BeginRefresh, and returns the resulting snapshot and changes.
func (self *Refresh) Commit(objs []rtobj.Object) (Snapshot, []Event) {
	c := self.cache
	c.lock.Lock()
	defer c.lock.Unlock()
	self.finishLocked()
	_, events := c.replaceLocked(self.kind, objs, self.deltas)
	return c.snapshotLocked(self.kind), events
}

// Abort leaves the store as it is.
func (self *Refresh) Abort() {
	c := self.cache
	c.lock.Lock()
	defer c.lock.Unlock()
	if !self.done {
		self.finishLocked()
	}
}
