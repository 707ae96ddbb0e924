package room

import "sync"

// observers fans snapshots out to watchers. Each watcher channel holds only
// the latest snapshot: a full-state snapshot makes older ones redundant, and
// a slow consumer must never hold up the actor.
type observers struct {
	obsMu    sync.Mutex
	last     Snapshot
	seq      uint64
	nextID   int
	watchers map[int]chan Snapshot
	done     bool
}

func (o *observers) init(first Snapshot) {
	o.last = first
	o.watchers = make(map[int]chan Snapshot)
}

func (o *observers) broadcast(snap Snapshot) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()

	if o.done {
		return
	}
	o.seq++
	snap.Seq = o.seq
	o.last = snap
	for _, ch := range o.watchers {
		offerLatest(ch, snap)
	}
}

func offerLatest(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	// Replace the stale snapshot; only broadcast writes, under obsMu.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Watch returns a channel that immediately holds the current snapshot and
// then the latest one after every change. The channel is closed by cancel or
// when the session closes (after the final Closed snapshot).
func (o *observers) Watch() (<-chan Snapshot, func()) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- o.last
	if o.done {
		close(ch)
		return ch, func() {}
	}

	id := o.nextID
	o.nextID++
	o.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.obsMu.Lock()
			defer o.obsMu.Unlock()
			if c, ok := o.watchers[id]; ok {
				delete(o.watchers, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Snapshot returns the most recently published snapshot.
func (o *observers) Snapshot() Snapshot {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	return o.last
}

// State returns the state of the most recent snapshot.
func (o *observers) State() State {
	return o.Snapshot().State
}

func (o *observers) closeObservers() {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()

	o.done = true
	for id, ch := range o.watchers {
		delete(o.watchers, id)
		close(ch)
	}
}
