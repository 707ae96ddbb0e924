package bus

import "sync"

// listeners is the OnReconnected/OnDisconnected registry shared by the Client
// implementations.
type listeners struct {
	lmu   sync.Mutex
	next  int
	recon map[int]func()
	lost  map[int]func()
}

func (l *listeners) OnReconnected(fn func()) (cancel func()) {
	return l.add(&l.recon, fn)
}

func (l *listeners) OnDisconnected(fn func()) (cancel func()) {
	return l.add(&l.lost, fn)
}

func (l *listeners) add(set *map[int]func(), fn func()) func() {
	l.lmu.Lock()
	defer l.lmu.Unlock()

	if *set == nil {
		*set = make(map[int]func())
	}
	id := l.next
	l.next++
	(*set)[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.lmu.Lock()
			delete(*set, id)
			l.lmu.Unlock()
		})
	}
}

func (l *listeners) notifyReconnected() { l.notify(&l.recon) }

func (l *listeners) notifyDisconnected() { l.notify(&l.lost) }

func (l *listeners) notify(set *map[int]func()) {
	l.lmu.Lock()
	fns := make([]func(), 0, len(*set))
	for _, fn := range *set {
		fns = append(fns, fn)
	}
	l.lmu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
