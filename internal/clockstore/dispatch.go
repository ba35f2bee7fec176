package clockstore

import "sync"

// dispatcher delivers changes to one handler on its own goroutine, so a
// writer never runs a subscriber's handler while holding its own locks.
type dispatcher struct {
	handler func(Change)

	mu      sync.Mutex
	pending []Change

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	finished chan struct{}
}

func newDispatcher(handler func(Change)) *dispatcher {
	d := &dispatcher{
		handler:  handler,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) push(c Change) {
	d.mu.Lock()
	d.pending = append(d.pending, c)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.finished)
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			c := d.pending[0]
			d.pending = d.pending[1:]
			d.mu.Unlock()

			select {
			case <-d.done:
				return
			default:
			}
			d.handler(c)
		}
	}
}

// stop ends delivery. Pending changes are dropped.
func (d *dispatcher) stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
