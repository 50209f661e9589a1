package blocklist

import (
	"sync"

	"github.com/haukened/callguard/internal/guard/domain"
)

// notifier fans out change notifications without ever blocking the writer.
// A watcher whose buffer is full misses the notification; onDrop is called.
type notifier struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan domain.Change
	onDrop func()
}

func newNotifier(onDrop func()) *notifier {
	return &notifier{subs: make(map[int]chan domain.Change), onDrop: onDrop}
}

func (n *notifier) watch(buffer int) (<-chan domain.Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.Change, buffer)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (n *notifier) publish(c domain.Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- c:
		default:
			if n.onDrop != nil {
				n.onDrop()
			}
		}
	}
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
