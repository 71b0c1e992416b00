package sync

import (
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/openmirror/treesync/internal/queue"
)

// Listener priorities. The manager subscribes above everything else so
// that propagation runs before observers see the event.
const (
	PriorityManager = 100
	PriorityDefault = 0
)

// WatchEvent is one flushed batch of changes from a single target.
type WatchEvent struct {
	TargetID string
	Changes  []*FileChangeInfo
}

// WatchHandler consumes watch events. Handlers run synchronously on the
// target's watch goroutine, in descending priority order.
type WatchHandler func(event *WatchEvent)

type watchListener struct {
	id       string
	priority int
	filters  []string
	handler  WatchHandler
}

// wants reports whether the listener's filter set matches path. An
// empty filter set matches everything.
func (l *watchListener) wants(path string) bool {
	if len(l.filters) == 0 {
		return true
	}
	rel := strings.TrimPrefix(path, "/")
	for _, pattern := range l.filters {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// watchRegistry holds the listeners of one target and dispatches change
// batches to them in priority order.
type watchRegistry struct {
	mu        sync.Mutex
	listeners map[string]*watchListener
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{listeners: make(map[string]*watchListener)}
}

// subscribe registers a handler and returns its listener id. filters
// are doublestar glob patterns relative to the target root; nil means
// all paths.
func (r *watchRegistry) subscribe(priority int, filters []string, handler WatchHandler) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.listeners[id] = &watchListener{
		id:       id,
		priority: priority,
		filters:  append([]string(nil), filters...),
		handler:  handler,
	}
	r.mu.Unlock()
	return id
}

// unsubscribe removes a listener. Returns false for unknown ids.
func (r *watchRegistry) unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[id]; !ok {
		return false
	}
	delete(r.listeners, id)
	return true
}

// dispatch delivers the event to every listener whose filters match at
// least one change, highest priority first. Each listener receives only
// the changes it asked for.
func (r *watchRegistry) dispatch(event *WatchEvent) {
	r.mu.Lock()
	pq := queue.NewPriorityQueue[*watchListener]()
	for _, l := range r.listeners {
		pq.Enqueue(l, l.priority)
	}
	r.mu.Unlock()

	for _, l := range pq.Drain() {
		matched := make([]*FileChangeInfo, 0, len(event.Changes))
		for _, c := range event.Changes {
			if l.wants(c.Path) {
				matched = append(matched, c)
			}
		}
		if len(matched) == 0 {
			continue
		}
		l.handler(&WatchEvent{TargetID: event.TargetID, Changes: matched})
	}
}
