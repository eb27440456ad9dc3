package downloader

// EventKind identifies one of the fixed lifecycle notifications.
type EventKind int

const (
	EventQueue EventKind = iota
	EventActivate
	EventProgress
	EventComplete
	EventFail
	EventPause
	EventUnpause
	EventRemove
	// EventDone fires after every terminal outcome, including removal.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventQueue:
		return "queue"
	case EventActivate:
		return "activate"
	case EventProgress:
		return "progress"
	case EventComplete:
		return "complete"
	case EventFail:
		return "fail"
	case EventPause:
		return "pause"
	case EventUnpause:
		return "unpause"
	case EventRemove:
		return "remove"
	case EventDone:
		return "done"
	}

	return "unknown"
}

// Event is one lifecycle notification for a download record. Events for a
// given record are delivered in causal order; no ordering holds between
// records.
type Event struct {
	Kind     EventKind
	Download *Download
	Err      *Error
}

// Subscription receives events from the downloader. Close it to unsubscribe.
type Subscription struct {
	d  *Downloader
	id string // filter to one record; empty matches all
	ch chan Event
}

// Events is the channel notifications arrive on. Delivery is best effort: a
// subscriber that stops draining loses events rather than stalling transfers.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes. The event channel is not closed, so a concurrent
// reader never observes a spurious zero Event.
func (s *Subscription) Close() {
	s.d.unsubscribe(s)
}

// Subscribe registers for lifecycle events. A non-empty id restricts
// delivery to that record's events. Progress events are only produced while
// at least one matching subscription exists.
func (d *Downloader) Subscribe(id string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 16
	}

	sub := &Subscription{d: d, id: id, ch: make(chan Event, buffer)}

	d.mu.Lock()
	d.subs[sub] = struct{}{}
	d.mu.Unlock()

	return sub
}

func (d *Downloader) unsubscribe(sub *Subscription) {
	d.mu.Lock()
	delete(d.subs, sub)
	d.mu.Unlock()
}

// emitLocked fans an event out to matching subscriptions. Caller holds d.mu.
func (d *Downloader) emitLocked(kind EventKind, dl *Download, err *Error) {
	for sub := range d.subs {
		if sub.id != "" && sub.id != dl.id {
			continue
		}

		select {
		case sub.ch <- Event{Kind: kind, Download: dl, Err: err}:
		default:
		}
	}
}

// hasObserverLocked reports whether any subscription would receive events
// for dl. Caller holds d.mu.
func (d *Downloader) hasObserverLocked(dl *Download) bool {
	for sub := range d.subs {
		if sub.id == "" || sub.id == dl.id {
			return true
		}
	}

	return false
}
