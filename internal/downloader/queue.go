package downloader

import "container/list"

// queue is a FIFO of download records with O(1) push, pop and removal from
// any position. Each record carries its own membership token (the list
// element plus the owning queue); the token is valid exactly once and is
// invalidated the moment the record leaves the queue. All mutation happens
// under the orchestrator lock.
type queue struct {
	l *list.List

	// onInsert and onRemove let the orchestrator react to capacity
	// changes. Either may be nil.
	onInsert func(*Download)
	onRemove func(*Download)
}

func newQueue() *queue {
	return &queue{l: list.New()}
}

func (q *queue) len() int {
	return q.l.Len()
}

func (q *queue) pushBack(d *Download) {
	d.elem = q.l.PushBack(d)
	d.owner = q

	if q.onInsert != nil {
		q.onInsert(d)
	}
}

func (q *queue) popFront() *Download {
	front := q.l.Front()
	if front == nil {
		return nil
	}

	d := q.l.Remove(front).(*Download)
	d.elem = nil
	d.owner = nil

	if q.onRemove != nil {
		q.onRemove(d)
	}

	return d
}

// remove takes d out of the queue wherever it sits, preserving the relative
// order of the remainder. Removing a record that is not a member is a no-op;
// races between admission and explicit removal make that a normal case.
func (q *queue) remove(d *Download) bool {
	if d.owner != q || d.elem == nil {
		return false
	}

	q.l.Remove(d.elem)
	d.elem = nil
	d.owner = nil

	if q.onRemove != nil {
		q.onRemove(d)
	}

	return true
}

// each calls fn for every record in current order until fn returns false.
func (q *queue) each(fn func(*Download) bool) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.(*Download)) {
			return
		}
	}
}

// records returns the members in current order.
func (q *queue) records() []*Download {
	out := make([]*Download, 0, q.l.Len())

	q.each(func(d *Download) bool {
		out = append(out, d)

		return true
	})

	return out
}
