// Package ttq is a timed task queue: one worker runs closures in order of
// due time, ties broken by the order they were added.
package ttq

import (
	"container/heap"
	"time"

	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/sync"
)

// Task is a unit of work run on the queue worker
type Task func()

type itemKind int

const (
	kindTask itemKind = iota
	kindDrain
)

type item struct {
	due   time.Time
	seq   uint64
	id    string
	fn    Task
	kind  itemKind
	index int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a timed task queue
type Queue struct {
	name     string
	access   sync.Mutex
	items    itemHeap
	byID     map[string]*item
	seq      uint64
	draining bool
	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      *log.Logger
}

// New creates a queue, call Run to start its worker
func New(name string) *Queue {
	return &Queue{
		name: name,
		byID: make(map[string]*item),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		log:  log.For(name),
	}
}

// AddTask schedules fn to run after delay. a non empty id replaces any
// pending task with the same id.
func (q *Queue) AddTask(fn Task, delay time.Duration, id string) {
	q.addAt(fn, time.Now().Add(delay), id, kindTask)
}

func (q *Queue) addAt(fn Task, due time.Time, id string, kind itemKind) {
	q.access.Lock()
	if id != "" {
		if old, ok := q.byID[id]; ok {
			heap.Remove(&q.items, old.index)
			delete(q.byID, id)
		}
	}
	q.seq++
	it := &item{
		due:  due,
		seq:  q.seq,
		id:   id,
		fn:   fn,
		kind: kind,
	}
	heap.Push(&q.items, it)
	if id != "" {
		q.byID[id] = it
	}
	head := q.items[0] == it
	q.access.Unlock()
	if head {
		q.signal()
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Cancel removes a pending task by id, returns true if one was removed
func (q *Queue) Cancel(id string) bool {
	q.access.Lock()
	defer q.access.Unlock()
	it, ok := q.byID[id]
	if ok {
		heap.Remove(&q.items, it.index)
		delete(q.byID, id)
	}
	return ok
}

// Len returns the number of pending tasks
func (q *Queue) Len() int {
	q.access.Lock()
	defer q.access.Unlock()
	return len(q.items)
}

// Stop makes the worker exit without running pending tasks
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.quit)
	})
}

// Drain makes the worker run every task due so far and every task
// pending after that, then exit once the queue is empty
func (q *Queue) Drain() {
	q.addAt(nil, time.Now(), "", kindDrain)
}

// Wait blocks until the worker has exited
func (q *Queue) Wait() {
	<-q.done
}

// Run runs the worker until Stop or Drain
func (q *Queue) Run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		default:
		}
		q.access.Lock()
		if len(q.items) == 0 {
			draining := q.draining
			q.access.Unlock()
			if draining {
				return
			}
			select {
			case <-q.wake:
			case <-q.quit:
				return
			}
			continue
		}
		next := q.items[0]
		wait := time.Until(next.due)
		if wait > 0 {
			q.access.Unlock()
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-q.wake:
				t.Stop()
			case <-q.quit:
				t.Stop()
				return
			}
			continue
		}
		heap.Pop(&q.items)
		if next.id != "" && q.byID[next.id] == next {
			delete(q.byID, next.id)
		}
		if next.kind == kindDrain {
			q.draining = true
			q.access.Unlock()
			continue
		}
		q.access.Unlock()
		q.run(next)
	}
}

func (q *Queue) run(it *item) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorf("task %q panicked: %v", it.id, r)
		}
	}()
	it.fn()
}
