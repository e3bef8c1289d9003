package feed

import (
	"container/heap"
	"errors"
	"io"
)

// Merger interleaves several feeders into one time-ordered stream. Points
// with equal timestamps keep the order of the feeders passed to NewMerger.
type Merger struct {
	feeders []Feeder
	queue   headQueue
	primed  bool
}

// NewMerger merges feeders.
func NewMerger(feeders ...Feeder) *Merger {
	return &Merger{feeders: feeders}
}

// Next returns the earliest pending point across all feeders.
func (m *Merger) Next() (Data, error) {
	if !m.primed {
		m.primed = true
		for i := range m.feeders {
			if err := m.pull(i); err != nil {
				return nil, err
			}
		}
	}
	if m.queue.Len() == 0 {
		return nil, io.EOF
	}
	head := heap.Pop(&m.queue).(*headItem)
	if err := m.pull(head.source); err != nil {
		return nil, err
	}
	return head.data, nil
}

func (m *Merger) pull(source int) error {
	data, err := m.feeders[source].Next()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	heap.Push(&m.queue, &headItem{data: data, source: source})
	return nil
}

// Close closes every feeder that implements io.Closer.
func (m *Merger) Close() error {
	var errs []error
	for _, f := range m.feeders {
		if c, ok := f.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

type headItem struct {
	data   Data
	source int
	index  int
}

type headQueue []*headItem

func (q headQueue) Len() int { return len(q) }

func (q headQueue) Less(i, j int) bool {
	ti, tj := q[i].data.Time(), q[j].data.Time()
	if ti.Equal(tj) {
		return q[i].source < q[j].source
	}
	return ti.Before(tj)
}

func (q headQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *headQueue) Push(x any) {
	item := x.(*headItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *headQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	item.index = -1
	*q = old[:n-1]
	return item
}
