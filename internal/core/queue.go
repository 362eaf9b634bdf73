package core

import (
	"container/heap"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

// recordQueue orders eligible records by priority rank, then creation time,
// then name so that dispatch order is deterministic.
type recordQueue []*models.TaskRecord

func (q recordQueue) Len() int { return len(q) }

func (q recordQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if ra, rb := a.Priority().Rank(), b.Priority().Rank(); ra != rb {
		return ra < rb
	}
	if ta, tb := a.CreatedAt(), b.CreatedAt(); !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.Name < b.Name
}

func (q recordQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *recordQueue) Push(x any) { *q = append(*q, x.(*models.TaskRecord)) }

func (q *recordQueue) Pop() any {
	old := *q
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return rec
}

// OrderRecords returns records in dispatch order without modifying the input.
func OrderRecords(records []*models.TaskRecord) []*models.TaskRecord {
	q := make(recordQueue, len(records))
	copy(q, records)
	heap.Init(&q)
	out := make([]*models.TaskRecord, 0, len(records))
	for q.Len() > 0 {
		out = append(out, heap.Pop(&q).(*models.TaskRecord))
	}
	return out
}
