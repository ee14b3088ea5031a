package build

import (
	"sync"

	"github.com/mattjoyce/couchgo/internal/ddoc"
)

// Job is one fragment waiting to be compiled.
type Job struct {
	Seq      int
	Fragment ddoc.Fragment
}

// Queue is a FIFO of jobs shared by the build workers. Each job is handed
// out exactly once.
type Queue struct {
	mu   sync.Mutex
	jobs []Job
	seq  int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a fragment and returns its sequence number.
func (q *Queue) Enqueue(f ddoc.Fragment) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.jobs = append(q.jobs, Job{Seq: q.seq, Fragment: f})
	return q.seq
}

// Dequeue removes the oldest job. ok is false when the queue is empty.
func (q *Queue) Dequeue() (job Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	job = q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	return job, true
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
