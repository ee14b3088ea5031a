package build

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/couchgo/internal/compiler"
	"github.com/mattjoyce/couchgo/internal/ddoc"
	"github.com/mattjoyce/couchgo/internal/log"
)

// Compiler is the part of the compile cache the scheduler drives.
type Compiler interface {
	Hash(code string) compiler.Key
	IsCompiled(key compiler.Key) bool
	Compile(ctx context.Context, code string) (compiler.Artifact, error)
	SetSharedCode(tree map[string]any)
	PrepareEnv() (string, error)
	DropEnv() error
}

// Scheduler precompiles every fragment of a design document with a bounded
// worker pool.
type Scheduler struct {
	compiler Compiler
	threads  int
	numCPU   func() int
}

// NewScheduler returns a scheduler. threads > 0 is an exact worker count,
// threads < 0 means exactly -threads workers, 0 uses the number of CPUs.
func NewScheduler(c Compiler, threads int) *Scheduler {
	return &Scheduler{
		compiler: c,
		threads:  threads,
		numCPU:   runtime.NumCPU,
	}
}

// Workers returns the pool size for a batch of jobs.
func (s *Scheduler) Workers(jobs int) int {
	var n int
	switch {
	case s.threads > 0:
		n = s.threads
	case s.threads < 0:
		n = -s.threads
	default:
		n = s.numCPU()
	}
	if n > jobs {
		n = jobs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// firstError keeps the first error reported by any worker.
type firstError struct {
	mu  sync.Mutex
	err error
}

func (f *firstError) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *firstError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Precompile compiles every fragment of doc that is not cached yet. Workers
// keep draining the queue after a failure; the first failure is returned
// once all of them have finished. The staging directory is removed
// afterwards in every case.
func (s *Scheduler) Precompile(ctx context.Context, doc *ddoc.Document) error {
	q := NewQueue()
	for _, f := range doc.Fragments() {
		if s.compiler.IsCompiled(s.compiler.Hash(f.Code)) {
			continue
		}
		q.Enqueue(f)
	}
	pending := q.Depth()
	if pending == 0 {
		return nil
	}

	logger := log.WithDesignDoc(doc.ID).With("component", "build")
	s.compiler.SetSharedCode(doc.Lib())
	defer func() {
		if err := s.compiler.DropEnv(); err != nil {
			logger.Warn("failed to drop staging directory", "error", err)
		}
	}()
	if _, err := s.compiler.PrepareEnv(); err != nil {
		return fmt.Errorf("prepare staging: %w", err)
	}

	workers := s.Workers(pending)
	logger.Info("precompile started", "fragments", pending, "workers", workers)
	started := time.Now()

	var (
		g     errgroup.Group
		first firstError
	)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				job, ok := q.Dequeue()
				if !ok {
					return nil
				}
				if _, err := s.compiler.Compile(ctx, job.Fragment.Code); err != nil {
					logger.Warn("fragment failed to compile",
						"category", job.Fragment.Category,
						"name", job.Fragment.Name,
						"error", err,
					)
					first.set(err)
				}
			}
		})
	}
	_ = g.Wait()

	err := first.get()
	logger.Info("precompile finished",
		"fragments", pending,
		"duration_ms", time.Since(started).Milliseconds(),
		"failed", err != nil,
	)
	return err
}
