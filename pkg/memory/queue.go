package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

const queueCapacity = 256

// SaveTask carries everything needed to persist one finished task.
type SaveTask struct {
	Instruction   string
	Steps         []types.Step
	Result        map[string]interface{}
	Success       bool
	Duration      float64
	FilesInvolved []string
}

// WriteQueue buffers memory writes behind a single worker goroutine so task
// execution never waits on persistence. An inter-process file lock guards
// against a second agent instance writing the same database.
type WriteQueue struct {
	tasks    chan SaveTask
	lock     *flock.Flock
	save     func(context.Context, SaveTask)
	log      logger.Logger
	wg       sync.WaitGroup
	shutdown sync.Once
}

// NewWriteQueue starts the worker. save is invoked for each dequeued task
// while the lock file is held.
func NewWriteQueue(lockPath string, save func(context.Context, SaveTask), log logger.Logger) *WriteQueue {
	_ = os.MkdirAll(filepath.Dir(lockPath), 0755)

	q := &WriteQueue{
		tasks: make(chan SaveTask, queueCapacity),
		lock:  flock.New(lockPath),
		save:  save,
		log:   log,
	}
	q.wg.Add(1)
	go q.worker()
	log.Infof("Memory write queue started (capacity %d)", queueCapacity)
	return q
}

func (q *WriteQueue) worker() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.process(task)
	}
}

func (q *WriteQueue) process(task SaveTask) {
	if err := q.lock.Lock(); err != nil {
		q.log.Warnf("Memory lock unavailable, writing without it: %v", err)
	} else {
		defer func() {
			if err := q.lock.Unlock(); err != nil {
				q.log.Warnf("Failed to release memory lock: %v", err)
			}
		}()
	}
	q.save(context.Background(), task)
}

// Enqueue adds a save task without blocking. A full queue drops the task
// with a warning; losing one memory write is better than stalling a task.
func (q *WriteQueue) Enqueue(task SaveTask) {
	select {
	case q.tasks <- task:
	default:
		q.log.Warnf("Memory write queue full, dropping save for: %s", truncate(task.Instruction, 50))
	}
}

// Shutdown stops accepting tasks and waits for queued writes to finish.
func (q *WriteQueue) Shutdown() {
	q.shutdown.Do(func() {
		close(q.tasks)
	})
	q.wg.Wait()
}
