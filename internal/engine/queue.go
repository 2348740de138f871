package engine

import "sync"

// Queue is the FIFO of pending uploads shared by the detector (producer) and
// the drain loop (consumer). It is safe for concurrent use; a path is queued
// at most once at a time.
type Queue struct {
	mu    sync.Mutex
	tasks []UploadTask
	paths map[string]struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{paths: make(map[string]struct{})}
}

// Push appends task unless a task for the same path is already queued. It
// reports whether the task was added.
func (q *Queue) Push(task UploadTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.paths[task.Record.Path]; ok {
		return false
	}
	q.paths[task.Record.Path] = struct{}{}
	q.tasks = append(q.tasks, task)
	return true
}

// Pop removes and returns the oldest task.
func (q *Queue) Pop() (UploadTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return UploadTask{}, false
	}
	task := q.tasks[0]
	q.tasks[0] = UploadTask{}
	q.tasks = q.tasks[1:]
	delete(q.paths, task.Record.Path)
	return task, true
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Contains reports whether a task for path is queued.
func (q *Queue) Contains(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.paths[path]
	return ok
}
