package server

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glromeo/esnext-web-modules/internal/importmap"
)

// buildQueue schedules the build tasks of the web modules, at most one task per pathname
// is pending at any time.
type buildQueue struct {
	lock  sync.Mutex
	tasks map[string]*BuildTask
	queue *list.List
	// waits[a][b] counts the waits of the task a on the task b
	waits map[string]map[string]int
	idles int
}

// BuildTask is the pending build of a pathname, every caller asking for the same
// pathname while it's pending shares the same task.
type BuildTask struct {
	Pathname  string
	URL       string
	build     func(task *BuildTask) error
	el        *list.Element
	done      chan struct{}
	err       error
	waiting   int
	createdAt time.Time
	startedAt time.Time

	lock     sync.Mutex
	resolved map[string]string
	requires []string
	meta     *BuildMeta
}

type taskContextKey struct{}

func withTask(ctx context.Context, task *BuildTask) context.Context {
	return context.WithValue(ctx, taskContextKey{}, task)
}

func taskFromContext(ctx context.Context) *BuildTask {
	task, _ := ctx.Value(taskContextKey{}).(*BuildTask)
	return task
}

func newBuildQueue(concurrency int) *buildQueue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &buildQueue{
		tasks: map[string]*BuildTask{},
		queue: list.New(),
		waits: map[string]map[string]int{},
		idles: concurrency,
	}
}

func newSettledTask(pathname string, url string) *BuildTask {
	done := make(chan struct{})
	close(done)
	return &BuildTask{Pathname: pathname, URL: url, done: done}
}

// Done returns a channel that's closed when the task is settled.
func (task *BuildTask) Done() <-chan struct{} {
	return task.done
}

// Err returns the error of a settled task.
func (task *BuildTask) Err() error {
	select {
	case <-task.done:
		return task.err
	default:
		return nil
	}
}

// Wait waits for the task, the context only bounds the wait: the task itself runs to completion.
func (task *BuildTask) Wait(ctx context.Context) error {
	select {
	case <-task.done:
		return task.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Meta returns the build meta of a task that built successfully.
func (task *BuildTask) Meta() *BuildMeta {
	select {
	case <-task.done:
		return task.meta
	default:
		return nil
	}
}

// add returns the pending task of the pathname or adds a new one. Pathnames already in the
// import map get a settled task.
func (q *buildQueue) add(pathname string, im *importmap.ImportMap, url string, build func(task *BuildTask) error) *BuildTask {
	q.lock.Lock()
	defer q.lock.Unlock()

	if url, ok := im.Get(pathname); ok {
		return newSettledTask(pathname, url)
	}

	// check if the task is already in the queue
	task, ok := q.tasks[pathname]
	if ok {
		return task
	}

	task = &BuildTask{
		Pathname:  pathname,
		URL:       url,
		build:     build,
		done:      make(chan struct{}),
		createdAt: time.Now(),
		resolved:  map[string]string{},
	}
	task.el = q.queue.PushBack(task)
	q.tasks[pathname] = task
	q.schedule()
	return task
}

// schedule starts the queued tasks while there are idle slots, the caller holds the lock.
func (q *buildQueue) schedule() {
	for q.idles > 0 {
		el := q.queue.Front()
		if el == nil {
			return
		}
		task := el.Value.(*BuildTask)
		q.queue.Remove(el)
		task.el = nil
		task.startedAt = time.Now()
		q.idles--
		go q.run(task)
	}
}

func (q *buildQueue) run(task *BuildTask) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build '%s': %v", task.Pathname, r)
		}
		if err == nil {
			log.Infof("build '%s' done in %v", task.Pathname, time.Since(task.startedAt))
		} else {
			log.Errorf("build '%s': %v", task.Pathname, err)
		}

		q.lock.Lock()
		delete(q.tasks, task.Pathname)
		delete(q.waits, task.Pathname)
		q.idles++
		q.schedule()
		q.lock.Unlock()

		task.err = err
		close(task.done)
	}()

	err = task.build(task)
}

// wait waits for the task on behalf of the task building in the context. The waiting task
// gives its slot back while it waits. When the wait would close a cycle of pending tasks the
// predicted url of the task is returned without waiting.
func (q *buildQueue) wait(ctx context.Context, task *BuildTask) (string, error) {
	select {
	case <-task.done:
		return task.URL, task.err
	default:
	}

	waiter := taskFromContext(ctx)
	if waiter == nil {
		return task.URL, task.Wait(ctx)
	}

	q.lock.Lock()
	if q.reachable(task.Pathname, waiter.Pathname) {
		q.lock.Unlock()
		log.Debugf("build '%s': circular dependency on '%s', using %s", waiter.Pathname, task.Pathname, task.URL)
		return task.URL, nil
	}
	edges, ok := q.waits[waiter.Pathname]
	if !ok {
		edges = map[string]int{}
		q.waits[waiter.Pathname] = edges
	}
	edges[task.Pathname]++
	waiter.waiting++
	if waiter.waiting == 1 {
		q.idles++
		q.schedule()
	}
	q.lock.Unlock()

	<-task.done

	q.lock.Lock()
	edges[task.Pathname]--
	if edges[task.Pathname] == 0 {
		delete(edges, task.Pathname)
	}
	waiter.waiting--
	if waiter.waiting == 0 {
		// resumed tasks don't queue again, the slot may be over-committed until they finish
		q.idles--
	}
	q.lock.Unlock()

	return task.URL, task.err
}

// reachable reports whether the task `from` waits on the task `to`, directly or transitively.
// The caller holds the lock.
func (q *buildQueue) reachable(from string, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range q.waits[current] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// pending returns the number of pending tasks.
func (q *buildQueue) pending() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.tasks)
}
