package conversation

import "sync"

type writeJob struct {
	run      func()
	snapshot bool
}

// writer runs persistence jobs one at a time in submission order. A drain
// goroutine is started only while jobs are queued. Queued whole-state
// snapshots coalesce: only the newest one that has not started runs.
type writer struct {
	wg *sync.WaitGroup

	mu      sync.Mutex
	queue   []writeJob
	running bool
}

func newWriter(wg *sync.WaitGroup) *writer {
	return &writer{wg: wg}
}

func (w *writer) submit(job func()) {
	w.enqueue(writeJob{run: job})
}

// submitSnapshot queues job, replacing a snapshot still waiting at the tail.
func (w *writer) submitSnapshot(job func()) {
	w.enqueue(writeJob{run: job, snapshot: true})
}

func (w *writer) enqueue(job writeJob) {
	w.mu.Lock()
	if n := len(w.queue); job.snapshot && n > 0 && w.queue[n-1].snapshot {
		w.queue[n-1] = job
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.queue = append(w.queue, job)
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.drain()
}

func (w *writer) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.running = false
			w.mu.Unlock()
			return
		}
		job := w.queue[0]
		w.queue[0] = writeJob{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		job.run()
		w.wg.Done()
	}
}

// barrier blocks until every job submitted before it has run.
func (w *writer) barrier() {
	done := make(chan struct{})
	w.submit(func() { close(done) })
	<-done
}
