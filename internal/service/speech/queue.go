package speech

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

const spokenHistorySize = 512

// Sink receives synthesised audio for a message id.
type Sink func(id string, resp *speechmodel.TTSResponse)

// QueueConfig 配置一个 TTS 队列
type QueueConfig struct {
	Owner  string
	Synth  Synthesizer
	Sink   Sink
	Voice  func(ctx context.Context) string // 每次合成前解析，可为空
	Logger log.Logger
}

type ttsJob struct {
	id   string
	text string
}

// Queue speaks messages one at a time in the order they were enqueued.
// Each message id is spoken at most once.
type Queue struct {
	cfg    QueueConfig
	logger log.Logger

	mu     sync.Mutex
	jobs   []ttsJob
	spoken *lru.Cache[string, struct{}]
	closed bool

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue starts the worker goroutine. Close stops it.
func NewQueue(cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	spoken, _ := lru.New[string, struct{}](spokenHistorySize)
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		cfg:    cfg,
		logger: logger,
		spoken: spoken,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue schedules text for synthesis without blocking. Blank text, repeated
// ids and calls after Close are ignored.
func (q *Queue) Enqueue(id, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	q.mu.Lock()
	if q.closed || q.spoken.Contains(id) {
		q.mu.Unlock()
		return
	}
	q.spoken.Add(id, struct{}{})
	q.jobs = append(q.jobs, ttsJob{id: id, text: text})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of jobs not yet started.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close drops pending jobs, cancels the one in flight and waits for the worker.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.jobs = nil
		q.mu.Unlock()
		q.cancel()
	})
	<-q.done
}

func (q *Queue) next() (ttsJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return ttsJob{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}

		for {
			job, ok := q.next()
			if !ok {
				break
			}
			q.speak(job)
			if q.ctx.Err() != nil {
				return
			}
		}
	}
}

func (q *Queue) speak(job ttsJob) {
	voice := ""
	if q.cfg.Voice != nil {
		voice = q.cfg.Voice(q.ctx)
	}

	resp, err := q.cfg.Synth.Synthesize(q.ctx, ReplyRequest(q.cfg.Owner, voice, job.text))
	if err != nil {
		if q.ctx.Err() == nil {
			q.logger.Warnf(q.ctx, "[tts] synthesize message %s for %s: %v", job.id, q.cfg.Owner, err)
		}
		return
	}
	if q.cfg.Sink != nil {
		q.cfg.Sink(job.id, resp)
	}
}

// PoolConfig 配置按用户划分的 TTS 队列集合
type PoolConfig struct {
	Synth Synthesizer
	// Voice resolves owner's voice before each synthesis; may be nil.
	Voice func(ctx context.Context, owner string) string
	// Sink receives audio for owner's message id.
	Sink   func(owner, id string, resp *speechmodel.TTSResponse)
	Logger log.Logger
}

// QueuePool lazily creates one Queue per owner.
type QueuePool struct {
	cfg PoolConfig

	mu     sync.Mutex
	queues map[string]*Queue
	closed bool
}

func NewQueuePool(cfg PoolConfig) *QueuePool {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &QueuePool{cfg: cfg, queues: make(map[string]*Queue)}
}

// For returns owner's queue, or nil once the pool is closed.
func (p *QueuePool) For(owner string) *Queue {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if q, ok := p.queues[owner]; ok {
		return q
	}

	cfg := QueueConfig{Owner: owner, Synth: p.cfg.Synth, Logger: p.cfg.Logger}
	if p.cfg.Voice != nil {
		cfg.Voice = func(ctx context.Context) string { return p.cfg.Voice(ctx, owner) }
	}
	if p.cfg.Sink != nil {
		cfg.Sink = func(id string, resp *speechmodel.TTSResponse) { p.cfg.Sink(owner, id, resp) }
	}
	q := NewQueue(cfg)
	p.queues[owner] = q
	return q
}

// Drop closes and forgets owner's queue.
func (p *QueuePool) Drop(owner string) {
	p.mu.Lock()
	q, ok := p.queues[owner]
	delete(p.queues, owner)
	p.mu.Unlock()
	if !ok {
		return
	}
	if n := q.Pending(); n > 0 {
		p.cfg.Logger.Infof(context.Background(), "[tts] dropping %d pending messages for %s", n, owner)
	}
	q.Close()
}

// Close closes every queue. For returns nil afterwards.
func (p *QueuePool) Close() {
	p.mu.Lock()
	p.closed = true
	queues := p.queues
	p.queues = make(map[string]*Queue)
	p.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
}
