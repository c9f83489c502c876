package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/internal/service/ai"
	"github.com/zhouzirui/abby/backend/internal/store"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

const (
	defaultIdleTTL    = 30 * time.Minute
	defaultMaxEngines = 10000
)

// RegistryConfig holds the collaborators shared by every engine.
type RegistryConfig struct {
	Chats     ai.ChatFactory
	Local     LocalStore
	Remote    store.Remote
	Publisher Publisher
	Logger    log.Logger
	Stream    bool
	Clock     func() time.Time
	// SpeakerFor returns the speech queue for owner, or nil.
	SpeakerFor func(owner string) Speaker

	// IdleTTL 引擎多久未被访问后回收，默认 30 分钟
	IdleTTL time.Duration
	// MaxEngines 同时保留的引擎上限，超出时回收最久未用的
	MaxEngines int
	// OnEvict runs once an owner's engine is released and its writes have
	// finished, before a new engine can be built for that owner.
	OnEvict func(owner string)
}

type registryEntry struct {
	ready  chan struct{}
	engine *Engine
	err    error

	retired atomic.Bool
	done    chan struct{}
}

func newRegistryEntry() *registryEntry {
	return &registryEntry{ready: make(chan struct{}), done: make(chan struct{})}
}

// Registry lazily builds one engine per owner and releases engines that sit
// idle for IdleTTL.
type Registry struct {
	cfg RegistryConfig

	// mu 串行化查找与插入；缓存的回收回调不会获取它
	mu      sync.Mutex
	engines *expirable.LRU[string, *registryEntry]

	retireMu sync.Mutex
	retiring map[string]*registryEntry
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.MaxEngines <= 0 {
		cfg.MaxEngines = defaultMaxEngines
	}
	r := &Registry{cfg: cfg, retiring: make(map[string]*registryEntry)}
	r.engines = expirable.NewLRU[string, *registryEntry](cfg.MaxEngines, r.evicted, cfg.IdleTTL)
	return r
}

// Get returns the loaded engine for owner. u is nil for anonymous owners.
// Every call pushes the owner's idle deadline back.
func (r *Registry) Get(ctx context.Context, owner string, u *user.User) (*Engine, error) {
	for {
		r.mu.Lock()
		ent, ok := r.engines.Get(owner)
		if ok {
			r.engines.Add(owner, ent)
			if ent.retired.Load() {
				// swept between Get and Add
				r.engines.Remove(owner)
				ok = false
			}
		} else {
			// expired entries linger until the sweeper reaches them
			r.engines.Remove(owner)
		}
		if ok {
			r.mu.Unlock()
			return r.await(ctx, ent)
		}

		if prev := r.retiringEntry(owner); prev != nil {
			r.mu.Unlock()
			select {
			case <-prev.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		ent = newRegistryEntry()
		r.engines.Add(owner, ent)
		r.mu.Unlock()
		return r.load(ctx, owner, u, ent)
	}
}

func (r *Registry) await(ctx context.Context, ent *registryEntry) (*Engine, error) {
	select {
	case <-ent.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if ent.err != nil {
		return nil, ent.err
	}
	return ent.engine, nil
}

func (r *Registry) load(ctx context.Context, owner string, u *user.User, ent *registryEntry) (*Engine, error) {
	deps := Deps{
		Owner:     owner,
		User:      u,
		Chats:     r.cfg.Chats,
		Local:     r.cfg.Local,
		Remote:    r.cfg.Remote,
		Publisher: r.cfg.Publisher,
		Logger:    r.cfg.Logger,
		Stream:    r.cfg.Stream,
		Clock:     r.cfg.Clock,
	}
	if r.cfg.SpeakerFor != nil {
		deps.Speaker = r.cfg.SpeakerFor(owner)
	}

	engine := New(deps)
	if _, err := engine.LoadInitialState(context.WithoutCancel(ctx)); err != nil {
		ent.err = err
	} else {
		ent.engine = engine
	}
	close(ent.ready)

	if ent.err != nil {
		r.mu.Lock()
		if cur, ok := r.engines.Peek(owner); ok && cur == ent {
			r.engines.Remove(owner)
		}
		r.mu.Unlock()
		return nil, ent.err
	}
	r.cfg.Logger.Infof(ctx, "[chat] loaded engine for %s", owner)
	return engine, nil
}

// Lookup returns owner's engine if it is already loaded. It does not extend
// the idle deadline.
func (r *Registry) Lookup(owner string) (*Engine, bool) {
	r.mu.Lock()
	ent, ok := r.engines.Peek(owner)
	r.mu.Unlock()
	if !ok || ent.retired.Load() {
		return nil, false
	}
	select {
	case <-ent.ready:
		return ent.engine, ent.engine != nil
	default:
		return nil, false
	}
}

// Drop forgets owner's engine. Persisted data is kept and pending writes
// still complete.
func (r *Registry) Drop(owner string) {
	r.mu.Lock()
	r.engines.Remove(owner)
	r.mu.Unlock()
}

// Wait blocks until every engine's queued persistence has finished,
// including engines that are being released.
func (r *Registry) Wait() {
	r.mu.Lock()
	var entries []*registryEntry
	for _, owner := range r.engines.Keys() {
		if ent, ok := r.engines.Peek(owner); ok {
			entries = append(entries, ent)
			continue
		}
		r.engines.Remove(owner)
	}
	r.mu.Unlock()

	for _, ent := range entries {
		<-ent.ready
		if ent.engine != nil {
			ent.engine.Wait()
		}
	}

	for {
		r.retireMu.Lock()
		var pending *registryEntry
		for _, ent := range r.retiring {
			pending = ent
			break
		}
		r.retireMu.Unlock()
		if pending == nil {
			return
		}
		<-pending.done
	}
}

func (r *Registry) retiringEntry(owner string) *registryEntry {
	r.retireMu.Lock()
	defer r.retireMu.Unlock()
	return r.retiring[owner]
}

// evicted runs under the cache's lock: it must not touch r.engines or r.mu.
func (r *Registry) evicted(owner string, ent *registryEntry) {
	if !ent.retired.CompareAndSwap(false, true) {
		return
	}
	r.retireMu.Lock()
	r.retiring[owner] = ent
	r.retireMu.Unlock()

	go r.retire(owner, ent)
}

func (r *Registry) retire(owner string, ent *registryEntry) {
	<-ent.ready
	if ent.engine != nil {
		ent.engine.Wait()
		r.cfg.Logger.Infof(context.Background(), "[chat] released engine for %s", owner)
	}
	if r.cfg.OnEvict != nil {
		r.cfg.OnEvict(owner)
	}

	r.retireMu.Lock()
	if r.retiring[owner] == ent {
		delete(r.retiring, owner)
	}
	r.retireMu.Unlock()
	close(ent.done)
}
