// 包 readiness：跨部件实例共享的资源就绪登记表
package readiness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"incident-map/internal/logger"
	"incident-map/internal/metrics"
)

// State：资源加载状态，只前进不回退
type State int

const (
	Pending State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "pending"
}

// Callback：就绪回调；err 为 nil 表示资源已就绪，否则为 *LoadError
type Callback func(err error)

// Loader：实际加载资源；每个资源 id 在一个登记表内最多被调用一次（Retry 之后除外）
type Loader func(ctx context.Context, id string) error

// LoadError：资源加载失败，所有排队与之后登记的回调都会收到它
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("resource %s: load failed: %v", e.ID, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

type entry struct {
	state   State
	waiters []Callback
	err     *LoadError
	// draining：加载结束后仍在派发排队回调；期间新登记的回调排到队尾
	draining bool
}

// 文档注释：就绪登记表
// 背景：多个部件实例共享同一引擎资源；登记表保证资源只加载一次，等待者按登记顺序各被通知一次。
// 约束：状态与等待队列由 mu 保护；Loader 与回调均在锁外执行。
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	load    Loader
	timeout time.Duration
	base    context.Context
}

// Option：登记表构造选项
type Option func(*Registry)

// WithTimeout：单次加载的超时；0 表示不限
func WithTimeout(d time.Duration) Option { return func(r *Registry) { r.timeout = d } }

// WithContext：加载使用的根上下文，取消后进行中的加载随之取消
func WithContext(ctx context.Context) Option { return func(r *Registry) { r.base = ctx } }

func New(load Loader, opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]*entry), load: load, base: context.Background()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// EnsureReady：登记回调；必要时启动加载
// 约束：已就绪时在调用方协程内立即回调；失败状态下立即以 *LoadError 回调。
// 排队回调尚未派发完时新登记的回调排在队尾，由派发协程执行，登记顺序即回调顺序。
func (r *Registry) EnsureReady(id string, cb Callback) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{state: Loading, waiters: []Callback{cb}}
		r.entries[id] = e
		r.mu.Unlock()
		logger.Component("readiness").Debug("resource_load_begin", "id", id)
		go r.run(id, e)
		return
	}
	if e.draining || e.state == Loading {
		e.waiters = append(e.waiters, cb)
		r.mu.Unlock()
		return
	}
	var err error
	if e.state == Failed {
		err = e.err
	}
	r.mu.Unlock()
	invoke(cb, err)
}

func (r *Registry) run(id string, e *entry) {
	ctx := r.base
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	t0 := time.Now()
	err := r.load(ctx, id)
	metrics.ResourceLoadDurationMs.Observe(float64(time.Since(t0).Milliseconds()))

	r.mu.Lock()
	var lerr *LoadError
	if err != nil {
		lerr = &LoadError{ID: id, Err: err}
		e.state = Failed
		e.err = lerr
	} else {
		e.state = Ready
	}
	e.draining = true
	r.mu.Unlock()

	l := logger.Component("readiness")
	if lerr != nil {
		metrics.ResourceLoadsTotal.WithLabelValues("fail").Inc()
		l.Error("resource_load_error", "id", id, "err", err)
	} else {
		metrics.ResourceLoadsTotal.WithLabelValues("ok").Inc()
		l.Info("resource_ready", "id", id, "duration_ms", time.Since(t0).Milliseconds())
	}
	var cbErr error
	if lerr != nil {
		cbErr = lerr
	}
	r.drain(e, cbErr)
}

// drain：按登记顺序派发回调，直到队列为空才结束派发状态
func (r *Registry) drain(e *entry, err error) {
	for {
		r.mu.Lock()
		waiters := e.waiters
		e.waiters = nil
		if len(waiters) == 0 {
			e.draining = false
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
		for _, cb := range waiters {
			invoke(cb, err)
		}
	}
}

func invoke(cb Callback, err error) {
	if err != nil {
		metrics.ReadyCallbacksTotal.WithLabelValues("rejected").Inc()
	} else {
		metrics.ReadyCallbacksTotal.WithLabelValues("ready").Inc()
	}
	if cb != nil {
		cb(err)
	}
}

// Wait：阻塞直到资源就绪、失败或 ctx 结束
// 约束：ctx 结束只放弃等待，不取消共享的加载。
func (r *Registry) Wait(ctx context.Context, id string) error {
	done := make(chan error, 1)
	r.EnsureReady(id, func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State：查询资源状态；未登记返回 Pending
func (r *Registry) State(id string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e.state
	}
	return Pending
}

// Retry：丢弃失败条目，下一次 EnsureReady 重新加载；非失败状态返回 false
func (r *Registry) Retry(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.state != Failed {
		return false
	}
	delete(r.entries, id)
	logger.Component("readiness").Info("resource_retry", "id", id)
	return true
}
