package readiness

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	defaultOnce sync.Once
	defaultReg  atomic.Pointer[Registry]
)

// ErrNotInitialized：Default 在 Init 之前被调用
var ErrNotInitialized = errors.New("readiness: default registry not initialized")

// 文档注释：初始化进程级登记表
// 约束：只有第一次调用生效，之后的调用返回同一实例并忽略参数。
func Init(load Loader, opts ...Option) *Registry {
	defaultOnce.Do(func() { defaultReg.Store(New(load, opts...)) })
	return defaultReg.Load()
}

// Default：返回进程级登记表
func Default() (*Registry, error) {
	if r := defaultReg.Load(); r != nil {
		return r, nil
	}
	return nil, ErrNotInitialized
}
