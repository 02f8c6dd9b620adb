// 包 selection：单选状态机，由点击命中驱动
package selection

import (
	"context"
	"sync"

	"github.com/paulmach/orb"

	"incident-map/internal/layer"
	"incident-map/internal/logger"
	"incident-map/internal/metrics"
)

// EventKind：选择通知类型
type EventKind string

const (
	RegionSelected EventKind = "region-selected"
	RegionCleared  EventKind = "region-cleared"
)

// Event：选择通知；宿主通过 Selection() 读取当前区域，Key 仅作便利
type Event struct {
	Kind EventKind
	Key  string
}

// Listener：通知回调，在状态更新之后调用；回调内不得再调用 HandlePointer
type Listener func(Event)

// 文档注释：选择控制器
// 背景：只认本部件区域图层上的命中，其他图层（如事件标注）的命中被过滤；
// 最上层的本图层命中决定选中区域。
// 约束：状态只有“未选中”与“选中(key)”；新命中整体替换旧状态，不累积。
type Controller struct {
	view    layer.HitTester
	layerID string
	joinKey func() string

	mu        sync.Mutex
	selected  string
	has       bool
	listeners map[int]Listener
	nextID    int
	emitMu    sync.Mutex
}

func NewController(view layer.HitTester, layerID string, joinKey func() string) *Controller {
	return &Controller{view: view, layerID: layerID, joinKey: joinKey, listeners: make(map[int]Listener)}
}

// Subscribe：注册监听；返回的函数用于取消
func (c *Controller) Subscribe(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// HandlePointer：处理一次点击
// 约束：命中测试失败时返回错误，状态不变且不发通知。
func (c *Controller) HandlePointer(ctx context.Context, pt orb.Point) (Event, error) {
	hits, err := c.view.HitTest(ctx, pt)
	if err != nil {
		logger.Component("selection").Error("hit_test_error", "lon", pt.Lon(), "lat", pt.Lat(), "err", err)
		return Event{}, err
	}
	var ev Event
	key, ok := c.firstOwnHit(hits)
	// emitMu 保证状态更新与通知顺序一致
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	if ok {
		c.selected, c.has = key, true
		ev = Event{Kind: RegionSelected, Key: key}
	} else {
		c.selected, c.has = "", false
		ev = Event{Kind: RegionCleared}
	}
	ls := make([]Listener, 0, len(c.listeners))
	for i := 0; i < c.nextID; i++ {
		if fn, ok := c.listeners[i]; ok {
			ls = append(ls, fn)
		}
	}
	c.mu.Unlock()

	metrics.SelectionEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	logger.Component("selection").Debug("selection_changed", "event", ev.Kind, "key", ev.Key, "hits", len(hits))
	for _, fn := range ls {
		fn(ev)
	}
	return ev, nil
}

func (c *Controller) firstOwnHit(hits []layer.Hit) (string, bool) {
	jk := ""
	if c.joinKey != nil {
		jk = c.joinKey()
	}
	for _, h := range hits {
		if h.LayerID == c.layerID {
			// 连接键为空（未配置或要素缺属性）时按未命中处理
			key := h.Feature.Key(jk)
			return key, key != ""
		}
	}
	return "", false
}

// Selection：当前选中区域键；未选中返回 ("", false)
func (c *Controller) Selection() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.has
}

// Clear：宿主主动清除选择（不发通知）
func (c *Controller) Clear() {
	c.mu.Lock()
	c.selected, c.has = "", false
	c.mu.Unlock()
}
