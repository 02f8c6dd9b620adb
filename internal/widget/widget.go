// 包 widget：区域事件地图部件，组合就绪登记、图层、拉取、同步与选择
package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"incident-map/internal/config"
	"incident-map/internal/feed"
	"incident-map/internal/layer"
	"incident-map/internal/logger"
	"incident-map/internal/readiness"
	"incident-map/internal/selection"
	"incident-map/internal/syncer"
)

// 事件标注的命中容差（度）
const markerTolerance = 0.05

// ErrNotReady：图层尚未就绪
var ErrNotReady = errors.New("widget: region layer not ready")

// Deps：部件依赖；Registry 与 Catalog 在进程内共享
type Deps struct {
	Registry *readiness.Registry
	Catalog  *layer.Catalog
	Adapter  *feed.Adapter
	// EditTimeout：单次 ApplyEdits 的超时，0 表示不限
	EditTimeout time.Duration
}

// layerLoad：一次图层地址登记；done 在结果落定或被新地址取代时关闭
type layerLoad struct {
	url     string
	done    chan struct{}
	settled bool
	err     error
}

// 文档注释：部件实例
// 背景：构造时向登记表登记图层资源；就绪后克隆出本实例的区域图层并挂到视图，之后才接受数据源。
// 约束：就绪状态跟随当前 LayerURL；区域图层 id 在实例生命周期内固定，切换图层地址只替换图层内容，
// 选择随之清空；当前地址加载失败时卸下旧图层，SetDataSource 与 Features 返回该失败。
type Widget struct {
	id      string
	layerID string
	deps    Deps

	view   *layer.View
	marks  *layer.PointLayer
	sel    *selection.Controller
	engine *syncer.Engine

	mu        sync.RWMutex
	props     config.Props
	regions   *layer.FeatureLayer
	incidents []feed.Incident
	source    feed.DataSource
	load      *layerLoad
}

func New(props config.Props, deps Deps) *Widget {
	id := uuid.NewString()
	w := &Widget{
		id:      id,
		layerID: "regions:" + id,
		deps:    deps,
		view:    layer.NewView(),
		marks:   layer.NewPointLayer("incidents:"+id, markerTolerance),
		props:   props,
	}
	w.sel = selection.NewController(w.view, w.layerID, w.joinKey)
	w.engine = syncer.NewEngine(w.joinKey, deps.EditTimeout)
	logger.Component("widget").Info("widget_created", "widget", id, "layer_url", props.LayerURL)
	w.mu.Lock()
	ld := w.beginLoad(props.LayerURL)
	w.mu.Unlock()
	w.register(ld)
	return w
}

// beginLoad：为 url 建立新的登记并取代旧登记；调用方持有 w.mu
func (w *Widget) beginLoad(url string) *layerLoad {
	if old := w.load; old != nil && !old.settled {
		old.settled = true
		close(old.done)
	}
	w.load = &layerLoad{url: url, done: make(chan struct{})}
	return w.load
}

func (w *Widget) register(ld *layerLoad) {
	w.deps.Registry.EnsureReady(ld.url, func(err error) { w.attach(ld, err) })
}

func (w *Widget) ID() string { return w.id }

func (w *Widget) joinKey() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.props.JoinKeyProperty
}

// Props：当前属性快照
func (w *Widget) Props() config.Props {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.props
}

// attach：资源就绪回调；只处理当前登记的结果
func (w *Widget) attach(ld *layerLoad, err error) {
	l := logger.Component("widget").With("widget", w.id, "layer_url", ld.url)
	var fl *layer.FeatureLayer
	if err == nil {
		var src *layer.Source
		if src, err = w.deps.Catalog.Get(ld.url); err == nil {
			fl = layer.NewFeatureLayer(w.layerID, src)
		}
	}
	w.mu.Lock()
	if w.load != ld || ld.settled {
		// 等待期间地址已被改写，丢弃过期结果
		w.mu.Unlock()
		l.Debug("widget_attach_stale")
		return
	}
	old := w.regions
	w.regions = fl
	ld.err = err
	ld.settled = true
	w.mu.Unlock()
	// 视图与选择先于 done 更新，Ready 返回后状态已一致
	defer close(ld.done)

	if old != nil {
		w.view.Remove(old)
		w.sel.Clear()
	}
	if err != nil {
		l.Error("widget_attach_error", "err", err)
		return
	}
	w.view.Remove(w.marks)
	w.view.Add(fl)
	w.view.Add(w.marks)
	l.Info("widget_attached", "replaced", old != nil)
}

// Ready：等待当前图层地址的加载结果；加载失败返回 *readiness.LoadError
// 约束：等待期间地址被改写时转而等待新地址。
func (w *Widget) Ready(ctx context.Context) error {
	for {
		w.mu.RLock()
		ld := w.load
		w.mu.RUnlock()
		select {
		case <-ld.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		w.mu.RLock()
		cur, err := w.load, ld.err
		w.mu.RUnlock()
		if cur == ld {
			return err
		}
	}
}

// Reload：当前地址加载失败时清除登记表中的失败记录并重新加载；否则返回 false
func (w *Widget) Reload() bool {
	w.mu.Lock()
	cur := w.load
	if !cur.settled || cur.err == nil {
		w.mu.Unlock()
		return false
	}
	w.deps.Registry.Retry(cur.url)
	ld := w.beginLoad(cur.url)
	w.mu.Unlock()
	logger.Component("widget").Info("widget_reload", "widget", w.id, "layer_url", ld.url)
	w.register(ld)
	return true
}

// Subscribe：订阅 region-selected / region-cleared
func (w *Widget) Subscribe(fn selection.Listener) func() { return w.sel.Subscribe(fn) }

// HandlePointer：转交一次点击给选择控制器
func (w *Widget) HandlePointer(ctx context.Context, pt orb.Point) (selection.Event, error) {
	return w.sel.HandlePointer(ctx, pt)
}

// Selection：当前区域键；未选中返回空串
func (w *Widget) Selection() string {
	key, _ := w.sel.Selection()
	return key
}

// 文档注释：绑定数据源并执行一次拉取与同步
// 约束：等待图层就绪；拉取失败（*feed.FetchError）与提交失败（*layer.EditError）均原样返回；
// 失败时图层保留上一次的度量值。
func (w *Widget) SetDataSource(ctx context.Context, src feed.DataSource) error {
	if err := w.Ready(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.source = src
	props := w.props
	regions := w.regions
	w.mu.Unlock()
	if regions == nil {
		return ErrNotReady
	}

	res, err := w.deps.Adapter.Fetch(ctx, feed.Query{
		FeedURL:         props.FeedURL,
		JoinKeyProperty: props.JoinKeyProperty,
		MeasureProperty: props.MeasureProperty,
	}, src)
	if err != nil {
		return err
	}
	w.placeIncidents(regions, res.Incidents, props.JoinKeyProperty)

	if _, err := w.engine.Sync(ctx, regions, res.Records); err != nil {
		return err
	}
	return nil
}

// Refresh：用已绑定的数据源重新同步
func (w *Widget) Refresh(ctx context.Context) error {
	w.mu.RLock()
	src := w.source
	w.mu.RUnlock()
	if src == nil {
		return errors.New("widget: no data source bound")
	}
	return w.SetDataSource(ctx, src)
}

// placeIncidents：按点入面把事件归属到区域，并刷新标注图层
func (w *Widget) placeIncidents(regions *layer.FeatureLayer, in []feed.Incident, joinKey string) {
	pts := make([]orb.Point, 0, len(in))
	feats := make([]layer.Feature, 0, len(in))
	for i := range in {
		if key, ok := regions.Locate(in[i].Point, joinKey); ok {
			in[i].RegionKey = key
		}
		pts = append(pts, in[i].Point)
		feats = append(feats, layer.Feature{ID: int64(i + 1), Attributes: map[string]any{
			"guid":     in[i].ID,
			"title":    in[i].Title,
			"category": in[i].Category,
			"region":   in[i].RegionKey,
		}})
	}
	w.marks.Replace(pts, feats)
	w.mu.Lock()
	w.incidents = in
	w.mu.Unlock()
}

// Incidents：最近一次拉取的事件（副本）
func (w *Widget) Incidents() []feed.Incident {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]feed.Incident(nil), w.incidents...)
}

// IncidentCounts：按区域键统计事件数；未归属区域的事件不计
func (w *Widget) IncidentCounts() map[string]int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]int)
	for _, in := range w.incidents {
		if in.RegionKey != "" {
			out[in.RegionKey]++
		}
	}
	return out
}

// Features：当前区域要素（副本）；当前图层地址加载失败时返回该失败
func (w *Widget) Features(ctx context.Context) ([]layer.Feature, error) {
	w.mu.RLock()
	regions, ld := w.regions, w.load
	var lerr error
	if ld.settled {
		lerr = ld.err
	}
	w.mu.RUnlock()
	if lerr != nil {
		return nil, lerr
	}
	if regions == nil {
		return nil, ErrNotReady
	}
	return regions.QueryFeatures(ctx)
}

// BeforeUpdate：合并宿主下发的属性变更；图层地址变化时登记新资源并在就绪后替换图层
func (w *Widget) BeforeUpdate(c config.Changes) {
	if c.Empty() {
		return
	}
	w.mu.Lock()
	prev := w.props
	w.props = prev.Merge(c)
	next := w.props
	var ld *layerLoad
	if next.LayerURL != prev.LayerURL {
		ld = w.beginLoad(next.LayerURL)
	}
	w.mu.Unlock()
	logger.Component("widget").Debug("widget_props_merged", "widget", w.id, "join_key", next.JoinKeyProperty, "layer_url", next.LayerURL)
	if ld != nil {
		w.register(ld)
	}
}

// AfterUpdate：属性生效后的钩子，目前只记录日志
func (w *Widget) AfterUpdate(c config.Changes) {
	logger.Component("widget").Debug("widget_props_applied", "widget", w.id, "empty", c.Empty())
}
