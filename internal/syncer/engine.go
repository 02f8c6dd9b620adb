// 包 syncer：把记录按连接键写入区域要素，计算归一化上界并整批提交
package syncer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"incident-map/internal/feed"
	"incident-map/internal/layer"
	"incident-map/internal/logger"
	"incident-map/internal/metrics"
)

// 文档注释：由要素与记录构建编辑批次（纯函数）
// 约束：
// 1) 每个要素取记录中第一条连接键相等的记录（按记录顺序线性查找，先到先得）；
// 2) 度量解析失败、NaN、Inf 视为 nil，不报错；
// 3) Max 从 0 起取所有非 nil 度量的最大值，写入批次内每个要素。
func BuildBatch(features []layer.Feature, records []feed.Record, joinKey string) layer.EditBatch {
	batch := layer.EditBatch{UpdateFeatures: make([]layer.Feature, 0, len(features))}
	bound := 0.0
	for _, f := range features {
		u := layer.Feature{ID: f.ID}
		if rec, ok := firstMatch(records, f.Key(joinKey)); ok {
			if v, ok := parseMeasure(rec.RawMeasure); ok {
				u.Measure = &v
				if v > bound {
					bound = v
				}
			} else {
				metrics.JoinParseMissTotal.Inc()
				logger.Component("syncer").Debug("join_parse_miss", "feature", f.ID, "key", rec.JoinKey, "raw", rec.RawMeasure)
			}
		}
		batch.UpdateFeatures = append(batch.UpdateFeatures, u)
	}
	for i := range batch.UpdateFeatures {
		batch.UpdateFeatures[i].Max = bound
	}
	return batch
}

func firstMatch(records []feed.Record, key string) (feed.Record, bool) {
	if key == "" {
		return feed.Record{}, false
	}
	for _, r := range records {
		if r.JoinKey == key {
			return r, true
		}
	}
	return feed.Record{}, false
}

func parseMeasure(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// 文档注释：同步引擎
// 背景：查询要素 → 构建批次 → 提交；同一图层上的同步串行执行，不同图层互不阻塞。
// 约束：图层以 ID() 区分；EditTimeout 只约束提交阶段。
type Engine struct {
	JoinKey     func() string
	EditTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(joinKey func() string, editTimeout time.Duration) *Engine {
	return &Engine{JoinKey: joinKey, EditTimeout: editTimeout, locks: make(map[string]*sync.Mutex)}
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

// Sync：执行一次同步；提交失败时返回 *layer.EditError（经包装），回执原样返回
func (e *Engine) Sync(ctx context.Context, l layer.RegionLayer, records []feed.Record) (layer.EditReport, error) {
	m := e.lockFor(l.ID())
	m.Lock()
	defer m.Unlock()

	t0 := time.Now()
	log := logger.Component("syncer").With("layer", l.ID())
	features, err := l.QueryFeatures(ctx)
	if err != nil {
		metrics.SyncTotal.WithLabelValues("query_error").Inc()
		log.Error("sync_query_error", "err", err)
		return layer.EditReport{}, fmt.Errorf("query features: %w", err)
	}
	if len(features) == 0 {
		metrics.SyncTotal.WithLabelValues("empty").Inc()
		log.Debug("sync_empty_layer")
		return layer.EditReport{}, nil
	}
	batch := BuildBatch(features, records, e.joinKey())
	bound := batch.UpdateFeatures[0].Max

	actx := ctx
	if e.EditTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, e.EditTimeout)
		defer cancel()
	}
	rep, err := l.ApplyEdits(actx, batch)
	metrics.SyncDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		metrics.SyncTotal.WithLabelValues("apply_error").Inc()
		log.Error("sync_apply_error", "features", len(batch.UpdateFeatures), "err", err)
		return rep, fmt.Errorf("apply edits: %w", err)
	}
	metrics.SyncTotal.WithLabelValues("ok").Inc()
	metrics.BatchMax.Set(bound)
	log.Info("sync_apply_ok", "features", len(batch.UpdateFeatures), "records", len(records), "max", bound, "duration_ms", time.Since(t0).Milliseconds())
	return rep, nil
}

func (e *Engine) joinKey() string {
	if e.JoinKey == nil {
		return ""
	}
	return e.JoinKey()
}
