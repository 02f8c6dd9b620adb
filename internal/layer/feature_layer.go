package layer

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"

	"incident-map/internal/logger"
)

// 文档注释：内存区域图层
// 背景：由源快照克隆而来，几何共享只读，属性与度量归本实例所有；实现 RegionLayer 与 HitTester。
// 约束：ApplyEdits 先校验整批再落地，任一要素不存在则整批拒绝，已有值保持不变。
type FeatureLayer struct {
	id      string
	mu      sync.RWMutex
	regions []*Region
	feats   map[int64]*Feature
	order   []int64
}

func NewFeatureLayer(id string, src *Source) *FeatureLayer {
	l := &FeatureLayer{id: id, feats: make(map[int64]*Feature)}
	if src == nil {
		return l
	}
	for i := range src.Regions {
		r := &src.Regions[i]
		if _, dup := l.feats[r.ID]; dup {
			logger.Component("layer").Warn("layer_duplicate_feature", "layer", id, "url", src.URL, "id", r.ID)
			continue
		}
		f := Feature{ID: r.ID, Attributes: r.Attributes}.Clone()
		l.regions = append(l.regions, r)
		l.feats[r.ID] = &f
		l.order = append(l.order, r.ID)
	}
	return l
}

func (l *FeatureLayer) ID() string { return l.id }

// QueryFeatures：按源顺序返回全部要素的副本
func (l *FeatureLayer) QueryFeatures(ctx context.Context) ([]Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Feature, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.feats[id].Clone())
	}
	return out, nil
}

// ApplyEdits：整批更新要素属性与度量
func (l *FeatureLayer) ApplyEdits(ctx context.Context, batch EditBatch) (EditReport, error) {
	if err := ctx.Err(); err != nil {
		return EditReport{}, &EditError{Code: 499, Name: "request:canceled", Message: err.Error()}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range batch.UpdateFeatures {
		if _, ok := l.feats[u.ID]; !ok {
			return EditReport{}, &EditError{
				Code:    404,
				Name:    "feature-layer:feature-not-found",
				Message: fmt.Sprintf("layer %s has no feature with ObjectID %d", l.id, u.ID),
			}
		}
	}
	rep := EditReport{UpdateResults: make([]EditResult, 0, len(batch.UpdateFeatures))}
	for _, u := range batch.UpdateFeatures {
		cur := l.feats[u.ID]
		u = u.Clone()
		for k, v := range u.Attributes {
			cur.Attributes[k] = v
		}
		cur.Measure = u.Measure
		cur.Max = u.Max
		rep.UpdateResults = append(rep.UpdateResults, EditResult{ObjectID: u.ID, Success: true})
	}
	return rep, nil
}

// HitTest：返回包含该点的要素，按源顺序排列
func (l *FeatureLayer) HitTest(ctx context.Context, pt orb.Point) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var hits []Hit
	for _, r := range l.regions {
		if r.contains(pt) {
			hits = append(hits, Hit{LayerID: l.id, Feature: l.feats[r.ID].Clone()})
		}
	}
	return hits, nil
}

// Locate：返回包含该点的第一个要素的连接键；用于把事件点归属到区域
func (l *FeatureLayer) Locate(pt orb.Point, joinKey string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.regions {
		if r.contains(pt) {
			return l.feats[r.ID].Key(joinKey), true
		}
	}
	return "", false
}
