package layer

import (
	"context"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// 文档注释：视图（图层叠加）
// 背景：点击命中跨越视图内全部图层，结果按自上而下排列；调用方按 LayerID 过滤自己的图层。
// 约束：后 Add 的图层位于上方。
type View struct {
	mu     sync.RWMutex
	layers []HitTester
}

func NewView(layers ...HitTester) *View {
	return &View{layers: append([]HitTester(nil), layers...)}
}

// Add：把图层压到最上方
func (v *View) Add(l HitTester) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.layers = append(v.layers, l)
}

// Remove：移除图层（按接口值相等比较）
func (v *View) Remove(l HitTester) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, x := range v.layers {
		if x == l {
			v.layers = append(v.layers[:i], v.layers[i+1:]...)
			return
		}
	}
}

func (v *View) HitTest(ctx context.Context, pt orb.Point) ([]Hit, error) {
	v.mu.RLock()
	layers := append([]HitTester(nil), v.layers...)
	v.mu.RUnlock()
	var out []Hit
	for i := len(layers) - 1; i >= 0; i-- {
		hs, err := layers[i].HitTest(ctx, pt)
		if err != nil {
			return nil, err
		}
		out = append(out, hs...)
	}
	return out, nil
}

// 文档注释：点状覆盖图层（事件标注）
// 约束：命中判定为点到标注的平面距离不超过 tolerance（度）；多个命中按距离由近到远。
type PointLayer struct {
	id        string
	tolerance float64
	mu        sync.RWMutex
	points    []pointGraphic
}

type pointGraphic struct {
	pt   orb.Point
	feat Feature
}

func NewPointLayer(id string, tolerance float64) *PointLayer {
	return &PointLayer{id: id, tolerance: tolerance}
}

func (p *PointLayer) ID() string { return p.id }

// Replace：整体替换标注集合
func (p *PointLayer) Replace(pts []orb.Point, feats []Feature) {
	gs := make([]pointGraphic, 0, len(pts))
	for i, pt := range pts {
		var f Feature
		if i < len(feats) {
			f = feats[i].Clone()
		}
		gs = append(gs, pointGraphic{pt: pt, feat: f})
	}
	p.mu.Lock()
	p.points = gs
	p.mu.Unlock()
}

func (p *PointLayer) HitTest(ctx context.Context, pt orb.Point) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	type cand struct {
		d float64
		h Hit
	}
	var cs []cand
	for _, g := range p.points {
		d := planar.Distance(g.pt, pt)
		if d <= p.tolerance {
			cs = append(cs, cand{d: d, h: Hit{LayerID: p.id, Feature: g.feat.Clone()}})
		}
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].d < cs[j].d })
	out := make([]Hit, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.h)
	}
	return out, nil
}
