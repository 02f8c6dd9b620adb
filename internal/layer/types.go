// 包 layer：区域图层抽象（要素查询、批量编辑、点击命中）与基于 GeoJSON 的内存实现
package layer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// 文档注释：区域要素
// 背景：Attributes 保留源数据属性（含连接键）；Measure/Max 只通过编辑批次写入。
// 约束：Measure 为 nil 表示无匹配记录；同一批次内所有要素 Max 相同。
type Feature struct {
	ID         int64
	Attributes map[string]any
	Measure    *float64
	Max        float64
}

// Key：按属性名读取连接键并转为字符串；缺失或为空返回 ""
func (f Feature) Key(prop string) string {
	if prop == "" || f.Attributes == nil {
		return ""
	}
	return attrString(f.Attributes[prop])
}

// Clone：复制要素，属性映射与度量指针均不与原值共享
func (f Feature) Clone() Feature {
	out := Feature{ID: f.ID, Max: f.Max}
	if f.Attributes != nil {
		out.Attributes = make(map[string]any, len(f.Attributes))
		for k, v := range f.Attributes {
			out.Attributes[k] = v
		}
	}
	if f.Measure != nil {
		m := *f.Measure
		out.Measure = &m
	}
	return out
}

func attrString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// EditBatch：一次提交的要素更新集合
type EditBatch struct {
	UpdateFeatures []Feature
}

// EditResult：单个要素的更新结果
type EditResult struct {
	ObjectID int64
	Success  bool
}

// EditReport：编辑回执，原样返回给同步调用方
type EditReport struct {
	UpdateResults []EditResult
}

// EditError：图层拒绝编辑批次
type EditError struct {
	Code    int
	Name    string
	Message string
}

func (e *EditError) Error() string {
	return fmt.Sprintf("applyEdits %d %s: %s", e.Code, e.Name, e.Message)
}

// RegionLayer：同步引擎依赖的图层能力
type RegionLayer interface {
	ID() string
	QueryFeatures(ctx context.Context) ([]Feature, error)
	ApplyEdits(ctx context.Context, batch EditBatch) (EditReport, error)
}

// Hit：一次命中；LayerID 标识命中要素所属图层
type Hit struct {
	LayerID string
	Feature Feature
}

// HitTester：点击命中能力，结果按自上而下的绘制顺序排列
type HitTester interface {
	HitTest(ctx context.Context, pt orb.Point) ([]Hit, error)
}

// Region：源数据中的一个区域（几何 + 原始属性）
// 约束：Polygon 统一存为单元素 MultiPolygon；bound 为全部分块的包围盒。
type Region struct {
	ID         int64
	Attributes map[string]any
	geom       orb.MultiPolygon
	bound      orb.Bound
}

// contains：包围盒过滤后按 planar 规则判定（落在洞内不算命中）
func (r *Region) contains(pt orb.Point) bool {
	if len(r.geom) == 0 || !r.bound.Contains(pt) {
		return false
	}
	return planar.MultiPolygonContains(r.geom, pt)
}
