package config

import (
	"fmt"
	"sort"
)

const (
	// DefaultMeasureProperty：结果集中承载度量值的维度名
	DefaultMeasureProperty = "@MeasureDimension"
	DefaultLayerURL        = "http://localhost:3000/Map/spatial.json"
	DefaultFeedURL         = "https://www.rfs.nsw.gov.au/feeds/majorIncidents.json"
)

// 宿主下发的属性键
const (
	KeyJoinKeyProperty = "joinKeyProperty"
	KeyLocID           = "locId" // joinKeyProperty 的旧名
	KeyMeasureProperty = "measureProperty"
	KeyLayerURL        = "layerUrl"
	KeyFeedURL         = "feedUrl"
)

// Props：部件运行时属性
type Props struct {
	// JoinKeyProperty 同时用于要素属性与结果集维度；默认空串（不匹配任何记录）
	JoinKeyProperty string
	MeasureProperty string
	LayerURL        string
	FeedURL         string
}

func DefaultProps() Props {
	return Props{MeasureProperty: DefaultMeasureProperty, LayerURL: DefaultLayerURL, FeedURL: DefaultFeedURL}
}

// Changes：一次属性变更；nil 字段表示未变更
type Changes struct {
	JoinKeyProperty *string
	MeasureProperty *string
	LayerURL        *string
	FeedURL         *string
}

// Empty：是否不包含任何变更
func (c Changes) Empty() bool {
	return c.JoinKeyProperty == nil && c.MeasureProperty == nil && c.LayerURL == nil && c.FeedURL == nil
}

// 文档注释：合并属性变更（浅合并，逐字段后写覆盖）
// 约束：非 nil 字段整体覆盖旧值，空串同样生效；MeasureProperty 置空时恢复默认维度名。
func (p Props) Merge(c Changes) Props {
	if c.JoinKeyProperty != nil {
		p.JoinKeyProperty = *c.JoinKeyProperty
	}
	if c.MeasureProperty != nil {
		p.MeasureProperty = *c.MeasureProperty
		if p.MeasureProperty == "" {
			p.MeasureProperty = DefaultMeasureProperty
		}
	}
	if c.LayerURL != nil {
		p.LayerURL = *c.LayerURL
	}
	if c.FeedURL != nil {
		p.FeedURL = *c.FeedURL
	}
	return p
}

// 文档注释：把宿主的键值映射解析为 Changes
// 约束：未识别的键返回在 ignored 中而不报错；已识别键的值必须是字符串；
// joinKeyProperty 与 locId 同时出现时 joinKeyProperty 优先。
func ParseChanges(m map[string]any) (c Changes, ignored []string, err error) {
	str := func(k string) (*string, error) {
		v, ok := m[k]
		if !ok {
			return nil, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("property %q: want string, got %T", k, v)
		}
		return &s, nil
	}
	if c.JoinKeyProperty, err = str(KeyLocID); err != nil {
		return Changes{}, nil, err
	}
	if v, e := str(KeyJoinKeyProperty); e != nil {
		return Changes{}, nil, e
	} else if v != nil {
		c.JoinKeyProperty = v
	}
	if c.MeasureProperty, err = str(KeyMeasureProperty); err != nil {
		return Changes{}, nil, err
	}
	if c.LayerURL, err = str(KeyLayerURL); err != nil {
		return Changes{}, nil, err
	}
	if c.FeedURL, err = str(KeyFeedURL); err != nil {
		return Changes{}, nil, err
	}
	for k := range m {
		switch k {
		case KeyJoinKeyProperty, KeyLocID, KeyMeasureProperty, KeyLayerURL, KeyFeedURL:
		default:
			ignored = append(ignored, k)
		}
	}
	sort.Strings(ignored)
	return c, ignored, nil
}
