package feed

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// 文档注释：解析事件源 GeoJSON
// 约束：点几何直接取点；几何集合取第一个点；面或线取包围盒中心；无几何的要素跳过。
func ParseIncidents(b []byte) ([]Incident, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode incident feed: %w", err)
	}
	out := make([]Incident, 0, len(fc.Features))
	for _, f := range fc.Features {
		pt, ok := incidentPoint(f.Geometry)
		if !ok {
			continue
		}
		in := Incident{
			ID:        f.Properties.MustString("guid", ""),
			Title:     f.Properties.MustString("title", ""),
			Category:  f.Properties.MustString("category", ""),
			Link:      f.Properties.MustString("link", ""),
			Published: parsePubDate(f.Properties.MustString("pubDate", "")),
			Point:     pt,
		}
		if in.ID == "" {
			if s, ok := f.ID.(string); ok {
				in.ID = s
			}
		}
		out = append(out, in)
	}
	return out, nil
}

func incidentPoint(g orb.Geometry) (orb.Point, bool) {
	switch x := g.(type) {
	case nil:
		return orb.Point{}, false
	case orb.Point:
		return x, true
	case orb.Collection:
		for _, c := range x {
			if p, ok := c.(orb.Point); ok {
				return p, true
			}
		}
		if len(x) > 0 {
			return x.Bound().Center(), true
		}
		return orb.Point{}, false
	default:
		return g.Bound().Center(), true
	}
}
