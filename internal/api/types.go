package api

import (
	"time"

	"incident-map/internal/layer"
)

// 文档注释：对外返回结构
// 背景：宿主只读这些字段；要素输出沿用源图层字段名（ObjectID / Measure / Max）。
// 约束：字段稳定；新增字段需评估宿主兼容性。
type selectionResult struct {
	Selection string `json:"selection"`
}

type featureResult struct {
	ObjectID   int64          `json:"ObjectID"`
	Attributes map[string]any `json:"attributes"`
	Measure    *float64       `json:"Measure"`
	Max        float64        `json:"Max"`
}

type incidentResult struct {
	ID        string    `json:"guid"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Link      string    `json:"link,omitempty"`
	Published time.Time `json:"pubDate"`
	Lon       float64   `json:"lon"`
	Lat       float64   `json:"lat"`
	Region    string    `json:"region,omitempty"`
}

type incidentsResult struct {
	Incidents []incidentResult `json:"incidents"`
	Counts    map[string]int   `json:"counts"`
}

type propsResult struct {
	JoinKeyProperty string   `json:"joinKeyProperty"`
	MeasureProperty string   `json:"measureProperty"`
	LayerURL        string   `json:"layerUrl"`
	FeedURL         string   `json:"feedUrl"`
	Ignored         []string `json:"ignored,omitempty"`
}

type clickRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type eventResult struct {
	Event     string `json:"event"`
	Selection string `json:"selection"`
}

type errorResult struct {
	Error  string `json:"error"`
	Source string `json:"source,omitempty"`
	Code   int    `json:"code,omitempty"`
	Name   string `json:"name,omitempty"`
}

func toFeatureResult(f layer.Feature) featureResult {
	attrs := f.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return featureResult{ObjectID: f.ID, Attributes: attrs, Measure: f.Measure, Max: f.Max}
}
