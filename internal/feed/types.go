// 包 feed：拉取事件源与结果集，并归一化为可连接的记录
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

// Record：一条可连接记录（每次同步临时生成）
type Record struct {
	JoinKey    string
	RawMeasure string
}

// Member：结果集单元格（维度成员或度量值）
type Member struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	RawValue    string `json:"rawValue,omitempty"`
}

// UnmarshalJSON：兼容 id/rawValue 为数字的宿主输出
func (m *Member) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID          json.RawMessage `json:"id"`
		Description string          `json:"description"`
		RawValue    json.RawMessage `json:"rawValue"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var err error
	if m.ID, err = scalarString(raw.ID); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if m.RawValue, err = scalarString(raw.RawValue); err != nil {
		return fmt.Errorf("rawValue: %w", err)
	}
	m.Description = raw.Description
	return nil
}

func scalarString(b json.RawMessage) (string, error) {
	if len(b) == 0 || string(b) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Row：结果集一行，键为维度/度量名
type Row map[string]Member

// DataSource：部件绑定的数据源
type DataSource interface {
	ResultSet(ctx context.Context) ([]Row, error)
}

// DataSourceFunc：函数适配为 DataSource
type DataSourceFunc func(ctx context.Context) ([]Row, error)

func (f DataSourceFunc) ResultSet(ctx context.Context) ([]Row, error) { return f(ctx) }

// Incident：事件源中的一条事件
type Incident struct {
	ID        string
	Title     string
	Category  string
	Link      string
	Published time.Time
	Point     orb.Point
	// RegionKey 由部件按点入面归属填写；未落入任何区域为空
	RegionKey string
}

// Result：一次拉取的结果
type Result struct {
	Records   []Record
	Incidents []Incident
}

// FetchError：事件源或结果集拉取失败
type FetchError struct {
	Source string // "feed" 或 "resultset"
	Err    error
}

func (e *FetchError) Error() string { return "fetch " + e.Source + ": " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// Normalize：按连接键与度量维度把结果集行转为记录
// 约束：连接键为空串或行缺少该维度时跳过；度量缺失时 RawMeasure 为空串（解析为 nil）。
func Normalize(rows []Row, joinKeyProperty, measureProperty string) []Record {
	out := make([]Record, 0, len(rows))
	if joinKeyProperty == "" {
		return out
	}
	for _, r := range rows {
		k, ok := r[joinKeyProperty]
		if !ok || k.ID == "" {
			continue
		}
		out = append(out, Record{JoinKey: k.ID, RawMeasure: r[measureProperty].RawValue})
	}
	return out
}

// 解析 pubDate，兼容 RFS 的 "2/01/2020 9:00:00 AM" 与 RFC1123
func parsePubDate(s string) time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "2/01/2006 3:04:05 PM", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC()
	}
	return time.Time{}
}
