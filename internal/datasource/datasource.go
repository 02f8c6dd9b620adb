// 包 datasource：结果集数据源实现（内联行、Postgres 结果表）
package datasource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"incident-map/internal/feed"
	"incident-map/internal/logger"
)

// Static：宿主内联下发的结果集
type Static []feed.Row

func (s Static) ResultSet(ctx context.Context) ([]feed.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]feed.Row(nil), s...), nil
}

// ParseStatic：解析宿主格式的行数组，如 [{"HHS":{"id":"X"},"@MeasureDimension":{"rawValue":"3"}}]
func ParseStatic(b []byte) (Static, error) {
	var rows []feed.Row
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return Static(rows), nil
}

// ErrEmptyDataset：未指定数据集名
var ErrEmptyDataset = errors.New("datasource: empty dataset name")

// 文档注释：Postgres 结果集
// 背景：结果行保存在 _region_results，每行一个区域键与度量原值；按 ord 保持宿主给定顺序。
// 约束：行被渲染为 {JoinKeyProperty: {id, description}, MeasureProperty: {rawValue}}，
// 以便与内联结果集走同一条归一化路径。
type Postgres struct {
	DB              *sql.DB
	Dataset         string
	JoinKeyProperty string
	MeasureProperty string
}

func NewPostgres(db *sql.DB, dataset, joinKeyProperty, measureProperty string) *Postgres {
	return &Postgres{DB: db, Dataset: dataset, JoinKeyProperty: joinKeyProperty, MeasureProperty: measureProperty}
}

const selectResults = `SELECT region_key, description, measure FROM _region_results WHERE dataset=$1 ORDER BY ord, region_key`

func (p *Postgres) ResultSet(ctx context.Context) ([]feed.Row, error) {
	if p.Dataset == "" {
		return nil, ErrEmptyDataset
	}
	rs, err := p.DB.QueryContext(ctx, selectResults, p.Dataset)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", p.Dataset, err)
	}
	defer rs.Close()
	var out []feed.Row
	for rs.Next() {
		var key, desc, measure string
		if err := rs.Scan(&key, &desc, &measure); err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.Dataset, err)
		}
		out = append(out, feed.Row{
			p.JoinKeyProperty: {ID: key, Description: desc},
			p.MeasureProperty: {RawValue: measure},
		})
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", p.Dataset, err)
	}
	logger.Component("datasource").Debug("pg_resultset", "dataset", p.Dataset, "rows", len(out))
	return out, nil
}
