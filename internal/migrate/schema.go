package migrate

import (
	"context"
	"database/sql"

	"incident-map/internal/logger"
)

// 背景：首次运行自动创建结果集表，供 Postgres 数据源与 results-kv 工具读写
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _region_results (
            dataset TEXT NOT NULL,
            region_key TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            measure TEXT NOT NULL DEFAULT '',
            ord INT NOT NULL DEFAULT 0,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (dataset, region_key)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_region_results_dataset_ord ON _region_results(dataset, ord)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
