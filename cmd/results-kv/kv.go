package main

import (
	"context"
	"database/sql"
	"fmt"
)

// 结果表读写：每个数据集一组 (region_key, measure)，ord 记录插入顺序以保持首条匹配语义

func upsertResult(ctx context.Context, db *sql.DB, dataset, key, measure, desc string) error {
	_, err := db.ExecContext(ctx, `INSERT INTO _region_results(dataset, region_key, description, measure, ord)
        VALUES($1, $2, $3, $4, (SELECT COALESCE(MAX(ord), 0) + 1 FROM _region_results WHERE dataset=$1))
        ON CONFLICT (dataset, region_key) DO UPDATE SET measure=EXCLUDED.measure, description=EXCLUDED.description, updated_at=now()`,
		dataset, key, desc, measure,
	)
	return err
}

func delResult(ctx context.Context, db *sql.DB, dataset, key string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM _region_results WHERE dataset=$1 AND region_key=$2`, dataset, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func getResult(ctx context.Context, db *sql.DB, dataset, key string) (string, error) {
	row := db.QueryRowContext(ctx, `SELECT description, measure FROM _region_results WHERE dataset=$1 AND region_key=$2`, dataset, key)
	var desc, measure string
	if err := row.Scan(&desc, &measure); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s | %s | %s", key, desc, measure), nil
}

func listResults(ctx context.Context, db *sql.DB, dataset string, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT region_key, description, measure FROM _region_results WHERE dataset=$1 ORDER BY ord, region_key LIMIT $2`, dataset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var key, desc, measure string
		if err := rows.Scan(&key, &desc, &measure); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s -> %s | %s", key, desc, measure))
	}
	return out, rows.Err()
}

func listDatasets(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT dataset, COUNT(*) FROM _region_results GROUP BY dataset ORDER BY dataset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s (%d)", name, n))
	}
	return out, rows.Err()
}
