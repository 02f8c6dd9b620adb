package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"incident-map/internal/logger"
	"incident-map/internal/metrics"
)

// Query：一次拉取使用的部件属性
type Query struct {
	FeedURL         string
	JoinKeyProperty string
	MeasureProperty string
}

// 文档注释：事件源与结果集适配器
// 背景：两路请求互不依赖，并发发出；任一失败即整体失败并以 *FetchError 返回给调用方。
// 约束：FeedURL 为空时跳过事件源；Cache 为空时不缓存；Timeout 作用于整次拉取。
type Adapter struct {
	Client   *http.Client
	Cache    Cache
	CacheTTL time.Duration
	Timeout  time.Duration
}

func NewAdapter(client *http.Client, cache Cache, ttl, timeout time.Duration) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	return &Adapter{Client: client, Cache: cache, CacheTTL: ttl, Timeout: timeout}
}

// Fetch：拉取事件源与结果集并归一化
func (a *Adapter) Fetch(ctx context.Context, q Query, src DataSource) (*Result, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	var (
		rows      []Row
		incidents []Incident
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if q.FeedURL == "" {
			return nil
		}
		t0 := time.Now()
		b, cached, err := a.feedBody(gctx, q.FeedURL)
		if err == nil {
			incidents, err = ParseIncidents(b)
		}
		if err == nil && !cached && a.Cache != nil && a.CacheTTL > 0 {
			a.Cache.Set(gctx, q.FeedURL, b, a.CacheTTL)
		}
		return observe("feed", t0, err)
	})
	g.Go(func() error {
		if src == nil {
			return observe("resultset", time.Now(), fmt.Errorf("no data source"))
		}
		t0 := time.Now()
		var err error
		rows, err = src.ResultSet(gctx)
		return observe("resultset", t0, err)
	})
	if err := g.Wait(); err != nil {
		logger.Component("feed").Error("feed_fetch_error", "err", err)
		return nil, err
	}
	recs := Normalize(rows, q.JoinKeyProperty, q.MeasureProperty)
	logger.Component("feed").Debug("feed_fetch_ok", "rows", len(rows), "records", len(recs), "incidents", len(incidents))
	return &Result{Records: recs, Incidents: incidents}, nil
}

func observe(source string, t0 time.Time, err error) error {
	metrics.FeedFetchDurationMs.WithLabelValues(source).Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		metrics.FeedFetchTotal.WithLabelValues(source, "fail").Inc()
		return &FetchError{Source: source, Err: err}
	}
	metrics.FeedFetchTotal.WithLabelValues(source, "ok").Inc()
	return nil
}

// 约束：只缓存能解析的响应体，由调用方在解析成功后写入
func (a *Adapter) feedBody(ctx context.Context, url string) ([]byte, bool, error) {
	if a.Cache != nil {
		if b, ok := a.Cache.Get(ctx, url); ok {
			metrics.FeedCacheHitsTotal.Inc()
			return b, true, nil
		}
		metrics.FeedCacheMissesTotal.Inc()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("accept", "application/json")
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	return b, false, err
}
