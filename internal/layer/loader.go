package layer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"incident-map/internal/logger"
)

// 文档注释：区域源数据快照（只读）
// 背景：同一 GeoJSON 在进程内只下载解析一次，各部件实例从快照克隆出自己的图层。
type Source struct {
	URL      string
	Regions  []Region
	LoadedAt time.Time
}

// 文档注释：解析 GeoJSON FeatureCollection
// 约束：只保留 Polygon/MultiPolygon；要素 id 依次取 GeoJSON id、ObjectID/OBJECTID 属性、序号（从 1 开始）。
func ParseSource(url string, data []byte) (*Source, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	src := &Source{URL: url, LoadedAt: time.Now()}
	for i, f := range fc.Features {
		r := Region{ID: featureID(f, int64(i+1)), Attributes: map[string]any{}}
		for k, v := range f.Properties {
			r.Attributes[k] = v
		}
		addPolys(&r, f.Geometry)
		if len(r.geom) == 0 {
			logger.Component("layer").Debug("layer_skip_feature", "url", url, "idx", i, "geometry", geometryType(f.Geometry))
			continue
		}
		src.Regions = append(src.Regions, r)
	}
	return src, nil
}

func featureID(f *geojson.Feature, fallback int64) int64 {
	switch v := f.ID.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	for _, k := range []string{"ObjectID", "OBJECTID", "objectid"} {
		if v, ok := f.Properties[k].(float64); ok {
			return int64(v)
		}
	}
	return fallback
}

func addPolys(r *Region, g orb.Geometry) {
	switch x := g.(type) {
	case orb.Polygon:
		r.geom = orb.MultiPolygon{x}
	case orb.MultiPolygon:
		r.geom = x
	default:
		return
	}
	r.bound = r.geom.Bound()
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "none"
	}
	return g.GeoJSONType()
}

// 文档注释：区域源数据目录
// 背景：作为就绪登记表的 Loader；资源 id 即图层地址（http(s) URL 或本地路径）。
// 约束：Load 成功后快照不可变；同一地址重复 Load 会覆盖旧快照。
type Catalog struct {
	mu      sync.RWMutex
	sources map[string]*Source
	client  *http.Client
}

func NewCatalog(client *http.Client) *Catalog {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Catalog{sources: make(map[string]*Source), client: client}
}

// Load：下载（或读取）并解析图层源数据
func (c *Catalog) Load(ctx context.Context, url string) error {
	t0 := time.Now()
	b, err := c.read(ctx, url)
	if err != nil {
		return err
	}
	src, err := ParseSource(url, b)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sources[url] = src
	c.mu.Unlock()
	logger.Component("layer").Info("layer_source_loaded", "url", url, "regions", len(src.Regions), "duration_ms", time.Since(t0).Milliseconds())
	return nil
}

func (c *Catalog) read(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return os.ReadFile(strings.TrimPrefix(url, "file://"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ErrSourceMissing：目录中没有该地址的快照（尚未就绪或加载失败）
var ErrSourceMissing = errors.New("layer source not loaded")

// Get：读取已加载的快照
func (c *Catalog) Get(url string) (*Source, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.sources[url]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%s: %w", url, ErrSourceMissing)
}
