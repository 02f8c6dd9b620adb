// 包 api：集中注册宿主 HTTP 接口，把属性绑定生命周期、点击与数据源推送映射到部件
package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/paulmach/orb"

	"incident-map/internal/config"
	"incident-map/internal/datasource"
	"incident-map/internal/feed"
	"incident-map/internal/layer"
	"incident-map/internal/logger"
	"incident-map/internal/readiness"
	"incident-map/internal/selection"
	"incident-map/internal/widget"
)

// 请求体上限
const maxBody = 4 << 20

// Host：宿主接口依赖；DB 为空时不支持按数据集名绑定
type Host struct {
	Widget *widget.Widget
	DB     *sql.DB
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(h *Host) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/selection", h.selection)
	mux.HandleFunc("/datasource", h.dataSource)
	mux.HandleFunc("/click", h.click)
	mux.HandleFunc("/props", h.props)
	mux.HandleFunc("/features", h.features)
	mux.HandleFunc("/incidents", h.incidents)
	mux.HandleFunc("/events", h.events)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, errorResult{Error: "method not allowed"})
	return false
}

// writeError：把部件错误映射为状态码
func writeError(w http.ResponseWriter, err error) {
	var (
		le *readiness.LoadError
		fe *feed.FetchError
		ee *layer.EditError
	)
	switch {
	case errors.As(err, &le):
		writeJSON(w, http.StatusServiceUnavailable, errorResult{Error: err.Error()})
	case errors.As(err, &fe):
		writeJSON(w, http.StatusBadGateway, errorResult{Error: err.Error(), Source: fe.Source})
	case errors.As(err, &ee):
		writeJSON(w, http.StatusInternalServerError, errorResult{Error: err.Error(), Code: ee.Code, Name: ee.Name})
	case errors.Is(err, widget.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorResult{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResult{Error: err.Error()})
	}
}

func (h *Host) selection(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, selectionResult{Selection: h.Widget.Selection()})
}

// dataSource：请求体为行数组时作为内联结果集；为 {"dataset": "..."} 时读取 Postgres 结果表
func (h *Host) dataSource(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResult{Error: err.Error()})
		return
	}
	src, err := h.parseSource(b)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResult{Error: err.Error()})
		return
	}
	if err := h.Widget.SetDataSource(r.Context(), src); err != nil {
		logger.L().Error("datasource_error", "widget", h.Widget.ID(), "req_id", logger.RequestID(r.Context()), "err", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Host) parseSource(b []byte) (feed.DataSource, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		return datasource.ParseStatic(b)
	}
	var req struct {
		Dataset string `json:"dataset"`
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if req.Dataset == "" {
		return nil, datasource.ErrEmptyDataset
	}
	if h.DB == nil {
		return nil, errors.New("dataset sources need PG_HOST or DATABASE_URL")
	}
	p := h.Widget.Props()
	return datasource.NewPostgres(h.DB, req.Dataset, p.JoinKeyProperty, p.MeasureProperty), nil
}

func (h *Host) click(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req clickRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil || req.Lat == nil || req.Lon == nil {
		writeJSON(w, http.StatusBadRequest, errorResult{Error: "lat and lon are required"})
		return
	}
	ev, err := h.Widget.HandlePointer(r.Context(), orb.Point{*req.Lon, *req.Lat})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResult{Event: string(ev.Kind), Selection: h.Widget.Selection()})
}

// props：宿主属性推送；依次触发 BeforeUpdate 与 AfterUpdate，GET 返回当前属性
func (h *Host) props(w http.ResponseWriter, r *http.Request) {
	var ignored []string
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var m map[string]any
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&m); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResult{Error: err.Error()})
			return
		}
		c, ign, err := config.ParseChanges(m)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResult{Error: err.Error()})
			return
		}
		ignored = ign
		h.Widget.BeforeUpdate(c)
		h.Widget.AfterUpdate(c)
	default:
		allow(w, r, http.MethodPost)
		return
	}
	p := h.Widget.Props()
	writeJSON(w, http.StatusOK, propsResult{
		JoinKeyProperty: p.JoinKeyProperty,
		MeasureProperty: p.MeasureProperty,
		LayerURL:        p.LayerURL,
		FeedURL:         p.FeedURL,
		Ignored:         ignored,
	})
}

func (h *Host) features(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	fs, err := h.Widget.Features(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]featureResult, 0, len(fs))
	for _, f := range fs {
		out = append(out, toFeatureResult(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Host) incidents(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	in := h.Widget.Incidents()
	out := incidentsResult{Incidents: make([]incidentResult, 0, len(in)), Counts: h.Widget.IncidentCounts()}
	for _, x := range in {
		out.Incidents = append(out.Incidents, incidentResult{
			ID:        x.ID,
			Title:     x.Title,
			Category:  x.Category,
			Link:      x.Link,
			Published: x.Published,
			Lon:       x.Point.Lon(),
			Lat:       x.Point.Lat(),
			Region:    x.RegionKey,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// 文档注释：选择通知事件流（text/event-stream）
// 背景：宿主订阅 region-selected / region-cleared；建立连接后先写一行注释表示已订阅。
// 约束：慢消费者丢弃通知而不阻塞选择控制器；连接断开即退订。
func (h *Host) events(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResult{Error: "streaming unsupported"})
		return
	}
	ch := make(chan selection.Event, 16)
	unsub := h.Widget.Subscribe(func(e selection.Event) {
		select {
		case ch <- e:
		default:
			logger.L().Warn("events_dropped", "widget", h.Widget.ID(), "event", string(e.Kind))
		}
	})
	defer unsub()

	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": subscribed\n\n")
	fl.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			b, _ := json.Marshal(eventResult{Event: string(e.Kind), Selection: e.Key})
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, b); err != nil {
				return
			}
			fl.Flush()
		}
	}
}
