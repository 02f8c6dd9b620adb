package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticRows(rows ...Row) DataSource {
	return DataSourceFunc(func(ctx context.Context) ([]Row, error) { return rows, nil })
}

func row(key, measure string) Row {
	return Row{"HHS": {ID: key}, "@MeasureDimension": {RawValue: measure}}
}

func feedServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "majorIncidents.json"))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch r.URL.Path {
		case "/feed.json":
			_, _ = w.Write(b)
		case "/garbage.json":
			_, _ = w.Write([]byte("<html>"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNormalize(t *testing.T) {
	rows := []Row{
		row("X", "10"),
		{"@MeasureDimension": {RawValue: "5"}},
		row("", "7"),
		{"HHS": {ID: "Y"}},
	}

	got := Normalize(rows, "HHS", "@MeasureDimension")
	assert.Equal(t, []Record{{JoinKey: "X", RawMeasure: "10"}, {JoinKey: "Y", RawMeasure: ""}}, got)
	assert.Empty(t, Normalize(rows, "", "@MeasureDimension"), "default empty join key matches nothing")
}

func TestMember_UnmarshalJSON(t *testing.T) {
	var rows []Row
	err := json.Unmarshal([]byte(`[
		{"HHS": {"id": "X", "description": "West"}, "@MeasureDimension": {"rawValue": "42"}},
		{"HHS": {"id": 7}, "@MeasureDimension": {"rawValue": 3.5}},
		{"HHS": {"id": "Z"}, "@MeasureDimension": {"rawValue": null}}
	]`), &rows)
	require.NoError(t, err)

	assert.Equal(t, Member{ID: "X", Description: "West"}, rows[0]["HHS"])
	assert.Equal(t, "42", rows[0]["@MeasureDimension"].RawValue)
	assert.Equal(t, "7", rows[1]["HHS"].ID)
	assert.Equal(t, "3.5", rows[1]["@MeasureDimension"].RawValue)
	assert.Equal(t, "", rows[2]["@MeasureDimension"].RawValue)

	var m Member
	assert.Error(t, json.Unmarshal([]byte(`{"id": {"nested": true}}`), &m))
}

func TestParseIncidents(t *testing.T) {
	b, err := os.ReadFile(filepath.Join("testdata", "majorIncidents.json"))
	require.NoError(t, err)

	got, err := ParseIncidents(b)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Wollemi Fire", got[0].Title)
	assert.Equal(t, "Emergency Warning", got[0].Category)
	assert.Equal(t, orb.Point{2, 2}, got[0].Point, "collection uses its first point")
	assert.Equal(t, 2020, got[0].Published.Year())
	assert.Equal(t, orb.Point{25, 5}, got[1].Point)
	assert.Equal(t, orb.Point{42, 2}, got[2].Point, "polygons use their bound center")
	assert.True(t, got[1].Published.IsZero())

	_, err = ParseIncidents([]byte("not json"))
	assert.Error(t, err)
}

func TestAdapter_Fetch(t *testing.T) {
	srv := feedServer(t, nil)
	a := NewAdapter(srv.Client(), nil, 0, time.Second)

	res, err := a.Fetch(context.Background(), Query{
		FeedURL:         srv.URL + "/feed.json",
		JoinKeyProperty: "HHS",
		MeasureProperty: "@MeasureDimension",
	}, staticRows(row("X", "10"), row("Y", "30")))
	require.NoError(t, err)

	assert.Equal(t, []Record{{"X", "10"}, {"Y", "30"}}, res.Records)
	assert.Len(t, res.Incidents, 3)
}

func TestAdapter_Fetch_NoFeedURL(t *testing.T) {
	a := NewAdapter(nil, nil, 0, 0)
	res, err := a.Fetch(context.Background(), Query{JoinKeyProperty: "HHS", MeasureProperty: "@MeasureDimension"}, staticRows(row("X", "1")))
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Empty(t, res.Incidents)
}

func TestAdapter_Fetch_Errors(t *testing.T) {
	srv := feedServer(t, nil)
	a := NewAdapter(srv.Client(), nil, 0, time.Second)
	boom := errors.New("result set unavailable")

	tests := []struct {
		name       string
		url        string
		src        DataSource
		wantSource string
	}{
		{"feed status", srv.URL + "/down.json", staticRows(), "feed"},
		{"feed decode", srv.URL + "/garbage.json", staticRows(), "feed"},
		{"result set", srv.URL + "/feed.json", DataSourceFunc(func(ctx context.Context) ([]Row, error) { return nil, boom }), "resultset"},
		{"nil data source", "", nil, "resultset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Fetch(context.Background(), Query{FeedURL: tt.url, JoinKeyProperty: "HHS"}, tt.src)
			assert.Nil(t, res)
			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.wantSource, fe.Source)
		})
	}

	_, err := a.Fetch(context.Background(), Query{FeedURL: srv.URL + "/feed.json"}, DataSourceFunc(func(ctx context.Context) ([]Row, error) { return nil, boom }))
	assert.ErrorIs(t, err, boom)
}

func TestAdapter_Fetch_Timeout(t *testing.T) {
	a := NewAdapter(nil, nil, 0, 20*time.Millisecond)
	slow := DataSourceFunc(func(ctx context.Context) ([]Row, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := a.Fetch(context.Background(), Query{}, slow)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdapter_Fetch_CachesFeed(t *testing.T) {
	var hits atomic.Int32
	srv := feedServer(t, &hits)
	a := NewAdapter(srv.Client(), NewLRU(4), time.Minute, time.Second)
	q := Query{FeedURL: srv.URL + "/feed.json", JoinKeyProperty: "HHS"}

	for i := 0; i < 3; i++ {
		res, err := a.Fetch(context.Background(), q, staticRows())
		require.NoError(t, err)
		assert.Len(t, res.Incidents, 3)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestAdapter_Fetch_DoesNotCacheGarbage(t *testing.T) {
	var hits atomic.Int32
	srv := feedServer(t, &hits)
	a := NewAdapter(srv.Client(), NewLRU(4), time.Minute, time.Second)
	q := Query{FeedURL: srv.URL + "/garbage.json"}

	for i := 0; i < 2; i++ {
		_, err := a.Fetch(context.Background(), q, staticRows())
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestLRU(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2)
	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	_, _ = c.Get(ctx, "a")
	c.Set(ctx, "c", []byte("3"), time.Minute)

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry evicted")
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	c.Set(ctx, "d", []byte("4"), -time.Second)
	_, ok = c.Get(ctx, "d")
	assert.False(t, ok, "expired entries miss")
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	c := NewRedisCache(rc)
	ctx := context.Background()

	_, ok := c.Get(ctx, "http://feed")
	assert.False(t, ok)

	c.Set(ctx, "http://feed", []byte(`{"type":"FeatureCollection","features":[]}`), time.Minute)
	b, ok := c.Get(ctx, "http://feed")
	require.True(t, ok)
	assert.Contains(t, string(b), "FeatureCollection")
	assert.True(t, mr.Exists("incidentmap:feed:http://feed"))

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "http://feed")
	assert.False(t, ok)
}
