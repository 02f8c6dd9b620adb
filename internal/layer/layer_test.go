package layer

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-map/internal/logger"
)

func loadTestSource(t *testing.T) *Source {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "regions.geojson"))
	require.NoError(t, err)
	src, err := ParseSource("regions.geojson", b)
	require.NoError(t, err)
	return src
}

func fp(v float64) *float64 { return &v }

func TestParseSource(t *testing.T) {
	src := loadTestSource(t)

	require.Len(t, src.Regions, 3, "line strings are dropped")
	assert.Equal(t, int64(1), src.Regions[0].ID)
	assert.Equal(t, int64(7), src.Regions[1].ID)
	assert.Equal(t, int64(4), src.Regions[2].ID, "falls back to position")
	assert.Len(t, src.Regions[1].geom, 2)
}

func TestParseSource_Invalid(t *testing.T) {
	_, err := ParseSource("bad", []byte(`{"type":`))
	assert.Error(t, err)
}

func TestFeature_Key(t *testing.T) {
	src := loadTestSource(t)
	l := NewFeatureLayer("regions", src)
	fs, err := l.QueryFeatures(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "X", fs[0].Key("HHS"))
	assert.Equal(t, "3", fs[2].Key("HHS"), "numeric attributes render without decimals")
	assert.Equal(t, "", fs[0].Key(""))
	assert.Equal(t, "", fs[0].Key("missing"))
}

func TestFeatureLayer_HitTest(t *testing.T) {
	l := NewFeatureLayer("regions", loadTestSource(t))
	ctx := context.Background()

	tests := []struct {
		name string
		pt   orb.Point
		want []int64
	}{
		{"inside outer ring", orb.Point{2, 2}, []int64{1}},
		{"inside hole", orb.Point{5, 5}, nil},
		{"on outer edge", orb.Point{0, 5}, []int64{1}},
		{"first part of multipolygon", orb.Point{25, 5}, []int64{7}},
		{"second part of multipolygon", orb.Point{42, 2}, []int64{7}},
		{"outside everything", orb.Point{15, 5}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := l.HitTest(ctx, tt.pt)
			require.NoError(t, err)
			var got []int64
			for _, h := range hits {
				assert.Equal(t, "regions", h.LayerID)
				got = append(got, h.Feature.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFeatureLayer_ApplyEdits(t *testing.T) {
	l := NewFeatureLayer("regions", loadTestSource(t))
	ctx := context.Background()

	rep, err := l.ApplyEdits(ctx, EditBatch{UpdateFeatures: []Feature{
		{ID: 1, Measure: fp(42), Max: 42},
		{ID: 7, Max: 42},
	}})
	require.NoError(t, err)
	assert.Equal(t, []EditResult{{ObjectID: 1, Success: true}, {ObjectID: 7, Success: true}}, rep.UpdateResults)

	fs, err := l.QueryFeatures(ctx)
	require.NoError(t, err)
	require.NotNil(t, fs[0].Measure)
	assert.Equal(t, 42.0, *fs[0].Measure)
	assert.Nil(t, fs[1].Measure)
	assert.Equal(t, 42.0, fs[1].Max)
	assert.Equal(t, "X", fs[0].Key("HHS"), "attributes survive edits without attribute payload")
}

func TestFeatureLayer_ApplyEdits_RejectsWholeBatch(t *testing.T) {
	l := NewFeatureLayer("regions", loadTestSource(t))
	ctx := context.Background()

	_, err := l.ApplyEdits(ctx, EditBatch{UpdateFeatures: []Feature{{ID: 1, Measure: fp(5), Max: 5}}})
	require.NoError(t, err)

	_, err = l.ApplyEdits(ctx, EditBatch{UpdateFeatures: []Feature{
		{ID: 1, Measure: fp(99), Max: 99},
		{ID: 999, Measure: fp(1), Max: 99},
	}})
	var ee *EditError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 404, ee.Code)
	assert.Equal(t, "feature-layer:feature-not-found", ee.Name)

	fs, err := l.QueryFeatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, *fs[0].Measure, "failed batch leaves prior values")
	assert.Equal(t, 5.0, fs[0].Max)
}

func TestFeatureLayer_QueryReturnsCopies(t *testing.T) {
	l := NewFeatureLayer("regions", loadTestSource(t))
	ctx := context.Background()

	fs, err := l.QueryFeatures(ctx)
	require.NoError(t, err)
	fs[0].Attributes["HHS"] = "mutated"
	fs[0].Max = 1000

	again, err := l.QueryFeatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, "X", again[0].Key("HHS"))
	assert.Equal(t, 0.0, again[0].Max)
}

func TestFeatureLayer_ClonesAreIndependent(t *testing.T) {
	src := loadTestSource(t)
	a := NewFeatureLayer("a", src)
	b := NewFeatureLayer("b", src)
	ctx := context.Background()

	_, err := a.ApplyEdits(ctx, EditBatch{UpdateFeatures: []Feature{{ID: 1, Attributes: map[string]any{"HHS": "changed"}}}})
	require.NoError(t, err)

	fs, err := b.QueryFeatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, "X", fs[0].Key("HHS"))
	assert.Equal(t, "X", src.Regions[0].Attributes["HHS"])
}

func TestFeatureLayer_Locate(t *testing.T) {
	l := NewFeatureLayer("regions", loadTestSource(t))

	key, ok := l.Locate(orb.Point{26, 3}, "HHS")
	assert.True(t, ok)
	assert.Equal(t, "Y", key)

	_, ok = l.Locate(orb.Point{-5, -5}, "HHS")
	assert.False(t, ok)
}

func TestView_HitTestOrderTopFirst(t *testing.T) {
	regions := NewFeatureLayer("regions", loadTestSource(t))
	marks := NewPointLayer("incidents", 0.5)
	marks.Replace([]orb.Point{{2, 2}, {2.2, 2}}, []Feature{{ID: 100}, {ID: 101}})
	v := NewView(regions)
	v.Add(marks)

	hits, err := v.HitTest(context.Background(), orb.Point{2.15, 2})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "incidents", hits[0].LayerID)
	assert.Equal(t, int64(101), hits[0].Feature.ID, "nearest marker first")
	assert.Equal(t, int64(100), hits[1].Feature.ID)
	assert.Equal(t, "regions", hits[2].LayerID)

	v.Remove(marks)
	hits, err = v.HitTest(context.Background(), orb.Point{2.15, 2})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "regions", hits[0].LayerID)
}

func TestCatalog_LoadFileAndHTTP(t *testing.T) {
	path := filepath.Join("testdata", "regions.geojson")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/spatial.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	c := NewCatalog(srv.Client())
	ctx := context.Background()

	_, err = c.Get(path)
	assert.ErrorIs(t, err, ErrSourceMissing)

	require.NoError(t, c.Load(ctx, path))
	require.NoError(t, c.Load(ctx, srv.URL+"/spatial.json"))
	assert.Error(t, c.Load(ctx, srv.URL+"/missing.json"))

	s1, err := c.Get(path)
	require.NoError(t, err)
	s2, err := c.Get(srv.URL + "/spatial.json")
	require.NoError(t, err)
	assert.Len(t, s1.Regions, 3)
	assert.Len(t, s2.Regions, 3)
}

func TestNewFeatureLayer_DuplicateIDsWarn(t *testing.T) {
	var buf bytes.Buffer
	logger.SetupWriter(&buf)
	defer logger.SetupWriter(&bytes.Buffer{})

	// 第一个要素无 id，按序号回退为 1，与第二个要素的显式 id 冲突
	src, err := ParseSource("dup.geojson", []byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "properties": {"HHS": "A"},
		 "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 1], [0, 0]]]}},
		{"type": "Feature", "id": 1, "properties": {"HHS": "B"},
		 "geometry": {"type": "Polygon", "coordinates": [[[2, 0], [3, 0], [3, 1], [2, 1], [2, 0]]]}}
	]}`))
	require.NoError(t, err)
	require.Len(t, src.Regions, 2)

	l := NewFeatureLayer("regions", src)
	fs, err := l.QueryFeatures(context.Background())
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, "A", fs[0].Key("HHS"))
	assert.Contains(t, buf.String(), "layer_duplicate_feature")
	assert.Contains(t, buf.String(), "url=dup.geojson")
}
