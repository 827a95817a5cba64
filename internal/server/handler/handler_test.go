package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentinrey/fundingbot/internal/domain"
)

func requestWithQuery(t *testing.T, query string) *http.Request {
	t.Helper()
	u, err := url.Parse("/api/test?" + query)
	require.NoError(t, err)
	return &http.Request{URL: u}
}

func TestParseListOpts(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  domain.ListOpts
	}{
		{
			name:  "defaults",
			query: "",
			want:  domain.ListOpts{Limit: 50},
		},
		{
			name:  "explicit limit and offset",
			query: "limit=20&offset=40",
			want:  domain.ListOpts{Limit: 20, Offset: 40},
		},
		{
			name:  "limit capped at 500",
			query: "limit=9999",
			want:  domain.ListOpts{Limit: 500},
		},
		{
			name:  "garbage falls back to defaults",
			query: "limit=abc&offset=-3",
			want:  domain.ListOpts{Limit: 50},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseListOpts(requestWithQuery(t, tt.query))
			assert.Equal(t, tt.want.Limit, got.Limit)
			assert.Equal(t, tt.want.Offset, got.Offset)
			assert.Nil(t, got.Since)
			assert.Nil(t, got.Until)
		})
	}
}

func TestParseListOptsTimeRange(t *testing.T) {
	got := parseListOpts(requestWithQuery(t, "since=2026-08-01&until=2026-08-29T12:00:00Z"))

	require.NotNil(t, got.Since)
	require.NotNil(t, got.Until)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), *got.Since)
	assert.Equal(t, time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC), *got.Until)
}

func TestParseTime(t *testing.T) {
	_, ok := parseTime("")
	assert.False(t, ok)

	_, ok = parseTime("yesterday")
	assert.False(t, ok)

	got, ok := parseTime("2026-08-29")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), got)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]int{"n": 7})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"n":7}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "no such thing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"no such thing"}`, rec.Body.String())
}

type stubOppCache struct {
	opps []domain.Opportunity
	err  error
}

func (c *stubOppCache) Replace(ctx context.Context, opps []domain.Opportunity, ttl time.Duration) error {
	return nil
}

func (c *stubOppCache) List(ctx context.Context) ([]domain.Opportunity, error) {
	return c.opps, c.err
}

func (c *stubOppCache) Get(ctx context.Context, symbol string) (domain.Opportunity, error) {
	for _, o := range c.opps {
		if o.Symbol == symbol {
			return o, nil
		}
	}
	if c.err != nil {
		return domain.Opportunity{}, c.err
	}
	return domain.Opportunity{}, domain.ErrNotFound
}

func oppMux(cache domain.OpportunityCache) *http.ServeMux {
	h := NewOpportunitiesHandler(cache, slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/opportunities", h.ListOpportunities)
	mux.HandleFunc("GET /api/opportunities/{symbol}", h.GetOpportunity)
	return mux
}

func TestListOpportunities(t *testing.T) {
	mux := oppMux(&stubOppCache{opps: []domain.Opportunity{
		{Symbol: "BTC-PERP", NetAPR: 320},
		{Symbol: "ETH-PERP", NetAPR: 110},
	}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Opportunities []domain.Opportunity `json:"opportunities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Opportunities, 2)
	assert.Equal(t, "BTC-PERP", resp.Opportunities[0].Symbol)
}

func TestListOpportunitiesEmptyIsArray(t *testing.T) {
	mux := oppMux(&stubOppCache{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"opportunities":[]}`, rec.Body.String())
}

func TestGetOpportunityNotFound(t *testing.T) {
	mux := oppMux(&stubOppCache{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities/DOGE-PERP", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOpportunityCacheError(t *testing.T) {
	mux := oppMux(&stubOppCache{err: errors.New("redis down")})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities/BTC-PERP", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHealthAllUp(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": stubPinger{},
		"redis":    stubPinger{},
	}, slog.Default())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
}

func TestHealthDegraded(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": stubPinger{},
		"redis":    stubPinger{err: errors.New("connection refused")},
	}, slog.Default())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Checks["redis"], "connection refused")
}

// --- archives ---

type stubBlobReader struct {
	infos   []domain.BlobInfo
	listErr error
	objects map[string]string
}

var _ domain.BlobReader = (*stubBlobReader)(nil)

func (s *stubBlobReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := s.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *stubBlobReader) List(_ context.Context, _ string) ([]domain.BlobInfo, error) {
	return s.infos, s.listErr
}

func (s *stubBlobReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := s.objects[path]
	return ok, nil
}

func archiveMux(reader domain.BlobReader) *http.ServeMux {
	h := NewArchivesHandler(reader, slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archives", h.ListArchives)
	mux.HandleFunc("GET /api/archives/{path...}", h.GetArchive)
	return mux
}

func TestListArchives(t *testing.T) {
	mux := archiveMux(&stubBlobReader{infos: []domain.BlobInfo{
		{Path: "archive/funding/2026-08/batch1.jsonl", Size: 1024},
	}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives?prefix=archive/funding", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Archives []domain.BlobInfo `json:"archives"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Archives, 1)
	assert.Equal(t, "archive/funding/2026-08/batch1.jsonl", resp.Archives[0].Path)
}

func TestListArchivesRejectsForeignPrefix(t *testing.T) {
	mux := archiveMux(&stubBlobReader{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives?prefix=secrets/", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetArchiveStreamsBody(t *testing.T) {
	mux := archiveMux(&stubBlobReader{objects: map[string]string{
		"archive/funding/2026-08/batch1.jsonl": `{"symbol":"BTC-PERP"}` + "\n",
	}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives/archive/funding/2026-08/batch1.jsonl", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "BTC-PERP")
}

func TestGetArchiveNotFound(t *testing.T) {
	mux := archiveMux(&stubBlobReader{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives/archive/funding/2026-08/gone.jsonl", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetArchiveRejectsTraversal(t *testing.T) {
	mux := archiveMux(&stubBlobReader{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/archives/etc/passwd", nil)
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
