package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/record"
	"github.com/hpungsan/gather/internal/tracker"
)

// fakeSource serves total records in pages of pageSize, honoring the request offset.
type fakeSource struct {
	mu       sync.Mutex
	total    int
	pageSize int
	noTotal  bool
	requests []record.Request

	// intercept may answer request n (1-based) itself; returning false falls through.
	intercept func(n int, w http.ResponseWriter) bool
}

func (f *fakeSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req record.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	if f.intercept != nil && f.intercept(n, w) {
		return
	}

	end := min(req.Offset+f.pageSize, f.total)
	data := make([]record.Record, 0, max(end-req.Offset, 0))
	for i := req.Offset; i < end; i++ {
		data = append(data, record.Record{
			"id":             fmt.Sprintf("R%06d", i),
			"tfservicedtime": "20240220",
			"value":          json.Number(fmt.Sprint(i)),
		})
	}

	env := record.Envelope{
		StartTime: req.StartTime,
		ResCode:   record.ResCodeSuccess,
		ResMsg:    record.ResMsgSuccess,
		DataCnt:   len(data),
		Data:      data,
	}
	if !f.noTotal {
		total := f.total
		env.TotalCnt = &total
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func (f *fakeSource) requestLog() []record.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.Request(nil), f.requests...)
}

func newClient(t *testing.T, url string, maxRecords int) *Client {
	t.Helper()
	keys, err := record.NewKeySpec([]string{"id"})
	require.NoError(t, err)
	return New(Options{
		URL:        url,
		MaxRecords: maxRecords,
		KeySpec:    keys,
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
		RequestTimeout: 5 * time.Second,
	}, nil, zaptest.NewLogger(t))
}

var windowStart = time.Date(2025, 2, 27, 15, 0, 0, 0, time.Local)

func collect(t *testing.T, c *Client, w tracker.Window) ([]Result, error) {
	t.Helper()
	var results []Result
	for res, err := range c.Fetch(context.Background(), w) {
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func TestFetch_SinglePageWithoutTotal(t *testing.T) {
	src := &fakeSource{total: 1, pageSize: 100, noTotal: true}
	srv := httptest.NewServer(src)
	defer srv.Close()

	results, err := collect(t, newClient(t, srv.URL, 0), tracker.Window{Start: windowStart})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Records, 1)
	require.Equal(t, -1, results[0].TotalCount)
	require.False(t, results[0].Truncated)
	require.False(t, results[0].LimitReached)

	reqs := src.requestLog()
	require.Len(t, reqs, 1)
	require.Equal(t, "2025-02-27T15:00:00", reqs[0].StartTime)
	require.Equal(t, record.LimitYes, reqs[0].LimitYn)
	require.Zero(t, reqs[0].Offset)
}

func TestFetch_PagesWithSameStartTime(t *testing.T) {
	src := &fakeSource{total: 25, pageSize: 10}
	srv := httptest.NewServer(src)
	defer srv.Close()

	results, err := collect(t, newClient(t, srv.URL, 0), tracker.Window{Start: windowStart})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results[0].Truncated)
	require.True(t, results[1].Truncated)
	require.False(t, results[2].Truncated)
	require.Equal(t, 25, results[2].NextOffset)

	reqs := src.requestLog()
	require.Len(t, reqs, 3)
	for i, req := range reqs {
		require.Equal(t, "2025-02-27T15:00:00", req.StartTime)
		require.Equal(t, i*10, req.Offset)
	}
}

func TestFetch_CursorFollowsReportedCount(t *testing.T) {
	// The source returns fewer items than the client might expect on some pages.
	sizes := []int{10, 3, 12}
	src := &fakeSource{total: 25}
	src.intercept = func(n int, w http.ResponseWriter) bool {
		src.mu.Lock()
		src.pageSize = sizes[min(n-1, len(sizes)-1)]
		src.mu.Unlock()
		return false
	}
	srv := httptest.NewServer(src)
	defer srv.Close()

	results, err := collect(t, newClient(t, srv.URL, 0), tracker.Window{Start: windowStart})
	require.NoError(t, err)
	require.Len(t, results, 3)

	reqs := src.requestLog()
	require.Equal(t, []int{0, 10, 13}, []int{reqs[0].Offset, reqs[1].Offset, reqs[2].Offset})
}

func TestFetch_CapEnforcement(t *testing.T) {
	tests := []struct {
		name     string
		pageSize int
		pages    int
	}{
		{"cap on page boundary", 10000, 5},
		{"cap mid page", 7000, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{total: 120000, pageSize: tt.pageSize}
			srv := httptest.NewServer(src)
			defer srv.Close()

			results, err := collect(t, newClient(t, srv.URL, 50000), tracker.Window{Start: windowStart})
			require.NoError(t, err)
			require.Len(t, results, tt.pages)

			total := 0
			for _, res := range results {
				total += len(res.Records)
			}
			require.Equal(t, 50000, total)

			last := results[len(results)-1]
			require.True(t, last.LimitReached)
			require.True(t, last.Truncated)
			require.Equal(t, 120000, last.TotalCount)
			require.Equal(t, 50000, last.NextOffset)
			require.Len(t, src.requestLog(), tt.pages, "no paging past the ceiling")
		})
	}
}

func TestFetch_ExactlyAtCapWithoutMoreData(t *testing.T) {
	src := &fakeSource{total: 100, pageSize: 50}
	srv := httptest.NewServer(src)
	defer srv.Close()

	results, err := collect(t, newClient(t, srv.URL, 100), tracker.Window{Start: windowStart})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, results[1].LimitReached)
}

func TestFetch_ResumesAtWindowOffset(t *testing.T) {
	src := &fakeSource{total: 120000, pageSize: 50000}
	srv := httptest.NewServer(src)
	defer srv.Close()

	results, err := collect(t, newClient(t, srv.URL, 50000), tracker.Window{Start: windowStart, Offset: 50000})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 50000, results[0].Offset)
	require.Equal(t, "R050000", results[0].Records[0]["id"])
	require.True(t, results[0].LimitReached)
	require.Equal(t, 100000, results[0].NextOffset)
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	src := &fakeSource{total: 5, pageSize: 10}
	src.intercept = func(n int, w http.ResponseWriter) bool {
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return true
		}
		return false
	}
	srv := httptest.NewServer(src)
	defer srv.Close()

	results, err := collect(t, newClient(t, srv.URL, 0), tracker.Window{Start: windowStart})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, src.requestLog(), 3)
}

func TestFetch_RetriesExhausted(t *testing.T) {
	src := &fakeSource{total: 5, pageSize: 10}
	src.intercept = func(n int, w http.ResponseWriter) bool {
		w.WriteHeader(http.StatusInternalServerError)
		return true
	}
	srv := httptest.NewServer(src)
	defer srv.Close()

	_, err := collect(t, newClient(t, srv.URL, 0), tracker.Window{Start: windowStart})
	require.True(t, errors.Is(err, errors.ErrRemoteError))
	require.Len(t, src.requestLog(), 3)
}

func TestFetch_NonSuccessResCode(t *testing.T) {
	src := &fakeSource{}
	src.intercept = func(n int, w http.ResponseWriter) bool {
		_, _ = w.Write([]byte(`{"startTime":"2025-02-27T15:00:00","res_code":"500","res_msg":"db down","dataCnt":0,"data":[]}`))
		return true
	}
	srv := httptest.NewServer(src)
	defer srv.Close()

	_, err := collect(t, newClient(t, srv.URL, 0), tracker.Window{Start: windowStart})
	require.True(t, errors.Is(err, errors.ErrRemoteError))
	gErr, ok := errors.As(err)
	require.True(t, ok)
	require.Equal(t, "500", gErr.Details["res_code"])
	require.Len(t, src.requestLog(), 3, "res_code failures are retried")
}

func TestFetch_MalformedIsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"res_code": "200", "data": [`},
		{"missing res_code", `{"dataCnt":0,"data":[]}`},
		{"count mismatch", `{"res_code":"200","res_msg":"success","dataCnt":2,"data":[{"id":"A1"}]}`},
		{"missing identity", `{"res_code":"200","res_msg":"success","dataCnt":1,"data":[{"value":1}]}`},
		{"bad tfservicedtime", `{"res_code":"200","res_msg":"success","dataCnt":1,"data":[{"id":"A1","tfservicedtime":"2024-02-20"}]}`},
		{"empty page with more", `{"res_code":"200","res_msg":"success","dataCnt":0,"totalCnt":10,"data":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			src.intercept = func(n int, w http.ResponseWriter) bool {
				_, _ = w.Write([]byte(tt.body))
				return true
			}
			srv := httptest.NewServer(src)
			defer srv.Close()

			_, err := collect(t, newClient(t, srv.URL, 0), tracker.Window{Start: windowStart})
			require.True(t, errors.Is(err, errors.ErrMalformedResponse), "got %v", err)
			require.Len(t, src.requestLog(), 1)
		})
	}
}

func TestFetch_RemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := collect(t, newClient(t, url, 0), tracker.Window{Start: windowStart})
	require.True(t, errors.Is(err, errors.ErrRemoteUnavailable), "got %v", err)
}

func TestFetch_PartialPageFailure(t *testing.T) {
	src := &fakeSource{total: 30, pageSize: 10}
	src.intercept = func(n int, w http.ResponseWriter) bool {
		if n >= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return true
		}
		return false
	}
	srv := httptest.NewServer(src)
	defer srv.Close()

	results, err := collect(t, newClient(t, srv.URL, 0), tracker.Window{Start: windowStart})
	require.True(t, errors.Is(err, errors.ErrRemoteError))
	require.Len(t, results, 1, "page 1 was delivered before page 2 failed")
}

func TestFetch_CancelStopsAtPageBoundary(t *testing.T) {
	src := &fakeSource{total: 30, pageSize: 10}
	srv := httptest.NewServer(src)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newClient(t, srv.URL, 0)
	pages := 0
	var lastErr error
	for _, err := range c.Fetch(ctx, tracker.Window{Start: windowStart}) {
		if err != nil {
			lastErr = err
			break
		}
		pages++
		cancel()
	}

	require.Equal(t, 1, pages)
	require.True(t, errors.Is(lastErr, errors.ErrCancelled))
	require.Len(t, src.requestLog(), 1)
}

func TestFetch_RequestPacing(t *testing.T) {
	src := &fakeSource{total: 3, pageSize: 1}
	srv := httptest.NewServer(src)
	defer srv.Close()

	keys, err := record.NewKeySpec([]string{"id"})
	require.NoError(t, err)
	c := New(Options{URL: srv.URL, KeySpec: keys, RequestsPerSecond: 20}, nil, nil)

	start := time.Now()
	results, err := collect(t, c, tracker.Window{Start: windowStart})
	require.NoError(t, err)
	require.Len(t, results, 3)
	// Burst of 1 at 20 rps: the 2nd and 3rd requests wait ~50ms each
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
