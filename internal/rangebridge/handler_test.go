package rangebridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFetcher serves fixed-size segments of data.
type memFetcher struct {
	data    []byte
	segment int
	calls   atomic.Int32
	onFetch func()
}

func (f *memFetcher) Fetch(ctx context.Context, offset int64) ([]byte, error) {
	f.calls.Add(1)
	if f.onFetch != nil {
		f.onFetch()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset >= int64(len(f.data)) {
		return nil, nil
	}
	end := offset + int64(f.segment)
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	return f.data[offset:end], nil
}

func testData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func serve(h http.Handler, target, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerServesWholeResourceWithoutRange(t *testing.T) {
	data := testData(1000)
	h := NewHandler(&memFetcher{data: data, segment: 300})

	rec := serve(h, "/cast/MEDIA_FILE?size=1000", "")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, data, rec.Body.Bytes())
}

func TestHandlerServesRequestedRange(t *testing.T) {
	data := testData(1000)
	f := &memFetcher{data: data, segment: 64}
	h := NewHandler(f)

	rec := serve(h, "/MEDIA_FILE?size=1000", "bytes=100-299")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 100-299/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "200", rec.Header().Get("Content-Length"))
	assert.Equal(t, data[100:300], rec.Body.Bytes())
	assert.Equal(t, int32(4), f.calls.Load())
}

func TestHandlerOpenEndedRange(t *testing.T) {
	data := testData(500)
	h := NewHandler(&memFetcher{data: data, segment: 128})

	rec := serve(h, "/MEDIA_FILE?size=500", "bytes=499-")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 499-499/500", rec.Header().Get("Content-Range"))
	assert.Equal(t, data[499:], rec.Body.Bytes())
}

func TestHandlerClampsEndToSize(t *testing.T) {
	data := testData(500)
	h := NewHandler(&memFetcher{data: data, segment: 128})

	rec := serve(h, "/MEDIA_FILE?size=500", "bytes=400-9999")

	assert.Equal(t, "bytes 400-499/500", rec.Header().Get("Content-Range"))
	assert.Len(t, rec.Body.Bytes(), 100)
}

func TestHandlerRejectsStartPastEnd(t *testing.T) {
	f := &memFetcher{data: testData(100), segment: 10}
	h := NewHandler(f)

	rec := serve(h, "/MEDIA_FILE?size=100", "bytes=100-")

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */100", rec.Header().Get("Content-Range"))
	assert.Zero(t, f.calls.Load())
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := NewHandler(&memFetcher{data: testData(10), segment: 10})

	assert.Equal(t, http.StatusBadRequest, serve(h, "/MEDIA_FILE", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, "/MEDIA_FILE?size=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, "/MEDIA_FILE?size=-4", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, "/MEDIA_FILE?size=10", "items=0-1").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, "/OTHER_FILE?size=10", "").Code)
}

func TestHandlerStopsWhenClientLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &memFetcher{data: testData(10000), segment: 100}
	f.onFetch = func() {
		if f.calls.Load() == 3 {
			cancel()
		}
	}
	h := NewHandler(f)

	req := httptest.NewRequest(http.MethodGet, "/MEDIA_FILE?size=10000", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, int32(3), f.calls.Load())
	assert.Len(t, rec.Body.Bytes(), 200)
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		header     string
		start, end int64
		wantErr    bool
	}{
		{"", 0, -1, false},
		{"bytes=0-", 0, -1, false},
		{"bytes=5-10", 5, 10, false},
		{"bytes=-500", 0, 0, true},
		{"bytes=10-5", 0, 0, true},
		{"bytes=0-1,4-5", 0, 0, true},
		{"bytes=x-", 0, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			start, end, err := ParseRange(tc.header)
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrBadRange))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
		})
	}
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("/MEDIA_FILE"))
	assert.True(t, Matches("/some/dir/MEDIA_FILE"))
	assert.False(t, Matches("/MEDIA_FILE/extra"))
	assert.False(t, Matches("/XMEDIA_FILE"))
}
