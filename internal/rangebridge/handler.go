package rangebridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/babelcloud/browsercast/internal/util"
)

// ResourceName is the last path element of the virtual media resource.
const ResourceName = "MEDIA_FILE"

// ErrBadRange is returned by ParseRange for a header it cannot use.
var ErrBadRange = errors.New("unsupported range")

// Fetcher returns the segment at an offset. *Broker satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, offset int64) ([]byte, error)
}

// Handler serves the virtual resource .../MEDIA_FILE?size=N as partial
// content pulled segment by segment through a Fetcher.
type Handler struct {
	fetcher Fetcher
	logger  *slog.Logger
}

func NewHandler(f Fetcher) *Handler {
	return &Handler{
		fetcher: f,
		logger:  util.ComponentLogger("range-bridge"),
	}
}

// Matches reports whether path names the virtual media resource.
func Matches(path string) bool {
	return path == ResourceName || strings.HasSuffix(path, "/"+ResourceName)
}

// ParseRange parses a single "bytes=start-[end]" range. An empty header
// means the whole resource. end is -1 when open ended.
func ParseRange(header string) (start, end int64, err error) {
	if header == "" {
		return 0, -1, nil
	}
	ranges, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(ranges, ",") {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadRange, header)
	}
	first, last, ok := strings.Cut(strings.TrimSpace(ranges), "-")
	if !ok || first == "" {
		// suffix ranges are not supported
		return 0, 0, fmt.Errorf("%w: %q", ErrBadRange, header)
	}
	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadRange, header)
	}
	if last == "" {
		return start, -1, nil
	}
	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadRange, header)
	}
	return start, end, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !Matches(r.URL.Path) {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	size, err := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	if err != nil || size <= 0 {
		http.Error(w, "invalid size parameter", http.StatusBadRequest)
		return
	}

	start, end, err := ParseRange(r.Header.Get("Range"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if start >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end < 0 || end >= size {
		end = size - 1
	}
	length := end - start + 1

	header := w.Header()
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	header.Set("Content-Length", strconv.FormatInt(length, 10))
	if ct := r.URL.Query().Get("type"); ct != "" {
		header.Set("Content-Type", ct)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	w.WriteHeader(http.StatusPartialContent)

	if r.Method == http.MethodHead {
		return
	}

	flusher, _ := w.(http.Flusher)
	ctx := r.Context()
	pos := start
	for pos <= end {
		data, err := h.fetcher.Fetch(ctx, pos)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("segment fetch failed", "offset", pos, "error", err)
			}
			return
		}
		if len(data) == 0 {
			h.logger.Warn("source ended before declared size", "offset", pos, "size", size)
			return
		}
		if remaining := end - pos + 1; int64(len(data)) > remaining {
			data = data[:remaining]
		}
		if _, err := w.Write(data); err != nil {
			h.logger.Debug("client went away", "offset", pos, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		pos += int64(len(data))
	}
	h.logger.Debug("range served", "start", start, "end", end, "size", size)
}
