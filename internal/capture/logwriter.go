package capture

import (
	"bytes"
	"log/slog"
)

// logWriter turns ffmpeg's stderr into log lines.
type logWriter struct {
	logger *slog.Logger
	buf    []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			w.logger.Warn("ffmpeg", "line", string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
