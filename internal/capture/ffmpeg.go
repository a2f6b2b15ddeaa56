package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/babelcloud/browsercast/internal/util"
)

// fragmentedMP4 makes ffmpeg emit an fMP4 stream a browser can append
// progressively.
var fragmentedMP4 = []string{
	"-f", "mp4",
	"-movflags", "frag_keyframe+empty_moov+default_base_moof",
	"-fflags", "+genpts",
	"-reset_timestamps", "1",
	"pipe:1",
}

// FFmpegCapture runs ffmpeg on user supplied input arguments and exposes
// its fragmented MP4 output.
type FFmpegCapture struct {
	Binary    string
	InputArgs []string
	// Transcode re-encodes to H.264/AAC; otherwise streams are copied.
	Transcode bool

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	waitOnce sync.Once
	waitErr  error
}

// NewFFmpegCapture creates a capture reading from inputArgs, e.g.
// ["-re", "-i", "movie.mkv"] or ["-f", "avfoundation", "-i", "1"].
func NewFFmpegCapture(inputArgs []string, transcode bool) *FFmpegCapture {
	return &FFmpegCapture{
		Binary:    "ffmpeg",
		InputArgs: inputArgs,
		Transcode: transcode,
	}
}

// Args returns the full ffmpeg argument list.
func (f *FFmpegCapture) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, f.InputArgs...)
	if f.Transcode {
		args = append(args,
			"-c:v", "libx264", "-preset", "veryfast", "-tune", "zerolatency",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k",
		)
	} else {
		args = append(args, "-c", "copy")
	}
	return append(args, fragmentedMP4...)
}

// Start launches ffmpeg. The returned reader yields the fMP4 stream until
// ffmpeg exits or ctx is cancelled.
func (f *FFmpegCapture) Start(ctx context.Context) (io.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cmd != nil {
		return nil, fmt.Errorf("ffmpeg capture already started")
	}
	if len(f.InputArgs) == 0 {
		return nil, fmt.Errorf("ffmpeg capture needs input arguments")
	}

	logger := util.ComponentLogger("capture")
	cmd := exec.CommandContext(ctx, f.Binary, f.Args()...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 3 * time.Second
	cmd.Stderr = &logWriter{logger: logger}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	logger.Info("FFmpeg capture started", "pid", cmd.Process.Pid)

	f.cmd = cmd
	f.stdout = stdout
	return stdout, nil
}

// Wait reaps ffmpeg and returns its exit error. Wait closes the stdout
// pipe, so call it only once the reader returned by Start is done: at EOF,
// or when the caller stopped reading.
func (f *FFmpegCapture) Wait() error {
	f.mu.Lock()
	cmd := f.cmd
	f.mu.Unlock()
	if cmd == nil {
		return nil
	}
	f.waitOnce.Do(func() {
		f.waitErr = cmd.Wait()
		util.ComponentLogger("capture").Info("FFmpeg capture stopped", "error", f.waitErr)
	})
	return f.waitErr
}

// Stop asks ffmpeg to terminate and reaps it. Like Wait, it must run after
// reading stopped.
func (f *FFmpegCapture) Stop() error {
	f.mu.Lock()
	cmd := f.cmd
	f.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	// already exited is fine
	cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- f.Wait() }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		cmd.Process.Kill()
		<-done
		util.ComponentLogger("capture").Warn("FFmpeg capture force killed")
	}
	return nil
}
