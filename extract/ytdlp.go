// vidvault/extract/ytdlp.go
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"

	"vidvault/config"
)

// Ytdlp runs the yt-dlp binary. One instance is shared by all processing
// attempts; every invocation gets its own process.
type Ytdlp struct {
	bin       string
	extraArgs []string
	maxHeight int
	log       *zap.Logger
}

func NewYtdlp(cfg *config.Config, log *zap.Logger) (*Ytdlp, error) {
	// Ensure the binary is reachable before accepting any work.
	if _, err := exec.LookPath(cfg.YtdlpBin); err != nil {
		return nil, fmt.Errorf("yt-dlp binary not found or not in PATH: %s", cfg.YtdlpBin)
	}

	// Operator-supplied arguments (proxies, rate limits, PO tokens) are
	// split without a shell and screened so they cannot be used for
	// injection.
	extraArgs, err := SplitExtraArgs(cfg.YtdlpExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid YTDLP_EXTRA_ARGS: %w", err)
	}

	return &Ytdlp{
		bin:       cfg.YtdlpBin,
		extraArgs: extraArgs,
		maxHeight: cfg.MaxHeight,
		log:       log,
	}, nil
}

// Info extracts metadata without downloading. Audio-only renditions are
// dropped from the format list.
func (y *Ytdlp) Info(ctx context.Context, url string) (*Info, error) {
	args := append([]string{"-J", "--no-playlist", "--no-warnings"}, y.extraArgs...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, y.classify(ctx, url, stderr.String(), err)
	}

	var info Info
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, &Error{Code: CodeFormat, URL: url, Msg: "malformed metadata: " + err.Error()}
	}

	videoFormats := info.Formats[:0]
	for _, f := range info.Formats {
		if f.VCodec != "none" {
			videoFormats = append(videoFormats, f)
		}
	}
	info.Formats = videoFormats

	y.log.Info("extracted video info",
		zap.String("url", url),
		zap.String("title", info.Title),
		zap.Int("formats", len(info.Formats)))
	return &info, nil
}

// OpenStream starts a download writing to stdout and returns the pipe.
// The caller owns the stream; Close terminates the process and reaps it.
func (y *Ytdlp) OpenStream(ctx context.Context, url, formatID string) (io.ReadCloser, error) {
	selector := formatID
	if selector == "" {
		selector = DefaultSelector(y.maxHeight)
	}

	args := append([]string{
		"-f", selector,
		"-o", "-",
		"--no-playlist",
		"--no-warnings",
		"--quiet",
	}, y.extraArgs...)
	args = append(args, url)

	streamCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(streamCtx, y.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &Error{Code: CodeNetwork, URL: url, Msg: err.Error()}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &Error{Code: CodeNetwork, URL: url, Msg: err.Error()}
	}

	y.log.Info("streaming download started",
		zap.String("url", url), zap.String("format", selector))

	return &processStream{
		y:      y,
		url:    url,
		ctx:    ctx,
		cancel: cancel,
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
	}, nil
}

// processStream adapts a running yt-dlp process to io.ReadCloser. A
// failure of the process surfaces on the Read that observes EOF, so a
// died source is an error rather than a silently short stream.
type processStream struct {
	y      *Ytdlp
	url    string
	ctx    context.Context
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer

	waitOnce sync.Once
	waitErr  error
}

func (s *processStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		if werr := s.wait(); werr != nil {
			return n, s.y.classify(s.ctx, s.url, s.stderr.String(), werr)
		}
	}
	return n, err
}

func (s *processStream) Close() error {
	s.cancel()
	s.wait()
	return nil
}

func (s *processStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// SaveToFile is the staged strategy: the video plus its info JSON and
// thumbnail are written to dir and the paths returned. Artifacts carry a
// per-download prefix so concurrent attempts cannot clash.
func (y *Ytdlp) SaveToFile(ctx context.Context, url, dir string) (*SavedFiles, error) {
	downloadID := shortuuid.New()
	outTmpl := filepath.Join(dir, downloadID+"_%(id)s.%(ext)s")

	args := append([]string{
		"-f", DefaultSelector(y.maxHeight),
		"-o", outTmpl,
		"--write-info-json",
		"--write-thumbnail",
		"--no-playlist",
		"--no-warnings",
	}, y.extraArgs...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, y.classify(ctx, url, stderr.String(), err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, downloadID+"_*"))
	if err != nil {
		return nil, &Error{Code: CodeFormat, URL: url, Msg: err.Error()}
	}

	var saved SavedFiles
	for _, path := range matches {
		switch {
		case strings.HasSuffix(path, ".info.json"):
			saved.InfoPath = path
		case hasImageExt(path):
			saved.ThumbnailPath = path
		default:
			saved.VideoPath = path
		}
	}
	if saved.VideoPath == "" {
		return nil, &Error{Code: CodeFormat, URL: url, Msg: "no video file was downloaded"}
	}

	y.log.Info("staged download finished",
		zap.String("url", url), zap.String("video", filepath.Base(saved.VideoPath)))
	return &saved, nil
}

// SupportedSites returns the extractor names the binary advertises. The
// list is static for a given binary, so callers may cache it.
func (y *Ytdlp) SupportedSites(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, y.bin, "--list-extractors")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, y.classify(ctx, "", stderr.String(), err)
	}

	var sites []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			sites = append(sites, line)
		}
	}
	return sites, nil
}

func hasImageExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

// classify maps a yt-dlp failure to the extraction error taxonomy using
// the context state and recognizable stderr fragments.
func (y *Ytdlp) classify(ctx context.Context, url, stderr string, err error) *Error {
	if ctx.Err() == context.DeadlineExceeded {
		return &Error{Code: CodeTimeout, URL: url, Msg: "extraction timed out"}
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "unsupported url"),
		strings.Contains(lower, "is not a valid url"):
		return &Error{Code: CodeUnsupported, URL: url, Msg: msg}
	case strings.Contains(lower, "requested format is not available"),
		strings.Contains(lower, "no video formats"):
		return &Error{Code: CodeFormat, URL: url, Msg: msg}
	case strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"):
		return &Error{Code: CodeTimeout, URL: url, Msg: msg}
	default:
		// Transient site or connectivity trouble until proven otherwise.
		return &Error{Code: CodeNetwork, URL: url, Msg: msg}
	}
}

// ensure interface conformance
var _ Extractor = (*Ytdlp)(nil)

// Remove deletes staged artifacts, ignoring files that are already gone.
func (s *SavedFiles) Remove() []error {
	var errs []error
	for _, path := range []string{s.VideoPath, s.InfoPath, s.ThumbnailPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errs
}
