// vidvault/extract/extract.go

// Package extract acquires media metadata and byte streams from source
// sites through the yt-dlp binary.
package extract

import (
	"context"
	"fmt"
	"io"
)

// Machine-readable failure codes carried by Error.
const (
	CodeTimeout     = "TIMEOUT"
	CodeNetwork     = "NETWORK_ERROR"
	CodeUnsupported = "UNSUPPORTED"
	CodeFormat      = "FORMAT_ERROR"
)

// Error is an extraction failure. Code drives the retry decision upstream:
// UNSUPPORTED is terminal, everything else is worth another attempt.
type Error struct {
	Code string
	URL  string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed (%s) for %s: %s", e.Code, e.URL, e.Msg)
}

// Format is one downloadable rendition advertised by the source.
type Format struct {
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Filesize int64  `json:"filesize"`
	VCodec   string `json:"vcodec"`
	ACodec   string `json:"acodec"`
}

// Info is the source metadata for one video.
type Info struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Duration    float64  `json:"duration"`
	Uploader    string   `json:"uploader"`
	UploadDate  string   `json:"upload_date"`
	ViewCount   int64    `json:"view_count"`
	Thumbnail   string   `json:"thumbnail"`
	WebpageURL  string   `json:"webpage_url"`
	Extractor   string   `json:"extractor"`
	Ext         string   `json:"ext"`
	Formats     []Format `json:"formats"`
}

// SavedFiles is the result of the staged strategy: artifacts materialized
// on local disk, owned by the processing attempt that requested them.
type SavedFiles struct {
	VideoPath     string
	InfoPath      string
	ThumbnailPath string
}

// Extractor turns a URL into metadata and bytes. Implementations must
// honor context cancellation on every call.
type Extractor interface {
	// Info extracts metadata without downloading.
	Info(ctx context.Context, url string) (*Info, error)

	// OpenStream starts the download of one format and returns its byte
	// stream. An empty formatID lets the source pick under the configured
	// height ceiling. Closing the stream terminates the download.
	OpenStream(ctx context.Context, url, formatID string) (io.ReadCloser, error)

	// SaveToFile downloads the video plus metadata and thumbnail files
	// into dir. Used by the staged fallback strategy.
	SaveToFile(ctx context.Context, url, dir string) (*SavedFiles, error)

	// SupportedSites lists the source sites the extractor can handle.
	SupportedSites(ctx context.Context) ([]string, error)
}
