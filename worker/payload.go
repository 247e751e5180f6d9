// vidvault/worker/payload.go
package worker

import (
	"time"

	"vidvault/extract"
)

// StoredArtifact points at one uploaded object.
type StoredArtifact struct {
	Key  string `json:"key"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size"`
}

// StorageResult groups the artifacts of one processing attempt. Only the
// video is guaranteed; metadata and thumbnail are best-effort.
type StorageResult struct {
	Video     *StoredArtifact `json:"video"`
	Metadata  *StoredArtifact `json:"metadata,omitempty"`
	Thumbnail *StoredArtifact `json:"thumbnail,omitempty"`
}

// ResultPayload is persisted as the task result and posted to the
// webhook on completion.
type ResultPayload struct {
	Success        bool          `json:"success"`
	ProcessingID   string        `json:"processing_id"`
	OriginalID     string        `json:"original_id"`
	OriginalURL    string        `json:"original_url"`
	ProcessedURL   string        `json:"processed_url"`
	URLMatch       bool          `json:"url_match"`
	VideoInfo      *extract.Info `json:"video_info"`
	Storage        StorageResult `json:"storage"`
	Warnings       []string      `json:"warnings"`
	PartialSuccess bool          `json:"partial_success"`
	ProcessedAt    time.Time     `json:"processed_at"`
}

// FailurePayload is posted to the webhook when a task fails terminally.
type FailurePayload struct {
	Success      bool   `json:"success"`
	ProcessingID string `json:"processing_id"`
	Error        string `json:"error"`
	ErrorDetails string `json:"error_details"`
}

// Warning identifiers attached to partially successful results.
const (
	WarnStreamingFailed      = "streaming_failed"
	WarnMetadataUploadFailed = "metadata_upload_failed"
	WarnThumbnailFailed      = "thumbnail_processing_failed"
	WarnMetadataURLFailed    = "metadata_url_generation_failed"
	WarnThumbnailURLFailed   = "thumbnail_url_generation_failed"
	WarnURLMismatch          = "url_mismatch"
)
