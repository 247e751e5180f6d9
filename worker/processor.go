// vidvault/worker/processor.go

// Package worker claims queued tasks and runs them through acquisition
// and upload. One task is in flight per worker process; concurrent
// worker processes coordinate only through the store's atomic claim.
package worker

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"vidvault/config"
	"vidvault/extract"
	"vidvault/progress"
	"vidvault/storage"
	"vidvault/stream"
	"vidvault/task"
)

// Budget for the non-essential artifacts (metadata JSON, thumbnail).
// Their failure only produces a warning, so they get a short leash.
const sideArtifactTimeout = 60 * time.Second

// Store is the slice of the task record store the processor depends on.
type Store interface {
	ClaimNext(ctx context.Context) (*task.Task, error)
	MarkCompleted(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id string, errorDetail string) error
	Requeue(ctx context.Context, id string) error
}

// Processor is the control loop: claim a task, acquire the media, upload
// it, persist the outcome, notify the webhook.
type Processor struct {
	cfg       *config.Config
	store     Store
	extractor extract.Extractor
	sink      storage.Storage
	progress  progress.Reporter
	notifier  *Notifier
	httpc     *http.Client
	log       *zap.Logger
}

func New(cfg *config.Config, store Store, extractor extract.Extractor, sink storage.Storage, reporter progress.Reporter, log *zap.Logger) *Processor {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	return &Processor{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		sink:      sink,
		progress:  reporter,
		notifier:  NewNotifier(cfg.WebhookTimeout, cfg.WebhookAttempts, cfg.WebhookBackoff, log),
		httpc:     &http.Client{},
		log:       log,
	}
}

// Run polls the store until ctx is cancelled. An idle worker sleeps for
// the poll interval; a busy one immediately looks for the next task.
func (p *Processor) Run(ctx context.Context) {
	p.log.Info("worker started",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("max_retries", p.cfg.MaxRetries))

	for {
		claimed, err := p.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info("worker shutting down")
				return
			}
			// Store unreachable: report and keep polling, the task rows
			// are untouched.
			p.log.Error("claim failed", zap.Error(err))
		} else if claimed != nil {
			p.process(ctx, claimed)
			continue
		}

		select {
		case <-ctx.Done():
			p.log.Info("worker shutting down")
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// process runs one claimed task to a durable outcome: completed, failed,
// or requeued for another attempt.
func (p *Processor) process(ctx context.Context, t *task.Task) {
	log := p.log.With(zap.String("task_id", t.ID), zap.Int("attempt", t.Attempts))
	log.Info("processing task", zap.String("url", t.SourceURL))

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptBudget())
	defer cancel()
	defer p.progress.Clear(ctx, t.ID)

	payload, err := p.runAttempt(attemptCtx, t, log)
	if err == nil {
		data, merr := json.Marshal(payload)
		if merr == nil {
			if serr := p.store.MarkCompleted(ctx, t.ID, data); serr != nil {
				log.Error("could not persist completion, task stays processing", zap.Error(serr))
				return
			}
			log.Info("task completed",
				zap.Strings("warnings", payload.Warnings),
				zap.Bool("partial_success", payload.PartialSuccess))
			if t.WebhookURL.Valid {
				p.notifier.Send(ctx, t.WebhookURL.String, payload)
			}
			return
		}
		err = merr
	}

	// The overall deadline is distinct from per-stage timeouts but shares
	// their retry classification.
	if attemptCtx.Err() == context.DeadlineExceeded {
		err = &TimeoutError{Stage: "overall"}
	}

	if Retryable(err) && t.Attempts < p.cfg.MaxRetries+1 {
		if serr := p.store.Requeue(ctx, t.ID); serr != nil {
			log.Error("could not requeue task", zap.Error(serr))
			return
		}
		log.Warn("attempt failed, task requeued", zap.Error(err))
		return
	}

	if serr := p.store.MarkFailed(ctx, t.ID, err.Error()); serr != nil {
		log.Error("could not persist failure, task stays processing", zap.Error(serr))
		return
	}
	log.Error("task failed", zap.Error(err))
	if t.WebhookURL.Valid {
		p.notifier.Send(ctx, t.WebhookURL.String, FailurePayload{
			Success:      false,
			ProcessingID: t.ID,
			Error:        "failed to process video",
			ErrorDetails: err.Error(),
		})
	}
}

// runAttempt executes one acquisition attempt end to end and builds the
// result payload. Only failures of the essential video artifact (or of
// metadata extraction itself) are returned as errors; everything else
// degrades into warnings.
func (p *Processor) runAttempt(ctx context.Context, t *task.Task, log *zap.Logger) (*ResultPayload, error) {
	if !strings.HasPrefix(t.SourceURL, "http://") && !strings.HasPrefix(t.SourceURL, "https://") {
		return nil, &ValidationError{Msg: "source URL must start with http:// or https://"}
	}

	warnings := []string{}
	partial := false

	infoCtx, cancelInfo := context.WithTimeout(ctx, p.cfg.InfoTimeout)
	info, err := p.extractor.Info(infoCtx, t.SourceURL)
	cancelInfo()
	if err != nil {
		return nil, stageError(infoCtx, "info", err)
	}

	videoKey := ArtifactPrefix(t.ID) + videoFilename(t.ID, info)
	video, err := p.streamVideo(ctx, t, info, videoKey)
	if err != nil {
		log.Warn("streaming strategy failed, falling back to staged", zap.Error(err))
		warnings = append(warnings, WarnStreamingFailed)
		video, err = p.stagedVideo(ctx, t, videoKey, log)
		if err != nil {
			return nil, err
		}
	}

	metadata, err := p.uploadMetadata(ctx, t.ID, info)
	if err != nil {
		log.Warn("metadata upload failed", zap.Error(err))
		warnings = append(warnings, WarnMetadataUploadFailed)
		partial = true
	}

	var thumbnail *StoredArtifact
	if info.Thumbnail != "" {
		thumbnail, err = p.uploadThumbnail(ctx, t.ID, info.Thumbnail)
		if err != nil {
			log.Warn("thumbnail processing failed", zap.Error(err))
			warnings = append(warnings, WarnThumbnailFailed)
			partial = true
		}
	}

	urlCtx, cancelURL := context.WithTimeout(ctx, p.cfg.URLTimeout)
	defer cancelURL()

	videoURL, err := p.sink.URL(urlCtx, video.Key, p.cfg.URLExpiry)
	if err != nil {
		return nil, stageError(urlCtx, "url", err)
	}
	video.URL = videoURL

	if metadata != nil {
		if metadata.URL, err = p.sink.URL(urlCtx, metadata.Key, p.cfg.URLExpiry); err != nil {
			log.Warn("metadata url generation failed", zap.Error(err))
			warnings = append(warnings, WarnMetadataURLFailed)
		}
	}
	if thumbnail != nil {
		if thumbnail.URL, err = p.sink.URL(urlCtx, thumbnail.Key, p.cfg.URLExpiry); err != nil {
			log.Warn("thumbnail url generation failed", zap.Error(err))
			warnings = append(warnings, WarnThumbnailURLFailed)
		}
	}

	match := urlsMatch(t.SourceURL, info.WebpageURL)
	if !match {
		warnings = append(warnings, WarnURLMismatch)
	}

	return &ResultPayload{
		Success:      true,
		ProcessingID: t.ID,
		OriginalID:   task.BaseID(t.ID),
		OriginalURL:  t.SourceURL,
		ProcessedURL: info.WebpageURL,
		URLMatch:     match,
		VideoInfo:    info,
		Storage: StorageResult{
			Video:     video,
			Metadata:  metadata,
			Thumbnail: thumbnail,
		},
		Warnings:       warnings,
		PartialSuccess: partial,
		ProcessedAt:    time.Now().UTC(),
	}, nil
}

// streamVideo is the preferred strategy: source bytes flow through the
// bounded pipe straight into the sink, never touching local disk.
func (p *Processor) streamVideo(ctx context.Context, t *task.Task, info *extract.Info, key string) (*StoredArtifact, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout+p.cfg.UploadTimeout)
	defer cancel()

	formatID := ""
	var total int64 = -1
	if best := extract.BestFormat(info.Formats, p.cfg.MaxHeight); best != nil {
		formatID = best.FormatID
		if best.Filesize > 0 {
			total = best.Filesize
		}
	}

	src, err := p.extractor.OpenStream(stageCtx, t.SourceURL, formatID)
	if err != nil {
		return nil, stageError(stageCtx, "download", err)
	}
	defer src.Close()

	pipe := stream.NewPipe(stageCtx, src,
		stream.WithChunkSize(int(p.cfg.ChunkSize)),
		stream.WithCapacity(p.cfg.PipeCapacity),
		stream.WithTotalSize(total),
		stream.WithProgress(func(bytesSoFar, totalBytes int64) {
			p.progress.Report(ctx, t.ID, bytesSoFar, totalBytes)
		}))
	defer pipe.Close()

	res, err := p.sink.Put(stageCtx, key, pipe, -1, contentTypeFor(info.Ext), map[string]string{
		"processing_id": t.ID,
		"file_type":     "video",
		"original_url":  t.SourceURL,
	})
	if err != nil {
		return nil, stageError(stageCtx, "upload", err)
	}
	// A producer failure after the sink saw EOF would be a silent
	// truncation; surface it instead.
	if perr := pipe.Err(); perr != nil {
		return nil, stageError(stageCtx, "download", perr)
	}
	return &StoredArtifact{Key: res.Key, Size: res.Size}, nil
}

// stagedVideo is the fallback: download to a local temp file, then
// upload. The files belong to this attempt and are removed on every exit
// path.
func (p *Processor) stagedVideo(ctx context.Context, t *task.Task, key string, log *zap.Logger) (*StoredArtifact, error) {
	if err := checkStagedResources(p.cfg.TempDir, p.cfg.MinFreeDisk, p.cfg.MinFreeMem); err != nil {
		return nil, err
	}

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout+p.cfg.UploadTimeout)
	defer cancel()

	saved, err := p.extractor.SaveToFile(stageCtx, t.SourceURL, p.cfg.TempDir)
	if err != nil {
		return nil, stageError(stageCtx, "download", err)
	}
	defer func() {
		for _, rerr := range saved.Remove() {
			log.Warn("staged artifact cleanup failed", zap.Error(rerr))
		}
	}()

	f, err := os.Open(saved.VideoPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	ext := strings.TrimPrefix(filepath.Ext(saved.VideoPath), ".")
	res, err := p.sink.Put(stageCtx, key, f, fi.Size(), contentTypeFor(ext), map[string]string{
		"processing_id": t.ID,
		"file_type":     "video",
		"original_url":  t.SourceURL,
	})
	if err != nil {
		return nil, stageError(stageCtx, "upload", err)
	}
	return &StoredArtifact{Key: res.Key, Size: res.Size}, nil
}

// uploadMetadata stores the extracted info document as a JSON artifact.
func (p *Processor) uploadMetadata(ctx context.Context, processingID string, info *extract.Info) (*StoredArtifact, error) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, err
	}

	stageCtx, cancel := context.WithTimeout(ctx, sideArtifactTimeout)
	defer cancel()

	key := ArtifactPrefix(processingID) + processingID + "_info.json"
	res, err := p.sink.Put(stageCtx, key, strings.NewReader(string(data)), int64(len(data)), "application/json", map[string]string{
		"processing_id": processingID,
		"file_type":     "metadata",
	})
	if err != nil {
		return nil, err
	}
	return &StoredArtifact{Key: res.Key, Size: res.Size}, nil
}

// uploadThumbnail fetches the thumbnail and relays it through the pipe
// into the sink.
func (p *Processor) uploadThumbnail(ctx context.Context, processingID, thumbURL string) (*StoredArtifact, error) {
	stageCtx, cancel := context.WithTimeout(ctx, sideArtifactTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(stageCtx, http.MethodGet, thumbURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &storage.Error{Provider: "thumbnail", Code: resp.Status, Msg: "thumbnail fetch failed"}
	}

	pipe := stream.NewPipe(stageCtx, resp.Body,
		stream.WithChunkSize(int(p.cfg.ChunkSize)),
		stream.WithCapacity(p.cfg.PipeCapacity))
	defer pipe.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	key := ArtifactPrefix(processingID) + processingID + "_thumbnail." + thumbExt(thumbURL)
	res, err := p.sink.Put(stageCtx, key, pipe, -1, contentType, map[string]string{
		"processing_id": processingID,
		"file_type":     "thumbnail",
	})
	if err != nil {
		return nil, err
	}
	if perr := pipe.Err(); perr != nil {
		return nil, perr
	}
	return &StoredArtifact{Key: res.Key, Size: res.Size}, nil
}

// ArtifactPrefix is the common object-key prefix for everything one
// processing attempt stores.
func ArtifactPrefix(processingID string) string {
	return "videos/" + processingID + "/"
}

func videoFilename(processingID string, info *extract.Info) string {
	ext := info.Ext
	if ext == "" {
		ext = "mp4"
	}
	return processingID + "_" + info.ID + "." + ext
}

func thumbExt(thumbURL string) string {
	path := thumbURL
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "jpg"
	}
	return strings.ToLower(ext)
}

func contentTypeFor(ext string) string {
	if ext != "" {
		if ct := mime.TypeByExtension("." + ext); ct != "" {
			return ct
		}
	}
	return "video/mp4"
}

// stageError converts a stage whose context hit its deadline into a
// TimeoutError carrying the stage name; other failures pass through.
func stageError(ctx context.Context, stage string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Stage: stage}
	}
	return err
}
