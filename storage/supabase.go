// vidvault/storage/supabase.go
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vidvault/config"
)

const providerSupabase = "supabase"

// Supabase talks to the Supabase storage HTTP API. Uploads stream the
// request body, so the primary video payload never has to exist in full
// anywhere between source and bucket.
type Supabase struct {
	baseURL string
	key     string
	bucket  string
	client  *http.Client
	log     *zap.Logger
}

func NewSupabase(cfg *config.Config, log *zap.Logger) (*Supabase, error) {
	if cfg.StorageURL == "" || cfg.StorageKey == "" || cfg.StorageBucket == "" {
		return nil, fmt.Errorf("missing required storage configuration (url, key, bucket)")
	}
	return &Supabase{
		baseURL: strings.TrimSuffix(cfg.StorageURL, "/"),
		key:     cfg.StorageKey,
		bucket:  cfg.StorageBucket,
		// Per-request deadlines come from the caller's context; the
		// client itself stays unbounded so long uploads are not cut off.
		client: &http.Client{},
		log:    log,
	}, nil
}

func (s *Supabase) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, escapeKey(key))
}

// escapeKey escapes each path segment of an object key, keeping the
// separators intact.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// Put streams r into the bucket under key. Existing objects are
// overwritten. The reader is consumed exactly once; the byte count that
// actually went over the wire is returned.
func (s *Supabase) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) (*PutResult, error) {
	counter := &countingReader{r: r}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(key), counter)
	if err != nil {
		return nil, &Error{Provider: providerSupabase, Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	for k, v := range metadata {
		req.Header.Set("x-amz-meta-"+k, v)
	}
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: providerSupabase, Msg: "upload failed: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, s.httpError(resp, "upload")
	}
	io.Copy(io.Discard, resp.Body)

	s.log.Info("object stored",
		zap.String("key", key),
		zap.Int64("size", counter.n),
		zap.String("content_type", contentType))
	return &PutResult{Key: key, Size: counter.n, ContentType: contentType}, nil
}

// URL returns a signed link for downloading the object.
func (s *Supabase) URL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	signURL := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.baseURL, s.bucket, escapeKey(key))
	body, _ := json.Marshal(map[string]int64{"expiresIn": int64(expiresIn.Seconds())})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signURL, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Provider: providerSupabase, Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &Error{Provider: providerSupabase, Msg: "sign url failed: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.httpError(resp, "sign url")
	}

	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", &Error{Provider: providerSupabase, Msg: "malformed sign response: " + err.Error()}
	}
	return s.baseURL + "/storage/v1" + signed.SignedURL, nil
}

// List returns objects under prefix, most recent first, as the API
// delivers them.
func (s *Supabase) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	listURL := fmt.Sprintf("%s/storage/v1/object/list/%s", s.baseURL, s.bucket)
	body, _ := json.Marshal(map[string]interface{}{
		"prefix": prefix,
		"limit":  limit,
		"sortBy": map[string]string{"column": "updated_at", "order": "desc"},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, listURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Provider: providerSupabase, Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: providerSupabase, Msg: "list failed: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.httpError(resp, "list")
	}

	var entries []struct {
		Name      string    `json:"name"`
		UpdatedAt time.Time `json:"updated_at"`
		Metadata  struct {
			Size     int64  `json:"size"`
			Mimetype string `json:"mimetype"`
		} `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, &Error{Provider: providerSupabase, Msg: "malformed list response: " + err.Error()}
	}

	objects := make([]ObjectInfo, 0, len(entries))
	for _, e := range entries {
		key := e.Name
		if prefix != "" {
			key = strings.TrimSuffix(prefix, "/") + "/" + e.Name
		}
		objects = append(objects, ObjectInfo{
			Key:         key,
			Size:        e.Metadata.Size,
			ContentType: e.Metadata.Mimetype,
			UpdatedAt:   e.UpdatedAt,
		})
	}
	return objects, nil
}

// Delete removes one object. Deleting a missing object is not an error.
func (s *Supabase) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(key), nil)
	if err != nil {
		return &Error{Provider: providerSupabase, Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.client.Do(req)
	if err != nil {
		return &Error{Provider: providerSupabase, Msg: "delete failed: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return s.httpError(resp, "delete")
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Supabase) httpError(resp *http.Response, op string) *Error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &Error{
		Provider: providerSupabase,
		Code:     strconv.Itoa(resp.StatusCode),
		Msg:      fmt.Sprintf("%s returned %s: %s", op, resp.Status, strings.TrimSpace(string(detail))),
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ Storage = (*Supabase)(nil)
