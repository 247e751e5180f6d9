// vidvault/api/handler_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vidvault/config"
	"vidvault/extract"
	"vidvault/progress"
	"vidvault/storage"
	"vidvault/task"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---- fakes ----

type fakeTaskStore struct {
	tasks   map[string]*task.Task
	pingErr error

	// Makes Get report no row while Create still sees the stored task,
	// reproducing a concurrent submission winning the insert race.
	hideFromGet bool
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]*task.Task{}}
}

func (s *fakeTaskStore) Create(ctx context.Context, t *task.Task) error {
	if _, exists := s.tasks[t.ID]; exists {
		return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '" + t.ID + "' for key 'tasks.PRIMARY'"}
	}
	t.Status = task.StatusQueued
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeTaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	if s.hideFromGet {
		return nil, nil
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (s *fakeTaskStore) Ping(ctx context.Context) error {
	return s.pingErr
}

type fakeExtractor struct {
	info      *extract.Info
	infoErr   error
	sites     []string
	sitesErr  error
	siteCalls int
}

func (f *fakeExtractor) Info(ctx context.Context, url string) (*extract.Info, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeExtractor) OpenStream(ctx context.Context, url, formatID string) (io.ReadCloser, error) {
	return nil, errors.New("not used")
}

func (f *fakeExtractor) SaveToFile(ctx context.Context, url, dir string) (*extract.SavedFiles, error) {
	return nil, errors.New("not used")
}

func (f *fakeExtractor) SupportedSites(ctx context.Context) ([]string, error) {
	f.siteCalls++
	if f.sitesErr != nil {
		return nil, f.sitesErr
	}
	return f.sites, nil
}

type fakeSink struct {
	objects   []storage.ObjectInfo
	listErr   error
	deleted   []string
	deleteErr error
}

func (s *fakeSink) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) (*storage.PutResult, error) {
	return nil, errors.New("not used")
}

func (s *fakeSink) URL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (s *fakeSink) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []storage.ObjectInfo
	for _, obj := range s.objects {
		if len(obj.Key) >= len(prefix) && obj.Key[:len(prefix)] == prefix {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (s *fakeSink) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, key)
	return nil
}

type fakeProgress struct {
	snap *progress.Snapshot
}

func (f *fakeProgress) Get(ctx context.Context, taskID string) (*progress.Snapshot, error) {
	return f.snap, nil
}

// ---- helpers ----

func testConfig() *config.Config {
	return &config.Config{
		AuthEnable:  false,
		AuthKey:     "secret",
		URLExpiry:   time.Hour,
		InfoTimeout: 5 * time.Second,
	}
}

func newTestRouter(store TaskStore, ext extract.Extractor, sink storage.Storage, prog ProgressSource, cfg *config.Config) *gin.Engine {
	h := NewHandler(store, ext, sink, prog, cfg, zap.NewNop())
	return SetupRouter(h, cfg, zap.NewNop())
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---- tests ----

func TestCreateTask(t *testing.T) {
	store := newFakeTaskStore()
	r := newTestRouter(store, &fakeExtractor{}, &fakeSink{}, nil, testConfig())

	w := doJSON(t, r, http.MethodPost, "/api/v1/tasks", gin.H{
		"id":          "order-42",
		"url":         "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"webhook_url": "https://hooks.example/done",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, "order-42", task.BaseID(resp["processing_id"]))

	created := store.tasks[resp["processing_id"]]
	require.NotNil(t, created)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", created.SourceURL)
	assert.True(t, created.WebhookURL.Valid)
	assert.Equal(t, "https://hooks.example/done", created.WebhookURL.String)
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	r := newTestRouter(newFakeTaskStore(), &fakeExtractor{}, &fakeSink{}, nil, testConfig())

	w := doJSON(t, r, http.MethodPost, "/api/v1/tasks", gin.H{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing url")

	w = doJSON(t, r, http.MethodPost, "/api/v1/tasks", gin.H{"url": "ftp://example.com/v"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "non-http scheme")
}

func TestCreateTaskConflictOnResubmit(t *testing.T) {
	store := newFakeTaskStore()
	r := newTestRouter(store, &fakeExtractor{}, &fakeSink{}, nil, testConfig())

	body := gin.H{"id": "order-42", "url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}
	w := doJSON(t, r, http.MethodPost, "/api/v1/tasks", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/tasks", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Same base ID with a different URL is a different task.
	w = doJSON(t, r, http.MethodPost, "/api/v1/tasks", gin.H{
		"id": "order-42", "url": "https://www.youtube.com/watch?v=zzzzzzzzzzz",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, store.tasks, 2)
}

func TestCreateTaskConflictOnInsertRace(t *testing.T) {
	store := newFakeTaskStore()
	r := newTestRouter(store, &fakeExtractor{}, &fakeSink{}, nil, testConfig())

	body := gin.H{"id": "order-42", "url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}
	w := doJSON(t, r, http.MethodPost, "/api/v1/tasks", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	// Another submission slipped in between the existence check and the
	// insert: the duplicate-key violation must surface as a conflict, not
	// a server error.
	store.hideFromGet = true
	w = doJSON(t, r, http.MethodPost, "/api/v1/tasks", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, store.tasks, 1)
}

func TestSupportedSites(t *testing.T) {
	ext := &fakeExtractor{sites: []string{"youtube", "tiktok", "vimeo"}}
	r := newTestRouter(newFakeTaskStore(), ext, &fakeSink{}, nil, testConfig())

	w := doJSON(t, r, http.MethodGet, "/api/v1/supported-sites", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SupportedSites []string `json:"supported_sites"`
		Count          int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"youtube", "tiktok", "vimeo"}, resp.SupportedSites)
	assert.Equal(t, 3, resp.Count)

	// The list is static for a given binary: served from cache afterwards.
	w = doJSON(t, r, http.MethodGet, "/api/v1/supported-sites", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ext.siteCalls)
}

func TestSupportedSitesFailureNotCached(t *testing.T) {
	ext := &fakeExtractor{sitesErr: errors.New("binary exploded")}
	r := newTestRouter(newFakeTaskStore(), ext, &fakeSink{}, nil, testConfig())

	w := doJSON(t, r, http.MethodGet, "/api/v1/supported-sites", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	ext.sitesErr = nil
	ext.sites = []string{"youtube"}
	w = doJSON(t, r, http.MethodGet, "/api/v1/supported-sites", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetTaskStatus(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks["task-1a2b3c4d"] = &task.Task{
		ID: "task-1a2b3c4d", SourceURL: "https://example.com/v",
		Status: task.StatusProcessing, Attempts: 1,
	}
	prog := &fakeProgress{snap: &progress.Snapshot{BytesSoFar: 1024, TotalBytes: 4096}}
	r := newTestRouter(store, &fakeExtractor{}, &fakeSink{}, prog, testConfig())

	w := doJSON(t, r, http.MethodGet, "/api/v1/tasks/task-1a2b3c4d", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "processing", resp["status"])
	progMap, ok := resp["progress"].(map[string]interface{})
	require.True(t, ok, "processing task should carry progress")
	assert.Equal(t, float64(1024), progMap["bytes_so_far"])

	w = doJSON(t, r, http.MethodGet, "/api/v1/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTaskStatusCompleted(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks["task-1a2b3c4d"] = &task.Task{
		ID: "task-1a2b3c4d", Status: task.StatusCompleted,
		Result: json.RawMessage(`{"success":true}`),
	}
	r := newTestRouter(store, &fakeExtractor{}, &fakeSink{}, nil, testConfig())

	w := doJSON(t, r, http.MethodGet, "/api/v1/tasks/task-1a2b3c4d", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["success"])
}

func TestVideoInfo(t *testing.T) {
	info := &extract.Info{ID: "abc123", Title: "A Video", Duration: 42}
	r := newTestRouter(newFakeTaskStore(), &fakeExtractor{info: info}, &fakeSink{}, nil, testConfig())

	w := doJSON(t, r, http.MethodPost, "/api/v1/videos/info", gin.H{"url": "https://example.com/v"})
	require.Equal(t, http.StatusOK, w.Code)

	var got extract.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "A Video", got.Title)
}

func TestVideoInfoErrorMapping(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{extract.CodeUnsupported, http.StatusUnprocessableEntity},
		{extract.CodeFormat, http.StatusUnprocessableEntity},
		{extract.CodeTimeout, http.StatusGatewayTimeout},
		{extract.CodeNetwork, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ext := &fakeExtractor{infoErr: &extract.Error{Code: tt.code, URL: "u", Msg: "m"}}
			r := newTestRouter(newFakeTaskStore(), ext, &fakeSink{}, nil, testConfig())
			w := doJSON(t, r, http.MethodPost, "/api/v1/videos/info", gin.H{"url": "https://example.com/v"})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestListVideosGroupsByProcessingID(t *testing.T) {
	sink := &fakeSink{objects: []storage.ObjectInfo{
		{Key: "videos/task-aa11bb22/task-aa11bb22_v1.mp4", Size: 100},
		{Key: "videos/task-aa11bb22/task-aa11bb22_info.json", Size: 5},
		{Key: "videos/task-cc33dd44/task-cc33dd44_v2.mp4", Size: 200},
	}}
	r := newTestRouter(newFakeTaskStore(), &fakeExtractor{}, sink, nil, testConfig())

	w := doJSON(t, r, http.MethodGet, "/api/v1/videos", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count  int `json:"count"`
		Videos []struct {
			ProcessingID string               `json:"processing_id"`
			Files        []storage.ObjectInfo `json:"files"`
		} `json:"videos"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "task-aa11bb22", resp.Videos[0].ProcessingID)
	assert.Len(t, resp.Videos[0].Files, 2)
	assert.Equal(t, "task-cc33dd44", resp.Videos[1].ProcessingID)
	assert.Len(t, resp.Videos[1].Files, 1)
}

func TestGetVideoSignsURLs(t *testing.T) {
	sink := &fakeSink{objects: []storage.ObjectInfo{
		{Key: "videos/task-aa11bb22/task-aa11bb22_v1.mp4", Size: 100},
	}}
	r := newTestRouter(newFakeTaskStore(), &fakeExtractor{}, sink, nil, testConfig())

	w := doJSON(t, r, http.MethodGet, "/api/v1/videos/task-aa11bb22", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Files []struct {
			Key string `json:"key"`
			URL string `json:"url"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "https://signed.example/"+resp.Files[0].Key, resp.Files[0].URL)

	w = doJSON(t, r, http.MethodGet, "/api/v1/videos/task-unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteVideo(t *testing.T) {
	sink := &fakeSink{objects: []storage.ObjectInfo{
		{Key: "videos/task-aa11bb22/task-aa11bb22_v1.mp4"},
		{Key: "videos/task-aa11bb22/task-aa11bb22_info.json"},
	}}
	r := newTestRouter(newFakeTaskStore(), &fakeExtractor{}, sink, nil, testConfig())

	w := doJSON(t, r, http.MethodDelete, "/api/v1/videos/task-aa11bb22", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, sink.deleted, 2)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/videos/task-unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.AuthEnable = true
	r := newTestRouter(newFakeTaskStore(), &fakeExtractor{}, &fakeSink{}, nil, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing header")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "wrong token")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	store := newFakeTaskStore()
	r := newTestRouter(store, &fakeExtractor{}, &fakeSink{}, nil, testConfig())

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "ok", resp["database"])

	store.pingErr = errors.New("connection refused")
	w = doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unreachable", resp["database"])
}

func TestRequestIDPropagated(t *testing.T) {
	r := newTestRouter(newFakeTaskStore(), &fakeExtractor{}, &fakeSink{}, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
