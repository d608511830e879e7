package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/kaushikharsh99/Dropvault/internal/api/middlewares"
	"github.com/kaushikharsh99/Dropvault/internal/core/ingestion_engine"
	"github.com/kaushikharsh99/Dropvault/internal/core/progress"
	"github.com/kaushikharsh99/Dropvault/internal/core/resync"
	"github.com/kaushikharsh99/Dropvault/internal/core/retrieval"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
	"github.com/kaushikharsh99/Dropvault/internal/services"
)

type fakeItems struct {
	created  []services.NewItem
	uploaded []services.Upload
	body     string
	deleted  []string
	err      error
}

func (f *fakeItems) Create(_ context.Context, in services.NewItem) (*models.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, in)
	return &models.Item{ID: "new", OwnerID: in.OwnerID, Type: in.Type, Status: models.StatusPending}, nil
}

func (f *fakeItems) UploadAndCreate(_ context.Context, up services.Upload) (*models.Item, error) {
	data, _ := io.ReadAll(up.Body)
	f.body = string(data)
	f.uploaded = append(f.uploaded, up)
	return &models.Item{ID: "up", OwnerID: up.OwnerID, Type: models.ItemTypeImage}, nil
}

func (f *fakeItems) Get(_ context.Context, ownerID, id string) (*models.Item, error) {
	if id != "i1" {
		return nil, services.ErrItemNotFound
	}
	return &models.Item{ID: id, OwnerID: ownerID, Title: "Invoice"}, nil
}

func (f *fakeItems) List(_ context.Context, ownerID string) ([]models.Item, error) {
	return []models.Item{{ID: "i1", OwnerID: ownerID}}, nil
}

func (f *fakeItems) Delete(_ context.Context, _, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func authed(r *http.Request, user string) *http.Request {
	return r.WithContext(middleware.WithUserID(r.Context(), user))
}

func itemRouter(h *ItemHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/items", h.CreateItem)
	r.Get("/api/items", h.ListItems)
	r.Get("/api/items/{id}", h.GetItem)
	r.Delete("/api/items/{id}", h.DeleteItem)
	return r
}

func TestCreateItem_JSON(t *testing.T) {
	items := &fakeItems{}
	h := itemRouter(NewItemHandler(items, logger.NewNopLogger()))

	body := `{"type":"link","locator":"https://example.com/a","tags":" Work, work ,Read "}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(body)), "u1")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, items.created, 1)
	assert.Equal(t, "u1", items.created[0].OwnerID)
	assert.Equal(t, "work,read", items.created[0].Tags)

	var got models.Item
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "new", got.ID)
}

func TestCreateItem_ValidationErrors(t *testing.T) {
	h := itemRouter(NewItemHandler(&fakeItems{}, logger.NewNopLogger()))

	for _, body := range []string{
		`{"type":"image","locator":"/uploads/a.png"}`,
		`{"type":"link","locator":"not a url"}`,
		`{"locator":"https://example.com"}`,
		`{`,
	} {
		req := authed(httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(body)), "u1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreateItem_ServiceRejection(t *testing.T) {
	items := &fakeItems{err: services.ErrBadItem}
	h := itemRouter(NewItemHandler(items, logger.NewNopLogger()))

	req := authed(httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"type":"note"}`)), "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateItem_Multipart(t *testing.T) {
	items := &fakeItems{}
	h := itemRouter(NewItemHandler(items, logger.NewNopLogger()))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("tags", "Receipts"))
	fw, err := mw.CreateFormFile("file", "receipt.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("png-bytes"))
	require.NoError(t, mw.Close())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/items", &buf), "u1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, items.uploaded, 1)
	assert.Equal(t, "receipt.png", items.uploaded[0].Filename)
	assert.Equal(t, "receipts", items.uploaded[0].Tags)
	assert.Equal(t, "png-bytes", items.body)
}

func TestItemHandler_ReadAndDelete(t *testing.T) {
	items := &fakeItems{}
	h := itemRouter(NewItemHandler(items, logger.NewNopLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/items/i1", nil), "u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invoice")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/items/zzz", nil), "u1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/items", nil), "u1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodDelete, "/api/items/i1", nil), "u1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"i1"}, items.deleted)
}

func TestItemHandler_Unauthenticated(t *testing.T) {
	h := itemRouter(NewItemHandler(&fakeItems{}, logger.NewNopLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestItemHandler_InternalErrorIsOpaque(t *testing.T) {
	items := &fakeItems{err: errors.New("pq: connection refused")}
	h := itemRouter(NewItemHandler(items, logger.NewNopLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodDelete, "/api/items/i1", nil), "u1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

type fakeSearcher struct {
	got retrieval.SearchRequest
	err error
}

func (f *fakeSearcher) Search(_ context.Context, req retrieval.SearchRequest) (*retrieval.SearchResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.SearchResponse{
		Query:   req.Query,
		Results: []retrieval.Result{{ItemID: "i1", Score: 0.9, Explanation: "Best match in ocr (0.90)"}},
	}, nil
}

func TestSearch(t *testing.T) {
	s := &fakeSearcher{}
	h := NewSearchHandler(s, logger.NewNopLogger())

	rec := httptest.NewRecorder()
	h.Search(rec, authed(httptest.NewRequest(http.MethodGet, "/api/search?q=invoice+total&tags=Bills,,tax", nil), "u1"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "invoice total", s.got.Query)
	assert.Equal(t, "u1", s.got.OwnerID)
	assert.Equal(t, []string{"bills", "tax"}, s.got.Tags)

	var resp retrieval.SearchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "i1", resp.Results[0].ItemID)
}

func TestSearch_EmptyQuery(t *testing.T) {
	h := NewSearchHandler(&fakeSearcher{err: retrieval.ErrEmptyQuery}, logger.NewNopLogger())

	rec := httptest.NewRecorder()
	h.Search(rec, authed(httptest.NewRequest(http.MethodGet, "/api/search", nil), "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type hubSubscriber struct {
	hub        *progress.Hub
	replay     []models.Progress
	subscribed chan *progress.Listener
}

func (s *hubSubscriber) Subscribe(_ context.Context, owner string) (*progress.Listener, []models.Progress, error) {
	l := s.hub.Subscribe(owner)
	s.subscribed <- l
	return l, s.replay, nil
}

func (s *hubSubscriber) Unsubscribe(l *progress.Listener) { s.hub.Unsubscribe(l) }

func TestProgressStream_ReplayThenLive(t *testing.T) {
	sub := &hubSubscriber{
		hub:        progress.NewHub(4),
		replay:     []models.Progress{{ItemID: "a", Stage: "ocr", Percent: 10, Status: models.StatusProcessing}},
		subscribed: make(chan *progress.Listener, 1),
	}
	h := NewProgressHandler(sub, logger.NewNopLogger())

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.Stream(rec, authed(httptest.NewRequest(http.MethodGet, "/api/progress", nil), "u1"))
		close(done)
	}()

	l := <-sub.subscribed
	sub.hub.Deliver(models.Progress{ItemID: "a", OwnerID: "u1", Stage: "done", Percent: 100, Status: models.StatusCompleted})
	sub.hub.Deliver(models.Progress{ItemID: "b", OwnerID: "u2", Stage: "ocr", Percent: 10})
	// buffered events are still read after the listener is dropped
	sub.hub.Unsubscribe(l)
	<-done

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(body, "event: progress"))
	assert.Less(t, strings.Index(body, `"stage":"ocr"`), strings.Index(body, `"stage":"done"`))
	assert.NotContains(t, body, `"item_id":"b"`)
}

type fakeSyncer struct{ owner string }

func (f *fakeSyncer) Sync(_ context.Context, ownerID string) (resync.Report, error) {
	f.owner = ownerID
	return resync.Report{Repos: 3, Queued: 2, Failed: 1}, nil
}

func TestSyncGitHub(t *testing.T) {
	s := &fakeSyncer{}
	rec := httptest.NewRecorder()
	NewSyncHandler(s, logger.NewNopLogger()).SyncGitHub(rec, authed(httptest.NewRequest(http.MethodPost, "/api/sync/github", nil), "u1"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", s.owner)
	assert.JSONEq(t, `{"repos":3,"queued":2,"failed":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewSyncHandler(nil, logger.NewNopLogger()).SyncGitHub(rec, authed(httptest.NewRequest(http.MethodPost, "/api/sync/github", nil), "u1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeStats struct{}

func (fakeStats) Stats() ingestion_engine.Stats {
	return ingestion_engine.Stats{Vision: 2, Arbiter: ingestion_engine.StateVisionLoaded}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(fakeStats{})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"arbiter":"vision-loaded"`)
	assert.Contains(t, rec.Body.String(), `"vision":2`)
}
