package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
	"github.com/kaushikharsh99/Dropvault/internal/services"
)

const maxUploadBytes = 512 << 20

type ItemService interface {
	Create(ctx context.Context, in services.NewItem) (*models.Item, error)
	UploadAndCreate(ctx context.Context, up services.Upload) (*models.Item, error)
	Get(ctx context.Context, ownerID, id string) (*models.Item, error)
	List(ctx context.Context, ownerID string) ([]models.Item, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type createItemRequest struct {
	Type    models.ItemType `json:"type" validate:"required,oneof=link note text video"`
	Locator string          `json:"locator" validate:"omitempty,url,max=2048"`
	Title   string          `json:"title" validate:"max=512"`
	Content string          `json:"content" validate:"max=1048576"`
	Tags    string          `json:"tags" validate:"max=1024"`
}

type ItemHandler struct {
	items    ItemService
	validate *validator.Validate
	log      logger.ILogger
}

func NewItemHandler(items ItemService, log logger.ILogger) *ItemHandler {
	return &ItemHandler{items: items, validate: validator.New(), log: log}
}

// CreateItem accepts a multipart upload ("file" plus optional type, title and
// tags fields) or a JSON body for links, notes and text.
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.upload(w, r, userID)
		return
	}

	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.items.Create(r.Context(), services.NewItem{
		OwnerID: userID,
		Type:    req.Type,
		Locator: strings.TrimSpace(req.Locator),
		Title:   strings.TrimSpace(req.Title),
		Content: req.Content,
		Tags:    normalizeTags(req.Tags),
	})
	if err != nil {
		h.fail(w, "create item", err)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (h *ItemHandler) upload(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	itemType := models.ItemType(r.FormValue("type"))
	if itemType != "" && !itemType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown item type")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	item, err := h.items.UploadAndCreate(ctx, services.Upload{
		OwnerID:     userID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Type:        itemType,
		Title:       strings.TrimSpace(r.FormValue("title")),
		Tags:        normalizeTags(r.FormValue("tags")),
		Body:        file,
	})
	if err != nil {
		h.fail(w, "upload item", err)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}
	items, err := h.items.List(r.Context(), userID)
	if err != nil {
		h.fail(w, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}
	item, err := h.items.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}
	if err := h.items.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ItemHandler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, services.ErrBadItem):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("item_handler", op+" failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// normalizeTags lowercases, trims and dedupes a comma separated tag list.
func normalizeTags(raw string) string {
	seen := map[string]bool{}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return strings.Join(out, ",")
}
