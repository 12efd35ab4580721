package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"todoflow/internal/idempotency"
	"todoflow/internal/platform/middleware"
	"todoflow/internal/todo/models"
	"todoflow/internal/todo/service"
	id "todoflow/pkg/domain"
	dErrors "todoflow/pkg/domain-errors"
	"todoflow/pkg/platform/httputil"
)

const (
	// IdempotencyKeyHeader lets clients retry a create safely.
	IdempotencyKeyHeader = "Idempotency-Key"
	// NextCursorHeader carries the cursor for the next page of a paged list.
	NextCursorHeader = "X-Next-Cursor"
)

// Service defines the todo operations the handler needs.
type Service interface {
	Create(ctx context.Context, cmd service.CreateCommand) (*service.CreateResult, error)
	List(ctx context.Context, listID id.ListID) ([]*models.Todo, error)
	ListPage(ctx context.Context, listID id.ListID, req models.PageRequest) (*models.Page, error)
	Delete(ctx context.Context, listID id.ListID, todoID id.TodoID) error
}

// Handler exposes the todo lifecycle over HTTP.
type Handler struct {
	service       Service
	logger        *slog.Logger
	defaultListID id.ListID
}

// New creates a todo Handler. Routes that omit the list use defaultListID.
func New(svc Service, logger *slog.Logger, defaultListID id.ListID) *Handler {
	if defaultListID == "" {
		defaultListID = id.DefaultListID
	}
	return &Handler{
		service:       svc,
		logger:        logger,
		defaultListID: defaultListID,
	}
}

// Register registers the todo routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/todos", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Post("/{listId}", h.handleCreate)
		r.Get("/{listId}", h.handleList)
		r.Delete("/{todoId}", h.handleDelete)
		r.Delete("/{listId}/{todoId}", h.handleDelete)
	})
}

type createTodoRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Validate trims the title and rejects a blank one before the service runs.
func (r *createTodoRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "title is required")
	}
	return nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	listID, ok := h.listID(w, r)
	if !ok {
		return
	}

	idemKey := r.Header.Get(IdempotencyKeyHeader)
	if idemKey != "" && !idempotency.ValidClientKey(idemKey) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid Idempotency-Key header"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[createTodoRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Create(ctx, service.CreateCommand{
		ListID:         listID,
		Title:          req.Title,
		Description:    req.Description,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "create todo", err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/todos/"+result.Todo.ListID.String()+"/"+result.Todo.ID.String())
	httputil.WriteJSON(w, status, result.Todo)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	listID, ok := h.listID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	if !query.Has("limit") && !query.Has("cursor") {
		todos, err := h.service.List(ctx, listID)
		if err != nil {
			h.writeServiceError(ctx, w, "list todos", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, todos)
		return
	}

	pageReq := models.PageRequest{Cursor: query.Get("cursor")}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		pageReq.Limit = limit
	}

	page, err := h.service.ListPage(ctx, listID, pageReq)
	if err != nil {
		h.writeServiceError(ctx, w, "list todos", err)
		return
	}
	if page.NextCursor != "" {
		w.Header().Set(NextCursorHeader, page.NextCursor)
	}
	httputil.WriteJSON(w, http.StatusOK, page.Items)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	listID, ok := h.listID(w, r)
	if !ok {
		return
	}
	todoID, err := id.ParseTodoID(chi.URLParam(r, "todoId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.Delete(ctx, listID, todoID); err != nil {
		h.writeServiceError(ctx, w, "delete todo", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listID resolves the optional {listId} path segment.
func (h *Handler) listID(w http.ResponseWriter, r *http.Request) (id.ListID, bool) {
	raw := chi.URLParam(r, "listId")
	if raw == "" {
		return h.defaultListID, true
	}
	listID, err := id.ParseListID(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return listID, true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, action string, err error) {
	status := dErrors.ToHTTPStatus(dErrors.CodeOf(err))
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"action", action,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "todo request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "todo request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
