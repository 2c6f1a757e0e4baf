package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/drinkshop/auth"
	"github.com/ggoodman/drinkshop/drinks"
	"github.com/ggoodman/drinkshop/internal/logctx"
	"github.com/ggoodman/drinkshop/internal/wellknown"
	"github.com/google/uuid"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

// Permissions required by the protected routes.
const (
	PermGetDrinksDetail = "get:drinks-detail"
	PermPostDrinks      = "post:drinks"
	PermPatchDrinks     = "patch:drinks"
	PermDeleteDrinks    = "delete:drinks"
)

// Permissions lists every permission the API checks.
func Permissions() []string {
	return []string{PermGetDrinksDetail, PermPostDrinks, PermPatchDrinks, PermDeleteDrinks}
}

const (
	requestIDHeader     = "X-Request-Id"
	defaultMaxBodyBytes = 64 << 10
)

// writeJSON emits v as a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError emits the error envelope shared by every non-auth failure.
// Shape: {"success":false,"error":<httpStatus>,"message":"<reason>"}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": status, "message": msg})
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger       *slog.Logger
	maxBodyBytes int64
	prm          *wellknown.ProtectedResourceMetadata
}

// WithLogger sets the slog logger used by the handler. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithMaxBodyBytes caps request bodies. Defaults to 64 KiB.
func WithMaxBodyBytes(n int64) Option {
	return func(c *newConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithProtectedResourceMetadata serves md at
// /.well-known/oauth-protected-resource.
func WithProtectedResourceMetadata(md wellknown.ProtectedResourceMetadata) Option {
	return func(c *newConfig) { c.prm = &md }
}

// Handler serves the drinks API.
type Handler struct {
	mux          *http.ServeMux
	log          *slog.Logger
	store        drinks.Store
	authz        *auth.Authorizer
	maxBodyBytes int64
	prm          *wellknown.ProtectedResourceMetadata
}

// New constructs a Handler serving store and guarding mutations with authz.
func New(store drinks.Store, authz *auth.Authorizer, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if authz == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	cfg := &newConfig{logger: slog.Default(), maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	h := &Handler{
		log:          slog.New(logctx.Wrap(cfg.logger.Handler())),
		store:        store,
		authz:        authz,
		maxBodyBytes: cfg.maxBodyBytes,
		prm:          cfg.prm,
	}

	mux := http.NewServeMux()
	// Accept negotiation runs inside Require so an unauthenticated caller
	// learns about the missing token before the media type.
	mux.Handle("GET /drinks", h.negotiate(h.handleListDrinks))
	mux.Handle("GET /drinks-detail", authz.Require(PermGetDrinksDetail, h.negotiate(h.handleListDrinksDetail)))
	mux.Handle("POST /drinks", authz.Require(PermPostDrinks, h.negotiate(h.handleCreateDrink)))
	mux.Handle("PATCH /drinks/{id}", authz.Require(PermPatchDrinks, h.negotiate(h.handleUpdateDrink)))
	mux.Handle("DELETE /drinks/{id}", authz.Require(PermDeleteDrinks, h.negotiate(h.handleDeleteDrink)))
	mux.Handle("GET /healthz", h.negotiate(h.handleHealth))
	if h.prm != nil {
		mux.Handle("GET "+wellknown.ProtectedResourcePath, h.negotiate(h.handleProtectedResourceMetadata))
	}
	for _, path := range []string{"/drinks", "/drinks-detail", "/drinks/{id}"} {
		mux.HandleFunc("OPTIONS "+path, h.handlePreflight)
	}
	mux.Handle("/drinks", methodNotAllowed("GET, POST, OPTIONS"))
	mux.Handle("/drinks-detail", methodNotAllowed("GET, OPTIONS"))
	mux.Handle("/drinks/{id}", methodNotAllowed("PATCH, DELETE, OPTIONS"))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "resource not found")
	})
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	w.Header().Set(requestIDHeader, id)
	setCORSHeaders(w)

	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  id,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	start := time.Now()
	h.mux.ServeHTTP(w, r)
	h.log.DebugContext(ctx, "http.request.done", slog.Duration("dur", time.Since(start)))
}

// negotiate answers 406 unless the client accepts JSON.
func (h *Handler) negotiate(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
			h.log.InfoContext(r.Context(), "http.accept.reject", slog.String("accept", r.Header.Get("Accept")))
			writeJSONError(w, http.StatusNotAcceptable, "not acceptable")
			return
		}
		next(w, r)
	})
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Expose-Headers", "WWW-Authenticate, "+requestIDHeader)
}

func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func methodNotAllowed(allow string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProtectedResourceMetadata serves the document configured through
// WithProtectedResourceMetadata.
func (h *Handler) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prm)
}

func (h *Handler) handleListDrinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := h.store.List(ctx)
	if err != nil {
		h.storeError(w, r, "drinks.list", err)
		return
	}
	out := make([]drinks.ShortDrink, 0, len(all))
	for _, d := range all {
		out = append(out, d.Short())
	}
	h.log.DebugContext(ctx, "drinks.list.ok", slog.Int("count", len(out)))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drinks": out})
}

func (h *Handler) handleListDrinksDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := h.store.List(ctx)
	if err != nil {
		h.storeError(w, r, "drinks.detail", err)
		return
	}
	h.log.DebugContext(ctx, "drinks.detail.ok", slog.Int("count", len(all)))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drinks": all})
}

func (h *Handler) handleCreateDrink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var d drinks.Drink
	if !h.decodeBody(w, r, &d) {
		return
	}
	d.ID = 0
	created, err := h.store.Create(ctx, d)
	if err != nil {
		h.storeError(w, r, "drinks.create", err)
		return
	}
	h.log.InfoContext(ctx, "drinks.create.ok", slog.Int64("id", created.ID), slog.String("title", created.Title))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drinks": []drinks.Drink{created}})
}

func (h *Handler) handleUpdateDrink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := drinkID(w, r)
	if !ok {
		return
	}
	var p drinks.Patch
	if !h.decodeBody(w, r, &p) {
		return
	}
	if p.Empty() {
		// Unknown ids still report 404 ahead of the empty body.
		if _, err := h.store.Get(ctx, id); err != nil {
			h.storeError(w, r, "drinks.update", err)
			return
		}
		h.log.InfoContext(ctx, "drinks.update.empty", slog.Int64("id", id))
		writeJSONError(w, http.StatusUnprocessableEntity, "unprocessable")
		return
	}
	updated, err := h.store.Update(ctx, id, p)
	if err != nil {
		h.storeError(w, r, "drinks.update", err)
		return
	}
	h.log.InfoContext(ctx, "drinks.update.ok", slog.Int64("id", id))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drinks": []drinks.Drink{updated}})
}

func (h *Handler) handleDeleteDrink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := drinkID(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(ctx, id); err != nil {
		h.storeError(w, r, "drinks.delete", err)
		return
	}
	h.log.InfoContext(ctx, "drinks.delete.ok", slog.Int64("id", id))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "delete": id})
}

// drinkID parses the {id} path segment. Anything other than a positive
// integer cannot name a drink and is reported as not found.
func drinkID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusNotFound, "resource not found")
		return 0, false
	}
	return id, true
}

// decodeBody reads a JSON request body into v. It writes the error response
// and returns false when the body is not usable.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.InfoContext(ctx, "http.body.content_type", slog.String("content_type", r.Header.Get("Content-Type")))
		writeJSONError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.log.InfoContext(ctx, "http.body.invalid", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusUnprocessableEntity, "unprocessable")
		return false
	}
	return true
}

// storeError maps store errors onto 404, 422 or 500.
func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, drinks.ErrNotFound):
		h.log.InfoContext(ctx, op+".miss", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, drinks.ErrInvalid), errors.Is(err, drinks.ErrDuplicateTitle):
		h.log.InfoContext(ctx, op+".reject", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusUnprocessableEntity, "unprocessable")
	default:
		h.log.ErrorContext(ctx, op+".fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, strings.ToLower(http.StatusText(http.StatusInternalServerError)))
	}
}
