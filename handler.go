package mssqlgrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
)

// maxMessageBytes caps the body of a panel message.
const maxMessageBytes = 1 << 20

// OpenRequest is the body of POST /panels.
type OpenRequest struct {
	Connection string     `json:"connection"`
	Database   string     `json:"database"`
	Schema     string     `json:"schema"`
	Object     string     `json:"object"`
	Kind       ObjectKind `json:"kind"`
	Options    Options    `json:"options"`
}

// Handler serves panels over HTTP: JSON payloads for scripts and a full HTML
// page per panel. Connections are addressed by name.
type Handler struct {
	Registry     *Registry
	Introspector *Introspector
	Conns        map[string]Conn
	Default      string
	Timeout      time.Duration
	Logger       *slog.Logger

	router chi.Router
	pages  *pageRenderer
}

// NewHandler wires the panel routes.
func NewHandler(reg *Registry, in *Introspector, conns map[string]Conn, defaultConn string, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pages, err := newPageRenderer()
	if err != nil {
		return nil, err
	}
	h := &Handler{
		Registry:     reg,
		Introspector: in,
		Conns:        conns,
		Default:      defaultConn,
		Logger:       logger,
		pages:        pages,
	}
	r := chi.NewRouter()
	h.Routes(r)
	h.router = r
	return h, nil
}

// Routes mounts the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/panels", func(r chi.Router) {
		r.Get("/", h.listPanels)
		r.Post("/", h.openPanel)
		r.Route("/{key}", func(r chi.Router) {
			r.Get("/", h.panelPage)
			r.Get("/state", h.panelState)
			r.Post("/messages", h.panelMessage)
			r.Delete("/", h.closePanel)
		})
	})
	r.Route("/catalog/{conn}", func(r chi.Router) {
		r.Get("/databases", h.databases)
		r.Get("/databases/{db}/schemas", h.schemas)
		r.Get("/databases/{db}/schemas/{schema}/objects", h.objects)
		r.Get("/databases/{db}/schemas/{schema}/objects/{name}/definition", h.definition)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) conn(name string) (Conn, error) {
	if name == "" {
		name = h.Default
	}
	c, ok := h.Conns[name]
	if !ok || c == nil {
		return nil, fmt.Errorf("unknown connection %q", name)
	}
	return c, nil
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.Timeout > 0 {
		return context.WithTimeout(r.Context(), h.Timeout)
	}
	return context.WithCancel(r.Context())
}

func (h *Handler) controller(r *http.Request) (*Controller, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	c, ok := h.Registry.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPanelNotFound, key)
	}
	return c, nil
}

func (h *Handler) listPanels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"panels": h.Registry.Keys()})
}

func (h *Handler) openPanel(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&req); err != nil {
		h.fail(w, fmt.Errorf("%w: %v", ErrInvalidMessage, err))
		return
	}
	if req.Database == "" || req.Schema == "" || req.Object == "" {
		h.fail(w, fmt.Errorf("%w: database, schema and object are required", ErrInvalidMessage))
		return
	}
	conn, err := h.conn(req.Connection)
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", ErrInvalidMessage, err))
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()
	ref := TableRef{Database: req.Database, Schema: req.Schema, Object: req.Object, Kind: req.Kind}
	_, p, err := h.Registry.Open(ctx, conn, ref, req.Options)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) panelState(w http.ResponseWriter, r *http.Request) {
	c, err := h.controller(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	p := c.Snapshot()
	if p == nil {
		ctx, cancel := h.requestContext(r)
		defer cancel()
		if p, err = c.Refresh(ctx); err != nil {
			h.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) panelPage(w http.ResponseWriter, r *http.Request) {
	c, err := h.controller(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	p := c.Snapshot()
	if p == nil {
		ctx, cancel := h.requestContext(r)
		defer cancel()
		if p, err = c.Refresh(ctx); err != nil {
			h.fail(w, err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.pages.render(w, p); err != nil {
		h.Logger.Error("rendering panel page", "panel", p.Key, "error", err)
	}
}

func (h *Handler) panelMessage(w http.ResponseWriter, r *http.Request) {
	c, err := h.controller(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", ErrInvalidMessage, err))
		return
	}
	msg, err := DecodeMessage(body)
	if err != nil {
		h.fail(w, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := Dispatch(ctx, c, msg)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) closePanel(w http.ResponseWriter, r *http.Request) {
	c, err := h.controller(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	c.Dispose()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) catalogConn(w http.ResponseWriter, r *http.Request) (Conn, bool) {
	conn, err := h.conn(chi.URLParam(r, "conn"))
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", ErrPanelNotFound, err))
		return nil, false
	}
	return conn, true
}

func (h *Handler) databases(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.catalogConn(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	dbs, err := ListDatabases(ctx, conn)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"databases": dbs})
}

func (h *Handler) schemas(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.catalogConn(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	schemas, err := ListSchemas(ctx, conn, pathParam(r, "db"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schemas": schemas})
}

func (h *Handler) objects(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.catalogConn(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	objs, err := ListObjects(ctx, conn, pathParam(r, "db"), pathParam(r, "schema"))
	if err != nil {
		h.fail(w, err)
		return
	}
	grouped := make(map[ObjectType][]string)
	for _, o := range objs {
		grouped[o.Type] = append(grouped[o.Type], o.Name)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"objects": objs, "byType": grouped})
}

func (h *Handler) definition(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.catalogConn(w, r)
	if !ok {
		return
	}
	if h.Introspector == nil {
		h.fail(w, errors.New("object definitions are not enabled"))
		return
	}
	typ := ObjectType(r.URL.Query().Get("type"))
	if typ == "" {
		typ = TypeTable
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	def, err := h.Introspector.Definition(ctx, conn, pathParam(r, "db"), pathParam(r, "schema"), pathParam(r, "name"), typ)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"type": typ, "definition": def})
}

func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidMessage),
		errors.Is(err, ErrUnknownColumn),
		errors.Is(err, ErrInvalidPageSize),
		errors.Is(err, ErrInvalidDirection):
		return http.StatusBadRequest
	case errors.Is(err, ErrPanelNotFound), errors.Is(err, ErrDisposed):
		return http.StatusNotFound
	case errors.Is(err, ErrSuperseded), errors.Is(err, ErrTargetInUse):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("panel request failed", "error", err)
	} else {
		h.Logger.Debug("panel request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
