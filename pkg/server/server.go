// Package server exposes a viewmodel registry over the view protocol.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/viewmodel"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

// maxRequestBody caps the size of request bodies (1 MiB).
const maxRequestBody int64 = 1 << 20

type Server struct {
	registry *viewmodel.Registry
	logger   *slog.Logger
	origins  map[string]bool
	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAllowedOrigins lets browsers served from other origins call the API
// and open the events channel.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			s.origins[o] = true
		}
	}
}

func New(registry *viewmodel.Registry, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		logger:   slog.Default(),
		origins:  make(map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.origins) > 0 {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.origins[origin]
		}
	}
	return s
}

// Handler routes the protocol endpoints behind access logging and CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests, s.cors)

	r.Methods(http.MethodPost, http.MethodOptions).Path("/" + wire.ViewPath + "/{viewName}").HandlerFunc(s.view)
	r.Methods(http.MethodPost, http.MethodOptions).Path("/" + wire.ActionPath).HandlerFunc(s.action)
	r.Methods(http.MethodGet).Path("/" + wire.EventsPath + "/{viewmodelId}/events").HandlerFunc(s.events)
	return r
}

func (s *Server) logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) cors(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		origin := request.Header.Get("Origin")
		if origin != "" && s.origins[origin] {
			h := writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST")
			h.Set("Access-Control-Allow-Headers", "Authorization, Accept, Content-Type")
			h.Set("Access-Control-Max-Age", "3600")
			h.Add("Vary", "Origin")
		}
		if request.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(writer, request)
	})
}

func (s *Server) view(writer http.ResponseWriter, request *http.Request) {
	viewName := mux.Vars(request)["viewName"]
	var body wire.ViewRequest
	if err := decodeBody(request, &body, true); err != nil {
		s.logger.Warn("bad view request", "view", viewName, "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if body.ViewmodelID == "" {
		vm, err := s.registry.Open(viewName)
		if err != nil {
			s.fail(writer, err)
			return
		}
		s.writeJSON(writer, wire.ViewResponse{ViewmodelID: vm.ID, WidgetsData: vm.Render()})
		return
	}

	s.logger.Info("call view with viewmodel id", "view", viewName, "viewmodel", body.ViewmodelID)
	vm, err := s.registry.Lookup(body.ViewmodelID)
	if err != nil {
		s.fail(writer, err)
		return
	}
	if vm.View != viewName {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	if err := vm.Acquire(); err != nil {
		s.fail(writer, err)
		return
	}
	defer vm.Release()
	s.writeJSON(writer, wire.ViewResponse{ViewmodelID: vm.ID, WidgetsData: vm.Render()})
}

// actionBody keeps the payload raw so that each action decodes its own variant.
type actionBody struct {
	ViewmodelID string          `json:"viewmodelId"`
	WidgetID    string          `json:"widgetId"`
	ActionType  string          `json:"actionType"`
	Data        json.RawMessage `json:"data"`
}

func (s *Server) action(writer http.ResponseWriter, request *http.Request) {
	var body actionBody
	if err := decodeBody(request, &body, false); err != nil {
		s.logger.Warn("bad action request", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	req := wire.ActionRequest{ViewmodelID: body.ViewmodelID, WidgetID: body.WidgetID, ActionType: body.ActionType}
	if err := req.Validate(); err != nil {
		s.logger.Warn("bad action request", "err", err)
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("get viewmodel id from action request", "viewmodel", body.ViewmodelID)

	vm, err := s.registry.Lookup(body.ViewmodelID)
	if err != nil {
		s.fail(writer, err)
		return
	}
	if err := vm.Acquire(); err != nil {
		if errors.Is(err, viewmodel.ErrBusy) {
			http.Error(writer, fmt.Sprintf("%q busy", vm.ID), http.StatusInternalServerError)
			return
		}
		s.fail(writer, err)
		return
	}
	defer vm.Release()

	delta, err := vm.Perform(request.Context(), body.WidgetID, body.ActionType, body.Data)
	if err != nil {
		s.logger.Error("failed to perform action", "viewmodel", vm.ID, "widget", body.WidgetID, "action", body.ActionType, "err", err)
		http.Error(writer, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.writeJSON(writer, wire.ViewResponse{ViewmodelID: vm.ID, WidgetsData: delta})
}

func (s *Server) fail(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, viewmodel.ErrUnknownView), errors.Is(err, viewmodel.ErrNotFound):
		writer.WriteHeader(http.StatusNotFound)
	case errors.Is(err, viewmodel.ErrBusy):
		writer.WriteHeader(http.StatusTooManyRequests)
	default:
		s.logger.Error("request failed", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(writer http.ResponseWriter, v any) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

// decodeBody reads a JSON body into out. An empty body is accepted only when
// allowEmpty is set.
func decodeBody(request *http.Request, out any, allowEmpty bool) error {
	raw, err := io.ReadAll(io.LimitReader(request.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if len(raw) == 0 {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("empty body")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode body: %w", err)
	}
	return nil
}
