// Package session implements the view session: the holder of one viewmodel
// id and of the widget data map of a mounted view.
//
// A session starts Loading, performs exactly one view load, and ends Done or
// Failed. It never retries; a failed view is remounted with a new Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/store"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/transport"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

var (
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrEmptyViewName      = errors.New("view name is empty")
	ErrNotReady           = errors.New("session is not ready")
	ErrClosed             = errors.New("session closed")
)

type Session struct {
	client  *transport.Client
	store   *store.Store
	logger  *slog.Logger
	dialer  *websocket.Dialer
	schemas *wire.Schemas

	lifetime context.Context
	cancel   context.CancelFunc

	mu          sync.RWMutex
	viewName    string
	viewmodelID string
	state       LoaderState
	started     bool
	closed      bool
	stateSubs   map[uint64]func(LoaderState)
	next        uint64
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithDialer sets the websocket dialer used by Follow.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithSchemas sets the action payload schemas handed to every binding.
func WithSchemas(sc *wire.Schemas) Option {
	return func(s *Session) { s.schemas = sc }
}

func New(client *transport.Client, opts ...Option) *Session {
	s := &Session{
		client:    client,
		store:     store.New(),
		logger:    slog.Default(),
		dialer:    websocket.DefaultDialer,
		state:     LoaderState{Phase: Loading},
		stateSubs: make(map[uint64]func(LoaderState)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifetime, s.cancel = context.WithCancel(context.Background())
	return s
}

// Initialize loads viewName from the server. It may be called once. On
// success the session holds the viewmodel id and the initial widget data and
// is Done; on any failure it is Failed with the cause, and neither the id nor
// the widget data is touched. The returned error mirrors the Failed cause.
func (s *Session) Initialize(ctx context.Context, viewName string) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.started = true
	s.viewName = viewName
	s.mu.Unlock()

	if viewName == "" {
		s.fail(ErrEmptyViewName)
		return ErrEmptyViewName
	}

	ctx, cancel := s.bind(ctx)
	defer cancel()

	s.logger.Info("loading view", "view", viewName)
	resp, err := s.client.LoadView(ctx, viewName, wire.ViewRequest{})
	if s.isClosed() {
		s.fail(ErrClosed)
		return ErrClosed
	}
	if err != nil {
		s.logger.Error("failed to load view", "view", viewName, "err", err)
		s.fail(err)
		return fmt.Errorf("failed to load view %s: %w", viewName, err)
	}

	// The id is committed under the same lock Close takes. A Close that comes
	// later finds the load done, and the sealed store drops the merge if it
	// lands first.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fail(ErrClosed)
		return ErrClosed
	}
	s.viewmodelID = resp.ViewmodelID
	s.mu.Unlock()
	s.store.Merge(resp.WidgetsData)
	s.transition(LoaderState{Phase: Done})
	s.logger.Info("loaded view", "view", viewName, "viewmodel", resp.ViewmodelID, "widgets", len(resp.WidgetsData))
	return nil
}

// MergeWidgetData writes delta over the widget data map: ids in delta are
// added or overwritten, others are kept. Merges into a closed session are
// dropped.
func (s *Session) MergeWidgetData(delta wire.WidgetsData) {
	if s.isClosed() {
		s.logger.Debug("dropping merge into closed session", "widgets", len(delta))
		return
	}
	s.store.Merge(delta)
}

// Refresh re-reads the full widget data of the current viewmodel and merges
// it. It requires a Done session and leaves the loader state alone.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.RLock()
	viewName, id, phase := s.viewName, s.viewmodelID, s.state.Phase
	s.mu.RUnlock()
	if phase != Done {
		return ErrNotReady
	}

	ctx, cancel := s.bind(ctx)
	defer cancel()
	resp, err := s.client.LoadView(ctx, viewName, wire.ViewRequest{ViewmodelID: id})
	if err != nil {
		return fmt.Errorf("failed to refresh view %s: %w", viewName, err)
	}
	s.MergeWidgetData(resp.WidgetsData)
	return nil
}

// Close cancels every request tied to the session and makes later merges
// no-ops. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.store.Seal()
	s.cancel()
}

func (s *Session) ViewmodelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewmodelID
}

func (s *Session) ViewName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewName
}

func (s *Session) State() LoaderState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// WidgetData returns a copy of the data pushed for one widget.
func (s *Session) WidgetData(widgetID string) (wire.Fields, bool) {
	return s.store.Get(widgetID)
}

// Snapshot copies the whole widget data map.
func (s *Session) Snapshot() wire.WidgetsData {
	return s.store.Snapshot()
}

// OnStateChange registers fn to run on the loader state transition.
func (s *Session) OnStateChange(fn func(LoaderState)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	token := s.next
	s.stateSubs[token] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.stateSubs, token)
	}
}

// Context is what the session hands to each widget binding it owns.
func (s *Session) Context() Context {
	return Context{
		ViewmodelID: s.ViewmodelID,
		Store:       s.store,
		Merge:       s.MergeWidgetData,
		Client:      s.client,
		Schemas:     s.schemas,
		Lifetime:    s.lifetime,
		Logger:      s.logger,
	}
}

func (s *Session) fail(err error) {
	s.transition(LoaderState{Phase: Failed, Err: err})
}

// transition moves out of Loading. Any later transition is ignored.
func (s *Session) transition(next LoaderState) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = next
	subs := make([]func(LoaderState), 0, len(s.stateSubs))
	for _, fn := range s.stateSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// bind derives a request context that also ends when the session closes.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	return bindLifetime(ctx, s.lifetime)
}

func bindLifetime(ctx, lifetime context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
