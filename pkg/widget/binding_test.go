package widget

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/session"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/transport"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

type actionFunc func(req wire.ActionRequest) (int, *wire.ViewResponse)

// fakeServer answers the view load with initial and delegates actions to onAction.
type fakeServer struct {
	initial  wire.WidgetsData
	onAction actionFunc
	actions  atomic.Int32
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/view/example":
		_ = json.NewEncoder(w).Encode(wire.ViewResponse{ViewmodelID: "vm-1", WidgetsData: f.initial})
	case "/api/action":
		f.actions.Add(1)
		var req wire.ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		code, resp := f.onAction(req)
		w.WriteHeader(code)
		if resp != nil {
			_ = json.NewEncoder(w).Encode(resp)
		}
	default:
		http.NotFound(w, r)
	}
}

func newLoadedSession(t *testing.T, f *fakeServer, opts ...session.Option) *session.Session {
	t.Helper()
	s := newSession(t, f, opts...)
	require.NoError(t, s.Initialize(context.Background(), "example"))
	return s
}

func newSession(t *testing.T, f *fakeServer, opts ...session.Option) *session.Session {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := transport.New(srv.URL)
	require.NoError(t, err)
	s := session.New(c, opts...)
	t.Cleanup(s.Close)
	return s
}

func TestBindRequiresWidgetID(t *testing.T) {
	s := newSession(t, &fakeServer{})
	_, err := Bind(s.Context(), wire.Fields{"label": "x"})
	assert.ErrorIs(t, err, ErrMissingWidgetID)
	_, err = Bind(s.Context(), wire.Fields{IDProp: ""})
	assert.ErrorIs(t, err, ErrMissingWidgetID)
	_, err = Bind(s.Context(), wire.Fields{IDProp: 7})
	assert.ErrorIs(t, err, ErrMissingWidgetID)
}

func TestDataRoundTrip(t *testing.T) {
	s := newLoadedSession(t, &fakeServer{initial: wire.WidgetsData{"w1": {"text": "hello"}}})
	assert.Equal(t, "vm-1", s.ViewmodelID())
	assert.Equal(t, session.Done, s.State().Phase)

	b, err := Bind(s.Context(), wire.Fields{IDProp: "w1"})
	require.NoError(t, err)
	assert.Equal(t, "w1", b.WidgetID())
	assert.Equal(t, wire.Fields{"text": "hello"}, b.Data())
}

func TestDataOfUnknownWidgetIsSnapshot(t *testing.T) {
	s := newLoadedSession(t, &fakeServer{initial: wire.WidgetsData{"w1": {"text": "hello"}}})
	b, err := Bind(s.Context(), wire.Fields{IDProp: "nope", "label": "static", "n": 3})
	require.NoError(t, err)
	assert.Equal(t, wire.Fields{"label": "static", "n": 3}, b.Data())
	assert.Equal(t, b.Props(), b.Data())
}

func TestSnapshotIsPrivateAndServerWins(t *testing.T) {
	s := newSession(t, &fakeServer{})
	props := wire.Fields{IDProp: "w1", "label": "local", "color": "red"}
	b, err := Bind(s.Context(), props)
	require.NoError(t, err)

	props["label"] = "changed upstream"
	s.MergeWidgetData(wire.WidgetsData{"w1": {"color": "blue"}})

	assert.Equal(t, wire.Fields{"label": "local", "color": "blue"}, b.Data())

	d := b.Data()
	d["label"] = "mutated copy"
	assert.Equal(t, "local", b.Data()["label"])
}

func TestBindingMountedBeforeLoad(t *testing.T) {
	s := newSession(t, &fakeServer{initial: wire.WidgetsData{"w1": {"text": "hello"}}})
	b, err := Bind(s.Context(), wire.Fields{IDProp: "w1", "text": "placeholder"})
	require.NoError(t, err)
	assert.Equal(t, "placeholder", b.Data()["text"])

	require.NoError(t, s.Initialize(context.Background(), "example"))
	assert.Equal(t, "hello", b.Data()["text"])
}

func TestPostActionMergesDelta(t *testing.T) {
	f := &fakeServer{
		initial: wire.WidgetsData{"w1": {"text": "hello"}, "w2": {"count": 0}},
		onAction: func(req wire.ActionRequest) (int, *wire.ViewResponse) {
			if req.ViewmodelID != "vm-1" || req.WidgetID != "w2" || req.ActionType != "increment" {
				return http.StatusBadRequest, nil
			}
			return http.StatusOK, &wire.ViewResponse{ViewmodelID: "vm-1", WidgetsData: wire.WidgetsData{"w2": {"count": 1}}}
		},
	}
	s := newLoadedSession(t, f)
	w1, err := Bind(s.Context(), wire.Fields{IDProp: "w1"})
	require.NoError(t, err)
	w2, err := Bind(s.Context(), wire.Fields{IDProp: "w2", "count": 0})
	require.NoError(t, err)

	var w1Notified int
	w1.Subscribe(func(wire.Fields) { w1Notified++ })
	var pushed []wire.Fields
	w2.Subscribe(func(d wire.Fields) { pushed = append(pushed, d) })

	require.NoError(t, w2.PostAction(context.Background(), "increment", wire.Fields{}))

	assert.Equal(t, wire.Fields{"count": float64(1)}, w2.Data())
	assert.Equal(t, []wire.Fields{{"count": float64(1)}}, pushed)
	assert.Equal(t, wire.Fields{"text": "hello"}, w1.Data())
	assert.Zero(t, w1Notified)
}

func TestPostActionNilPayloadIsEmptyObject(t *testing.T) {
	var data any
	f := &fakeServer{onAction: func(req wire.ActionRequest) (int, *wire.ViewResponse) {
		data = req.Data
		return http.StatusOK, &wire.ViewResponse{ViewmodelID: "vm-1"}
	}}
	s := newLoadedSession(t, f)
	b, err := Bind(s.Context(), wire.Fields{IDProp: "w1"})
	require.NoError(t, err)

	require.NoError(t, b.PostAction(context.Background(), "click", nil))
	assert.Equal(t, map[string]any{}, data)
}

func TestPostActionEmptyTypeMakesNoRequest(t *testing.T) {
	f := &fakeServer{onAction: func(wire.ActionRequest) (int, *wire.ViewResponse) {
		return http.StatusOK, &wire.ViewResponse{}
	}}
	s := newLoadedSession(t, f)
	b, err := Bind(s.Context(), wire.Fields{IDProp: "w1"})
	require.NoError(t, err)

	assert.ErrorIs(t, b.PostAction(context.Background(), "", nil), ErrEmptyActionType)
	assert.Equal(t, int32(0), f.actions.Load())
}

func TestPostActionFailureIsReturned(t *testing.T) {
	f := &fakeServer{
		initial: wire.WidgetsData{"w1": {"n": 1}},
		onAction: func(wire.ActionRequest) (int, *wire.ViewResponse) {
			return http.StatusInternalServerError, nil
		},
	}
	s := newLoadedSession(t, f)
	b, err := Bind(s.Context(), wire.Fields{IDProp: "w1"})
	require.NoError(t, err)

	err = b.PostAction(context.Background(), "click", nil)
	assert.ErrorIs(t, err, transport.ErrUnexpectedResponse)
	assert.Equal(t, http.StatusInternalServerError, transport.StatusCode(err))
	assert.Equal(t, session.LoaderState{Phase: session.Done}, s.State())
	assert.Equal(t, wire.Fields{"n": float64(1)}, b.Data())
}

func TestPostActionSchema(t *testing.T) {
	type incr struct {
		By int `json:"by"`
	}
	schemas := wire.NewSchemas()
	require.NoError(t, schemas.RegisterAction("increment", `{
		"type": "object",
		"properties": {"by": {"type": "integer"}},
		"additionalProperties": false
	}`))

	f := &fakeServer{onAction: func(wire.ActionRequest) (int, *wire.ViewResponse) {
		return http.StatusOK, &wire.ViewResponse{ViewmodelID: "vm-1"}
	}}
	s := newLoadedSession(t, f, session.WithSchemas(schemas))
	b, err := Bind(s.Context(), wire.Fields{IDProp: "w1"})
	require.NoError(t, err)

	assert.ErrorIs(t, b.PostAction(context.Background(), "increment", wire.Fields{"step": 1}), ErrInvalidPayload)
	assert.Equal(t, int32(0), f.actions.Load())
	require.NoError(t, b.PostAction(context.Background(), "increment", incr{By: 2}))
	assert.Equal(t, int32(1), f.actions.Load())
}

func TestPostActionAfterCloseIsRefused(t *testing.T) {
	f := &fakeServer{onAction: func(wire.ActionRequest) (int, *wire.ViewResponse) {
		return http.StatusOK, &wire.ViewResponse{}
	}}
	s := newLoadedSession(t, f)
	b, err := Bind(s.Context(), wire.Fields{IDProp: "w1"})
	require.NoError(t, err)
	s.Close()
	assert.ErrorIs(t, b.PostAction(context.Background(), "click", nil), session.ErrClosed)
	assert.Equal(t, int32(0), f.actions.Load())
}

func TestDisjointActionsInReverseOrder(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	f := &fakeServer{onAction: func(req wire.ActionRequest) (int, *wire.ViewResponse) {
		switch req.WidgetID {
		case "w1":
			// w1 answers only after w3 has been answered
			close(entered)
			<-release
			return http.StatusOK, &wire.ViewResponse{ViewmodelID: "vm-1", WidgetsData: wire.WidgetsData{"w1": {"v": "one"}}}
		default:
			return http.StatusOK, &wire.ViewResponse{ViewmodelID: "vm-1", WidgetsData: wire.WidgetsData{"w3": {"v": "three"}}}
		}
	}}
	s := newLoadedSession(t, f)
	w1, err := Bind(s.Context(), wire.Fields{IDProp: "w1"})
	require.NoError(t, err)
	w3, err := Bind(s.Context(), wire.Fields{IDProp: "w3"})
	require.NoError(t, err)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, w1.PostAction(context.Background(), "set", nil))
	}()
	<-entered
	require.NoError(t, w3.PostAction(context.Background(), "set", nil))
	close(release)
	wg.Wait()

	assert.Equal(t, wire.WidgetsData{"w1": {"v": "one"}, "w3": {"v": "three"}}, s.Snapshot())
	assert.Equal(t, "one", w1.Data()["v"])
	assert.Equal(t, "three", w3.Data()["v"])
}

func TestCloseStopsRecompute(t *testing.T) {
	s := newSession(t, &fakeServer{})
	b, err := Bind(s.Context(), wire.Fields{IDProp: "w1"})
	require.NoError(t, err)
	b.Close()
	b.Close()
	s.MergeWidgetData(wire.WidgetsData{"w1": {"a": 1}})
	assert.Equal(t, wire.Fields{}, b.Data())
}

func TestRacingMergesOnOneWidgetSettleOnLatest(t *testing.T) {
	s := newSession(t, &fakeServer{})
	b, err := Bind(s.Context(), wire.Fields{IDProp: "w1", "color": "red"})
	require.NoError(t, err)
	var calls atomic.Int32
	b.Subscribe(func(wire.Fields) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.MergeWidgetData(wire.WidgetsData{"w1": {"n": i}})
		}(i)
	}
	wg.Wait()

	// every merge notified once, and the visible data is the stored entry
	assert.Equal(t, int32(20), calls.Load())
	entry, ok := s.WidgetData("w1")
	require.True(t, ok)
	assert.Equal(t, wire.Fields{"color": "red"}.Overlay(entry), b.Data())
}
