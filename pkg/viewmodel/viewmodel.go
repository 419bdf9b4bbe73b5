package viewmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

// docWidgets is the map in the automerge document holding the JSON rendering
// of every widget, keyed by widget id.
const docWidgets = "widgets"

// Viewmodel is one live instance of a view. Actions are serialised by the
// busy flag: a caller must TryAcquire before Perform and Release after.
type Viewmodel struct {
	ID   string
	View string

	widgets map[string]*Widget
	order   []string
	busy    sync.Mutex
	done    chan struct{}
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	doc       *automerge.Doc
	rendered  map[string]string
	lastUsed  time.Time
	dirty     bool
	closed    bool
	observers map[uint64]func(wire.WidgetsData)
	next      uint64
}

func newViewmodel(id, view string, widgets []*Widget, newID func() string, now func() time.Time, logger *slog.Logger) (*Viewmodel, error) {
	vm := &Viewmodel{
		ID:        id,
		View:      view,
		widgets:   make(map[string]*Widget, len(widgets)),
		done:      make(chan struct{}),
		logger:    logger,
		now:       now,
		doc:       automerge.New(),
		rendered:  make(map[string]string, len(widgets)),
		lastUsed:  now(),
		dirty:     true,
		observers: make(map[uint64]func(wire.WidgetsData)),
	}
	for _, w := range widgets {
		if w.ID == "" {
			w.ID = newID()
		}
		if _, ok := vm.widgets[w.ID]; ok {
			return nil, fmt.Errorf("duplicate widget id %s in view %s", w.ID, view)
		}
		vm.widgets[w.ID] = w
		vm.order = append(vm.order, w.ID)
	}

	seed := make(map[string]any, len(vm.order))
	for _, wid := range vm.order {
		raw, err := renderJSON(vm.widgets[wid])
		if err != nil {
			return nil, err
		}
		vm.rendered[wid] = raw
		seed[wid] = raw
	}
	if err := vm.doc.Path("viewmodel").Set(id); err != nil {
		return nil, fmt.Errorf("failed to seed doc: %w", err)
	}
	if err := vm.doc.Path("view").Set(view); err != nil {
		return nil, fmt.Errorf("failed to seed doc: %w", err)
	}
	if err := vm.doc.Path(docWidgets).Set(seed); err != nil {
		return nil, fmt.Errorf("failed to seed doc: %w", err)
	}
	if _, err := vm.doc.Commit("seed", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return nil, fmt.Errorf("failed to commit doc: %w", err)
	}
	return vm, nil
}

// Acquire marks the viewmodel busy. It fails with ErrBusy if another request
// holds it and with ErrNotFound once the viewmodel has been evicted.
func (vm *Viewmodel) Acquire() error {
	if !vm.busy.TryLock() {
		return fmt.Errorf("%w: %q", ErrBusy, vm.ID)
	}
	if vm.isClosed() {
		vm.busy.Unlock()
		return fmt.Errorf("%w: %q evicted", ErrNotFound, vm.ID)
	}
	vm.touch()
	return nil
}

// TryAcquire is Acquire reporting only success.
func (vm *Viewmodel) TryAcquire() bool {
	return vm.Acquire() == nil
}

func (vm *Viewmodel) Release() {
	vm.busy.Unlock()
}

// WidgetIDs lists the widgets in declaration order.
func (vm *Viewmodel) WidgetIDs() []string {
	return append([]string(nil), vm.order...)
}

// Render returns the current data of every widget.
func (vm *Viewmodel) Render() wire.WidgetsData {
	vm.touch()
	out := make(wire.WidgetsData, len(vm.order))
	for _, wid := range vm.order {
		out[wid] = vm.widgets[wid].render()
	}
	return out
}

// Perform runs actionType on widgetID and returns the widgets whose rendering
// changed. Unknown widgets and unknown action types are ignored with an empty
// delta. A non-empty delta is recorded in the document and sent to observers.
func (vm *Viewmodel) Perform(ctx context.Context, widgetID, actionType string, data json.RawMessage) (wire.WidgetsData, error) {
	delta := make(wire.WidgetsData)
	w, ok := vm.widgets[widgetID]
	if !ok {
		vm.logger.Warn("action on unknown widget", "viewmodel", vm.ID, "widget", widgetID, "action", actionType)
		return delta, nil
	}
	fn, ok := w.Actions[actionType]
	if !ok {
		vm.logger.Warn("unknown action type", "viewmodel", vm.ID, "widget", widgetID, "action", actionType)
		return delta, nil
	}
	vm.logger.Info("performing action", "viewmodel", vm.ID, "widget", widgetID, "action", actionType)
	if err := fn(ctx, data); err != nil {
		return nil, fmt.Errorf("action %s on widget %s failed: %w", actionType, widgetID, err)
	}

	vm.mu.Lock()
	for _, wid := range vm.order {
		raw, err := renderJSON(vm.widgets[wid])
		if err != nil {
			vm.mu.Unlock()
			return nil, err
		}
		if vm.rendered[wid] == raw {
			continue
		}
		if err := vm.doc.Path(docWidgets, wid).Set(raw); err != nil {
			vm.mu.Unlock()
			return nil, fmt.Errorf("failed to record widget %s: %w", wid, err)
		}
		vm.rendered[wid] = raw
		delta[wid] = vm.widgets[wid].render()
	}
	if len(delta) > 0 {
		if _, err := vm.doc.Commit(fmt.Sprintf("%s/%s", widgetID, actionType)); err != nil {
			vm.mu.Unlock()
			return nil, fmt.Errorf("failed to commit doc: %w", err)
		}
		vm.dirty = true
	}
	observers := make([]func(wire.WidgetsData), 0, len(vm.observers))
	for _, fn := range vm.observers {
		observers = append(observers, fn)
	}
	vm.mu.Unlock()

	if len(delta) > 0 {
		for _, fn := range observers {
			fn(delta.Clone())
		}
	}
	return delta, nil
}

// Observe registers fn to receive every non-empty delta produced by Perform.
func (vm *Viewmodel) Observe(fn func(wire.WidgetsData)) (unsubscribe func()) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.next++
	token := vm.next
	vm.observers[token] = fn
	return func() {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		delete(vm.observers, token)
	}
}

// Done is closed once the viewmodel has been evicted.
func (vm *Viewmodel) Done() <-chan struct{} {
	return vm.done
}

func (vm *Viewmodel) LastUsed() time.Time {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.lastUsed
}

// Save serialises the widget document.
func (vm *Viewmodel) Save() []byte {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.doc.Save()
}

// Fork returns an independent copy of the widget document.
func (vm *Viewmodel) Fork() (*automerge.Doc, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.doc.Fork()
}

// takeDirty reports whether the document changed since the last call.
func (vm *Viewmodel) takeDirty() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	d := vm.dirty
	vm.dirty = false
	return d
}

func (vm *Viewmodel) markDirty() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.dirty = true
}

func (vm *Viewmodel) touch() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.lastUsed = vm.now()
}

func (vm *Viewmodel) isClosed() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.closed
}

// close must be called with the busy lock held so that no action can start
// on an evicted viewmodel.
func (vm *Viewmodel) close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return
	}
	vm.closed = true
	close(vm.done)
}

func (w *Widget) render() wire.Fields {
	if w.Render == nil {
		return wire.Fields{}
	}
	return w.Render().Clone()
}

// renderJSON relies on encoding/json writing map keys sorted, so equal
// renderings give equal strings.
func renderJSON(w *Widget) (string, error) {
	raw, err := json.Marshal(w.render())
	if err != nil {
		return "", fmt.Errorf("failed to render widget %s: %w", w.ID, err)
	}
	return string(raw), nil
}
