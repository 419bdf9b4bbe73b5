// Package widget binds one rendered widget to the view session that owns it.
//
// The visible data of a binding is its private props snapshot with the
// server-pushed entry for its widget id laid on top: server fields win.
package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/session"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

// IDProp is the prop naming the widget a binding reads and acts upon.
const IDProp = "widgetId"

var (
	ErrMissingWidgetID = errors.New("props carry no widgetId")
	ErrEmptyActionType = errors.New("action type is empty")
	ErrInvalidPayload  = errors.New("invalid action payload")
)

type Binding struct {
	sc       session.Context
	id       string
	snapshot wire.Fields

	mu          sync.RWMutex
	data        wire.Fields
	subs        map[uint64]func(wire.Fields)
	next        uint64
	unsubscribe func()
}

// Bind builds the binding of props[IDProp]. The other props are copied once,
// so later changes to the caller's map never reach the binding.
func Bind(sc session.Context, props wire.Fields) (*Binding, error) {
	id, _ := props[IDProp].(string)
	if id == "" {
		return nil, ErrMissingWidgetID
	}
	snapshot := props.Clone()
	delete(snapshot, IDProp)

	b := &Binding{
		sc:       sc,
		id:       id,
		snapshot: snapshot,
		subs:     make(map[uint64]func(wire.Fields)),
	}
	b.unsubscribe = sc.Store.Subscribe(id, b.recompute)
	b.recompute()
	return b, nil
}

func (b *Binding) WidgetID() string { return b.id }

// Props returns a copy of the local props snapshot.
func (b *Binding) Props() wire.Fields { return b.snapshot.Clone() }

// Data returns a copy of the current visible data.
func (b *Binding) Data() wire.Fields {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.Clone()
}

// Subscribe registers fn to receive the visible data after each change of
// this widget's entry. Callbacks run outside the binding lock: when merges on
// the same widget race, fn may see an older value after a newer one. Data
// always returns the latest.
func (b *Binding) Subscribe(fn func(wire.Fields)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	token := b.next
	b.subs[token] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, token)
	}
}

// Close detaches the binding from the widget data map.
func (b *Binding) Close() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// PostAction asks the server to run actionType on this widget and merges the
// widget data of the answer into the session. A nil payload is sent as {}.
// Failures are returned as-is; the loader state of the session is not
// involved. The request carries the viewmodel id current at call time.
func (b *Binding) PostAction(ctx context.Context, actionType string, payload any) error {
	if actionType == "" {
		return ErrEmptyActionType
	}
	if payload == nil {
		payload = wire.Fields{}
	}
	if err := b.sc.Schemas.ValidateAction(actionType, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if b.sc.Closed() {
		return session.ErrClosed
	}

	ctx, cancel := b.sc.Bind(ctx)
	defer cancel()

	req := wire.ActionRequest{
		ViewmodelID: b.sc.ViewmodelID(),
		WidgetID:    b.id,
		ActionType:  actionType,
		Data:        payload,
	}
	resp, err := b.sc.Client.PostAction(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to post %s on widget %s: %w", actionType, b.id, err)
	}
	b.sc.Merge(resp.WidgetsData)
	return nil
}

// recompute reads the store under b.mu so that racing merges can not leave an
// older entry in place of a newer one.
func (b *Binding) recompute() {
	b.mu.Lock()
	entry, _ := b.sc.Store.Get(b.id)
	next := b.snapshot.Overlay(entry)
	b.data = next
	subs := make([]func(wire.Fields), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(next.Clone())
	}
}
