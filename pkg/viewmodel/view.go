// Package viewmodel is the server side of the view protocol: the live
// viewmodel instances behind mounted views, the widgets they expose, and the
// snapshot store that backs their rendered state up to sqlite.
package viewmodel

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

var (
	ErrUnknownView = errors.New("unknown view")
	ErrNotFound    = errors.New("viewmodel not found")
	ErrBusy        = errors.New("viewmodel busy")
)

// ActionFunc runs one action type against the state a widget closes over.
type ActionFunc func(ctx context.Context, data json.RawMessage) error

// Widget is one named unit of a view. Render reports the parameters the
// client should display; Actions maps an action type to its handler.
type Widget struct {
	ID      string
	Render  func() wire.Fields
	Actions map[string]ActionFunc
}

// View declares a kind of view. New is called once per viewmodel and returns
// widgets bound to a fresh state value. Widgets left without an ID get one.
type View struct {
	Name string
	New  func() []*Widget
}
