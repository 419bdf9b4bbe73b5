// Package wire holds the JSON contract spoken between a view client and the
// viewmodel server. Field names are the wire contract and must not change.
package wire

import (
	"errors"
	"fmt"
)

const (
	// ViewPath is the prefix of the view load endpoint, completed by the view name.
	ViewPath = "api/view"
	// ActionPath is the widget action endpoint.
	ActionPath = "api/action"
	// EventsPath is the prefix of the push endpoint, completed by "{viewmodelId}/events".
	EventsPath = "api/viewmodel"
)

// Fields is the data of one widget: an arbitrary JSON object.
type Fields map[string]any

// Clone returns a shallow copy. A nil receiver clones to an empty, non-nil map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Overlay returns a copy of f with every key of top written over it.
func (f Fields) Overlay(top Fields) Fields {
	out := f.Clone()
	for k, v := range top {
		out[k] = v
	}
	return out
}

// WidgetsData maps a widget id to the data the server pushed for it.
type WidgetsData map[string]Fields

// Clone copies the map and each widget entry (one level deep).
func (w WidgetsData) Clone() WidgetsData {
	out := make(WidgetsData, len(w))
	for k, v := range w {
		out[k] = v.Clone()
	}
	return out
}

// ViewRequest is the body of POST /api/view/{viewName}. An empty request opens
// a new viewmodel; a request carrying a viewmodelId re-reads an existing one.
type ViewRequest struct {
	ViewmodelID string `json:"viewmodelId,omitempty"`
}

// ActionRequest is the body of POST /api/action.
type ActionRequest struct {
	ViewmodelID string `json:"viewmodelId"`
	WidgetID    string `json:"widgetId"`
	ActionType  string `json:"actionType"`
	Data        any    `json:"data"`
}

// ViewResponse is returned by both endpoints and pushed on the events channel.
type ViewResponse struct {
	ViewmodelID string      `json:"viewmodelId"`
	WidgetsData WidgetsData `json:"widgetsData"`
}

var ErrMissingViewmodelID = errors.New("response carries no viewmodelId")

// ValidateLoad checks the shape required of a view load response.
func (r *ViewResponse) ValidateLoad() error {
	if r.ViewmodelID == "" {
		return ErrMissingViewmodelID
	}
	return nil
}

// Validate checks the shape of an action request as the server receives it.
func (r *ActionRequest) Validate() error {
	switch {
	case r.WidgetID == "":
		return fmt.Errorf("widgetId is required")
	case r.ActionType == "":
		return fmt.Errorf("actionType is required")
	}
	return nil
}
