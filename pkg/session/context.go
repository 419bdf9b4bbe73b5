package session

import (
	"context"
	"log/slog"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/store"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/transport"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

// Context carries the shared state of a session to a widget binding
// explicitly. Bindings read Store and call Merge; they never write Store
// directly.
type Context struct {
	// ViewmodelID reads the id at call time; it is empty until the load is done.
	ViewmodelID func() string
	Store       *store.Store
	Merge       func(wire.WidgetsData)
	Client      *transport.Client
	Schemas     *wire.Schemas
	// Lifetime ends when the session is closed.
	Lifetime context.Context
	Logger   *slog.Logger
}

// Bind derives a request context that is also cancelled when the session
// closes. A zero Lifetime leaves ctx unchanged apart from the cancel func.
func (c Context) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Lifetime == nil {
		return context.WithCancel(ctx)
	}
	return bindLifetime(ctx, c.Lifetime)
}

// Closed reports whether the owning session has been closed.
func (c Context) Closed() bool {
	return c.Lifetime != nil && c.Lifetime.Err() != nil
}
