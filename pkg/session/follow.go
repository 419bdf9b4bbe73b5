package session

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

// Follow subscribes to the push channel of the loaded viewmodel and merges
// every pushed delta until ctx ends, the session closes, or the server hangs
// up. A clean end returns nil.
func (s *Session) Follow(ctx context.Context) error {
	s.mu.RLock()
	id, phase := s.viewmodelID, s.state.Phase
	s.mu.RUnlock()
	if phase != Done {
		return ErrNotReady
	}

	ctx, cancel := s.bind(ctx)
	defer cancel()

	target := s.client.EventsURL(id)
	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", target, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.logger.Info("following viewmodel", "viewmodel", id)
	for {
		var msg wire.ViewResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("stopped following viewmodel", "viewmodel", id)
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		if msg.ViewmodelID != "" && msg.ViewmodelID != id {
			s.logger.Warn("ignoring push for another viewmodel", "viewmodel", msg.ViewmodelID)
			continue
		}
		s.MergeWidgetData(msg.WidgetsData)
	}
}
