package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

// eventsBuffer is how many deltas a slow follower may lag behind before it is
// disconnected.
const eventsBuffer = 32

const writeWait = 10 * time.Second

// events upgrades to a websocket and writes every delta of the viewmodel as a
// JSON text frame until the client leaves or the viewmodel is evicted.
func (s *Server) events(writer http.ResponseWriter, request *http.Request) {
	vm, err := s.registry.Lookup(mux.Vars(request)["viewmodelId"])
	if err != nil {
		s.fail(writer, err)
		return
	}

	ctx, cancel := context.WithCancel(request.Context())
	defer cancel()

	deltas := make(chan wire.WidgetsData, eventsBuffer)
	lagging := make(chan struct{})
	var once sync.Once
	unobserve := vm.Observe(func(d wire.WidgetsData) {
		select {
		case deltas <- d:
		case <-ctx.Done():
		default:
			once.Do(func() { close(lagging) })
		}
	})
	defer unobserve()

	// Observing before the upgrade means no delta is missed once the client
	// sees the handshake complete.
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	// The read side only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Info("following viewmodel", "viewmodel", vm.ID)
	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	}
	for {
		select {
		case d := <-deltas:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(wire.ViewResponse{ViewmodelID: vm.ID, WidgetsData: d}); err != nil {
				s.logger.Error("failed to write message", "viewmodel", vm.ID, "err", err)
				return
			}
		case <-lagging:
			s.logger.Warn("disconnecting lagging follower", "viewmodel", vm.ID)
			closeWith(websocket.CloseTryAgainLater, "lagging")
			return
		case <-vm.Done():
			closeWith(websocket.CloseGoingAway, "viewmodel evicted")
			return
		case <-ctx.Done():
			return
		}
	}
}
