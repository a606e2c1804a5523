package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/campus-tools/canvaswatch/internal/service"
)

// StreamHandler pushes each newly published snapshot to websocket clients.
type StreamHandler struct {
	poller *service.Poller
	store  *service.SnapshotStore
	logger zerolog.Logger
}

// NewStreamHandler creates the snapshot stream handler.
func NewStreamHandler(poller *service.Poller, store *service.SnapshotStore, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		poller: poller,
		store:  store,
		logger: logger.With().Str("component", "stream_handler").Logger(),
	}
}

// Register binds the websocket upgrade route.
func (h *StreamHandler) Register(router fiber.Router) {
	router.Use("/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/stream", websocket.New(h.handleConnection))
}

func (h *StreamHandler) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	h.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("snapshot stream connected")
	defer h.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("snapshot stream disconnected")

	snapshots, cancel := h.poller.Subscribe()
	defer cancel()

	// The last published snapshot is sent immediately so a new client does
	// not wait a full poll interval for its first payload.
	if latest, ok := h.store.Latest(); ok {
		if err := conn.WriteJSON(latest); err != nil {
			return
		}
	}

	// Drain the read side so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}
