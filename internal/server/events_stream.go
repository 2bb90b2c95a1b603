package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pulseboard/pulseboard/internal/events"
	"github.com/pulseboard/pulseboard/internal/utils"
)

const (
	streamBufferSize  = 100
	streamWriteWait   = 10 * time.Second
	heartbeatInterval = 30 * time.Second
)

// handleEventsStream upgrades the connection to a websocket and forwards bus
// events (job lifecycle, cache invalidation) to the client. The optional
// "types" query parameter takes a comma-separated list of event types to
// filter on.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	var allowedTypes map[events.EventType]bool
	if typeNames := utils.ParseCSV(r.URL.Query().Get("types")); len(typeNames) > 0 {
		allowedTypes = make(map[events.EventType]bool, len(typeNames))
		for _, t := range typeNames {
			allowedTypes[events.EventType(t)] = true
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	s.logger.Info().Msg("Client connected to event stream")

	// Buffered so a slow client never blocks Publish; overflow is dropped.
	eventChan := make(chan *events.Event, streamBufferSize)
	unsubscribe := s.bus.SubscribeAll(func(event *events.Event) {
		if allowedTypes != nil && !allowedTypes[event.Type] {
			return
		}
		select {
		case eventChan <- event:
		default:
			s.logger.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	})
	defer unsubscribe()

	ctx := r.Context()

	// Reads are discarded but keep close/ping frames processed so the
	// context is cancelled when the client goes away.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	writeFrame := func(frame interface{}) bool {
		writeCtx, cancel := context.WithTimeout(ctx, streamWriteWait)
		defer cancel()
		if err := wsjson.Write(writeCtx, conn, frame); err != nil {
			s.logger.Debug().Err(err).Msg("Client disconnected from event stream")
			return false
		}
		return true
	}

	if !writeFrame(map[string]string{"type": "connected"}) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Client disconnected from event stream")
			return
		case event := <-eventChan:
			if !writeFrame(event) {
				return
			}
		case <-heartbeat.C:
			if !writeFrame(map[string]string{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}) {
				return
			}
		}
	}
}
