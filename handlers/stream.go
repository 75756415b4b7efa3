package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"dice-duel/middleware"
	"dice-duel/services"
)

const keepAliveEvery = 15 * time.Second

// SetupStreamRoutes registers the match subscriptions. auth runs first on both
// routes since browsers open them without gateway headers.
func SetupStreamRoutes(app *fiber.App, stream *services.MatchStream, auth fiber.Handler) {
	app.Get("/matches/:id/stream", auth, func(c *fiber.Ctx) error {
		return streamMatchSSE(c, stream)
	})

	app.Get("/matches/:id/ws", auth, webSocketUpgrader, websocket.New(func(conn *websocket.Conn) {
		streamMatchWS(conn, stream)
	}))
}

func webSocketUpgrader(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// streamMatchSSE writes one `event: <type>` frame per stream event until the
// stream ends or the client goes away.
func streamMatchSSE(c *fiber.Ctx, stream *services.MatchStream) error {
	matchID := c.Params("id")
	userID := middleware.UserID(c)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events := stream.Open(ctx, matchID)
		keepAlive := time.NewTicker(keepAliveEvery)
		defer keepAlive.Stop()

		log.Debug().Str("match_id", matchID).Str("user_id", userID).Msg("[STREAM] sse subscriber connected")
		defer log.Debug().Str("match_id", matchID).Str("user_id", userID).Msg("[STREAM] sse subscriber gone")

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					log.Error().Err(err).Str("match_id", matchID).Msg("[STREAM] encode event")
					return
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
				if err := w.Flush(); err != nil {
					return
				}
			case <-keepAlive.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}

// streamMatchWS sends each stream event as a JSON text frame. Client frames
// are read only to notice when the socket closes.
func streamMatchWS(conn *websocket.Conn, stream *services.MatchStream) {
	matchID := conn.Params("id")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range stream.Open(ctx, matchID) {
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug().Err(err).Str("match_id", matchID).Msg("[STREAM] websocket write failed")
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
}
