package stream

import (
	"context"
	"encoding/json"

	"backend-zachatter/internal/session"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/sync/errgroup"
)

func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	r.Get("/ws/:sessionID", websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("sessionID")
		ctx := context.Background()

		client, sess, err := hub.Attach(ctx, sessionID)
		if err != nil {
			hub.log.WithError(err).WithField("session_id", sessionID).Error("start session")
			_ = c.WriteJSON(session.Outbound{Type: session.OutError, Payload: fiber.Map{"message": err.Error()}})
			return
		}

		var g errgroup.Group
		g.Go(func() error {
			defer hub.Detach(client)
			return readFrames(ctx, c, hub, client, sess)
		})
		g.Go(func() error {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					_ = c.Close()
					return err
				}
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			hub.log.WithError(err).WithField("session_id", sessionID).Debug("websocket closed with error")
		}
	}))
}

func readFrames(ctx context.Context, c *websocket.Conn, hub *Hub, client *Client, sess *session.Session) error {
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return nil
		}

		var in session.Inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			replyError(hub, client, "malformed frame")
			continue
		}
		if err := sess.Handle(ctx, in); err != nil {
			replyError(hub, client, err.Error())
		}
	}
}

func replyError(hub *Hub, client *Client, msg string) {
	payload, _ := json.Marshal(session.Outbound{Type: session.OutError, Payload: fiber.Map{"message": msg}})
	hub.Send(client, payload)
}
