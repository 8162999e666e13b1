package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"routeagent.ai/internal/protocol"
)

// clientEncoder stamps requests with "cli-" ids, apart from the agent's own.
var clientEncoder = protocol.NewEncoderWith(nil, func() string { return "cli-" + uuid.NewString() })

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	// Unblock reads when ctx ends.
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()
	return conn, nil
}

// sendCommand issues one command and hands every frame to onFrame until the
// reply correlated with it arrives. The reply is returned as well.
func sendCommand(ctx context.Context, url, name string, payload any, onFrame func(protocol.Envelope)) (protocol.Envelope, error) {
	conn, err := dial(ctx, url)
	if err != nil {
		return protocol.Envelope{}, err
	}
	defer conn.Close()

	req := clientEncoder.Encode(protocol.TypeCommand, name, payload, "")
	if err := conn.WriteJSON(req); err != nil {
		return protocol.Envelope{}, fmt.Errorf("send %s: %w", name, err)
	}
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return protocol.Envelope{}, fmt.Errorf("waiting for %s reply: %w", name, ctx.Err())
			}
			return protocol.Envelope{}, fmt.Errorf("read: %w", err)
		}
		if onFrame != nil {
			onFrame(env)
		}
		if env.ID == req.ID && (env.Type == protocol.TypeAck || env.Type == protocol.TypeError) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return env, nil
		}
	}
}

// watch streams frames to onFrame until ctx is done or the agent closes.
func watch(ctx context.Context, url string, onFrame func(protocol.Envelope)) error {
	conn, err := dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		onFrame(env)
	}
}

func printEnvelope(w io.Writer, env protocol.Envelope) {
	ts := time.UnixMilli(env.Timestamp).Format("15:04:05.000")
	payload := string(env.Payload)
	if payload == "" {
		payload = "{}"
	}
	fmt.Fprintf(w, "%s %-6s %-20s %s\n", ts, env.Type, env.Name, payload)
}
