package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"hodl/snapshot"
)

const wsWriteTimeout = 10 * time.Second

// handleStream pushes snapshot replacements to the client. The current
// snapshot (if any) is sent immediately on connect.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamSnapshots(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamSnapshots(ctx context.Context, conn *websocket.Conn) error {
	updates, cancel := s.loans.Subscribe()
	defer cancel()

	if snap := s.loans.Current(); snap != nil {
		if err := writeSnapshot(ctx, conn, snap); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				return err
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap *snapshot.Snapshot) error {
	data, err := json.Marshal(viewOf(snap))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
