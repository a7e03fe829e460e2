package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type progressFrame struct {
	Type string           `json:"type"`
	Data ProgressSnapshot `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) progressFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var frame progressFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return frame
}

func TestBroadcasterSendsNewestFrameOnAttachAndOffer(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	h := NewHandlers(b, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	// A frame offered before any client connects becomes the newest
	// frame a later client is greeted with.
	b.Offer(ProgressSnapshot{Fraction: 0.25})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if frame := readFrame(t, conn); frame.Type != "progress" || frame.Data.Fraction != 0.25 {
		t.Fatalf("initial frame = %+v, want progress fraction 0.25", frame)
	}

	b.Offer(ProgressSnapshot{Fraction: 0.5})
	if frame := readFrame(t, conn); frame.Data.Fraction != 0.5 {
		t.Fatalf("pushed frame = %+v, want fraction 0.5", frame)
	}
}
