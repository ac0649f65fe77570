package wsgateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestGatewayTokenAuthentication(t *testing.T) {
	validToken := "secret-token-123"

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"valid token", validToken, http.StatusSwitchingProtocols},
		{"invalid token", "wrong-token", http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewGateway(validToken, 0, 0, nil)
			ctx, cancel := context.WithCancel(context.Background())
			go gw.Run(ctx)
			defer cancel()

			server := httptest.NewServer(http.HandlerFunc(gw.HandleWebSocket))
			defer server.Close()

			url := fmt.Sprintf("ws://%s/ws", server.URL[len("http://"):])
			if tt.token != "" {
				url = fmt.Sprintf("%s?token=%s", url, tt.token)
			}

			dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
			conn, resp, err := websocket.Dial(dialCtx, url, nil)
			dialCancel()

			if resp != nil && resp.StatusCode != tt.wantStatus {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusSwitchingProtocols {
				if err != nil {
					t.Fatalf("expected successful connection, got %v", err)
				}
				conn.Close(websocket.StatusNormalClosure, "")
			} else if conn != nil {
				conn.Close(websocket.StatusNormalClosure, "")
			}
		})
	}
}

func TestGatewayInvokesOnConnectWithChannel(t *testing.T) {
	connected := make(chan *Channel, 1)
	gw := NewGateway("", 0, 0, func(ctx context.Context, ch *Channel) {
		connected <- ch
	})
	ctx, cancel := context.WithCancel(context.Background())
	go gw.Run(ctx)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(gw.HandleWebSocket))
	defer server.Close()

	url := fmt.Sprintf("ws://%s/ws", server.URL[len("http://"):])
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	select {
	case ch := <-connected:
		if ch == nil || ch.ID() == "" {
			t.Fatalf("onConnect received invalid channel: %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onConnect was not invoked")
	}
}
