package wsgateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// Gateway upgrades authenticated HTTP requests to Client Channels and
// hands each accepted channel to onConnect, which owns everything past
// the socket layer (binding it to a session, running the Multiplexer).
type Gateway struct {
	token              string
	outboundByteBudget int
	inboundFrameCap    int
	onConnect          func(ctx context.Context, ch *Channel)

	mu      sync.Mutex
	baseCtx context.Context
}

// NewGateway builds a Gateway that requires the given bearer token as a
// "token" query parameter on every upgrade request.
func NewGateway(token string, outboundByteBudget, inboundFrameCap int, onConnect func(context.Context, *Channel)) *Gateway {
	return &Gateway{
		token:              token,
		outboundByteBudget: outboundByteBudget,
		inboundFrameCap:    inboundFrameCap,
		onConnect:          onConnect,
		baseCtx:            context.Background(),
	}
}

// Run supplies the long-lived context the gateway's channel pumps run
// under; it outlives any single HTTP request. Call before serving
// traffic; it returns when ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	g.mu.Lock()
	g.baseCtx = ctx
	g.mu.Unlock()
	<-ctx.Done()
}

func (g *Gateway) context() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.baseCtx
}

// HandleWebSocket is the /ws HTTP handler: it checks the token, accepts
// the socket, and starts the channel's read/write pumps before handing
// off to onConnect. It returns immediately after handoff; the pumps and
// onConnect continue on their own goroutines for the channel's lifetime.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if g.token != "" && r.URL.Query().Get("token") != g.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	ch := NewChannel(conn, g.outboundByteBudget, g.inboundFrameCap)
	ctx := g.context()

	go ch.ReadPump(ctx)
	go ch.WritePump(ctx)

	if g.onConnect != nil {
		go g.onConnect(ctx, ch)
	}
}
