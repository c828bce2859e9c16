package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to transport.Conn. Unlike the
// byte-stream schemes, WebSocket already preserves message boundaries, so
// one JSON document maps to exactly one WebSocket text frame — no length
// prefix is written or expected.
type wsConn struct {
	*websocket.Conn
}

func (c wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.Conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c wsConn) WriteFrame(payload []byte) error {
	return c.Conn.WriteMessage(websocket.TextMessage, payload)
}

func (c wsConn) RemoteAddr() string { return c.Conn.RemoteAddr().String() }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsListener runs an http.Server over a plain or TLS-wrapped net.Listener
// and turns each successful upgrade into an Accepted value delivered over
// a channel, so it can present the same pull-based Accept() shape as every
// other transport.Listener.
type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	accepted chan Accepted
	errs     chan error
}

func listenWebSocket(target string, tlsWrapped bool, attrs *TLSAttrs) (Listener, error) {
	ln, err := net.Listen("tcp", target)
	if err != nil {
		return nil, err
	}
	if tlsWrapped {
		cfg, err := buildTLSConfig(attrs, false)
		if err != nil {
			_ = ln.Close()
			return nil, err
		}
		ln = tls.NewListener(ln, cfg)
	}

	l := &wsListener{ln: ln, accepted: make(chan Accepted, 64), errs: make(chan error, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.srv = &http.Server{Handler: mux}

	go func() {
		err := l.srv.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			l.errs <- err
		}
		close(l.errs)
	}()
	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	userID := identifyByIP(conn.UnderlyingConn())
	l.accepted <- Accepted{Conn: wsConn{conn}, UserID: userID, RemoteIP: hostOf(conn.RemoteAddr())}
}

func (l *wsListener) Accept() (Accepted, error) {
	select {
	case a := <-l.accepted:
		return a, nil
	case err, ok := <-l.errs:
		if !ok {
			err = net.ErrClosed
		}
		return Accepted{}, err
	}
}

func (l *wsListener) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.srv.Shutdown(ctx)
}

func (l *wsListener) Addr() string { return l.ln.Addr().String() }
