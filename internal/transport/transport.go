// Package transport binds the listener addresses a domain is configured
// with and turns accepted connections into transport.Conn values the
// session package can read framed messages from, independent of whether
// the underlying socket is a local socket, plain/TLS TCP, or a WebSocket.
package transport

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pathfinderd/pathfinder/internal/connection"
	"github.com/pathfinderd/pathfinder/internal/proto"
)

// Conn is the transport-agnostic, already-framed connection Session reads
// and writes through. Two concrete shapes satisfy it: byteStreamConn (ux,
// tcp, tls, utls — length-prefixed JSON per proto.ReadFrame/WriteFrame)
// and wsConn (ws, wss — one JSON document per WebSocket frame).
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// TLSAttrs carries the optional per-socket overrides allowed on tls/utls
// listener entries.
type TLSAttrs struct {
	CertFile  string
	KeyFile   string
	TrustedCA string
	CRLFile   string
}

// Accepted is one accepted connection plus the user identity the transport
// layer derived for it: identity always comes from the transport, never
// from a client-supplied field.
type Accepted struct {
	Conn     Conn
	UserID   string
	RemoteIP string
}

// Listener accepts connections on one bound address.
type Listener interface {
	Accept() (Accepted, error)
	Close() error
	Addr() string
}

// Scheme is the <scheme> prefix of a listener address string.
type Scheme string

const (
	SchemeUnix Scheme = "ux"
	SchemeTCP  Scheme = "tcp"
	SchemeTLS  Scheme = "tls"
	SchemeUTLS Scheme = "utls"
	SchemeWS   Scheme = "ws"
	SchemeWSS  Scheme = "wss"
)

// ParseAddr splits a "<scheme>:<address>" listener spec. The target keeps
// any further colons intact (host:port, or a unix socket path).
func ParseAddr(spec string) (Scheme, string, error) {
	i := strings.IndexByte(spec, ':')
	if i < 0 {
		return "", "", fmt.Errorf("listener address %q has no scheme prefix", spec)
	}
	scheme, target := Scheme(spec[:i]), spec[i+1:]
	switch scheme {
	case SchemeUnix, SchemeTCP, SchemeTLS, SchemeUTLS, SchemeWS, SchemeWSS:
		return scheme, target, nil
	default:
		return "", "", fmt.Errorf("listener address %q has unknown scheme %q", spec, scheme)
	}
}

// Listen binds one listener address. tlsAttrs is only consulted for the
// tls, utls and wss schemes; it may be nil for the others.
func Listen(spec string, tlsAttrs *TLSAttrs) (Listener, error) {
	scheme, target, err := ParseAddr(spec)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeUnix:
		ln, err := net.Listen("unix", target)
		if err != nil {
			return nil, err
		}
		return &byteStreamListener{ln: ln, identify: identifyLocal}, nil
	case SchemeTCP:
		ln, err := net.Listen("tcp", target)
		if err != nil {
			return nil, err
		}
		return &byteStreamListener{ln: ln, identify: identifyByIP}, nil
	case SchemeTLS:
		return listenTLS(target, tlsAttrs, true)
	case SchemeUTLS:
		return listenTLS(target, tlsAttrs, false)
	case SchemeWS:
		return listenWebSocket(target, false, nil)
	case SchemeWSS:
		return listenWebSocket(target, true, tlsAttrs)
	default:
		return nil, fmt.Errorf("unhandled scheme %q", scheme)
	}
}

// byteStreamConn wraps a plain net.Conn in the length-prefixed JSON framing
// every non-WebSocket transport shares.
type byteStreamConn struct {
	net.Conn
}

func (c byteStreamConn) ReadFrame() ([]byte, error) { return proto.ReadFrame(c.Conn) }

// WriteFrame hands the encoded frame to connection.Send, which retries on
// short writes.
func (c byteStreamConn) WriteFrame(payload []byte) error {
	frame, err := proto.EncodeFrame(payload)
	if err != nil {
		return err
	}
	return connection.Send(c.Conn, frame, c.Conn.RemoteAddr().String())
}

func (c byteStreamConn) RemoteAddr() string { return c.Conn.RemoteAddr().String() }

type byteStreamListener struct {
	ln       net.Listener
	identify func(net.Conn) string
}

func (l *byteStreamListener) Accept() (Accepted, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return Accepted{}, err
	}
	return Accepted{Conn: byteStreamConn{conn}, UserID: l.identify(conn), RemoteIP: hostOf(conn.RemoteAddr())}, nil
}

func (l *byteStreamListener) Close() error { return l.ln.Close() }
func (l *byteStreamListener) Addr() string { return l.ln.Addr().String() }

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
