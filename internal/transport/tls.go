package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// buildTLSConfig loads a socket's certificate and, for mutual-auth
// listeners (scheme tls, not utls), the trusted CA bundle and optional
// CRL needed to verify client certificates.
func buildTLSConfig(attrs *TLSAttrs, mutual bool) (*tls.Config, error) {
	if attrs == nil || attrs.CertFile == "" || attrs.KeyFile == "" {
		return nil, fmt.Errorf("tls listener requires cert and key files")
	}
	cert, err := tls.LoadX509KeyPair(attrs.CertFile, attrs.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading tls certificate: %w", err)
	}

	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if !mutual {
		return cfg, nil
	}

	if attrs.TrustedCA == "" {
		return nil, fmt.Errorf("tls listener requires a trusted CA bundle for client verification")
	}
	pool := x509.NewCertPool()
	pem, err := os.ReadFile(attrs.TrustedCA)
	if err != nil {
		return nil, fmt.Errorf("reading trusted CA bundle: %w", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("trusted CA bundle %q contains no usable certificates", attrs.TrustedCA)
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert

	if attrs.CRLFile != "" {
		revoked, err := loadCRL(attrs.CRLFile)
		if err != nil {
			return nil, err
		}
		cfg.VerifyPeerCertificate = revoked
	}
	return cfg, nil
}

// loadCRL returns a VerifyPeerCertificate callback that rejects the peer if
// any certificate in any verified chain has a serial number on the
// revocation list.
func loadCRL(path string) (func([][]byte, [][]*x509.Certificate) error, error) {
	der, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CRL %q: %w", path, err)
	}
	list, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("parsing CRL %q: %w", path, err)
	}
	revoked := make(map[string]struct{}, len(list.RevokedCertificateEntries))
	for _, e := range list.RevokedCertificateEntries {
		revoked[e.SerialNumber.String()] = struct{}{}
	}
	return func(_ [][]byte, chains [][]*x509.Certificate) error {
		for _, chain := range chains {
			for _, cert := range chain {
				if _, ok := revoked[cert.SerialNumber.String()]; ok {
					return fmt.Errorf("certificate serial %s is revoked", cert.SerialNumber)
				}
			}
		}
		return nil
	}, nil
}

func listenTLS(target string, attrs *TLSAttrs, mutual bool) (Listener, error) {
	cfg, err := buildTLSConfig(attrs, mutual)
	if err != nil {
		return nil, err
	}
	ln, err := tls.Listen("tcp", target, cfg)
	if err != nil {
		return nil, err
	}
	return &tlsListener{ln: ln, mutual: mutual}, nil
}

type tlsListener struct {
	ln     net.Listener
	mutual bool
}

func (l *tlsListener) Accept() (Accepted, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return Accepted{}, err
	}
	tconn := conn.(*tls.Conn)
	// The handshake must finish before a peer certificate is available;
	// Session's own reads would trigger it lazily, but we need the
	// identity up front to populate Accepted.
	if err := tconn.Handshake(); err != nil {
		_ = conn.Close()
		return Accepted{}, fmt.Errorf("tls handshake: %w", err)
	}
	userID := identifyByIP(conn)
	if l.mutual {
		userID = identifyByCert(tconn)
	}
	return Accepted{Conn: byteStreamConn{conn}, UserID: userID, RemoteIP: hostOf(conn.RemoteAddr())}, nil
}

func (l *tlsListener) Close() error { return l.ln.Close() }
func (l *tlsListener) Addr() string { return l.ln.Addr().String() }
