package transport

import (
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"net"

	"github.com/pathfinderd/pathfinder/internal/domain"
)

// identifyLocal is used for unix-socket listeners: every local-socket peer
// gets one synthetic identity, since a path offers no way to distinguish
// callers.
func identifyLocal(net.Conn) string { return domain.DefaultUserID }

// identifyByIP is used for plain TCP and for utls (TLS without a verified
// client certificate): the source IP is the best identity the transport
// can offer.
func identifyByIP(conn net.Conn) string {
	return "ip:" + hostOf(conn.RemoteAddr())
}

// identifyByCert derives a user identity from an X.509 client certificate's
// subject key id, the identity mutually-verified TLS is expected to carry.
// Falls back to the source IP if the handshake yielded no verified
// peer certificate (should not happen once ClientAuth is RequireAndVerify,
// but a session must never crash over it).
func identifyByCert(conn *tls.Conn) string {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return identifyByIP(conn)
	}
	cert := state.PeerCertificates[0]
	if len(cert.SubjectKeyId) > 0 {
		return "tls:" + hex.EncodeToString(cert.SubjectKeyId)
	}
	return "tls:" + fingerprint(cert.RawSubject)
}

func fingerprint(raw []byte) string {
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}
