package connection

import (
	"net"

	"github.com/pathfinderd/pathfinder/internal/logger"
)

// Send writes data to conn in full, retrying on short writes, the same
// discipline every socket write in this codebase follows.
func Send(conn net.Conn, data []byte, connID string) error {
	total := 0
	for total < len(data) {
		n, err := conn.Write(data[total:])
		if err != nil {
			logger.ErrorF("[%s] Fail to send data, details: %v", connID, err)
			return err
		}
		total += n
	}
	logger.DebugF("[%s] Sent %d bytes to client", connID, total)
	return nil
}
