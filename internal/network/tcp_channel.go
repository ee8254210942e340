package network

import (
	"context"
	"net"

	"github.com/annel0/voxel-world/internal/logging"
)

// NewTCPChannel создаёт TCP-канал для исходящего подключения.
func NewTCPChannel(config *ChannelConfig, logger *logging.Logger) NetChannel {
	if config == nil {
		config = DefaultChannelConfig(ChannelTCP)
	}
	return newStreamChannel(config, logger, func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: config.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		return conn, nil
	})
}
