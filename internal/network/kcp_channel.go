package network

import (
	"context"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/annel0/voxel-world/internal/logging"
)

// tuneKCP настраивает KCP-сессию для игрового трафика.
func tuneKCP(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1) // Агрессивные настройки для низкой задержки
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)
}

// NewKCPChannel создаёт KCP-канал для исходящего подключения.
// KCP даёт меньшую задержку, чем TCP, на каналах с потерями.
func NewKCPChannel(config *ChannelConfig, logger *logging.Logger) NetChannel {
	if config == nil {
		config = DefaultChannelConfig(ChannelKCP)
	}
	return newStreamChannel(config, logger, func(_ context.Context, addr string) (net.Conn, error) {
		conn, err := kcp.DialWithOptions(addr, nil, 10, 3)
		if err != nil {
			return nil, err
		}
		tuneKCP(conn)
		return conn, nil
	})
}

// ListenKCP открывает KCP-листенер для входящих подключений сервера.
func ListenKCP(addr string) (net.Listener, error) {
	return kcp.ListenWithOptions(addr, nil, 10, 3)
}

// AcceptKCP настраивает принятую KCP-сессию, если листенер KCP-шный.
func AcceptKCP(conn net.Conn) net.Conn {
	if sess, ok := conn.(*kcp.UDPSession); ok {
		tuneKCP(sess)
	}
	return conn
}
