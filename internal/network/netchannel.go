// Package network предоставляет транспортные каналы, RPC-сервер мира
// и асинхронный потоковый клиент.
package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
)

// ErrNotConnected возвращается при операциях на закрытом канале.
var ErrNotConnected = errors.New("канал не подключён")

// ChannelType определяет тип канала связи.
type ChannelType int

const (
	ChannelTCP ChannelType = iota
	ChannelKCP
)

// ConnectionStats содержит статистику соединения.
type ConnectionStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	LastActivity    time.Time
	Connected       bool
	RemoteAddr      string
}

// NetChannel представляет унифицированный интерфейс сетевого канала,
// переносящего кадры протокола.
type NetChannel interface {
	Connect(ctx context.Context, addr string) error
	Send(ctx context.Context, msg *protocol.Message) error
	Receive(ctx context.Context) (*protocol.Message, error)
	Close() error

	IsConnected() bool
	RemoteAddr() string
	Stats() ConnectionStats
}

// ChannelConfig содержит конфигурацию канала.
type ChannelConfig struct {
	Type        ChannelType
	BufferSize  int
	DialTimeout time.Duration
}

// DefaultChannelConfig возвращает конфигурацию канала по умолчанию.
func DefaultChannelConfig(channelType ChannelType) *ChannelConfig {
	return &ChannelConfig{
		Type:        channelType,
		BufferSize:  1024,
		DialTimeout: 10 * time.Second,
	}
}

// writeFrame пишет кадр: u32-длина (little-endian), затем полезная нагрузка.
func writeFrame(conn net.Conn, msg *protocol.Message) (int, error) {
	data := protocol.EncodeFrame(msg)
	if len(data) > protocol.MaxMessageSize {
		return 0, fmt.Errorf("кадр слишком велик: %d байт", len(data))
	}

	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(len(data)))

	if _, err := conn.Write(sizeBuf); err != nil {
		return 0, fmt.Errorf("ошибка записи длины кадра: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return 0, fmt.Errorf("ошибка записи кадра: %w", err)
	}
	return len(data) + 4, nil
}

// readFrame читает один кадр из соединения.
func readFrame(conn net.Conn) (*protocol.Message, int, error) {
	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, sizeBuf); err != nil {
		return nil, 0, err
	}

	size := binary.LittleEndian.Uint32(sizeBuf)
	if size > protocol.MaxMessageSize {
		return nil, 0, fmt.Errorf("кадр слишком велик: %d байт", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(conn, data); err != nil {
		return nil, 0, err
	}

	msg, err := protocol.DecodeFrame(data)
	if err != nil {
		return nil, 0, err
	}
	return msg, int(size) + 4, nil
}

// streamChannel — общая реализация NetChannel поверх потокового
// net.Conn (TCP или KCP-сессия).
type streamChannel struct {
	conn   net.Conn
	config *ChannelConfig
	logger *logging.Logger

	stats ConnectionStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sendBuffer chan *protocol.Message
	recvBuffer chan *protocol.Message

	dial func(ctx context.Context, addr string) (net.Conn, error)

	mu sync.RWMutex
}

func newStreamChannel(config *ChannelConfig, logger *logging.Logger,
	dial func(ctx context.Context, addr string) (net.Conn, error)) *streamChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &streamChannel{
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sendBuffer: make(chan *protocol.Message, config.BufferSize),
		recvBuffer: make(chan *protocol.Message, config.BufferSize),
		dial:       dial,
	}
}

// NewChannelFromConn оборачивает принятое соединение в канал.
// Используется сервером для входящих подключений любого транспорта.
func NewChannelFromConn(conn net.Conn, config *ChannelConfig, logger *logging.Logger) NetChannel {
	ch := newStreamChannel(config, logger, nil)
	ch.attach(conn)
	return ch
}

// attach привязывает соединение и запускает горутины обработки.
func (sc *streamChannel) attach(conn net.Conn) {
	sc.conn = conn
	sc.stats.Connected = true
	sc.stats.RemoteAddr = conn.RemoteAddr().String()
	sc.stats.LastActivity = time.Now()

	sc.wg.Add(2)
	go sc.sendLoop()
	go sc.receiveLoop()
}

// Connect устанавливает соединение с сервером.
func (sc *streamChannel) Connect(ctx context.Context, addr string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.conn != nil {
		return fmt.Errorf("already connected")
	}
	if sc.dial == nil {
		return fmt.Errorf("канал создан из принятого соединения")
	}

	conn, err := sc.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sc.attach(conn)
	sc.logger.Info("Канал подключён: addr=%s", addr)
	return nil
}

// Send ставит сообщение в очередь отправки.
func (sc *streamChannel) Send(ctx context.Context, msg *protocol.Message) error {
	if !sc.IsConnected() {
		return ErrNotConnected
	}

	select {
	case sc.sendBuffer <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-sc.ctx.Done():
		return ErrNotConnected
	}
}

// Receive возвращает следующее входящее сообщение.
func (sc *streamChannel) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg := <-sc.recvBuffer:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sc.ctx.Done():
		return nil, ErrNotConnected
	}
}

// Close закрывает канал и дожидается завершения горутин.
func (sc *streamChannel) Close() error {
	sc.cancel()

	sc.mu.Lock()
	conn := sc.conn
	sc.conn = nil
	sc.stats.Connected = false
	sc.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	// Ожидание вне блокировки: горутины берут mu для статистики.
	sc.wg.Wait()
	return err
}

// IsConnected проверяет состояние соединения.
func (sc *streamChannel) IsConnected() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.stats.Connected && sc.conn != nil
}

// RemoteAddr возвращает адрес удалённой стороны.
func (sc *streamChannel) RemoteAddr() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.stats.RemoteAddr
}

// Stats возвращает статистику соединения.
func (sc *streamChannel) Stats() ConnectionStats {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.stats
}

// sendLoop пишет кадры из очереди отправки в соединение.
func (sc *streamChannel) sendLoop() {
	defer sc.wg.Done()

	for {
		select {
		case msg := <-sc.sendBuffer:
			sc.mu.RLock()
			conn := sc.conn
			sc.mu.RUnlock()
			if conn == nil {
				return
			}

			n, err := writeFrame(conn, msg)
			if err != nil {
				sc.logger.Error("Ошибка отправки кадра: %v", err)
				continue
			}

			sc.mu.Lock()
			sc.stats.PacketsSent++
			sc.stats.BytesSent += uint64(n)
			sc.mu.Unlock()
		case <-sc.ctx.Done():
			return
		}
	}
}

// receiveLoop читает кадры из соединения в очередь приёма.
func (sc *streamChannel) receiveLoop() {
	defer sc.wg.Done()

	for {
		select {
		case <-sc.ctx.Done():
			return
		default:
		}

		sc.mu.RLock()
		conn := sc.conn
		sc.mu.RUnlock()
		if conn == nil {
			return
		}

		msg, n, err := readFrame(conn)
		if err != nil {
			if err == io.EOF {
				sc.logger.Info("Соединение закрыто удалённой стороной")
			} else if sc.ctx.Err() == nil {
				sc.logger.Error("Ошибка чтения кадра: %v", err)
			}
			sc.cancel()
			return
		}

		sc.mu.Lock()
		sc.stats.LastActivity = time.Now()
		sc.stats.PacketsReceived++
		sc.stats.BytesReceived += uint64(n)
		sc.mu.Unlock()

		select {
		case sc.recvBuffer <- msg:
		case <-sc.ctx.Done():
			return
		}
	}
}
