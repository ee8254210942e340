package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Интервалы фоновых задач сервера.
const (
	sessionCleanupInterval = time.Second
	anchorLoopInterval     = time.Second
	metricsUpdateInterval  = time.Second
	positionFlushInterval  = 5 * time.Second
)

// Тексты ошибок, уходящие клиентам в error_message.
const (
	errInvalidSession   = "invalid or expired session token"
	errChunkNotResident = "chunk not resident"
	errMalformedRequest = "malformed request"
	errOutOfRange       = "coordinate out of range"
	errInvalidBlock     = "invalid block type"
)

// ServerOptions задаёт необязательные зависимости сервера.
type ServerOptions struct {
	Metrics   *Metrics
	Events    eventbus.EventBus
	Positions storage.PositionRepo
	Info      string // Строка, отдаваемая GetServerInfo
}

// Server обслуживает RPC-протокол мира: принимает соединения,
// диспетчеризует запросы обработчикам и ведёт множество изменённых
// чанков (dirty set).
type Server struct {
	world   *world.World
	logger  *logging.Logger
	metrics *Metrics
	events  eventbus.EventBus

	positions storage.PositionRepo
	info      string

	// Множество изменённых чанков. Отдельная блокировка:
	// порядок захвата — сессии -> мир -> dirty set.
	dirtyMu sync.Mutex
	dirty   map[vec.ChunkPos]struct{}

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer создаёт RPC-сервер поверх мира.
func NewServer(w *world.World, opts ServerOptions) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	info := opts.Info
	if info == "" {
		info = "voxel-world server"
	}

	return &Server{
		world:     w,
		logger:    logging.GetServerLogger(),
		metrics:   opts.Metrics,
		events:    opts.Events,
		positions: opts.Positions,
		info:      info,
		dirty:     make(map[vec.ChunkPos]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start начинает принимать соединения на листенере и запускает
// фоновые задачи: очистку сессий, цикл якорей, сброс позиций и метрики.
func (s *Server) Start(l net.Listener) {
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.world.Sessions().RunCleanup(s.ctx, sessionCleanupInterval, func(tokens []string) {
			s.logger.Debug("Удалено %d истёкших сессий", len(tokens))
			eventbus.PublishSessionsExpired(s.ctx, s.events, "server", tokens)
		})
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.world.RunAnchorLoop(s.ctx, anchorLoopInterval)
	}()

	if s.positions != nil {
		s.wg.Add(1)
		go s.positionFlushLoop()
	}

	if s.metrics != nil {
		s.wg.Add(1)
		go s.metricsLoop()
	}

	s.logger.Info("Сервер запущен: addr=%s", l.Addr().String())
}

// Stop останавливает сервер и дожидается завершения обработчиков.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	s.world.Close()
	s.logger.Info("Сервер остановлен")
}

// acceptLoop принимает входящие соединения.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Ошибка accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConn(AcceptKCP(conn))
	}
}

// connState — состояние одного клиентского соединения.
type connState struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex
}

// send сериализует и отправляет ответ; записи в соединение
// сериализуются мьютексом, так как обработчики конкурентны.
func (cs *connState) send(msg *protocol.Message) error {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	_, err := writeFrame(cs.conn, msg)
	return err
}

// handleConn читает запросы соединения и диспетчеризует их.
// Каждый запрос обрабатывается в отдельной горутине, поэтому ответы
// могут уходить не в порядке поступления запросов.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	cs := &connState{
		id:   uuid.NewString(),
		conn: conn,
	}
	s.logger.Info("Клиент подключён: id=%s addr=%s", cs.id, conn.RemoteAddr())

	// Закрываем соединение при остановке сервера, чтобы разблокировать чтение.
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	for {
		msg, _, err := readFrame(conn)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Info("Клиент отключён: id=%s (%v)", cs.id, err)
			}
			return
		}

		s.wg.Add(1)
		go func(m *protocol.Message) {
			defer s.wg.Done()
			s.handleRequest(cs, m)
		}(msg)
	}
}

// respond отправляет ответ и фиксирует метрики запроса.
func (s *Server) respond(cs *connState, req *protocol.Message, ok bool, body protocol.Body, started time.Time) {
	resp := protocol.MarshalMessage(req.Type, req.RequestID, protocol.FlagResponse, body)
	if err := cs.send(resp); err != nil {
		s.logger.Error("Ошибка отправки ответа %s клиенту %s: %v", req.Type, cs.id, err)
	}
	s.metrics.ObserveRequest(req.Type.String(), ok, time.Since(started))
}

// handleRequest выполняет один запрос протокола.
func (s *Server) handleRequest(cs *connState, msg *protocol.Message) {
	started := time.Now()
	s.metrics.RequestStarted()
	defer s.metrics.RequestFinished()

	fail := func(errMsg string) {
		s.respond(cs, msg, false, &protocol.StatusResponse{Ok: false, ErrorMessage: errMsg}, started)
	}

	switch msg.Type {
	case protocol.MsgPing:
		var req protocol.PingRequest
		if err := msg.DecodeBody(&req); err != nil {
			fail(errMalformedRequest)
			return
		}
		s.respond(cs, msg, true, &protocol.StatusResponse{Ok: true}, started)

	case protocol.MsgGetServerInfo:
		var req protocol.GetServerInfoRequest
		if err := msg.DecodeBody(&req); err != nil {
			fail(errMalformedRequest)
			return
		}
		info := fmt.Sprintf("%s | chunk=%dx%dx%d seed=%d loaded=%d sessions=%d",
			s.info, vec.ChunkWidth, vec.ChunkHeight, vec.ChunkDepth,
			s.world.Seed(), s.world.LoadedCount(), s.world.Sessions().ActiveCount())
		s.respond(cs, msg, true, &protocol.GetServerInfoResponse{Ok: true, Info: info}, started)

	case protocol.MsgConnectPlayer:
		s.handleConnectPlayer(cs, msg, started)

	case protocol.MsgRefreshSession:
		var req protocol.RefreshSessionRequest
		if err := msg.DecodeBody(&req); err != nil {
			fail(errMalformedRequest)
			return
		}
		if !s.world.Sessions().Refresh(req.Token) {
			fail(errInvalidSession)
			return
		}
		s.respond(cs, msg, true, &protocol.StatusResponse{Ok: true}, started)

	case protocol.MsgUpdatePlayerPosition:
		var req protocol.UpdatePlayerPositionRequest
		if err := msg.DecodeBody(&req); err != nil {
			fail(errMalformedRequest)
			return
		}
		if !s.world.Sessions().UpdatePosition(req.Token, req.Position) {
			fail(errInvalidSession)
			return
		}
		// Новая позиция — новый якорь: подгружаем окрестность в фоне.
		go s.world.EnsureChunksLoaded()
		s.respond(cs, msg, true, &protocol.StatusResponse{Ok: true}, started)

	case protocol.MsgDisconnectPlayer:
		var req protocol.DisconnectPlayerRequest
		if err := msg.DecodeBody(&req); err != nil {
			fail(errMalformedRequest)
			return
		}
		if !s.world.Sessions().IsValid(req.Token) {
			fail(errInvalidSession)
			return
		}
		s.world.DisconnectPlayer(req.Token)
		s.respond(cs, msg, true, &protocol.StatusResponse{Ok: true}, started)

	case protocol.MsgGetChunk:
		s.handleGetChunk(cs, msg, started)

	case protocol.MsgGetUpdatedChunks:
		s.handleGetUpdatedChunks(cs, msg, started)

	case protocol.MsgPlaceBlock:
		s.handlePlaceBlock(cs, msg, started)

	case protocol.MsgBreakBlock:
		s.handleBreakBlock(cs, msg, started)

	case protocol.MsgGetBlockAt:
		s.handleGetBlockAt(cs, msg, started)

	default:
		s.logger.Warn("Неизвестный тип сообщения %d от клиента %s", msg.Type, cs.id)
		fail(errMalformedRequest)
	}
}

func (s *Server) handleConnectPlayer(cs *connState, msg *protocol.Message, started time.Time) {
	var req protocol.ConnectPlayerRequest
	if err := msg.DecodeBody(&req); err != nil {
		s.respond(cs, msg, false,
			&protocol.ConnectPlayerResponse{Ok: false, ErrorMessage: errMalformedRequest}, started)
		return
	}

	spawn := req.Spawn
	token, entityID, err := s.world.ConnectPlayer(req.Name, spawn)
	if err != nil {
		s.logger.Error("Ошибка подключения игрока %q: %v", req.Name, err)
		s.respond(cs, msg, false,
			&protocol.ConnectPlayerResponse{Ok: false, ErrorMessage: "internal error"}, started)
		return
	}

	// Окрестность точки спавна подгружается в фоне.
	go s.world.EnsureChunksLoaded()

	s.respond(cs, msg, true, &protocol.ConnectPlayerResponse{
		Ok:          true,
		Token:       token,
		PlayerID:    entityID,
		ActualSpawn: spawn,
	}, started)
}

// chunkNearPlayers возвращает true, если чанк лежит в сфере якоря
// переданной позиции или какой-либо активной сессии.
func (s *Server) chunkNearPlayers(c vec.ChunkPos, hasPos bool, pos vec.PrecisePos) bool {
	radius := float64(s.world.Radius())

	if hasPos {
		if pc, err := pos.ToBlock().ToChunk(); err == nil && pc.DistanceTo(c) <= radius {
			return true
		}
	}
	for _, sess := range s.world.Sessions().ActiveSessions() {
		if pc, err := sess.Position.ToBlock().ToChunk(); err == nil && pc.DistanceTo(c) <= radius {
			return true
		}
	}
	return false
}

func (s *Server) handleGetChunk(cs *connState, msg *protocol.Message, started time.Time) {
	var req protocol.GetChunkRequest
	if err := msg.DecodeBody(&req); err != nil {
		s.respond(cs, msg, false,
			&protocol.GetChunkResponse{Ok: false, ErrorMessage: errMalformedRequest}, started)
		return
	}
	if req.Token != "" && !s.world.Sessions().IsValid(req.Token) {
		s.respond(cs, msg, false,
			&protocol.GetChunkResponse{Ok: false, ErrorMessage: errInvalidSession}, started)
		return
	}

	data, ok := s.world.SerializeChunkAt(req.Chunk)
	if !ok && s.chunkNearPlayers(req.Chunk, req.HasPlayerPos, req.PlayerPos) {
		// Чанк в якорной сфере игрока не должен оставаться отсутствующим.
		s.world.EnsureChunksLoaded()
		data, ok = s.world.SerializeChunkAt(req.Chunk)
	}

	// Отсутствие чанка — не ошибка: клиент повторит запрос позже.
	s.respond(cs, msg, true, &protocol.GetChunkResponse{
		Ok:      true,
		HasData: ok,
		Data:    data,
	}, started)
}

func (s *Server) handleGetUpdatedChunks(cs *connState, msg *protocol.Message, started time.Time) {
	var req protocol.GetUpdatedChunksRequest
	if err := msg.DecodeBody(&req); err != nil {
		s.respond(cs, msg, false,
			&protocol.GetUpdatedChunksResponse{Ok: false, ErrorMessage: errMalformedRequest}, started)
		return
	}
	if req.Token != "" && !s.world.Sessions().IsValid(req.Token) {
		s.respond(cs, msg, false,
			&protocol.GetUpdatedChunksResponse{Ok: false, ErrorMessage: errInvalidSession}, started)
		return
	}

	center, err := req.PlayerPos.ToBlock().ToChunk()
	if err != nil {
		s.respond(cs, msg, false,
			&protocol.GetUpdatedChunksResponse{Ok: false, ErrorMessage: errOutOfRange}, started)
		return
	}

	chunks := s.drainDirtyWindow(center, int32(req.RenderDistance))
	s.respond(cs, msg, true, &protocol.GetUpdatedChunksResponse{Ok: true, Chunks: chunks}, started)
}

func (s *Server) handlePlaceBlock(cs *connState, msg *protocol.Message, started time.Time) {
	var req protocol.PlaceBlockRequest
	if err := msg.DecodeBody(&req); err != nil {
		s.respond(cs, msg, false,
			&protocol.StatusResponse{Ok: false, ErrorMessage: errMalformedRequest}, started)
		return
	}
	id, valid := block.FromWire(req.Block)
	if !valid {
		s.respond(cs, msg, false,
			&protocol.StatusResponse{Ok: false, ErrorMessage: errInvalidBlock}, started)
		return
	}
	s.mutateBlock(cs, msg, req.Token, req.Position, id, started)
}

func (s *Server) handleBreakBlock(cs *connState, msg *protocol.Message, started time.Time) {
	var req protocol.BreakBlockRequest
	if err := msg.DecodeBody(&req); err != nil {
		s.respond(cs, msg, false,
			&protocol.StatusResponse{Ok: false, ErrorMessage: errMalformedRequest}, started)
		return
	}
	// Разрушение блока — запись воздуха.
	s.mutateBlock(cs, msg, req.Token, req.Position, block.Air, started)
}

// mutateBlock — общий путь PlaceBlock/BreakBlock: авторизация,
// запись в мир, пометка чанка изменённым и публикация события.
func (s *Server) mutateBlock(cs *connState, msg *protocol.Message, token string, pos vec.BlockPos, id block.ID, started time.Time) {
	if token != "" && !s.world.Sessions().IsValid(token) {
		s.respond(cs, msg, false,
			&protocol.StatusResponse{Ok: false, ErrorMessage: errInvalidSession}, started)
		return
	}

	c, err := pos.ToChunk()
	if err != nil {
		s.respond(cs, msg, false,
			&protocol.StatusResponse{Ok: false, ErrorMessage: errOutOfRange}, started)
		return
	}

	if !s.world.SetBlockIfLoaded(pos, id) {
		s.respond(cs, msg, false,
			&protocol.StatusResponse{Ok: false, ErrorMessage: errChunkNotResident}, started)
		return
	}

	s.markDirty(c)
	eventbus.PublishBlockChanged(s.ctx, s.events, "server", pos, uint32(id), c)
	s.respond(cs, msg, true, &protocol.StatusResponse{Ok: true}, started)
}

func (s *Server) handleGetBlockAt(cs *connState, msg *protocol.Message, started time.Time) {
	var req protocol.GetBlockAtRequest
	if err := msg.DecodeBody(&req); err != nil {
		s.respond(cs, msg, false,
			&protocol.GetBlockAtResponse{Ok: false, ErrorMessage: errMalformedRequest}, started)
		return
	}

	id, ok := s.world.GetBlockIfLoaded(req.Position)
	if !ok {
		s.respond(cs, msg, false,
			&protocol.GetBlockAtResponse{Ok: false, ErrorMessage: errChunkNotResident}, started)
		return
	}
	s.respond(cs, msg, true, &protocol.GetBlockAtResponse{Ok: true, Block: uint32(id)}, started)
}

// markDirty помечает чанк изменённым.
func (s *Server) markDirty(c vec.ChunkPos) {
	s.dirtyMu.Lock()
	s.dirty[c] = struct{}{}
	s.dirtyMu.Unlock()
}

// DirtyCount возвращает размер множества изменённых чанков.
func (s *Server) DirtyCount() int {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	return len(s.dirty)
}

// drainDirtyWindow атомарно возвращает и удаляет из множества изменённых
// чанков те, что попадают в куб Чебышёва радиуса renderDistance вокруг
// центра. Записи вне окна остаются до запроса из их окрестности.
func (s *Server) drainDirtyWindow(center vec.ChunkPos, renderDistance int32) []vec.ChunkPos {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()

	var result []vec.ChunkPos
	for c := range s.dirty {
		if center.ChebyshevDistanceTo(c) <= renderDistance {
			result = append(result, c)
			delete(s.dirty, c)
		}
	}
	return result
}

// positionFlushLoop периодически сбрасывает позиции активных сессий
// в репозиторий позиций.
func (s *Server) positionFlushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(positionFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			sessions := s.world.Sessions().ActiveSessions()
			if len(sessions) == 0 {
				continue
			}
			positions := make(map[uint64]vec.PrecisePos, len(sessions))
			for _, sess := range sessions {
				positions[sess.EntityID] = sess.Position
			}
			if err := s.positions.BatchSave(s.ctx, positions); err != nil {
				s.logger.Warn("Ошибка сброса позиций: %v", err)
			}
		}
	}
}

// metricsLoop периодически обновляет гейджи состояния мира.
func (s *Server) metricsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.metrics.SetWorldState(
				s.world.LoadedCount(),
				s.DirtyCount(),
				s.world.Sessions().ActiveCount(),
			)
		}
	}
}
