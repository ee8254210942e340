package network

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// Константы клиента.
const (
	// MaxInflightRequests ограничивает число одновременных запросов чанков.
	MaxInflightRequests = 64
	// CacheCap — жёсткий предел клиентского кэша чанков.
	CacheCap = 100
	// RequestTimeout — таймаут одного RPC-запроса.
	RequestTimeout = 30 * time.Second
	// drainTimeout — бюджет одного прохода ProcessPendingRequests.
	drainTimeout = 10 * time.Millisecond
	// disconnectDrainTimeout — ожидание завершения запросов при отключении.
	disconnectDrainTimeout = 5 * time.Second
)

// pendingChunk — учётная запись запроса чанка в полёте.
type pendingChunk struct {
	pos   vec.ChunkPos
	timer *time.Timer
}

// Client — асинхронный потоковый клиент мира.
//
// Запросы чанков не блокируют вызывающий поток: RequestChunk либо отдаёт
// чанк из кэша, либо ставит асинхронный запрос и возвращает отсутствие.
// Завершения разбираются вызовами ProcessPendingRequests (обычно раз в
// кадр рендера) и могут приходить в любом порядке.
type Client struct {
	channel NetChannel
	logger  *logging.Logger

	// Порядок захвата блокировок: requested -> inflight -> backlog -> cache.
	requestedMu sync.Mutex
	requested   map[vec.ChunkPos]struct{}

	inflightMu sync.Mutex
	inflight   map[uint32]*pendingChunk

	backlogMu sync.Mutex
	backlog   []vec.ChunkPos

	cacheMu sync.Mutex
	cache   map[vec.ChunkPos]*chunk.Buffer

	completions chan *protocol.Message

	callsMu sync.Mutex
	calls   map[uint32]chan *protocol.Message

	nextRequestID atomic.Uint32
	disconnected  atomic.Bool

	stateMu  sync.Mutex
	token    string
	playerID uint64
	lastPos  vec.PrecisePos

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient создаёт клиента поверх неподключённого канала.
func NewClient(channel NetChannel) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		channel:     channel,
		logger:      logging.GetNetworkLogger(),
		requested:   make(map[vec.ChunkPos]struct{}),
		inflight:    make(map[uint32]*pendingChunk),
		cache:       make(map[vec.ChunkPos]*chunk.Buffer),
		completions: make(chan *protocol.Message, MaxInflightRequests*2),
		calls:       make(map[uint32]chan *protocol.Message),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Connect подключает канал к серверу и запускает воркер завершений.
func (c *Client) Connect(addr string) error {
	if err := c.channel.Connect(c.ctx, addr); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.receiveLoop()
	return nil
}

// receiveLoop маршрутизирует входящие ответы: синхронные вызовы — в их
// каналы ожидания, завершения чанков — в очередь completions.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		msg, err := c.channel.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && !c.disconnected.Load() {
				c.logger.Error("Ошибка приёма: %v", err)
			}
			return
		}
		if !msg.IsResponse() {
			c.logger.Warn("Клиент получил не-ответ типа %s", msg.Type)
			continue
		}

		c.callsMu.Lock()
		waiter, isCall := c.calls[msg.RequestID]
		if isCall {
			delete(c.calls, msg.RequestID)
		}
		c.callsMu.Unlock()

		if isCall {
			waiter <- msg
			continue
		}

		if msg.Type == protocol.MsgGetChunk {
			select {
			case c.completions <- msg:
			case <-c.ctx.Done():
				return
			}
			continue
		}

		c.logger.Warn("Ответ без ожидающего запроса: type=%s id=%d", msg.Type, msg.RequestID)
	}
}

//========================= Запросы чанков =========================//

// RequestChunk возвращает чанк из кэша либо ставит асинхронный запрос
// и возвращает отсутствие. Повторный вызов для чанка в полёте ничего
// не ставит заново.
func (c *Client) RequestChunk(pos vec.ChunkPos) (*chunk.Buffer, bool) {
	if c.disconnected.Load() {
		return nil, false
	}

	c.cacheMu.Lock()
	if buf, ok := c.cache[pos]; ok {
		c.cacheMu.Unlock()
		return buf, true
	}
	c.cacheMu.Unlock()

	c.requestedMu.Lock()
	if _, already := c.requested[pos]; already {
		c.requestedMu.Unlock()
		return nil, false
	}
	c.requested[pos] = struct{}{}
	c.requestedMu.Unlock()

	c.issueOrBacklog(pos)
	return nil, false
}

// issueOrBacklog отправляет запрос чанка, если есть свободный слот,
// иначе ставит его в хвост очереди ожидания.
func (c *Client) issueOrBacklog(pos vec.ChunkPos) {
	c.inflightMu.Lock()
	if len(c.inflight) < MaxInflightRequests {
		id := c.nextRequestID.Add(1)
		pending := &pendingChunk{pos: pos}
		pending.timer = time.AfterFunc(RequestTimeout, func() { c.expireRequest(id) })
		c.inflight[id] = pending
		c.inflightMu.Unlock()

		c.sendChunkRequest(id, pos)
		return
	}
	c.inflightMu.Unlock()

	c.backlogMu.Lock()
	c.backlog = append(c.backlog, pos)
	c.backlogMu.Unlock()
}

// sendChunkRequest отправляет GetChunk; при ошибке отправки запись
// снимается, чтобы чанк можно было запросить снова.
func (c *Client) sendChunkRequest(id uint32, pos vec.ChunkPos) {
	c.stateMu.Lock()
	req := &protocol.GetChunkRequest{
		Token:        c.token,
		HasPlayerPos: c.playerID != 0,
		PlayerPos:    c.lastPos,
		Chunk:        pos,
	}
	c.stateMu.Unlock()

	msg := protocol.MarshalMessage(protocol.MsgGetChunk, id, 0, req)
	if err := c.channel.Send(c.ctx, msg); err != nil {
		c.logger.Error("Ошибка отправки запроса чанка %+v: %v", pos, err)
		c.dropRequest(id)
	}
}

// expireRequest снимает запрос по таймауту.
func (c *Client) expireRequest(id uint32) {
	c.inflightMu.Lock()
	pending, ok := c.inflight[id]
	if ok {
		delete(c.inflight, id)
	}
	c.inflightMu.Unlock()
	if !ok {
		return
	}

	c.logger.Warn("Таймаут запроса чанка %+v (id=%d)", pending.pos, id)
	c.requestedMu.Lock()
	delete(c.requested, pending.pos)
	c.requestedMu.Unlock()

	c.drainBacklog()
}

// dropRequest снимает запись о запросе без обработки ответа.
func (c *Client) dropRequest(id uint32) {
	c.inflightMu.Lock()
	pending, ok := c.inflight[id]
	if ok {
		pending.timer.Stop()
		delete(c.inflight, id)
	}
	c.inflightMu.Unlock()
	if !ok {
		return
	}

	c.requestedMu.Lock()
	delete(c.requested, pending.pos)
	c.requestedMu.Unlock()
}

// ProcessPendingRequests разбирает накопившиеся завершения (не дольше
// ~10 мс) и дозаправляет очередь ожидания освободившимися слотами.
// Вызывается из потока рендера каждый кадр.
func (c *Client) ProcessPendingRequests() {
	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()

	for {
		select {
		case msg := <-c.completions:
			c.handleCompletion(msg)
		case <-deadline.C:
			c.drainBacklog()
			return
		default:
			c.drainBacklog()
			return
		}
	}
}

// handleCompletion обрабатывает одно завершение GetChunk.
func (c *Client) handleCompletion(msg *protocol.Message) {
	c.inflightMu.Lock()
	pending, ok := c.inflight[msg.RequestID]
	if ok {
		pending.timer.Stop()
		delete(c.inflight, msg.RequestID)
	}
	c.inflightMu.Unlock()
	if !ok {
		// Запрос уже снят по таймауту.
		return
	}

	var resp protocol.GetChunkResponse
	if err := msg.DecodeBody(&resp); err != nil {
		c.logger.Error("Повреждённый ответ чанка %+v: %v", pending.pos, err)
	} else if !resp.Ok {
		c.logger.Error("Сервер отказал в чанке %+v: %s", pending.pos, resp.ErrorMessage)
	} else if !resp.HasData {
		// Чанк ещё не сгенерирован: запись снимается, чтобы следующий
		// RequestChunk повторил запрос.
		c.logger.Debug("Чанк %+v ещё не готов, повторим позже", pending.pos)
	} else if buf, err := chunk.Deserialize(pending.pos, resp.Data); err != nil {
		c.logger.Error("Ошибка десериализации чанка %+v: %v", pending.pos, err)
	} else {
		c.cacheInsert(pending.pos, buf)
		c.logger.Debug("Чанк %+v получен: %d блоков", pending.pos, buf.NonEmptyCount())
	}

	c.requestedMu.Lock()
	delete(c.requested, pending.pos)
	c.requestedMu.Unlock()
}

// drainBacklog выдаёт запросы из очереди ожидания, пока есть слоты.
// Перед повторной отправкой кэш перепроверяется: чанк мог прийти
// другим путём.
func (c *Client) drainBacklog() {
	for {
		c.inflightMu.Lock()
		hasSlot := len(c.inflight) < MaxInflightRequests
		c.inflightMu.Unlock()
		if !hasSlot {
			return
		}

		c.backlogMu.Lock()
		if len(c.backlog) == 0 {
			c.backlogMu.Unlock()
			return
		}
		pos := c.backlog[0]
		c.backlog = c.backlog[1:]
		c.backlogMu.Unlock()

		c.cacheMu.Lock()
		_, cached := c.cache[pos]
		c.cacheMu.Unlock()
		if cached {
			c.requestedMu.Lock()
			delete(c.requested, pos)
			c.requestedMu.Unlock()
			continue
		}

		c.inflightMu.Lock()
		if len(c.inflight) >= MaxInflightRequests {
			c.inflightMu.Unlock()
			// Слот заняли, возвращаем чанк в голову очереди.
			c.backlogMu.Lock()
			c.backlog = append([]vec.ChunkPos{pos}, c.backlog...)
			c.backlogMu.Unlock()
			return
		}
		id := c.nextRequestID.Add(1)
		pending := &pendingChunk{pos: pos}
		pending.timer = time.AfterFunc(RequestTimeout, func() { c.expireRequest(id) })
		c.inflight[id] = pending
		c.inflightMu.Unlock()

		c.sendChunkRequest(id, pos)
	}
}

// cacheInsert кладёт чанк в кэш и ужимает его до предела.
func (c *Client) cacheInsert(pos vec.ChunkPos, buf *chunk.Buffer) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.cache[pos] = buf
	for key := range c.cache {
		if len(c.cache) <= CacheCap {
			break
		}
		if key == pos {
			continue
		}
		delete(c.cache, key)
	}
}

// CachedChunk возвращает чанк из кэша без постановки запроса.
func (c *Client) CachedChunk(pos vec.ChunkPos) (*chunk.Buffer, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	buf, ok := c.cache[pos]
	return buf, ok
}

// CacheSize возвращает размер кэша чанков.
func (c *Client) CacheSize() int {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return len(c.cache)
}

// InflightCount возвращает число запросов в полёте.
func (c *Client) InflightCount() int {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	return len(c.inflight)
}

// BacklogLen возвращает длину очереди ожидания.
func (c *Client) BacklogLen() int {
	c.backlogMu.Lock()
	defer c.backlogMu.Unlock()
	return len(c.backlog)
}

// ClearCache очищает кэш чанков.
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[vec.ChunkPos]*chunk.Buffer)
}

//========================= Синхронные RPC =========================//

// call выполняет синхронный RPC с таймаутом RequestTimeout.
func (c *Client) call(msgType protocol.MsgType, body protocol.Body, respBody protocol.Body) error {
	if c.disconnected.Load() {
		return ErrNotConnected
	}

	id := c.nextRequestID.Add(1)
	waiter := make(chan *protocol.Message, 1)

	c.callsMu.Lock()
	c.calls[id] = waiter
	c.callsMu.Unlock()

	defer func() {
		c.callsMu.Lock()
		delete(c.calls, id)
		c.callsMu.Unlock()
	}()

	msg := protocol.MarshalMessage(msgType, id, 0, body)
	if err := c.channel.Send(c.ctx, msg); err != nil {
		return fmt.Errorf("ошибка отправки %s: %w", msgType, err)
	}

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		return resp.DecodeBody(respBody)
	case <-timer.C:
		return fmt.Errorf("таймаут запроса %s", msgType)
	case <-c.ctx.Done():
		return ErrNotConnected
	}
}

// checkStatus превращает {ok=false} в ошибку; при недействительной
// сессии локальный токен сбрасывается.
func (c *Client) checkStatus(op string, ok bool, errorMessage string) error {
	if ok {
		return nil
	}
	if strings.Contains(errorMessage, "session") {
		c.stateMu.Lock()
		c.token = ""
		c.stateMu.Unlock()
	}
	return fmt.Errorf("%s: %s", op, errorMessage)
}

// Ping проверяет связь с сервером.
func (c *Client) Ping() error {
	var resp protocol.StatusResponse
	if err := c.call(protocol.MsgPing, &protocol.PingRequest{}, &resp); err != nil {
		return err
	}
	return c.checkStatus("Ping", resp.Ok, resp.ErrorMessage)
}

// GetServerInfo возвращает строку с информацией о сервере.
func (c *Client) GetServerInfo() (string, error) {
	var resp protocol.GetServerInfoResponse
	if err := c.call(protocol.MsgGetServerInfo, &protocol.GetServerInfoRequest{}, &resp); err != nil {
		return "", err
	}
	if err := c.checkStatus("GetServerInfo", resp.Ok, resp.ErrorMessage); err != nil {
		return "", err
	}
	return resp.Info, nil
}

// ConnectPlayer создаёт сессию игрока и запоминает токен.
func (c *Client) ConnectPlayer(name string, spawn vec.PrecisePos) error {
	var resp protocol.ConnectPlayerResponse
	err := c.call(protocol.MsgConnectPlayer,
		&protocol.ConnectPlayerRequest{Name: name, Spawn: spawn}, &resp)
	if err != nil {
		return err
	}
	if err := c.checkStatus("ConnectPlayer", resp.Ok, resp.ErrorMessage); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.token = resp.Token
	c.playerID = resp.PlayerID
	c.lastPos = resp.ActualSpawn
	c.stateMu.Unlock()

	c.logger.Info("Сессия открыта: player_id=%d", resp.PlayerID)
	return nil
}

// Token возвращает текущий токен сессии.
func (c *Client) Token() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.token
}

// PlayerID возвращает идентификатор игрока.
func (c *Client) PlayerID() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.playerID
}

// RefreshSession продлевает сессию.
func (c *Client) RefreshSession() error {
	var resp protocol.StatusResponse
	err := c.call(protocol.MsgRefreshSession,
		&protocol.RefreshSessionRequest{Token: c.Token()}, &resp)
	if err != nil {
		return err
	}
	return c.checkStatus("RefreshSession", resp.Ok, resp.ErrorMessage)
}

// UpdatePlayerPosition сообщает серверу новую позицию игрока.
func (c *Client) UpdatePlayerPosition(pos vec.PrecisePos) error {
	var resp protocol.StatusResponse
	err := c.call(protocol.MsgUpdatePlayerPosition,
		&protocol.UpdatePlayerPositionRequest{Token: c.Token(), Position: pos}, &resp)
	if err != nil {
		return err
	}
	if err := c.checkStatus("UpdatePlayerPosition", resp.Ok, resp.ErrorMessage); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.lastPos = pos
	c.stateMu.Unlock()
	return nil
}

// DisconnectPlayer закрывает сессию на сервере.
func (c *Client) DisconnectPlayer() error {
	var resp protocol.StatusResponse
	err := c.call(protocol.MsgDisconnectPlayer,
		&protocol.DisconnectPlayerRequest{Token: c.Token()}, &resp)
	if err != nil {
		return err
	}
	if err := c.checkStatus("DisconnectPlayer", resp.Ok, resp.ErrorMessage); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.token = ""
	c.stateMu.Unlock()
	return nil
}

// GetUpdatedChunks возвращает изменённые чанки вокруг последней
// позиции игрока и сбрасывает их из локального кэша, чтобы следующий
// RequestChunk получил свежие данные.
func (c *Client) GetUpdatedChunks(renderDistance uint32) ([]vec.ChunkPos, error) {
	c.stateMu.Lock()
	req := &protocol.GetUpdatedChunksRequest{
		Token:          c.token,
		PlayerPos:      c.lastPos,
		RenderDistance: renderDistance,
	}
	c.stateMu.Unlock()

	var resp protocol.GetUpdatedChunksResponse
	if err := c.call(protocol.MsgGetUpdatedChunks, req, &resp); err != nil {
		return nil, err
	}
	if err := c.checkStatus("GetUpdatedChunks", resp.Ok, resp.ErrorMessage); err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	for _, pos := range resp.Chunks {
		delete(c.cache, pos)
	}
	c.cacheMu.Unlock()

	return resp.Chunks, nil
}

// PlaceBlock устанавливает блок на сервере; при успехе локальная копия
// чанка обновляется, чтобы оптимистичный вид совпадал с сервером.
func (c *Client) PlaceBlock(pos vec.BlockPos, id block.ID) error {
	c.stateMu.Lock()
	req := &protocol.PlaceBlockRequest{
		Token:        c.token,
		HasPlayerPos: c.playerID != 0,
		PlayerPos:    c.lastPos,
		Position:     pos,
		Block:        uint32(id),
	}
	c.stateMu.Unlock()

	var resp protocol.StatusResponse
	if err := c.call(protocol.MsgPlaceBlock, req, &resp); err != nil {
		return err
	}
	if err := c.checkStatus("PlaceBlock", resp.Ok, resp.ErrorMessage); err != nil {
		return err
	}

	c.updateCachedBlock(pos, id)
	return nil
}

// BreakBlock разрушает блок на сервере; локальная копия обновляется.
func (c *Client) BreakBlock(pos vec.BlockPos) error {
	c.stateMu.Lock()
	req := &protocol.BreakBlockRequest{
		Token:        c.token,
		HasPlayerPos: c.playerID != 0,
		PlayerPos:    c.lastPos,
		Position:     pos,
	}
	c.stateMu.Unlock()

	var resp protocol.StatusResponse
	if err := c.call(protocol.MsgBreakBlock, req, &resp); err != nil {
		return err
	}
	if err := c.checkStatus("BreakBlock", resp.Ok, resp.ErrorMessage); err != nil {
		return err
	}

	c.updateCachedBlock(pos, block.Air)
	return nil
}

// updateCachedBlock отражает успешную мутацию в локальном кэше.
func (c *Client) updateCachedBlock(pos vec.BlockPos, id block.ID) {
	chunkPos, err := pos.ToChunk()
	if err != nil {
		return
	}

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if buf, ok := c.cache[chunkPos]; ok {
		buf.Set(pos.LocalInChunk(), id)
	}
}

// GetBlockAt читает блок с сервера.
func (c *Client) GetBlockAt(pos vec.BlockPos) (block.ID, error) {
	var resp protocol.GetBlockAtResponse
	err := c.call(protocol.MsgGetBlockAt, &protocol.GetBlockAtRequest{Position: pos}, &resp)
	if err != nil {
		return block.Empty, err
	}
	if err := c.checkStatus("GetBlockAt", resp.Ok, resp.ErrorMessage); err != nil {
		return block.Empty, err
	}

	id, valid := block.FromWire(resp.Block)
	if !valid {
		return block.Empty, fmt.Errorf("GetBlockAt: неизвестный тип блока %d", resp.Block)
	}
	return id, nil
}

//========================= Отключение =========================//

// Disconnect помечает клиента отключённым, дожидается (с таймаутом)
// завершения запросов в полёте, очищает все таблицы и освобождает
// транспорт. Незавершённые запросы логируются и бросаются.
func (c *Client) Disconnect() {
	if !c.disconnected.CompareAndSwap(false, true) {
		return
	}

	deadline := time.Now().Add(disconnectDrainTimeout)
	for c.InflightCount() > 0 && time.Now().Before(deadline) {
		select {
		case msg := <-c.completions:
			c.handleCompletion(msg)
		case <-time.After(50 * time.Millisecond):
		}
	}

	if n := c.InflightCount(); n > 0 {
		c.logger.Warn("Отключение с %d незавершёнными запросами", n)
	}

	c.cancel()

	// Останавливаем таймеры и очищаем таблицы состояния.
	c.inflightMu.Lock()
	for id, pending := range c.inflight {
		pending.timer.Stop()
		delete(c.inflight, id)
	}
	c.inflightMu.Unlock()

	c.requestedMu.Lock()
	c.requested = make(map[vec.ChunkPos]struct{})
	c.requestedMu.Unlock()

	c.backlogMu.Lock()
	c.backlog = nil
	c.backlogMu.Unlock()

	c.ClearCache()

	c.callsMu.Lock()
	c.calls = make(map[uint32]chan *protocol.Message)
	c.callsMu.Unlock()

	_ = c.channel.Close()
	c.wg.Wait()
	c.logger.Info("Клиент отключён")
}
