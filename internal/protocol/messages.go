package protocol

import (
	"github.com/annel0/voxel-world/internal/vec"
)

// PingRequest — запрос проверки связи.
type PingRequest struct{}

func (*PingRequest) encodeBody(*Writer) {}
func (*PingRequest) decodeBody(*Reader) {}

// StatusResponse — общий ответ операций без полезной нагрузки.
type StatusResponse struct {
	Ok           bool
	ErrorMessage string
}

func (m *StatusResponse) encodeBody(w *Writer) {
	w.Bool(m.Ok)
	w.String(m.ErrorMessage)
}

func (m *StatusResponse) decodeBody(r *Reader) {
	m.Ok = r.Bool()
	m.ErrorMessage = r.String()
}

// GetServerInfoRequest — запрос информации о сервере.
type GetServerInfoRequest struct{}

func (*GetServerInfoRequest) encodeBody(*Writer) {}
func (*GetServerInfoRequest) decodeBody(*Reader) {}

// GetServerInfoResponse — информация о сервере.
type GetServerInfoResponse struct {
	Ok           bool
	ErrorMessage string
	Info         string
}

func (m *GetServerInfoResponse) encodeBody(w *Writer) {
	w.Bool(m.Ok)
	w.String(m.ErrorMessage)
	w.String(m.Info)
}

func (m *GetServerInfoResponse) decodeBody(r *Reader) {
	m.Ok = r.Bool()
	m.ErrorMessage = r.String()
	m.Info = r.String()
}

// ConnectPlayerRequest — подключение игрока.
type ConnectPlayerRequest struct {
	Name  string
	Spawn vec.PrecisePos
}

func (m *ConnectPlayerRequest) encodeBody(w *Writer) {
	w.String(m.Name)
	w.PrecisePos(m.Spawn)
}

func (m *ConnectPlayerRequest) decodeBody(r *Reader) {
	m.Name = r.String()
	m.Spawn = r.PrecisePos()
}

// ConnectPlayerResponse — результат подключения.
type ConnectPlayerResponse struct {
	Ok           bool
	ErrorMessage string
	Token        string
	PlayerID     uint64
	ActualSpawn  vec.PrecisePos
}

func (m *ConnectPlayerResponse) encodeBody(w *Writer) {
	w.Bool(m.Ok)
	w.String(m.ErrorMessage)
	w.String(m.Token)
	w.Uint64(m.PlayerID)
	w.PrecisePos(m.ActualSpawn)
}

func (m *ConnectPlayerResponse) decodeBody(r *Reader) {
	m.Ok = r.Bool()
	m.ErrorMessage = r.String()
	m.Token = r.String()
	m.PlayerID = r.Uint64()
	m.ActualSpawn = r.PrecisePos()
}

// RefreshSessionRequest — продление сессии.
type RefreshSessionRequest struct {
	Token string
}

func (m *RefreshSessionRequest) encodeBody(w *Writer) { w.String(m.Token) }
func (m *RefreshSessionRequest) decodeBody(r *Reader) { m.Token = r.String() }

// UpdatePlayerPositionRequest — обновление позиции игрока.
type UpdatePlayerPositionRequest struct {
	Token    string
	Position vec.PrecisePos
}

func (m *UpdatePlayerPositionRequest) encodeBody(w *Writer) {
	w.String(m.Token)
	w.PrecisePos(m.Position)
}

func (m *UpdatePlayerPositionRequest) decodeBody(r *Reader) {
	m.Token = r.String()
	m.Position = r.PrecisePos()
}

// DisconnectPlayerRequest — отключение игрока.
type DisconnectPlayerRequest struct {
	Token string
}

func (m *DisconnectPlayerRequest) encodeBody(w *Writer) { w.String(m.Token) }
func (m *DisconnectPlayerRequest) decodeBody(r *Reader) { m.Token = r.String() }

// GetChunkRequest — запрос чанка. PlayerPos необязательна и служит
// подсказкой для загрузки окрестности; токен тоже необязателен.
type GetChunkRequest struct {
	Token        string
	HasPlayerPos bool
	PlayerPos    vec.PrecisePos
	Chunk        vec.ChunkPos
}

func (m *GetChunkRequest) encodeBody(w *Writer) {
	w.String(m.Token)
	w.Bool(m.HasPlayerPos)
	w.PrecisePos(m.PlayerPos)
	w.ChunkPos(m.Chunk)
}

func (m *GetChunkRequest) decodeBody(r *Reader) {
	m.Token = r.String()
	m.HasPlayerPos = r.Bool()
	m.PlayerPos = r.PrecisePos()
	m.Chunk = r.ChunkPos()
}

// GetChunkResponse — ответ с данными чанка. Отсутствие данных при
// Ok=true означает «чанк ещё не сгенерирован», а не ошибку.
type GetChunkResponse struct {
	Ok           bool
	ErrorMessage string
	HasData      bool
	Data         []byte
}

func (m *GetChunkResponse) encodeBody(w *Writer) {
	w.Bool(m.Ok)
	w.String(m.ErrorMessage)
	w.Bool(m.HasData)
	w.Bytes32(m.Data)
}

func (m *GetChunkResponse) decodeBody(r *Reader) {
	m.Ok = r.Bool()
	m.ErrorMessage = r.String()
	m.HasData = r.Bool()
	m.Data = r.Bytes32()
}

// GetUpdatedChunksRequest — запрос изменённых чанков в кубе Чебышёва
// вокруг позиции игрока.
type GetUpdatedChunksRequest struct {
	Token          string
	PlayerPos      vec.PrecisePos
	RenderDistance uint32
}

func (m *GetUpdatedChunksRequest) encodeBody(w *Writer) {
	w.String(m.Token)
	w.PrecisePos(m.PlayerPos)
	w.Uint32(m.RenderDistance)
}

func (m *GetUpdatedChunksRequest) decodeBody(r *Reader) {
	m.Token = r.String()
	m.PlayerPos = r.PrecisePos()
	m.RenderDistance = r.Uint32()
}

// GetUpdatedChunksResponse — список изменённых чанков.
type GetUpdatedChunksResponse struct {
	Ok           bool
	ErrorMessage string
	Chunks       []vec.ChunkPos
}

func (m *GetUpdatedChunksResponse) encodeBody(w *Writer) {
	w.Bool(m.Ok)
	w.String(m.ErrorMessage)
	w.Uint32(uint32(len(m.Chunks)))
	for _, c := range m.Chunks {
		w.ChunkPos(c)
	}
}

func (m *GetUpdatedChunksResponse) decodeBody(r *Reader) {
	m.Ok = r.Bool()
	m.ErrorMessage = r.String()
	n := r.Uint32()
	if r.Err() != nil {
		return
	}
	m.Chunks = make([]vec.ChunkPos, 0, n)
	for i := uint32(0); i < n; i++ {
		m.Chunks = append(m.Chunks, r.ChunkPos())
		if r.Err() != nil {
			m.Chunks = nil
			return
		}
	}
}

// PlaceBlockRequest — установка блока.
type PlaceBlockRequest struct {
	Token        string
	HasPlayerPos bool
	PlayerPos    vec.PrecisePos
	Position     vec.BlockPos
	Block        uint32
}

func (m *PlaceBlockRequest) encodeBody(w *Writer) {
	w.String(m.Token)
	w.Bool(m.HasPlayerPos)
	w.PrecisePos(m.PlayerPos)
	w.BlockPos(m.Position)
	w.Uint32(m.Block)
}

func (m *PlaceBlockRequest) decodeBody(r *Reader) {
	m.Token = r.String()
	m.HasPlayerPos = r.Bool()
	m.PlayerPos = r.PrecisePos()
	m.Position = r.BlockPos()
	m.Block = r.Uint32()
}

// BreakBlockRequest — разрушение блока.
type BreakBlockRequest struct {
	Token        string
	HasPlayerPos bool
	PlayerPos    vec.PrecisePos
	Position     vec.BlockPos
}

func (m *BreakBlockRequest) encodeBody(w *Writer) {
	w.String(m.Token)
	w.Bool(m.HasPlayerPos)
	w.PrecisePos(m.PlayerPos)
	w.BlockPos(m.Position)
}

func (m *BreakBlockRequest) decodeBody(r *Reader) {
	m.Token = r.String()
	m.HasPlayerPos = r.Bool()
	m.PlayerPos = r.PrecisePos()
	m.Position = r.BlockPos()
}

// GetBlockAtRequest — чтение блока.
type GetBlockAtRequest struct {
	Position vec.BlockPos
}

func (m *GetBlockAtRequest) encodeBody(w *Writer) { w.BlockPos(m.Position) }
func (m *GetBlockAtRequest) decodeBody(r *Reader) { m.Position = r.BlockPos() }

// GetBlockAtResponse — результат чтения блока.
type GetBlockAtResponse struct {
	Ok           bool
	ErrorMessage string
	Block        uint32
}

func (m *GetBlockAtResponse) encodeBody(w *Writer) {
	w.Bool(m.Ok)
	w.String(m.ErrorMessage)
	w.Uint32(m.Block)
}

func (m *GetBlockAtResponse) decodeBody(r *Reader) {
	m.Ok = r.Bool()
	m.ErrorMessage = r.String()
	m.Block = r.Uint32()
}
