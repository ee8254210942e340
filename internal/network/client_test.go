package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// fakeChannel — транспорт в памяти для тестов клиента.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool

	requests  chan *protocol.Message // клиент -> "сервер"
	responses chan *protocol.Message // "сервер" -> клиент

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		requests:  make(chan *protocol.Message, 1024),
		responses: make(chan *protocol.Message, 1024),
		closed:    make(chan struct{}),
	}
}

func (f *fakeChannel) Connect(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case f.requests <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closed:
		return ErrNotConnected
	}
}

func (f *fakeChannel) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg := <-f.responses:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, ErrNotConnected
	}
}

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) RemoteAddr() string     { return "fake" }
func (f *fakeChannel) Stats() ConnectionStats { return ConnectionStats{} }

// respondChunk отвечает на запрос чанка небольшим валидным чанком.
func respondChunk(t *testing.T, ch *fakeChannel, req *protocol.Message) {
	t.Helper()

	var chunkReq protocol.GetChunkRequest
	require.NoError(t, req.DecodeBody(&chunkReq))

	buf := chunk.NewBuffer(chunkReq.Chunk)
	buf.Set(vec.LocalPos{X: 0, Y: 0, Z: 0}, block.Stone)

	resp := protocol.MarshalMessage(protocol.MsgGetChunk, req.RequestID, protocol.FlagResponse,
		&protocol.GetChunkResponse{Ok: true, HasData: true, Data: buf.Serialize()})
	ch.responses <- resp
}

func TestClientBacklogDrainScenario(t *testing.T) {
	fake := newFakeChannel()
	client := NewClient(fake)
	require.NoError(t, client.Connect("fake"))
	defer client.Disconnect()

	// 200 различных запросов чанков подряд.
	const total = 200
	for i := 0; i < total; i++ {
		pos := vec.ChunkPos{X: int32(i % 20), Y: int32(i / 20), Z: 0}
		_, cached := client.RequestChunk(pos)
		assert.False(t, cached)

		// Предел запросов в полёте не превышается никогда.
		require.LessOrEqual(t, client.InflightCount(), MaxInflightRequests)
	}

	assert.Equal(t, MaxInflightRequests, client.InflightCount())
	assert.Equal(t, total-MaxInflightRequests, client.BacklogLen())

	// Повторный запрос уже запрошенного чанка не ставится заново.
	_, cached := client.RequestChunk(vec.ChunkPos{X: 0, Y: 0, Z: 0})
	assert.False(t, cached)
	assert.Equal(t, total-MaxInflightRequests, client.BacklogLen())

	// "Сервер" отвечает на каждый запрос; клиент продвигает очередь.
	seen := make(map[vec.ChunkPos]int)
	responded := 0
	deadline := time.Now().Add(10 * time.Second)

	for responded < total && time.Now().Before(deadline) {
	drain:
		for {
			select {
			case req := <-fake.requests:
				var chunkReq protocol.GetChunkRequest
				require.NoError(t, req.DecodeBody(&chunkReq))
				seen[chunkReq.Chunk]++
				respondChunk(t, fake, req)
				responded++
			default:
				break drain
			}
		}
		client.ProcessPendingRequests()
		require.LessOrEqual(t, client.InflightCount(), MaxInflightRequests)
	}

	// Дожимаем оставшиеся завершения.
	for i := 0; i < 100 && (client.InflightCount() > 0 || client.BacklogLen() > 0); i++ {
		client.ProcessPendingRequests()
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, total, responded, "Сервер должен получить все 200 запросов")

	// Дубликатов запросов не было.
	for pos, count := range seen {
		assert.Equal(t, 1, count, "Чанк %+v запрошен %d раз", pos, count)
	}

	// Кэш ужат ровно до предела.
	assert.Equal(t, CacheCap, client.CacheSize())
	assert.Equal(t, 0, client.InflightCount())
	assert.Equal(t, 0, client.BacklogLen())
}

func TestClientCacheHit(t *testing.T) {
	fake := newFakeChannel()
	client := NewClient(fake)
	require.NoError(t, client.Connect("fake"))
	defer client.Disconnect()

	pos := vec.ChunkPos{X: 1, Y: 2, Z: 3}

	_, cached := client.RequestChunk(pos)
	require.False(t, cached)

	req := <-fake.requests
	respondChunk(t, fake, req)

	// Ждём обработки завершения.
	require.Eventually(t, func() bool {
		client.ProcessPendingRequests()
		_, ok := client.CachedChunk(pos)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	buf, cached := client.RequestChunk(pos)
	require.True(t, cached)
	assert.Equal(t, block.Stone, buf.Get(vec.LocalPos{X: 0, Y: 0, Z: 0}))
}

func TestClientAbsentChunkRetry(t *testing.T) {
	fake := newFakeChannel()
	client := NewClient(fake)
	require.NoError(t, client.Connect("fake"))
	defer client.Disconnect()

	pos := vec.ChunkPos{X: 9, Y: 9, Z: 9}

	_, cached := client.RequestChunk(pos)
	require.False(t, cached)

	// Сервер отвечает "ещё не сгенерирован": ok без данных.
	req := <-fake.requests
	resp := protocol.MarshalMessage(protocol.MsgGetChunk, req.RequestID, protocol.FlagResponse,
		&protocol.GetChunkResponse{Ok: true, HasData: false})
	fake.responses <- resp

	require.Eventually(t, func() bool {
		client.ProcessPendingRequests()
		return client.InflightCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Чанк снят из "уже запрошенных": повторный запрос уходит на сервер.
	_, cached = client.RequestChunk(pos)
	assert.False(t, cached)
	assert.Equal(t, 1, client.InflightCount())

	select {
	case req := <-fake.requests:
		var chunkReq protocol.GetChunkRequest
		require.NoError(t, req.DecodeBody(&chunkReq))
		assert.Equal(t, pos, chunkReq.Chunk)
	case <-time.After(time.Second):
		t.Fatal("Повторный запрос не отправлен")
	}
}

func TestClientPlaceBlockUpdatesCache(t *testing.T) {
	fake := newFakeChannel()
	client := NewClient(fake)
	require.NoError(t, client.Connect("fake"))
	defer client.Disconnect()

	// Кладём чанк (0,0,0) в кэш.
	_, _ = client.RequestChunk(vec.ChunkPos{})
	respondChunk(t, fake, <-fake.requests)
	require.Eventually(t, func() bool {
		client.ProcessPendingRequests()
		return client.CacheSize() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Сервер подтверждает установку блока.
	go func() {
		req := <-fake.requests
		resp := protocol.MarshalMessage(protocol.MsgPlaceBlock, req.RequestID,
			protocol.FlagResponse, &protocol.StatusResponse{Ok: true})
		fake.responses <- resp
	}()

	target := vec.BlockPos{X: 5, Y: 6, Z: 7}
	require.NoError(t, client.PlaceBlock(target, block.Wood))

	// Оптимистичное локальное обновление совпадает с сервером.
	buf, ok := client.CachedChunk(vec.ChunkPos{})
	require.True(t, ok)
	assert.Equal(t, block.Wood, buf.Get(target.LocalInChunk()))
}

func TestClientInvalidSessionClearsToken(t *testing.T) {
	fake := newFakeChannel()
	client := NewClient(fake)
	require.NoError(t, client.Connect("fake"))
	defer client.Disconnect()

	client.stateMu.Lock()
	client.token = "устаревший"
	client.stateMu.Unlock()

	go func() {
		req := <-fake.requests
		resp := protocol.MarshalMessage(protocol.MsgRefreshSession, req.RequestID,
			protocol.FlagResponse,
			&protocol.StatusResponse{Ok: false, ErrorMessage: "invalid or expired session token"})
		fake.responses <- resp
	}()

	err := client.RefreshSession()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session")

	// Локальный токен сброшен, чтобы клиент мог переподключиться.
	assert.Empty(t, client.Token())
}

func TestClientDisconnectClearsState(t *testing.T) {
	fake := newFakeChannel()
	client := NewClient(fake)
	require.NoError(t, client.Connect("fake"))

	for i := 0; i < 10; i++ {
		client.RequestChunk(vec.ChunkPos{X: int32(i), Y: 0, Z: 0})
	}
	require.Equal(t, 10, client.InflightCount())

	// Отвечаем на половину, остальные будут брошены.
	for i := 0; i < 5; i++ {
		respondChunk(t, fake, <-fake.requests)
	}

	client.Disconnect()

	assert.Equal(t, 0, client.InflightCount())
	assert.Equal(t, 0, client.BacklogLen())
	assert.Equal(t, 0, client.CacheSize())

	// После отключения запросы не ставятся.
	_, cached := client.RequestChunk(vec.ChunkPos{X: 99, Y: 0, Z: 0})
	assert.False(t, cached)
	assert.Equal(t, 0, client.InflightCount())
}
