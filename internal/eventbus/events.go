package eventbus

import (
	"context"
	"encoding/json"

	"github.com/annel0/voxel-world/internal/vec"
)

// BlockChangedPayload — данные события block_changed.
type BlockChangedPayload struct {
	Position vec.BlockPos `json:"position"`
	Block    uint32       `json:"block"`
	Chunk    vec.ChunkPos `json:"chunk"`
}

// ChunkEvictedPayload — данные событий chunk_evicted и
// chunk_eviction_save_failed.
type ChunkEvictedPayload struct {
	Chunk vec.ChunkPos `json:"chunk"`
	Error string       `json:"error,omitempty"`
}

// SessionExpiredPayload — данные события session_expired.
type SessionExpiredPayload struct {
	Tokens []string `json:"tokens"`
}

// PublishBlockChanged публикует событие изменения блока.
func PublishBlockChanged(ctx context.Context, bus EventBus, source string, pos vec.BlockPos, blockID uint32, chunkPos vec.ChunkPos) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(BlockChangedPayload{Position: pos, Block: blockID, Chunk: chunkPos})
	if err != nil {
		return
	}
	_ = bus.Publish(ctx, NewEnvelope(source, EventBlockChanged, payload))
}

// PublishChunkEvicted публикует событие выгрузки чанка; при непустой
// ошибке сохранения тип события — chunk_eviction_save_failed.
func PublishChunkEvicted(ctx context.Context, bus EventBus, source string, chunkPos vec.ChunkPos, saveErr error) {
	if bus == nil {
		return
	}
	p := ChunkEvictedPayload{Chunk: chunkPos}
	eventType := EventChunkEvicted
	if saveErr != nil {
		p.Error = saveErr.Error()
		eventType = EventEvictionSaveError
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = bus.Publish(ctx, NewEnvelope(source, eventType, payload))
}

// PublishSessionsExpired публикует событие истечения сессий.
func PublishSessionsExpired(ctx context.Context, bus EventBus, source string, tokens []string) {
	if bus == nil || len(tokens) == 0 {
		return
	}
	payload, err := json.Marshal(SessionExpiredPayload{Tokens: tokens})
	if err != nil {
		return
	}
	_ = bus.Publish(ctx, NewEnvelope(source, EventSessionExpired, payload))
}
