package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
)

// RedisPositionRepo хранит позиции игроков в Redis для быстрого доступа
// и разделения между перезапусками сервера.
type RedisPositionRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *logging.Logger
}

// storedPosition — формат записи в Redis.
type storedPosition struct {
	EntityID  uint64         `json:"entity_id"`
	Position  vec.PrecisePos `json:"position"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни записей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "voxel:pos:",
		TTL:       24 * time.Hour,
	}
}

// NewRedisPositionRepo создаёт Redis-репозиторий позиций и проверяет
// подключение.
func NewRedisPositionRepo(config *RedisConfig) (*RedisPositionRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	logger := logging.GetStorageLogger()
	logger.Info("Подключение к Redis установлено: %s", config.Addr)

	return &RedisPositionRepo{
		client:    client,
		keyPrefix: config.KeyPrefix,
		ttl:       config.TTL,
		logger:    logger,
	}, nil
}

func (r *RedisPositionRepo) key(entityID uint64) string {
	return r.keyPrefix + strconv.FormatUint(entityID, 10)
}

// Save сохраняет позицию игрока.
func (r *RedisPositionRepo) Save(ctx context.Context, entityID uint64, pos vec.PrecisePos) error {
	if entityID == 0 {
		return fmt.Errorf("недействительный entityID: %d", entityID)
	}

	data, err := json.Marshal(storedPosition{
		EntityID:  entityID,
		Position:  pos,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("ошибка сериализации позиции: %w", err)
	}

	if err := r.client.Set(ctx, r.key(entityID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи позиции в Redis: %w", err)
	}
	return nil
}

// Load загружает позицию игрока.
func (r *RedisPositionRepo) Load(ctx context.Context, entityID uint64) (vec.PrecisePos, bool, error) {
	if entityID == 0 {
		return vec.PrecisePos{}, false, fmt.Errorf("недействительный entityID: %d", entityID)
	}

	data, err := r.client.Get(ctx, r.key(entityID)).Result()
	if err == redis.Nil {
		return vec.PrecisePos{}, false, nil
	}
	if err != nil {
		return vec.PrecisePos{}, false, fmt.Errorf("ошибка чтения позиции из Redis: %w", err)
	}

	var stored storedPosition
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		// Повреждённая запись трактуется как отсутствующая.
		r.logger.Warn("Повреждённая запись позиции для %d: %v", entityID, err)
		return vec.PrecisePos{}, false, nil
	}
	return stored.Position, true, nil
}

// Delete удаляет сохранённую позицию игрока.
func (r *RedisPositionRepo) Delete(ctx context.Context, entityID uint64) error {
	if entityID == 0 {
		return fmt.Errorf("недействительный entityID: %d", entityID)
	}

	if err := r.client.Del(ctx, r.key(entityID)).Err(); err != nil {
		return fmt.Errorf("ошибка удаления позиции из Redis: %w", err)
	}
	return nil
}

// BatchSave сохраняет позиции нескольких игроков пайплайном.
func (r *RedisPositionRepo) BatchSave(ctx context.Context, positions map[uint64]vec.PrecisePos) error {
	if len(positions) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	now := time.Now()

	for entityID, pos := range positions {
		if entityID == 0 {
			return fmt.Errorf("недействительный entityID в batch: %d", entityID)
		}

		data, err := json.Marshal(storedPosition{
			EntityID:  entityID,
			Position:  pos,
			UpdatedAt: now,
		})
		if err != nil {
			r.logger.Warn("Ошибка сериализации позиции для %d: %v", entityID, err)
			continue
		}
		pipe.Set(ctx, r.key(entityID), data, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка выполнения батча в Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (r *RedisPositionRepo) Close() error {
	return r.client.Close()
}
