package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/annel0/voxel-world/internal/config"
	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/network"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

var (
	configPath = flag.String("config", "", "путь к YAML-конфигурации (или VOXEL_CONFIG)")
)

func main() {
	flag.Parse()

	logger := logging.GetServerLogger()
	defer logging.GetLoggerManager().CloseAll()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	seed := cfg.World.GetSeed()
	radius := cfg.World.GetAnchorRadius()
	dataPath := cfg.World.GetDataPath()

	logger.Info("Запуск voxel-world сервера: seed=%d radius=%d data=%s", seed, radius, dataPath)

	// === ПЕРСИСТЕНТНОСТЬ ===
	var persistence world.ChunkPersistence
	switch backend := cfg.World.GetPersistence(); backend {
	case "badger":
		store, err := storage.NewBadgerChunkStorage(dataPath)
		if err != nil {
			log.Fatalf("Ошибка открытия BadgerDB: %v", err)
		}
		defer store.Close()
		persistence = store
	case "sqlite":
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			log.Fatalf("Ошибка создания директории данных: %v", err)
		}
		store, err := storage.NewSQLiteChunkStorage(filepath.Join(dataPath, "world.db"))
		if err != nil {
			log.Fatalf("Ошибка открытия SQLite: %v", err)
		}
		defer store.Close()
		persistence = store
	case "none":
		logger.Warn("Персистентность отключена: мир живёт только в памяти")
	default:
		log.Fatalf("Неизвестный бэкенд персистентности: %s", backend)
	}

	// === ШИНА СОБЫТИЙ ===
	var events eventbus.EventBus
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention == 0 {
			retention = 24 * time.Hour
		}
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logger.Error("NATS недоступен (%v), используется in-memory шина", err)
			events = eventbus.NewMemoryBus(1024)
		} else {
			defer jsBus.Close()
			events = jsBus
		}
	} else {
		events = eventbus.NewMemoryBus(1024)
	}

	// === РЕПОЗИТОРИЙ ПОЗИЦИЙ ===
	var positions storage.PositionRepo
	if cfg.Redis.Addr != "" {
		redisRepo, err := storage.NewRedisPositionRepo(&storage.RedisConfig{Addr: cfg.Redis.Addr})
		if err != nil {
			logger.Error("Redis недоступен (%v), позиции хранятся в памяти", err)
			positions = storage.NewMemoryPositionRepo()
		} else {
			defer redisRepo.Close()
			positions = redisRepo
		}
	} else {
		positions = storage.NewMemoryPositionRepo()
	}

	// === МИР ===
	w := world.NewWorld(world.Options{
		Generator:   world.NewTerrainGenerator(),
		Anchors:     []vec.BlockPos{{X: 0, Y: 0, Z: 0}},
		Radius:      radius,
		Seed:        seed,
		Persistence: persistence,
		Events:      events,
	})
	w.EnsureChunksLoaded()
	logger.Info("Мир инициализирован: %d чанков загружено", w.LoadedCount())

	// === МЕТРИКИ ===
	metrics := network.NewMetrics()
	metricsAddr := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())
	metricsSrv := network.ServeMetrics(metricsAddr)
	defer metricsSrv.Close()
	logger.Info("Prometheus метрики: http://localhost%s/metrics", metricsAddr)

	// === ЛИСТЕНЕР ===
	var listener net.Listener
	transport := cfg.Server.GetTransport()
	switch transport {
	case "kcp":
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.GetKCPPort())
		listener, err = network.ListenKCP(addr)
	default:
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.GetTCPPort())
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		log.Fatalf("Ошибка открытия листенера: %v", err)
	}

	// === СЕРВЕР ===
	srv := network.NewServer(w, network.ServerOptions{
		Metrics:   metrics,
		Events:    events,
		Positions: positions,
		Info:      "voxel-world server 1.0",
	})
	srv.Start(listener)
	logger.Info("Сервер принимает соединения: %s (%s)", listener.Addr(), transport)

	// Ожидание сигнала завершения.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Получен сигнал %v, завершение работы...", sig)

	srv.Stop()
	logger.Info("Сервер успешно остановлен")
}
