package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/nc-ai-qqbot-go/internal/config"
	"github.com/nc-ai-qqbot-go/internal/models"
)

// Storage persists the durable slice of bot state: per-group settings and
// cumulative counters. Everything else (cooldowns, rate windows, history)
// is intentionally volatile.
type Storage interface {
	GetGroupSettings(ctx context.Context, groupID string) (*models.GroupSettings, error)
	SaveGroupSettings(ctx context.Context, groupID string, settings *models.GroupSettings) error

	GetStats(ctx context.Context) (*models.BotStats, error)
	IncrementProcessed(ctx context.Context) error
}

// Manager selects and wraps a storage backend
type Manager struct {
	storage Storage
	logger  *logrus.Logger
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	var storage Storage

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(&cfg.Storage.Redis, logger)
		if err != nil {
			return nil, err
		}
		storage = redisStorage
	case "memory":
		storage = NewMemoryStorage(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return &Manager{storage: storage, logger: logger}, nil
}

// Seed loads configured group overrides into storage without clobbering
// settings that were persisted by a previous run.
func (m *Manager) Seed(ctx context.Context, groups map[string]models.GroupSettings) error {
	for groupID, settings := range groups {
		existing, err := m.storage.GetGroupSettings(ctx, groupID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		s := settings
		if err := m.storage.SaveGroupSettings(ctx, groupID, &s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) GetGroupSettings(ctx context.Context, groupID string) (*models.GroupSettings, error) {
	return m.storage.GetGroupSettings(ctx, groupID)
}

func (m *Manager) SaveGroupSettings(ctx context.Context, groupID string, settings *models.GroupSettings) error {
	return m.storage.SaveGroupSettings(ctx, groupID, settings)
}

func (m *Manager) GetStats(ctx context.Context) (*models.BotStats, error) {
	return m.storage.GetStats(ctx)
}

func (m *Manager) IncrementProcessed(ctx context.Context) error {
	return m.storage.IncrementProcessed(ctx)
}

func today() string {
	return time.Now().Format("2006-01-02")
}

func bumpStats(stats *models.BotStats) {
	day := today()
	if stats.Day != day {
		stats.Day = day
		stats.TodayProcessed = 0
	}
	stats.TotalProcessed++
	stats.TodayProcessed++
}

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{client: client, logger: logger}, nil
}

func (r *RedisStorage) GetGroupSettings(ctx context.Context, groupID string) (*models.GroupSettings, error) {
	key := "group_settings:" + groupID
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var settings models.GroupSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *RedisStorage) SaveGroupSettings(ctx context.Context, groupID string, settings *models.GroupSettings) error {
	key := "group_settings:" + groupID
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, 0).Err() // No expiration for settings
}

func (r *RedisStorage) GetStats(ctx context.Context) (*models.BotStats, error) {
	data, err := r.client.Get(ctx, "bot_stats").Result()
	if err == redis.Nil {
		return &models.BotStats{Day: today()}, nil
	}
	if err != nil {
		return nil, err
	}

	var stats models.BotStats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *RedisStorage) IncrementProcessed(ctx context.Context) error {
	stats, err := r.GetStats(ctx)
	if err != nil {
		return err
	}
	bumpStats(stats)

	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, "bot_stats", data, 0).Err()
}

// MemoryStorage implements storage using in-memory cache
type MemoryStorage struct {
	groups *cache.Cache
	stats  *cache.Cache
	logger *logrus.Logger
}

func NewMemoryStorage(logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		groups: cache.New(cache.NoExpiration, cache.NoExpiration),
		stats:  cache.New(cache.NoExpiration, cache.NoExpiration),
		logger: logger,
	}
}

func (m *MemoryStorage) GetGroupSettings(ctx context.Context, groupID string) (*models.GroupSettings, error) {
	if val, found := m.groups.Get(groupID); found {
		return val.(*models.GroupSettings), nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveGroupSettings(ctx context.Context, groupID string, settings *models.GroupSettings) error {
	m.groups.Set(groupID, settings, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) GetStats(ctx context.Context) (*models.BotStats, error) {
	if val, found := m.stats.Get("bot_stats"); found {
		stats := *(val.(*models.BotStats))
		return &stats, nil
	}
	return &models.BotStats{Day: today()}, nil
}

func (m *MemoryStorage) IncrementProcessed(ctx context.Context) error {
	stats, err := m.GetStats(ctx)
	if err != nil {
		return err
	}
	bumpStats(stats)
	m.stats.Set("bot_stats", stats, cache.NoExpiration)
	return nil
}
