package kb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/types"
)

// RedisStore is the redis-backed ephemeral backend. Experiences live in a
// list per URL, the intelligence record in a string key; Wipe deletes both.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg config.KBConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, logger: logger}, nil
}

func experiencesKey(urlKey string) string { return "sf:eph:exp:" + urlKey }
func intelligenceKey(urlKey string) string { return "sf:eph:intel:" + urlKey }

// RecordExperience implements EphemeralStore.
func (s *RedisStore) RecordExperience(ctx context.Context, urlKey string, exp types.ScoutExperience) error {
	payload, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal experience: %w", err)
	}
	return s.client.RPush(ctx, experiencesKey(urlKey), payload).Err()
}

// ExperiencesFor implements EphemeralStore.
func (s *RedisStore) ExperiencesFor(ctx context.Context, urlKey string) ([]types.ScoutExperience, error) {
	raw, err := s.client.LRange(ctx, experiencesKey(urlKey), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.ScoutExperience, 0, len(raw))
	for _, item := range raw {
		var exp types.ScoutExperience
		if err := json.Unmarshal([]byte(item), &exp); err != nil {
			s.logger.Warn("skipping undecodable experience record",
				zap.String("url", urlKey), zap.Error(err))
			continue
		}
		out = append(out, exp)
	}
	return out, nil
}

// RecordIntelligence implements EphemeralStore. Latest writer wins.
func (s *RedisStore) RecordIntelligence(ctx context.Context, urlKey string, qi types.QuestionnaireIntelligence) error {
	payload, err := json.Marshal(qi)
	if err != nil {
		return fmt.Errorf("marshal intelligence: %w", err)
	}
	return s.client.Set(ctx, intelligenceKey(urlKey), payload, 0).Err()
}

// IntelligenceFor implements EphemeralStore.
func (s *RedisStore) IntelligenceFor(ctx context.Context, urlKey string) (types.QuestionnaireIntelligence, error) {
	raw, err := s.client.Get(ctx, intelligenceKey(urlKey)).Result()
	if err == redis.Nil {
		return types.QuestionnaireIntelligence{}, ErrNotFound
	}
	if err != nil {
		return types.QuestionnaireIntelligence{}, err
	}
	var qi types.QuestionnaireIntelligence
	if err := json.Unmarshal([]byte(raw), &qi); err != nil {
		return types.QuestionnaireIntelligence{}, fmt.Errorf("decode intelligence: %w", err)
	}
	return qi, nil
}

// Wipe implements EphemeralStore.
func (s *RedisStore) Wipe(ctx context.Context, urlKey string) error {
	return s.client.Del(ctx, experiencesKey(urlKey), intelligenceKey(urlKey)).Err()
}

// Close implements EphemeralStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
