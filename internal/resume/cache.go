// Package resume structures raw resume text into a canonical JSON form
// and caches the result so each distinct resume is structured at most once.
package resume

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ganainy/job-app-assistant/internal/llm"
	"github.com/ganainy/job-app-assistant/internal/prompts"
	"github.com/ganainy/job-app-assistant/internal/schemas"
)

// DefaultTTL bounds how long a structured resume stays cached. A user who
// edits their resume produces a new hash and therefore a new entry.
const DefaultTTL = 30 * 24 * time.Hour

// Cache is the storage used to memoize structured resumes.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = fmt.Errorf("resume: cache miss")

// RedisCache backs Cache with a Redis instance.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Service structures resumes through an AI client, memoized by content hash.
type Service struct {
	cache Cache
	ttl   time.Duration
}

func NewService(cache Cache) *Service {
	return &Service{cache: cache, ttl: DefaultTTL}
}

// GetOrStructure returns the structured form of resumeText, calling the AI
// client only when no cached entry exists for this user and text. Cache
// read and write failures are logged and do not fail the operation.
func (s *Service) GetOrStructure(ctx context.Context, client llm.Client, userID uuid.UUID, resumeText string) (*StructuredResume, error) {
	trimmed := strings.TrimSpace(resumeText)
	if trimmed == "" {
		return nil, fmt.Errorf("resume text is empty")
	}
	key := cacheKey(userID, trimmed)

	if cached, err := s.cache.Get(ctx, key); err == nil {
		var structured StructuredResume
		if uerr := json.Unmarshal([]byte(cached), &structured); uerr == nil {
			return &structured, nil
		}
		log.Printf("[resume] discarding corrupt cache entry %s", key)
	} else if err != ErrCacheMiss {
		log.Printf("[resume] cache read failed for %s: %v", key, err)
	}

	var raw json.RawMessage
	if err := client.GenerateStructured(ctx, structurePrompt(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("structuring resume: %w", err)
	}
	if err := schemas.ValidateStructuredResume(raw); err != nil {
		return nil, fmt.Errorf("structured resume rejected: %w", err)
	}
	var structured StructuredResume
	if err := json.Unmarshal(raw, &structured); err != nil {
		return nil, fmt.Errorf("decoding structured resume: %w", err)
	}

	if err := s.cache.Set(ctx, key, string(raw), s.ttl); err != nil {
		log.Printf("[resume] cache write failed for %s: %v", key, err)
	}
	return &structured, nil
}

func cacheKey(userID uuid.UUID, trimmed string) string {
	sum := md5.Sum([]byte(trimmed))
	return fmt.Sprintf("resume:structured:%s:%s", userID, hex.EncodeToString(sum[:]))
}

func structurePrompt(resumeText string) string {
	template := prompts.MustGet("resume.json", "structure")
	return prompts.Format(template, map[string]string{"ResumeText": resumeText})
}
