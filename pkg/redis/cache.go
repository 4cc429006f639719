package redis

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides typed caching utilities
// ⭐ SSOT: 캐시 헬퍼는 여기서만
type Cache struct {
	client *Client
	prefix string
}

// NewCache creates a new cache helper
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

// Enabled 캐시 사용 가능 여부
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil && c.client.Enabled()
}

func (c *Cache) key(key string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, key)
}

// Get retrieves a cached value
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	data, err := c.client.Redis().Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}

	return true, nil
}

// Set stores a value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	return c.client.Redis().Set(ctx, c.key(key), data, ttl).Err()
}

// Delete removes a cached value
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Redis().Del(ctx, c.key(key)).Err()
}

// Predefined TTLs
const (
	TTLShort  = 1 * time.Minute  // 요청 단위 결과
	TTLMedium = 10 * time.Minute // 분해 결과 (기본)
	TTLLong   = 1 * time.Hour    // 모델 재보정 주기보다 짧게
)

// =============================================================================
// Cache keys
// 모델 지문 + 가중치 해시가 같으면 결과가 같음 (계산기는 순수 함수)
// =============================================================================

// DecompositionKey 리스크 분해 캐시 키
func DecompositionKey(modelFingerprint, measure string, weights []float64) string {
	return fmt.Sprintf("decomposition:%s:%s:%s", short(modelFingerprint), measure, WeightsHash(weights))
}

// TearsheetKey tear sheet 캐시 키 (포트폴리오 집합 해시)
func TearsheetKey(modelFingerprint, kind, portfoliosHash string) string {
	return fmt.Sprintf("tearsheet:%s:%s:%s", short(modelFingerprint), kind, portfoliosHash)
}

// WeightsHash 가중치 비트 패턴의 sha256 (앞 16바이트)
// -0 과 +0 은 같은 키가 되도록 정규화
func WeightsHash(weights []float64) string {
	h := sha256.New()
	var buf [8]byte
	for _, w := range weights {
		if w == 0 {
			w = 0
		}
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(w))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func short(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
