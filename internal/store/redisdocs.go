package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"laborflow/onboarding-service/internal/onboarding"
)

// RedisDocuments resolves document references against the metadata hashes
// the upload service writes to Redis under document:<ref>. A missing hash
// means the reference never existed (MISSING_EVIDENCE territory); a Redis
// error means the store is unreachable and must surface as
// EVIDENCE_STORE_UNAVAILABLE.
type RedisDocuments struct {
	rdb *redis.Client
}

// NewRedisDocuments returns a RedisDocuments on rdb.
func NewRedisDocuments(rdb *redis.Client) *RedisDocuments {
	return &RedisDocuments{rdb: rdb}
}

func (d *RedisDocuments) Stat(ctx context.Context, ref string) (*onboarding.DocumentInfo, error) {
	vals, err := d.rdb.HGetAll(ctx, "document:"+ref).Result()
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	if len(vals) == 0 {
		return nil, onboarding.ErrDocumentNotFound
	}

	info := &onboarding.DocumentInfo{
		Ref:         ref,
		ContentType: vals["contentType"],
	}
	if s := vals["size"]; s != "" {
		info.Size, _ = strconv.ParseInt(s, 10, 64)
	}
	if s := vals["uploadedAt"]; s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			info.UploadedAt = t
		}
	}
	return info, nil
}
