package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parleykit/parley/dialogue"
)

const transcriptKeyPrefix = "parley:transcript:"

// TranscriptCache keeps assembled transcripts in Redis so repeated reads
// of busy sessions skip the store. Entries are invalidated by TTL only:
// a slightly stale transcript is acceptable, a slow one is not.
type TranscriptCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewTranscriptCache wraps a Redis client. TTL defaults to 30 seconds.
func NewTranscriptCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *TranscriptCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &TranscriptCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "transcript_cache")),
	}
}

// Get returns the cached transcript, or nil on miss. Redis failures are
// treated as misses.
func (c *TranscriptCache) Get(ctx context.Context, sessionID string) *dialogue.Transcript {
	data, err := c.client.Get(ctx, transcriptKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	var transcript dialogue.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return &transcript
}

// Set stores the transcript. Failures are logged and swallowed.
func (c *TranscriptCache) Set(ctx context.Context, transcript *dialogue.Transcript) {
	data, err := json.Marshal(transcript)
	if err != nil {
		c.logger.Warn("failed to encode transcript", zap.Error(err))
		return
	}
	key := transcriptKeyPrefix + transcript.Session.ID
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("session_id", transcript.Session.ID), zap.Error(err))
	}
}

// Invalidate drops the cached transcript, typically after a new turn.
func (c *TranscriptCache) Invalidate(ctx context.Context, sessionID string) {
	if err := c.client.Del(ctx, transcriptKeyPrefix+sessionID).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
