package anilist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"anilist-notifier/internal/domain"
)

// CachedSource кэширует ответы AniList, чтобы проход рассылки не дёргал API
// по одному и тому же аниме на каждое уведомление.
type CachedSource struct {
	source domain.EpisodeSource
	cache  domain.Cache
	ttl    time.Duration
}

var _ domain.EpisodeSource = (*CachedSource)(nil)

// NewCached оборачивает источник эпизодов TTL-кэшем.
func NewCached(source domain.EpisodeSource, cache domain.Cache, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachedSource{source: source, cache: cache, ttl: ttl}
}

// NextAiringEpisode не кэшируется: время эфира меняется, планировщику нужны
// свежие данные.
func (c *CachedSource) NextAiringEpisode(ctx context.Context, anilistID int64) (*domain.AiringEpisode, error) {
	return c.source.NextAiringEpisode(ctx, anilistID)
}

// DisplayInfo возвращает название и обложку аниме, по возможности из кэша.
func (c *CachedSource) DisplayInfo(ctx context.Context, anilistID int64) (domain.AnimeInfo, error) {
	key := fmt.Sprintf("anilist:info:%d", anilistID)
	if raw, err := c.cache.Get(key); err == nil && len(raw) > 0 {
		var info domain.AnimeInfo
		if err := json.Unmarshal(raw, &info); err == nil {
			return info, nil
		}
	}

	info, err := c.source.DisplayInfo(ctx, anilistID)
	if err != nil {
		return domain.AnimeInfo{}, err
	}
	if raw, err := json.Marshal(info); err == nil {
		_ = c.cache.Set(key, raw, c.ttl)
	}
	return info, nil
}
