package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/infra/metrics"
)

const defaultBaseURL = "https://graphql.anilist.co"

const nextAiringQuery = `
query ($id: Int) {
  Media(id: $id, type: ANIME) {
    id
    title { romaji english }
    coverImage { large }
    nextAiringEpisode { airingAt timeUntilAiring episode }
  }
}
`

// Client выполняет GraphQL-запросы к AniList.
type Client struct {
	http    *http.Client
	baseURL string
}

var _ domain.EpisodeSource = (*Client)(nil)

// NewClient создаёт клиента AniList.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type mediaResponse struct {
	Data struct {
		Media *struct {
			ID    int64 `json:"id"`
			Title struct {
				Romaji  string `json:"romaji"`
				English string `json:"english"`
			} `json:"title"`
			CoverImage struct {
				Large string `json:"large"`
			} `json:"coverImage"`
			NextAiringEpisode *struct {
				AiringAt int64 `json:"airingAt"`
				Episode  int   `json:"episode"`
			} `json:"nextAiringEpisode"`
		} `json:"Media"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) fetchMedia(ctx context.Context, anilistID int64) (mediaResponse, error) {
	body, err := json.Marshal(graphQLRequest{Query: nextAiringQuery, Variables: map[string]any{"id": anilistID}})
	if err != nil {
		return mediaResponse{}, fmt.Errorf("anilist: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return mediaResponse{}, fmt.Errorf("anilist: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("anilist", "media_query", "graphql", start, err)
	if err != nil {
		return mediaResponse{}, fmt.Errorf("anilist: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return mediaResponse{}, fmt.Errorf("anilist: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed mediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return mediaResponse{}, fmt.Errorf("anilist: decode response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return mediaResponse{}, fmt.Errorf("anilist: graphql error: %s", parsed.Errors[0].Message)
	}
	return parsed, nil
}

// NextAiringEpisode возвращает ближайший эпизод аниме или nil, если AniList
// его не сообщает.
func (c *Client) NextAiringEpisode(ctx context.Context, anilistID int64) (*domain.AiringEpisode, error) {
	parsed, err := c.fetchMedia(ctx, anilistID)
	if err != nil {
		return nil, err
	}
	media := parsed.Data.Media
	if media == nil || media.NextAiringEpisode == nil {
		return nil, nil
	}
	next := media.NextAiringEpisode
	if next.AiringAt <= 0 || next.Episode < 1 {
		return nil, nil
	}
	return &domain.AiringEpisode{
		AiringAt: time.Unix(next.AiringAt, 0).UTC(),
		Episode:  next.Episode,
	}, nil
}

// DisplayInfo возвращает название и обложку аниме для текста уведомления.
func (c *Client) DisplayInfo(ctx context.Context, anilistID int64) (domain.AnimeInfo, error) {
	parsed, err := c.fetchMedia(ctx, anilistID)
	if err != nil {
		return domain.AnimeInfo{}, err
	}
	media := parsed.Data.Media
	if media == nil {
		return domain.AnimeInfo{}, fmt.Errorf("anilist: media %d not found", anilistID)
	}
	title := media.Title.Romaji
	if title == "" {
		title = media.Title.English
	}
	return domain.AnimeInfo{Title: title, CoverImageURL: media.CoverImage.Large}, nil
}
