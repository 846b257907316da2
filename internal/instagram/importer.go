package instagram

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const graphAPIBase = "https://graph.facebook.com/v19.0"

// Importer polls the Graph API for recent media and upserts per-post metrics
// into creator_posts, which feeds the heatmap and insights.
type Importer struct {
	DB       *sql.DB
	Client   *http.Client
	Interval time.Duration
	Logger   *log.Logger

	// BaseURL overrides the Graph API origin in tests.
	BaseURL string
}

type oauthRecord struct {
	AccessToken  string `json:"accessToken"`
	ExpiresAt    string `json:"expiresAt"`
	IGBusinessID string `json:"igBusinessId"`
	Username     string `json:"username"`
}

type mediaListResponse struct {
	Data   []mediaItem `json:"data"`
	Paging *pagingInfo `json:"paging"`
}

type pagingInfo struct {
	Next string `json:"next"`
}

type mediaItem struct {
	ID            string `json:"id"`
	MediaType     string `json:"media_type"`
	Timestamp     string `json:"timestamp"`
	LikeCount     *int64 `json:"like_count"`
	CommentsCount *int64 `json:"comments_count"`
}

type insightsResponse struct {
	Data []insightMetric `json:"data"`
}

type insightMetric struct {
	Name   string `json:"name"`
	Values []struct {
		Value int64 `json:"value"`
	} `json:"values"`
}

func (i *Importer) base() string {
	if i.BaseURL != "" {
		return i.BaseURL
	}
	return graphAPIBase
}

func (i *Importer) Name() string { return "instagram" }

// SyncCreator imports the creator's recent media metrics. The stored token is
// looked up in creator_settings key='instagram_oauth'; creators without one
// are skipped silently.
func (i *Importer) SyncCreator(ctx context.Context, db *sql.DB, creatorID string, client *http.Client, limiter *rate.Limiter, logger *log.Logger) (fetched int, upserted int, err error) {
	if db == nil {
		return 0, 0, fmt.Errorf("db is nil")
	}
	l := logger
	if l == nil {
		l = log.Default()
	}
	if creatorID == "" {
		return 0, 0, fmt.Errorf("creatorID is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	var raw []byte
	q := `SELECT value FROM public.creator_settings WHERE creator_id = $1 AND key = 'instagram_oauth' AND value IS NOT NULL`
	if err := db.QueryRowContext(ctx, q, creatorID).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return 0, 0, nil
	}
	var tok oauthRecord
	if err := json.Unmarshal(raw, &tok); err != nil {
		l.Printf("[IGMetrics] invalid oauth json creatorId=%s err=%v", creatorID, err)
		return 0, 0, nil
	}
	if tok.AccessToken == "" || tok.IGBusinessID == "" {
		l.Printf("[IGMetrics] missing token fields creatorId=%s accessToken=%t igBusinessId=%t", creatorID, tok.AccessToken != "", tok.IGBusinessID != "")
		return 0, 0, nil
	}

	media, err := i.fetchRecentMedia(ctx, client, limiter, tok.IGBusinessID, tok.AccessToken)
	if err != nil {
		return 0, 0, err
	}
	fetched = len(media)
	if fetched == 0 {
		l.Printf("[IGMetrics] no media creatorId=%s", creatorID)
		return 0, 0, nil
	}

	for _, m := range media {
		postedAt, err := parseGraphTimestamp(m.Timestamp)
		if err != nil {
			l.Printf("[IGMetrics] bad timestamp creatorId=%s mediaId=%s ts=%q", creatorID, m.ID, m.Timestamp)
			continue
		}

		views, err := i.fetchMediaViews(ctx, client, limiter, m.ID, tok.AccessToken)
		if err != nil {
			// Insights need instagram_business_content_access; fall back to
			// interaction counts alone when the app lacks it.
			l.Printf("[IGMetrics] insights unavailable creatorId=%s mediaId=%s err=%v", creatorID, m.ID, err)
			views = 0
		}

		var interactions int64
		if m.LikeCount != nil {
			interactions += *m.LikeCount
		}
		if m.CommentsCount != nil {
			interactions += *m.CommentsCount
		}

		_, err = db.ExecContext(ctx, `
			INSERT INTO public.creator_posts (id, creator_id, posted_at, view_count, interaction_count, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (id) DO UPDATE SET
				view_count = GREATEST(public.creator_posts.view_count, EXCLUDED.view_count),
				interaction_count = GREATEST(public.creator_posts.interaction_count, EXCLUDED.interaction_count)
		`, "ig_"+m.ID, creatorID, postedAt.UTC(), views, interactions)
		if err != nil {
			l.Printf("[IGMetrics] upsert error creatorId=%s mediaId=%s err=%v", creatorID, m.ID, err)
			continue
		}
		upserted++
	}

	return fetched, upserted, nil
}

// parseGraphTimestamp accepts both RFC3339 and the Graph API's colonless
// offset form ("2024-05-01T18:30:00+0000").
func parseGraphTimestamp(ts string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05-0700", ts)
}

func (i *Importer) fetchRecentMedia(ctx context.Context, client *http.Client, limiter *rate.Limiter, igBusinessID, accessToken string) ([]mediaItem, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := fmt.Sprintf("%s/%s/media?fields=%s&limit=50&access_token=%s",
		i.base(), igBusinessID,
		url.QueryEscape("id,media_type,timestamp,like_count,comments_count"),
		url.QueryEscape(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph api media: status %d", resp.StatusCode)
	}

	var list mediaListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (i *Importer) fetchMediaViews(ctx context.Context, client *http.Client, limiter *rate.Limiter, mediaID, accessToken string) (int64, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	u := fmt.Sprintf("%s/%s/insights?metric=views&access_token=%s",
		i.base(), mediaID, url.QueryEscape(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("graph api insights: status %d", resp.StatusCode)
	}

	var ins insightsResponse
	if err := json.Unmarshal(body, &ins); err != nil {
		return 0, err
	}
	for _, m := range ins.Data {
		if m.Name == "views" && len(m.Values) > 0 {
			return m.Values[0].Value, nil
		}
	}
	return 0, nil
}

// Start runs forever until ctx is cancelled, sweeping every connected
// creator on each tick.
func (i *Importer) Start(ctx context.Context) {
	if i.DB == nil {
		return
	}
	if i.Client == nil {
		i.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if i.Interval <= 0 {
		i.Interval = 15 * time.Minute
	}
	l := i.Logger
	if l == nil {
		l = log.Default()
	}

	ticker := time.NewTicker(i.Interval)
	defer ticker.Stop()

	l.Printf("[IGMetrics] started interval=%s", i.Interval.String())
	i.runOnce(ctx, l)

	for {
		select {
		case <-ctx.Done():
			l.Printf("[IGMetrics] stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			i.runOnce(ctx, l)
		}
	}
}

func (i *Importer) runOnce(ctx context.Context, l *log.Logger) {
	start := time.Now()
	rows, err := i.DB.QueryContext(ctx, `
		SELECT creator_id
		FROM public.creator_settings
		WHERE key = 'instagram_oauth' AND value IS NOT NULL
	`)
	if err != nil {
		l.Printf("[IGMetrics] list creators error: %v", err)
		return
	}
	defer rows.Close()

	creators := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		creators = append(creators, id)
	}
	l.Printf("[IGMetrics] tokens found=%d", len(creators))

	var totalItems, creatorsOK int
	for _, creatorID := range creators {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, n, err := i.SyncCreator(ctx, i.DB, creatorID, i.Client, nil, l)
		if err != nil {
			l.Printf("[IGMetrics] import error creatorId=%s err=%v", creatorID, err)
			continue
		}
		creatorsOK++
		totalItems += n
	}

	l.Printf("[IGMetrics] done creators=%d items=%d dur=%s", creatorsOK, totalItems, time.Since(start))
}
