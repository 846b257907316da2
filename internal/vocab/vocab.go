// Package vocab resolves the closed classification vocabulary used to
// validate slot category tags. The vocabulary is owned by an external
// collaborator; this client caches it in an explicit object with time-based
// invalidation rather than process-wide state.
package vocab

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Kinds of vocabulary terms.
const (
	KindContext   = "context"
	KindProposal  = "proposal"
	KindTone      = "tone"
	KindReference = "reference"
)

// Vocabulary maps kind -> term -> display label.
type Vocabulary map[string]map[string]string

// Client loads vocabulary terms with a TTL cache. Zero TTL means every call
// hits the store; Invalidate forces a refresh on the next call.
type Client struct {
	DB     *sql.DB
	TTL    time.Duration
	Logger *log.Logger

	mu        sync.Mutex
	cached    Vocabulary
	fetchedAt time.Time
}

// New builds a client with a 10 minute TTL.
func New(db *sql.DB) *Client {
	return &Client{DB: db, TTL: 10 * time.Minute, Logger: log.Default()}
}

// Load returns the vocabulary, served from cache while fresh.
func (c *Client) Load(ctx context.Context) (Vocabulary, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.fetchedAt) < c.TTL {
		v := c.cached
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	rows, err := c.DB.QueryContext(ctx, `
		SELECT kind, term, label FROM public.vocabulary_terms ORDER BY kind, term
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	v := make(Vocabulary)
	for rows.Next() {
		var kind, term, label string
		if err := rows.Scan(&kind, &term, &label); err != nil {
			return nil, err
		}
		if v[kind] == nil {
			v[kind] = make(map[string]string)
		}
		v[kind][term] = label
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = v
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	if c.Logger != nil {
		c.Logger.Printf("[Vocab] refreshed kinds=%d", len(v))
	}
	return v, nil
}

// Invalidate drops the cached copy.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// UnknownTerms returns the submitted terms of one kind that are not in the
// vocabulary. An empty vocabulary kind accepts nothing.
func (v Vocabulary) UnknownTerms(kind string, terms []string) []string {
	var unknown []string
	known := v[kind]
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := known[t]; !ok {
			unknown = append(unknown, t)
		}
	}
	return unknown
}

// FallbackSeed is the minimal vocabulary installed by the seeder so a fresh
// environment validates the common tags.
var FallbackSeed = map[string][][2]string{
	KindContext:   {{"regional", "Regional"}, {"national", "National"}, {"seasonal", "Seasonal"}, {"personal", "Personal"}},
	KindProposal:  {{"comparison", "Comparison"}, {"tutorial", "Tutorial"}, {"storytime", "Storytime"}, {"trend", "Trend"}, {"review", "Review"}},
	KindTone:      {{"funny", "Funny"}, {"serious", "Serious"}, {"inspirational", "Inspirational"}, {"provocative", "Provocative"}},
	KindReference: {{"creator", "Creator"}, {"brand", "Brand"}, {"meme", "Meme"}, {"news", "News"}},
}

// Seed inserts the fallback vocabulary, skipping existing terms.
func Seed(ctx context.Context, db *sql.DB) (int, error) {
	inserted := 0
	for kind, pairs := range FallbackSeed {
		terms := make([]string, 0, len(pairs))
		labels := make([]string, 0, len(pairs))
		for _, p := range pairs {
			terms = append(terms, p[0])
			labels = append(labels, p[1])
		}
		res, err := db.ExecContext(ctx, `
			INSERT INTO public.vocabulary_terms (kind, term, label)
			SELECT $1, t, l FROM unnest($2::text[], $3::text[]) AS u(t, l)
			ON CONFLICT (kind, term) DO NOTHING
		`, kind, pq.Array(terms), pq.Array(labels))
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}
