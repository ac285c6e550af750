// Package universe builds the ranked set of coins the pipeline tracks.
package universe

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/source"
)

// Config controls pagination, retries and filtering.
type Config struct {
	BaseURL   string
	APIKey    string
	PerPage   int
	MaxPages  int
	MinVolume float64
	Cap       int
	PagePause time.Duration
	// HTTP carries the rate-limit delay, retry bound, timeout and proxy.
	HTTP source.HTTPConfig
}

// Builder fetches the market-cap ranking and turns it into a universe.
type Builder struct {
	cfg Config
	req *source.Requester
}

// NewBuilder creates a Builder. Options such as source.WithHTTPClient go to the
// underlying requester.
func NewBuilder(cfg Config, opts ...source.Option) *Builder {
	if cfg.PerPage <= 0 {
		cfg.PerPage = 250
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	opts = append([]source.Option{source.WithHeader("x-cg-demo-api-key", cfg.APIKey)}, opts...)
	return &Builder{cfg: cfg, req: source.NewRequester("coingecko-markets", cfg.HTTP, nil, opts...)}
}

// Coin is one row of the ranking as returned upstream; nullable fields are pointers.
type Coin struct {
	ID            string   `json:"id"`
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	MarketCapRank *int     `json:"market_cap_rank"`
	CurrentPrice  *float64 `json:"current_price"`
	MarketCap     *float64 `json:"market_cap"`
	TotalVolume   *float64 `json:"total_volume"`
	LastUpdated   string   `json:"last_updated"`
}

// Build fetches every page and filters the result. Pagination stops at the first
// empty page. A page that keeps failing is skipped; it is an error only when no
// coin at all could be fetched.
func (b *Builder) Build(ctx context.Context) ([]model.UniverseEntry, error) {
	start := time.Now()
	coins, err := b.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	entries := Filter(coins, b.cfg.MinVolume, b.cfg.Cap)
	log.Info().
		Int("fetched", len(coins)).
		Int("kept", len(entries)).
		Dur("elapsed", time.Since(start)).
		Msg("universe built")
	return entries, nil
}

// FetchAll walks pages 1..MaxPages.
func (b *Builder) FetchAll(ctx context.Context) ([]Coin, error) {
	var all []Coin
	for page := 1; page <= b.cfg.MaxPages; page++ {
		if page > 1 {
			if err := pause(ctx, b.cfg.PagePause); err != nil {
				return nil, err
			}
		}
		coins, err := b.fetchPage(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Int("page", page).Msg("skipping universe page")
			continue
		}
		if len(coins) == 0 {
			log.Info().Int("page", page).Msg("empty page, pagination done")
			break
		}
		all = append(all, coins...)
		log.Info().Int("page", page).Int("coins", len(coins)).Msg("universe page fetched")
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("universe: no coins fetched")
	}
	return all, nil
}

func (b *Builder) fetchPage(ctx context.Context, page int) ([]Coin, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(b.cfg.PerPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("sparkline", "false")

	body, err := b.req.Get(ctx, strings.TrimRight(b.cfg.BaseURL, "/")+"/api/v3/coins/markets", q)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	var coins []Coin
	if err := json.Unmarshal(body, &coins); err != nil {
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}
	return coins, nil
}

// Filter keeps liquid, ranked coins: first occurrence per symbol, market cap known,
// volume at least minVolume, sorted by rank and truncated to limit (0 = no limit).
func Filter(coins []Coin, minVolume float64, limit int) []model.UniverseEntry {
	seen := make(map[string]bool, len(coins))
	out := make([]model.UniverseEntry, 0, len(coins))
	for _, c := range coins {
		sym := strings.ToUpper(strings.TrimSpace(c.Symbol))
		if sym == "" || c.ID == "" || seen[sym] {
			continue
		}
		seen[sym] = true

		e := model.UniverseEntry{
			Symbol:   sym,
			CoinID:   c.ID,
			Name:     c.Name,
			IsActive: c.MarketCap != nil,
		}
		if !e.IsActive || c.MarketCapRank == nil || c.TotalVolume == nil || *c.TotalVolume < minVolume {
			continue
		}
		e.MarketCapRank = *c.MarketCapRank
		e.MarketCap = *c.MarketCap
		e.TotalVolume = *c.TotalVolume
		if c.CurrentPrice != nil {
			e.CurrentPrice = *c.CurrentPrice
		}
		if t, err := time.Parse(time.RFC3339, c.LastUpdated); err == nil {
			e.LastUpdated = t.UTC()
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MarketCapRank < out[j].MarketCapRank })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
