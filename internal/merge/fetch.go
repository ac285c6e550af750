package merge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/source"
)

// DefaultOnChainURL serves the coinmetrics community data set, one CSV per
// lowercase ticker.
const DefaultOnChainURL = "https://raw.githubusercontent.com/coinmetrics/data/master/csv"

// FetchSummary counts the outcome of one download pass.
type FetchSummary struct {
	Downloaded int
	Cached     int
	Missing    int
	Failed     int
}

// OnChainFetcher keeps a local directory of per-symbol on-chain metric files.
type OnChainFetcher struct {
	baseURL string
	req     *source.Requester
}

func NewOnChainFetcher(baseURL string, cfg source.HTTPConfig, opts ...source.Option) *OnChainFetcher {
	opts = append([]source.Option{source.WithHeader("Accept", "text/csv")}, opts...)
	return &OnChainFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		req:     source.NewRequester("coinmetrics", cfg, nil, opts...),
	}
}

// Download saves {base}/{ticker}.csv as dir/{ticker}.csv for each symbol without a
// cached file. Symbols the data set does not cover (404 or empty body) are counted
// as missing; other failures are logged and counted. Only a cancelled context or an
// unwritable directory is an error.
func (f *OnChainFetcher) Download(ctx context.Context, dir string, symbols []model.Symbol) (FetchSummary, error) {
	var sum FetchSummary
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return sum, fmt.Errorf("create on-chain dir: %w", err)
	}
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		name := strings.ToLower(strings.TrimSpace(sym.Ticker))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		path := filepath.Join(dir, name+".csv")
		if _, err := os.Stat(path); err == nil {
			sum.Cached++
			continue
		}
		body, err := f.req.Get(ctx, f.baseURL+"/"+url.PathEscape(name)+".csv", nil)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			var ferr *source.FetchError
			if errors.As(err, &ferr) && ferr.StatusCode == http.StatusNotFound {
				sum.Missing++
				continue
			}
			sum.Failed++
			log.Warn().Err(err).Str("symbol", sym.Ticker).Msg("on-chain download failed")
			continue
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			sum.Missing++
			continue
		}
		if err := writeFileAtomic(path, body); err != nil {
			return sum, err
		}
		sum.Downloaded++
	}
	log.Info().
		Int("downloaded", sum.Downloaded).
		Int("cached", sum.Cached).
		Int("missing", sum.Missing).
		Int("failed", sum.Failed).
		Msg("on-chain files synced")
	return sum, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
