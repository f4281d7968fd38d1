package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pharmasentinel/orchestrator/internal/circuitbreaker"
	"github.com/pharmasentinel/orchestrator/internal/metrics"
)

// maxArticles caps how much text the news task hands to the reasoning
// service in one prompt.
const maxArticles = 20

// genericQueries run once per pass regardless of the drug list, catching
// industry-wide disruptions no per-drug query would surface.
var genericQueries = []string{
	"hospital drug shortage",
	"pharmaceutical supply chain disruption",
}

// Article is one news item relevant to drug supply.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
}

type newsResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// NewsClient queries the news API for supply-disruption coverage.
type NewsClient struct {
	baseURL string
	apiKey  string
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewNewsClient creates a news API client.
func NewNewsClient(baseURL, apiKey string, timeout time.Duration, ratePerSecond float64, logger *zap.Logger) *NewsClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	return &NewsClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "newsapi", "sources", logger),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		logger:  logger,
	}
}

// SupplyNews gathers recent supply-risk coverage: one targeted query per
// monitored drug plus the generic queries, deduplicated by URL and capped
// at maxArticles. A single failed query degrades the result instead of
// failing the whole pass.
func (c *NewsClient) SupplyNews(ctx context.Context, drugs []string) ([]Article, error) {
	queries := make([]string, 0, len(drugs)+len(genericQueries))
	for _, d := range drugs {
		queries = append(queries, fmt.Sprintf("%q AND (shortage OR recall OR \"supply chain\")", d))
	}
	queries = append(queries, genericQueries...)

	seen := make(map[string]bool)
	var articles []Article
	var lastErr error

	for _, q := range queries {
		if len(articles) >= maxArticles {
			break
		}
		batch, err := c.search(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return articles, ctx.Err()
			}
			c.logger.Warn("News query failed", zap.String("query", q), zap.Error(err))
			lastErr = err
			continue
		}
		for _, a := range batch {
			if a.URL == "" || seen[a.URL] {
				continue
			}
			seen[a.URL] = true
			articles = append(articles, a)
			if len(articles) >= maxArticles {
				break
			}
		}
	}

	if len(articles) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return articles, nil
}

func (c *NewsClient) search(ctx context.Context, query string) ([]Article, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("from", time.Now().AddDate(0, 0, -7).Format("2006-01-02"))
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", "5")
	q.Set("language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/everything?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.SourceRequests.WithLabelValues("newsapi", "error").Inc()
		return nil, fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.SourceRequests.WithLabelValues("newsapi", "error").Inc()
		return nil, fmt.Errorf("news api returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		metrics.SourceRequests.WithLabelValues("newsapi", "error").Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed newsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.SourceRequests.WithLabelValues("newsapi", "error").Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Status != "ok" {
		metrics.SourceRequests.WithLabelValues("newsapi", "error").Inc()
		return nil, fmt.Errorf("news api status %q", parsed.Status)
	}

	metrics.SourceRequests.WithLabelValues("newsapi", "ok").Inc()
	out := make([]Article, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		out = append(out, Article{
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: a.PublishedAt,
		})
	}
	return out, nil
}
