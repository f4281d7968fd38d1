// Package sources holds clients for the external risk-data APIs. Both
// upstreams are rate limited, so every client carries its own limiter and
// a circuit breaker.
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

// EnforcementReport is one openFDA drug enforcement record, trimmed to
// the fields the shortage task reads.
type EnforcementReport struct {
	ProductDescription string `json:"product_description"`
	ReasonForRecall    string `json:"reason_for_recall"`
	Status             string `json:"status"`
	Classification     string `json:"classification"`
	RecallInitiation   string `json:"recall_initiation_date"`
}

type enforcementResponse struct {
	Results []EnforcementReport `json:"results"`
}

// FDAClient queries the openFDA drug enforcement endpoint.
type FDAClient struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewFDAClient creates an openFDA client. ratePerSecond bounds outbound
// calls; openFDA throttles unauthenticated clients hard.
func NewFDAClient(baseURL string, timeout time.Duration, ratePerSecond float64, logger *zap.Logger) *FDAClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	return &FDAClient{
		baseURL: baseURL,
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "openfda", "sources", logger),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		logger:  logger,
	}
}

// SearchEnforcements returns recent enforcement records mentioning the
// drug. openFDA answers 404 for empty result sets; that reads as "no
// reports", not an error.
func (c *FDAClient) SearchEnforcements(ctx context.Context, drugName string) ([]EnforcementReport, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("search", fmt.Sprintf("product_description:%q", drugName))
	q.Set("limit", "5")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/drug/enforcement.json?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.SourceRequests.WithLabelValues("openfda", "error").Inc()
		return nil, fmt.Errorf("openfda request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		metrics.SourceRequests.WithLabelValues("openfda", "empty").Inc()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		metrics.SourceRequests.WithLabelValues("openfda", "error").Inc()
		return nil, fmt.Errorf("openfda returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		metrics.SourceRequests.WithLabelValues("openfda", "error").Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed enforcementResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.SourceRequests.WithLabelValues("openfda", "error").Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	metrics.SourceRequests.WithLabelValues("openfda", "ok").Inc()
	c.logger.Debug("openFDA search complete",
		zap.String("drug", drugName),
		zap.Int("results", len(parsed.Results)),
	)
	return parsed.Results, nil
}
