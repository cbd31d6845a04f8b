package rollout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// revisionPlaceholder is substituted into the health query with the revision
// number under verification.
const revisionPlaceholder = "$revision"

// PromHealthSource samples a revision's error rate from the monitoring
// stack's Prometheus endpoint. The query is operator-supplied and must
// evaluate to a single fraction in [0, 1], e.g.
//
//	sum(rate(http_requests_total{revision="$revision",code=~"5.."}[1m]))
//	  / sum(rate(http_requests_total{revision="$revision"}[1m]))
type PromHealthSource struct {
	api   promv1.API
	query string
}

// NewPromHealthSource connects to a Prometheus endpoint.
func NewPromHealthSource(endpoint, query string) (*PromHealthSource, error) {
	if !strings.Contains(query, revisionPlaceholder) {
		return nil, fmt.Errorf("health query must reference %s", revisionPlaceholder)
	}
	client, err := api.NewClient(api.Config{Address: endpoint})
	if err != nil {
		return nil, fmt.Errorf("prometheus client for %s: %w", endpoint, err)
	}
	return &PromHealthSource{api: promv1.NewAPI(client), query: query}, nil
}

// ErrorRate implements HealthSource.
func (s *PromHealthSource) ErrorRate(ctx context.Context, revisionNumber int) (float64, error) {
	q := strings.ReplaceAll(s.query, revisionPlaceholder, strconv.Itoa(revisionNumber))
	value, _, err := s.api.Query(ctx, q, time.Now())
	if err != nil {
		return 0, fmt.Errorf("query error rate: %w", err)
	}

	switch v := value.(type) {
	case *model.Scalar:
		return clampRate(float64(v.Value)), nil
	case model.Vector:
		if len(v) == 0 {
			// No samples yet, usually right after the surge. Treat as clean
			// rather than failing verification on missing data.
			return 0, nil
		}
		return clampRate(float64(v[0].Value)), nil
	default:
		return 0, fmt.Errorf("health query returned %s, want scalar or instant vector", value.Type())
	}
}

func clampRate(r float64) float64 {
	if r < 0 {
		return 0
	}
	return r
}
