package metricsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ESSource reads telemetry from Elasticsearch for fleets that ingest
// readings straight into ES. Documents carry tenant_id, device_id,
// metric, value and @timestamp.
type ESSource struct {
	es      *elasticsearch.Client
	index   string // index pattern, e.g. "telemetry-*"
	timeout time.Duration
}

func NewESSource(es *elasticsearch.Client, indexPattern string, timeout time.Duration) *ESSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ESSource{es: es, index: indexPattern, timeout: timeout}
}

type esReading struct {
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"@timestamp"`
}

func (s *ESSource) search(ctx context.Context, body map[string]interface{}) ([]Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal telemetry query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(payload),
	}

	res, err := req.Do(ctx, s.es)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("%w: elasticsearch: %s", ErrUnavailable, res.String())
	}

	var response struct {
		Hits struct {
			Hits []struct {
				Source esReading `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: bad search response: %v", ErrUnavailable, err)
	}

	samples := make([]Sample, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		samples = append(samples, Sample{Value: hit.Source.Value, ObservedAt: hit.Source.ObservedAt})
	}
	return samples, nil
}

func termFilter(tenantID, deviceID, metric string) []map[string]interface{} {
	return []map[string]interface{}{
		{"term": map[string]interface{}{"tenant_id": tenantID}},
		{"term": map[string]interface{}{"device_id": deviceID}},
		{"term": map[string]interface{}{"metric": metric}},
	}
}

func (s *ESSource) Latest(ctx context.Context, tenantID, deviceID, metric string) (*Sample, error) {
	body := map[string]interface{}{
		"size": 1,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": termFilter(tenantID, deviceID, metric),
			},
		},
		"sort": []map[string]interface{}{
			{"@timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	samples, err := s.search(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	return &samples[0], nil
}

func (s *ESSource) Window(ctx context.Context, tenantID, deviceID, metric string, from, to time.Time) ([]Sample, error) {
	must := termFilter(tenantID, deviceID, metric)
	must = append(must, map[string]interface{}{
		"range": map[string]interface{}{
			"@timestamp": map[string]interface{}{
				"gte": from.Format(time.RFC3339),
				"lte": to.Format(time.RFC3339),
			},
		},
	})

	body := map[string]interface{}{
		"size": 10000,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": must,
			},
		},
		"sort": []map[string]interface{}{
			{"@timestamp": map[string]interface{}{"order": "asc"}},
		},
	}

	return s.search(ctx, body)
}

func (s *ESSource) LastObservedAt(ctx context.Context, tenantID, deviceID, metric string) (*time.Time, error) {
	latest, err := s.Latest(ctx, tenantID, deviceID, metric)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	return &latest.ObservedAt, nil
}
