package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pinabook/internal/config"
	"pinabook/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchClient индексирует объекты для полнотекстового поиска
type ElasticsearchClient struct {
	client *elasticsearch.Client
	config config.ElasticsearchConfig
}

type facilityDocument struct {
	ID             string    `json:"id"`
	AffiliateID    string    `json:"affiliate_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Amenities      []string  `json:"amenities"`
	Availability   string    `json:"availability"`
	Active         bool      `json:"active"`
	DayTourPrice   float64   `json:"day_tour_price"`
	NightTourPrice float64   `json:"night_tour_price"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewElasticsearchClient(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	client := &ElasticsearchClient{
		client: es,
		config: cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.ensureIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure index exists: %w", err)
	}

	return client, nil
}

func (c *ElasticsearchClient) ensureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{c.config.Index}}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		slog.Info("Elasticsearch index already exists", "index", c.config.Index)
		return nil
	}

	mapping := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":           map[string]any{"type": "keyword"},
				"affiliate_id": map[string]any{"type": "keyword"},
				"name": map[string]any{
					"type":     "text",
					"analyzer": "english",
					"fields": map[string]any{
						"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
					},
				},
				"description":      map[string]any{"type": "text", "analyzer": "english"},
				"amenities":        map[string]any{"type": "text"},
				"availability":     map[string]any{"type": "keyword"},
				"active":           map[string]any{"type": "boolean"},
				"day_tour_price":   map[string]any{"type": "scaled_float", "scaling_factor": 100},
				"night_tour_price": map[string]any{"type": "scaled_float", "scaling_factor": 100},
				"created_at":       map[string]any{"type": "date"},
				"updated_at":       map[string]any{"type": "date"},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	createRes, err := esapi.IndicesCreateRequest{
		Index: c.config.Index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("failed to create index: %s", createRes.String())
	}

	slog.Info("Created Elasticsearch index", "index", c.config.Index)
	return nil
}

// IndexFacility upserts the searchable fields of f.
func (c *ElasticsearchClient) IndexFacility(ctx context.Context, f *models.Facility) error {
	doc := facilityDocument{
		ID:             f.ID,
		AffiliateID:    f.AffiliateID,
		Name:           f.Name,
		Description:    f.Description,
		Amenities:      f.Amenities,
		Availability:   string(f.Availability),
		Active:         f.Active,
		DayTourPrice:   f.DayTour.Price.InexactFloat64(),
		NightTourPrice: f.NightTour.Price.InexactFloat64(),
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal facility: %w", err)
	}

	res, err := esapi.IndexRequest{
		Index:      c.config.Index,
		DocumentID: f.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "wait_for",
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to index facility: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing error: %s", res.String())
	}
	return nil
}

func (c *ElasticsearchClient) DeleteFacility(ctx context.Context, id string) error {
	res, err := esapi.DeleteRequest{
		Index:      c.config.Index,
		DocumentID: id,
		Refresh:    "wait_for",
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to delete facility: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete error: %s", res.String())
	}
	return nil
}

// Search returns the IDs of bookable facilities matching query, best match
// first. An empty query lists every bookable facility.
func (c *ElasticsearchClient) Search(ctx context.Context, query string, page, pageSize int) ([]string, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	from := 0
	if page > 1 {
		from = (page - 1) * pageSize
	}

	req := map[string]any{
		"query":   buildSearchQuery(query),
		"sort":    buildSortQuery(query),
		"from":    from,
		"size":    pageSize,
		"_source": []string{"id"},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := esapi.SearchRequest{
		Index: []string{c.config.Index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var response struct {
		Hits struct {
			Hits []struct {
				Source struct {
					ID string `json:"id"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	ids := make([]string, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		ids = append(ids, hit.Source.ID)
	}
	return ids, nil
}

func buildSearchQuery(query string) map[string]any {
	filter := []map[string]any{
		{"term": map[string]any{"active": true}},
		{"term": map[string]any{"availability": string(models.Available)}},
	}

	boolQuery := map[string]any{"filter": filter}
	if q := strings.TrimSpace(query); q != "" {
		boolQuery["must"] = []map[string]any{{
			"multi_match": map[string]any{
				"query":     q,
				"fields":    []string{"name^3", "description", "amenities"},
				"fuzziness": "AUTO",
			},
		}}
	}
	return map[string]any{"bool": boolQuery}
}

func buildSortQuery(query string) []map[string]any {
	if strings.TrimSpace(query) != "" {
		return []map[string]any{
			{"_score": map[string]any{"order": "desc"}},
			{"id": map[string]any{"order": "asc"}},
		}
	}
	return []map[string]any{
		{"created_at": map[string]any{"order": "asc"}},
		{"id": map[string]any{"order": "asc"}},
	}
}

// HealthCheck проверяет состояние Elasticsearch
func (c *ElasticsearchClient) HealthCheck(ctx context.Context) error {
	res, err := esapi.ClusterHealthRequest{
		WaitForStatus: "yellow",
		Timeout:       10 * time.Second,
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("health check error: %s", res.String())
	}
	return nil
}
