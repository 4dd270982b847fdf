package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/search"
	applog "recallweave/internal/platform/log"
)

// Config OpenSearch 连接配置
type Config struct {
	URL                string `json:"url"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	Index              string `json:"index"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
	TimeoutMs          int    `json:"timeout_ms"` // HTTP 客户端兜底超时，单次调用超时由适配器控制
	VectorField        string `json:"vector_field"`
}

// Client OpenSearch HTTP 客户端（进程内单例，连接池由 http.Transport 管理）
type Client struct {
	baseURL     string
	username    string
	password    string
	httpClient  *http.Client
	indexName   string
	vectorField string
}

// passageDoc 索引中的段落文档
type passageDoc struct {
	DocumentID string `json:"document_id"`
	PassageID  string `json:"passage_id"`
	TenantID   string `json:"tenant_id"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content"`
	Source     string `json:"source,omitempty"`
	Page       int    `json:"page,omitempty"`
}

// NewClient 创建 OpenSearch 客户端
func NewClient(cfg Config) *Client {
	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // 由配置显式开启
		MaxIdleConnsPerHost: 32,
	}
	timeout := 5 * time.Second
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	index := cfg.Index
	if index == "" {
		index = "passages"
	}
	vectorField := cfg.VectorField
	if vectorField == "" {
		vectorField = "vector"
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		indexName:   index,
		vectorField: vectorField,
	}
}

// EnsureIndex 确保索引存在，如不存在则创建
func (c *Client) EnsureIndex(ctx context.Context, dims int) error {
	resp, err := c.doRequest(ctx, http.MethodHead, "/"+c.indexName, nil)
	if err != nil {
		return fmt.Errorf("check index existence: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		applog.Info("[OpenSearch] Index already exists", "index", c.indexName)
		return nil
	}

	settings := map[string]interface{}{}
	if dims > 0 {
		settings["index.knn"] = true
	}

	properties := map[string]interface{}{
		"document_id": map[string]string{"type": "keyword"},
		"passage_id":  map[string]string{"type": "keyword"},
		"tenant_id":   map[string]string{"type": "keyword"},
		"title":       map[string]string{"type": "text"},
		"content":     map[string]string{"type": "text"},
		"source":      map[string]string{"type": "keyword"},
		"page":        map[string]string{"type": "integer"},
	}
	if dims > 0 {
		properties[c.vectorField] = map[string]interface{}{
			"type":      "knn_vector",
			"dimension": dims,
			"method": map[string]interface{}{
				"name":       "hnsw",
				"space_type": "cosinesimil",
				"engine":     "lucene",
			},
		}
	}

	body, _ := json.Marshal(map[string]interface{}{
		"settings": settings,
		"mappings": map[string]interface{}{"properties": properties},
	})
	resp, err = c.doRequest(ctx, http.MethodPut, "/"+c.indexName, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create index failed (%d): %s", resp.StatusCode, string(respBody))
	}

	applog.Info("[OpenSearch] Index created", "index", c.indexName, "dims", dims)
	return nil
}

// SearchBM25 BM25 全文检索；扩展词作为低权重 should 子句，tenant_id 为硬过滤
func (c *Client) SearchBM25(ctx context.Context, s scope.TenantScope, q search.Query, topK int) ([]search.Candidate, error) {
	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{
				"multi_match": map[string]interface{}{
					"query":  q.Text,
					"fields": []string{"title^2", "content"},
				},
			},
		},
		"filter": tenantFilter(s),
	}
	if len(q.Expansion) > 0 {
		boolQuery["should"] = []interface{}{
			map[string]interface{}{
				"match": map[string]interface{}{
					"content": map[string]interface{}{
						"query": strings.Join(q.Expansion, " "),
						"boost": 0.3,
					},
				},
			},
		}
	}

	query := map[string]interface{}{
		"size":  sizeOrDefault(topK),
		"query": map[string]interface{}{"bool": boolQuery},
	}
	return c.executeSearch(ctx, query, search.SourceKeyword)
}

// SearchKNN kNN 向量检索，过滤条件下推到 knn 子句内部
func (c *Client) SearchKNN(ctx context.Context, s scope.TenantScope, vector []float32, topK int) ([]search.Candidate, error) {
	size := sizeOrDefault(topK)
	query := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"knn": map[string]interface{}{
				c.vectorField: map[string]interface{}{
					"vector": vector,
					"k":      size,
					"filter": map[string]interface{}{
						"bool": map[string]interface{}{"filter": tenantFilter(s)},
					},
				},
			},
		},
	}
	return c.executeSearch(ctx, query, search.SourceVector)
}

func tenantFilter(s scope.TenantScope) []interface{} {
	return []interface{}{
		map[string]interface{}{
			"term": map[string]string{"tenant_id": s.TenantID()},
		},
	}
}

func sizeOrDefault(topK int) int {
	if topK <= 0 {
		return 10
	}
	return topK
}

// executeSearch 执行 OpenSearch 查询并解析结果
func (c *Client) executeSearch(ctx context.Context, query map[string]interface{}, source search.Source) ([]search.Candidate, error) {
	body, _ := json.Marshal(query)
	resp, err := c.doRequest(ctx, http.MethodPost, "/"+c.indexName+"/_search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var osResp struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &osResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	candidates := make([]search.Candidate, 0, len(osResp.Hits.Hits))
	for _, hit := range osResp.Hits.Hits {
		var src passageDoc
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			applog.Warn("[OpenSearch] Failed to parse hit source", "id", hit.ID, "error", err)
			continue
		}
		if src.DocumentID == "" {
			continue
		}
		passageID := src.PassageID
		if passageID == "" {
			passageID = hit.ID
		}

		metadata := map[string]string{}
		if src.Title != "" {
			metadata["title"] = src.Title
		}
		if src.Source != "" {
			metadata["source"] = src.Source
		}
		if src.Page > 0 {
			metadata["page"] = strconv.Itoa(src.Page)
		}
		if len(metadata) == 0 {
			metadata = nil
		}

		candidates = append(candidates, search.Candidate{
			Source:     source,
			DocumentID: src.DocumentID,
			PassageID:  passageID,
			RawScore:   hit.Score,
			Snippet:    src.Content,
			Metadata:   metadata,
		})
	}
	return candidates, nil
}

// Ping 检查 OpenSearch 连通性
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return fmt.Errorf("ping opensearch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opensearch returned status %d", resp.StatusCode)
	}
	return nil
}

// doRequest 执行 HTTP 请求
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	return c.httpClient.Do(req)
}
