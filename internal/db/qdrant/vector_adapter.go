package qdrantdb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/search"
	applog "recallweave/internal/platform/log"
)

// Config Qdrant gRPC 连接配置
type Config struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTLS         bool   `json:"use_tls"`
	APIKey         string `json:"api_key"`
	Collection     string `json:"collection"`
	MaxMessageSize int    `json:"max_message_size"`
}

// VectorAdapter Qdrant 向量检索适配器
// payload 约定：tenant_id / document_id / passage_id / content，其余字符串字段进入 metadata
type VectorAdapter struct {
	client     *qdrant.Client
	collection string
	embedder   search.Embedder
}

// NewVectorAdapter 建立 gRPC 连接并创建适配器
func NewVectorAdapter(cfg Config, embedder search.Embedder) (*VectorAdapter, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 32 << 20
	}
	if !cfg.UseTLS {
		applog.Warn("[Qdrant] gRPC using plaintext, TLS disabled", "host", cfg.Host)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	return &VectorAdapter{client: client, collection: cfg.Collection, embedder: embedder}, nil
}

func (a *VectorAdapter) Source() search.Source { return search.SourceVector }

func (a *VectorAdapter) Search(ctx context.Context, s scope.TenantScope, q search.Query, topK int) ([]search.Candidate, error) {
	if a.embedder == nil {
		return nil, search.ErrNotConfigured
	}
	if topK <= 0 {
		topK = 10
	}
	vector, err := a.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	points, err := a.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: a.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         tenantFilter(s),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query %s: %w", a.collection, err)
	}

	candidates := make([]search.Candidate, 0, len(points))
	for _, p := range points {
		c, ok := toCandidate(p)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// HealthCheck 检查 Qdrant 连通性
func (a *VectorAdapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.HealthCheck(ctx)
	return err
}

func (a *VectorAdapter) Close() error {
	return a.client.Close()
}

func tenantFilter(s scope.TenantScope) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "tenant_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: s.TenantID()},
						},
					},
				},
			},
		},
	}
}

// toCandidate 缺少 document_id 的点直接丢弃
func toCandidate(p *qdrant.ScoredPoint) (search.Candidate, bool) {
	c := search.Candidate{
		Source:   search.SourceVector,
		RawScore: float64(p.GetScore()),
	}
	metadata := map[string]string{}

	for k, v := range p.GetPayload() {
		var str string
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			str = val.StringValue
		case *qdrant.Value_IntegerValue:
			str = strconv.FormatInt(val.IntegerValue, 10)
		case *qdrant.Value_DoubleValue:
			str = strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
		case *qdrant.Value_BoolValue:
			str = strconv.FormatBool(val.BoolValue)
		default:
			continue
		}

		switch k {
		case "document_id":
			c.DocumentID = str
		case "passage_id":
			c.PassageID = str
		case "content":
			c.Snippet = str
		case "tenant_id":
		default:
			metadata[k] = str
		}
	}

	if c.DocumentID == "" {
		return search.Candidate{}, false
	}
	if c.PassageID == "" {
		c.PassageID = pointID(p.GetId())
	}
	if len(metadata) > 0 {
		c.Metadata = metadata
	}
	return c, true
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}
