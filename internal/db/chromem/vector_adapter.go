package chromemdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"

	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/search"
	applog "recallweave/internal/platform/log"
)

// Config 嵌入式向量库配置；Path 为空时使用纯内存库
type Config struct {
	Path       string `json:"path"`
	Compress   bool   `json:"compress"`
	Collection string `json:"collection"`
}

// Passage 写入向量库的段落
type Passage struct {
	TenantID   string
	DocumentID string
	PassageID  string
	Content    string
	Metadata   map[string]string
}

// VectorAdapter 基于 chromem-go 的本地向量检索适配器，用于单机部署与开发环境
type VectorAdapter struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   search.Embedder
}

// NewVectorAdapter 打开（或创建）向量库
func NewVectorAdapter(cfg Config, embedder search.Embedder) (*VectorAdapter, error) {
	if embedder == nil {
		return nil, search.ErrNotConfigured
	}
	name := cfg.Collection
	if name == "" {
		name = "passages"
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path := expandHome(cfg.Path)
		var err error
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
		applog.Info("[Chromem] Persistent store opened", "path", path)
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", name, err)
	}

	return &VectorAdapter{db: db, collection: collection, embedder: embedder}, nil
}

func (a *VectorAdapter) Source() search.Source { return search.SourceVector }

func (a *VectorAdapter) Search(ctx context.Context, s scope.TenantScope, q search.Query, topK int) ([]search.Candidate, error) {
	if topK <= 0 {
		topK = 10
	}
	// chromem 要求 nResults <= 文档总数
	count := a.collection.Count()
	if count == 0 {
		return []search.Candidate{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := a.collection.Query(ctx, q.Text, topK, map[string]string{"tenant_id": s.TenantID()}, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	candidates := make([]search.Candidate, 0, len(results))
	for _, r := range results {
		docID := r.Metadata["document_id"]
		if docID == "" {
			continue
		}
		passageID := r.Metadata["passage_id"]
		if passageID == "" {
			passageID = r.ID
		}

		var metadata map[string]string
		for k, v := range r.Metadata {
			switch k {
			case "tenant_id", "document_id", "passage_id":
				continue
			}
			if metadata == nil {
				metadata = make(map[string]string)
			}
			metadata[k] = v
		}

		candidates = append(candidates, search.Candidate{
			Source:     search.SourceVector,
			DocumentID: docID,
			PassageID:  passageID,
			RawScore:   float64(r.Similarity),
			Snippet:    r.Content,
			Metadata:   metadata,
		})
	}
	return candidates, nil
}

// Upsert 写入段落，ID = tenant/document/passage，重复写入覆盖
func (a *VectorAdapter) Upsert(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(passages))
	for _, p := range passages {
		if p.TenantID == "" || p.DocumentID == "" || p.PassageID == "" {
			return fmt.Errorf("passage requires tenant_id, document_id and passage_id")
		}
		meta := make(map[string]string, len(p.Metadata)+3)
		for k, v := range p.Metadata {
			meta[k] = v
		}
		meta["tenant_id"] = p.TenantID
		meta["document_id"] = p.DocumentID
		meta["passage_id"] = p.PassageID

		docs = append(docs, chromem.Document{
			ID:       p.TenantID + "/" + p.DocumentID + "/" + p.PassageID,
			Content:  p.Content,
			Metadata: meta,
		})
	}
	if err := a.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromem add documents: %w", err)
	}
	applog.Debug("[Chromem] Passages upserted", "count", len(docs))
	return nil
}

// Count 当前段落总数（所有租户）
func (a *VectorAdapter) Count() int {
	return a.collection.Count()
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
