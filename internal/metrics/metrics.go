package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recallweave"

var (
	// SearchRequestsTotal 按降级层级统计的检索请求数
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Total number of search requests by tier and whether cached results were served",
		},
		[]string{"tier", "cached"},
	)

	// SearchDuration 检索端到端耗时
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency in seconds by stage",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 1},
		},
		[]string{"stage"},
	)

	// BackendFailuresTotal 检索后端失败次数
	BackendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_failures_total",
			Help:      "Total number of search backend failures",
		},
		[]string{"source", "reason"},
	)

	// MemoryFetchTotal 用户记忆读取次数（primary / fallback）
	MemoryFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_fetch_total",
			Help:      "Total number of user memory fetches by source",
		},
		[]string{"source"},
	)

	// SessionOpsTotal 会话存储操作次数
	SessionOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_ops_total",
			Help:      "Total number of session store operations",
		},
		[]string{"op", "status"},
	)

	// CacheLookupsTotal 检索结果缓存命中情况
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_lookups_total",
			Help:      "Total number of search result cache lookups",
		},
		[]string{"result"},
	)

	// EmbeddingRequestsTotal 查询向量化请求数
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of query embedding requests",
		},
		[]string{"model", "status"},
	)

	// EmbeddingRequestDuration 查询向量化耗时
	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Query embedding request duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1},
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(
		SearchRequestsTotal,
		SearchDuration,
		BackendFailuresTotal,
		MemoryFetchTotal,
		SessionOpsTotal,
		CacheLookupsTotal,
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
	)
}

// Status 按 err 是否为空返回 ok / error 标签
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
