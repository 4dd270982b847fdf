package search

import "time"

// Normalization 单来源分数归一化方式
type Normalization string

const (
	NormalizeMinMax Normalization = "minmax"
	NormalizeRank   Normalization = "rank"
)

// Config 检索编排与合并配置
type Config struct {
	// 编排
	BudgetMs         int `json:"budget_ms"`          // 整体 fork-join 预算
	AdapterTimeoutMs int `json:"adapter_timeout_ms"` // 单个适配器超时
	DefaultTopK      int `json:"default_top_k"`
	MaxTopK          int `json:"max_top_k"`
	FetchMultiplier  int `json:"fetch_multiplier"` // 每个来源多取候选用于融合

	// 合并
	Normalization Normalization `json:"normalization"`
	HybridBoost   float64       `json:"hybrid_boost"` // 双来源命中的乘性加成，>=1
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BudgetMs:         200,
		AdapterTimeoutMs: 180,
		DefaultTopK:      10,
		MaxTopK:          100,
		FetchMultiplier:  3,
		Normalization:    NormalizeMinMax,
		HybridBoost:      1.2,
	}
}

// Normalize 修正非法取值
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.BudgetMs <= 0 {
		c.BudgetMs = def.BudgetMs
	}
	if c.AdapterTimeoutMs <= 0 || c.AdapterTimeoutMs > c.BudgetMs {
		c.AdapterTimeoutMs = c.BudgetMs
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = def.DefaultTopK
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = def.MaxTopK
	}
	if c.DefaultTopK > c.MaxTopK {
		c.DefaultTopK = c.MaxTopK
	}
	if c.FetchMultiplier <= 0 {
		c.FetchMultiplier = 1
	}
	if c.Normalization != NormalizeRank {
		c.Normalization = NormalizeMinMax
	}
	if c.HybridBoost < 1 {
		c.HybridBoost = 1
	}
}

func (c *Config) Budget() time.Duration {
	return time.Duration(c.BudgetMs) * time.Millisecond
}

func (c *Config) AdapterTimeout() time.Duration {
	return time.Duration(c.AdapterTimeoutMs) * time.Millisecond
}

// ClampTopK 将请求的 topK 限制在 [1, MaxTopK]，<=0 取默认值
func (c *Config) ClampTopK(topK int) int {
	if topK <= 0 {
		return c.DefaultTopK
	}
	if topK > c.MaxTopK {
		return c.MaxTopK
	}
	return topK
}

// FetchK 每个来源的候选数量
func (c *Config) FetchK(topK int) int {
	return topK * c.FetchMultiplier
}
