package provider

// NewZhipu creates the Zhipu GLM adapter. It speaks the OpenAI schema but is
// not offered tools.
func NewZhipu(cfg OpenAIConfig) *OpenAI {
	cfg.Label = "zhipu"
	if cfg.APIBase == "" {
		cfg.APIBase = "https://open.bigmodel.cn/api/paas/v4"
	}
	if cfg.Model == "" {
		cfg.Model = "GLM-4-Flash-250414"
	}
	return newCompatible(cfg, false)
}

// NewDeepSeek creates the DeepSeek adapter, also without tools.
func NewDeepSeek(cfg OpenAIConfig) *OpenAI {
	cfg.Label = "deepseek"
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.deepseek.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	return newCompatible(cfg, false)
}
