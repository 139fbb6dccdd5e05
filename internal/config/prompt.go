package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptConfig is the externalized prompt template. System is used when the
// conversation has history; Simple is used for a first message and may
// reference {customer_message}. Params are substituted as {name} in both.
type PromptConfig struct {
	System           string            `yaml:"system"`
	Simple           string            `yaml:"simple"`
	Params           map[string]string `yaml:"params"`
	ForbiddenPhrases []string          `yaml:"forbidden_phrases"`
}

const defaultSystemPrompt = `你是{shop_name}的专业客服代表。请根据以下对话历史和客户的最新消息，生成合适的回复。

重要要求：
1. 仔细阅读对话历史，了解客户之前的问题和需求
2. 基于历史对话的上下文，给出连贯、相关的回复
3. 如果客户之前提到过具体需求（如预约、咨询等），要延续这个话题
4. 需要查询门店、技师、排班或可预约时间时，调用提供的函数，不要编造数据
5. 预约前需要客户的姓名和电话，询问时语气自然，每次换一种说法
6. 回复要礼貌、专业、简洁，使用中文回复

请直接回复客户的问题，不要添加额外的解释或前缀。`

const defaultSimplePrompt = `你是{shop_name}的专业客服代表，请根据客户的消息生成合适的回复。

要求：
1. 回复要礼貌、专业、有帮助
2. 语言要自然、友好
3. 尽量解决客户的问题或需求
4. 如果无法解决，要引导客户联系相关人员
5. 回复长度适中，使用中文回复

客户消息：{customer_message}

请直接回复客户的问题，不要添加额外的解释。`

func DefaultPrompt() *PromptConfig {
	return &PromptConfig{
		System: defaultSystemPrompt,
		Simple: defaultSimplePrompt,
		Params: map[string]string{"shop_name": "本店"},
		ForbiddenPhrases: []string{
			"方便给一个姓名和电话吗，预约会用短信的形式通知您",
		},
	}
}

// LoadPrompt reads a YAML prompt template. Fields missing from the file keep
// their built-in defaults. A template whose text contains one of its own
// forbidden phrases is rejected.
func LoadPrompt(path string) (*PromptConfig, error) {
	cfg := DefaultPrompt()
	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("cannot read prompt file %s: %w", path, err)
		}
		var file PromptConfig
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("cannot parse prompt file %s: %w", path, err)
		}
		if strings.TrimSpace(file.System) != "" {
			cfg.System = file.System
		}
		if strings.TrimSpace(file.Simple) != "" {
			cfg.Simple = file.Simple
		}
		for k, v := range file.Params {
			cfg.Params[k] = v
		}
		if file.ForbiddenPhrases != nil {
			cfg.ForbiddenPhrases = file.ForbiddenPhrases
		}
	}
	if hits := cfg.Lint(cfg.System + "\n" + cfg.Simple); len(hits) > 0 {
		return nil, fmt.Errorf("prompt template contains forbidden phrase %q", hits[0])
	}
	return cfg, nil
}

// Lint returns the forbidden phrases found in text.
func (p *PromptConfig) Lint(text string) []string {
	if p == nil {
		return nil
	}
	var hits []string
	for _, phrase := range p.ForbiddenPhrases {
		if phrase != "" && strings.Contains(text, phrase) {
			hits = append(hits, phrase)
		}
	}
	return hits
}

// Render substitutes {name} placeholders from Params and extra.
func (p *PromptConfig) Render(tmpl string, extra map[string]string) string {
	pairs := make([]string, 0, 2*(len(p.Params)+len(extra)))
	for k, v := range p.Params {
		if _, overridden := extra[k]; overridden {
			continue
		}
		pairs = append(pairs, "{"+k+"}", v)
	}
	for k, v := range extra {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
