package agent

import (
	"strings"

	"csbridge/internal/config"
	"csbridge/internal/domain"
)

// DefaultHistoryTurns is how many history items go into a prompt.
const DefaultHistoryTurns = 15

// PromptBuilder turns a customer message and its history into the message
// list sent to a provider.
type PromptBuilder struct {
	tmpl  *config.PromptConfig
	turns int
}

func NewPromptBuilder(tmpl *config.PromptConfig, turns int) *PromptBuilder {
	if tmpl == nil {
		tmpl = config.DefaultPrompt()
	}
	if turns <= 0 {
		turns = DefaultHistoryTurns
	}
	return &PromptBuilder{tmpl: tmpl, turns: turns}
}

// Build returns system prompt, history, then the customer turn. Without
// history the simple template is used with the message substituted in.
func (b *PromptBuilder) Build(customerMessage string, history []domain.Message) []domain.Message {
	if len(history) == 0 {
		system := b.tmpl.Render(b.tmpl.Simple, map[string]string{"customer_message": customerMessage})
		return []domain.Message{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: customerMessage},
		}
	}

	kept := make([]domain.Message, 0, len(history))
	for _, h := range history {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		role := domain.RoleAssistant
		if h.Role == domain.RoleUser {
			role = domain.RoleUser
		}
		kept = append(kept, domain.Message{Role: role, Content: h.Content})
	}
	if len(kept) > b.turns {
		kept = kept[len(kept)-b.turns:]
	}

	msgs := make([]domain.Message, 0, len(kept)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: b.tmpl.Render(b.tmpl.System, nil)})
	msgs = append(msgs, kept...)
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: customerMessage})
	return msgs
}

// Lint reports forbidden phrases in generated text.
func (b *PromptBuilder) Lint(text string) []string {
	return b.tmpl.Lint(text)
}
