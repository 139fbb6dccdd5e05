package agent

import (
	"fmt"
	"strings"
	"testing"

	"csbridge/internal/config"
	"csbridge/internal/domain"
)

// --- Memory ---

func TestMemory_CapIsFIFO(t *testing.T) {
	m := NewMemory(0)
	for i := 0; i < 45; i++ {
		m.Append("c", domain.RoleUser, fmt.Sprintf("msg-%d", i))
		if m.Len("c") > DefaultMemoryLimit {
			t.Fatalf("memory exceeded cap: %d", m.Len("c"))
		}
	}
	got := m.Get("c")
	if len(got) != 30 {
		t.Fatalf("expected 30 turns, got %d", len(got))
	}
	if got[0].Content != "msg-15" || got[29].Content != "msg-44" {
		t.Fatalf("expected oldest dropped, got %s..%s", got[0].Content, got[29].Content)
	}
}

func TestMemory_SetCopiesAndTrims(t *testing.T) {
	m := NewMemory(3)
	src := []domain.Message{{Content: "a"}, {Content: "b"}, {Content: "c"}, {Content: "d"}}
	m.Set("c", src)
	src[3].Content = "mutated"

	got := m.Get("c")
	if len(got) != 3 || got[0].Content != "b" || got[2].Content != "d" {
		t.Fatalf("unexpected memory %+v", got)
	}
	got[0].Content = "changed"
	if m.Get("c")[0].Content != "b" {
		t.Fatal("Get should return a copy")
	}
}

func TestMemory_ClearAndTotal(t *testing.T) {
	m := NewMemory(10)
	m.Append("a", domain.RoleUser, "1")
	m.Append("a", domain.RoleAssistant, "2")
	m.Append("b", domain.RoleUser, "3")
	if m.Total() != 3 {
		t.Fatalf("expected 3, got %d", m.Total())
	}
	if n := m.Clear("a"); n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if m.Len("a") != 0 || m.Total() != 1 {
		t.Fatal("clear did not drop the conversation")
	}
}

// --- PromptBuilder ---

func TestPromptBuilder_LastTurnsOnly(t *testing.T) {
	b := NewPromptBuilder(config.DefaultPrompt(), 0)
	var history []domain.Message
	for i := 0; i < 20; i++ {
		history = append(history, domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("h%d", i)})
	}
	msgs := b.Build("现在", history)
	if len(msgs) != 1+DefaultHistoryTurns+1 {
		t.Fatalf("expected %d messages, got %d", DefaultHistoryTurns+2, len(msgs))
	}
	if msgs[1].Content != "h5" {
		t.Fatalf("expected history to start at h5, got %s", msgs[1].Content)
	}
	if msgs[len(msgs)-1].Content != "现在" || msgs[len(msgs)-1].Role != domain.RoleUser {
		t.Fatalf("last message should be the customer turn, got %+v", msgs[len(msgs)-1])
	}
}

func TestPromptBuilder_RolesAndParams(t *testing.T) {
	tmpl := config.DefaultPrompt()
	tmpl.Params["shop_name"] = "名医堂"
	b := NewPromptBuilder(tmpl, 5)

	msgs := b.Build("好的", []domain.Message{
		{Role: domain.RoleUser, Content: "约明天"},
		{Role: domain.RoleSystem, Content: "内部备注"},
		{Role: domain.RoleAssistant, Content: ""},
	})
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "名医堂") || strings.Contains(msgs[0].Content, "{shop_name}") {
		t.Fatalf("params not substituted: %q", msgs[0].Content)
	}
	if msgs[2].Role != domain.RoleAssistant {
		t.Fatalf("non-user history should map to assistant, got %s", msgs[2].Role)
	}
}
