package prompt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/craftpage/wizard-back/internal/domain"
)

func TestOperatorPromptIncludesBriefAndPayload(t *testing.T) {
	builder := NewBuilder()
	request := &domain.AiRequest{
		ID:             "req-1",
		RequestType:    domain.RequestTypeHero,
		RequestPayload: json.RawMessage(`{"business":"bakery in lisbon"}`),
	}

	rendered := builder.OperatorPrompt(request)
	if !strings.Contains(rendered, "hero") {
		t.Fatalf("expected section name in prompt: %s", rendered)
	}
	if !strings.Contains(rendered, `"title"`) {
		t.Fatalf("expected output contract in prompt: %s", rendered)
	}
	if !strings.Contains(rendered, "bakery in lisbon") {
		t.Fatalf("expected business context in prompt: %s", rendered)
	}
}

func TestOperatorPromptFallsBackForUnknownType(t *testing.T) {
	builder := NewBuilder()
	request := &domain.AiRequest{
		ID:          "req-2",
		RequestType: domain.RequestType("unmapped"),
	}

	rendered := builder.OperatorPrompt(request)
	if !strings.Contains(rendered, "brief below") {
		t.Fatalf("expected custom brief fallback: %s", rendered)
	}
	if !strings.Contains(rendered, "(none provided)") {
		t.Fatalf("expected empty payload marker: %s", rendered)
	}
}
