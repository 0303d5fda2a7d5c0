package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/craftpage/wizard-back/internal/domain"
)

// instructions are the per-section briefs operators paste ahead of the
// business context. Kept deliberately model-agnostic: the operator chooses
// the model.
var instructions = map[domain.RequestType]string{
	domain.RequestTypeContent:      "Write the full page copy for a small-business website. Return a JSON object with one key per section you produce.",
	domain.RequestTypeServices:     "Write the services section. Return a JSON object with an \"items\" array; each item has \"name\" and \"description\".",
	domain.RequestTypeHero:         "Write the hero section. Return a JSON object with \"title\" and optionally \"subtitle\" and \"cta\".",
	domain.RequestTypeAbout:        "Write the about section. Return a JSON object with \"body\" and optionally \"headline\".",
	domain.RequestTypeTestimonials: "Write plausible-but-generic testimonial placeholders the customer can replace. Return a JSON object with an \"items\" array of {\"quote\", \"author\"}.",
	domain.RequestTypeFAQ:          "Write a FAQ section. Return a JSON object with an \"items\" array of {\"question\", \"answer\"}.",
	domain.RequestTypeSEO:          "Write SEO metadata. Return a JSON object with \"title\" and \"description\" (under 160 characters).",
	domain.RequestTypeBlog:         "Write starter blog posts. Return a JSON object with a \"posts\" array of {\"title\", \"body\"}.",
	domain.RequestTypeContact:      "Write the contact section intro. Return a JSON object with \"headline\" and optionally \"body\".",
	domain.RequestTypeCustom:       "Follow the customer's brief below exactly. Return a JSON object.",
}

type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// OperatorPrompt renders the copy-paste prompt for one claimed request. The
// operator pastes it into their model of choice and pastes the JSON result
// back through the complete endpoint.
func (b *Builder) OperatorPrompt(request *domain.AiRequest) string {
	var out strings.Builder

	out.WriteString(fmt.Sprintf("## Generation request %s (%s)\n\n", request.ID, request.RequestType))

	brief, ok := instructions[request.RequestType]
	if !ok {
		brief = instructions[domain.RequestTypeCustom]
	}
	out.WriteString(brief)
	out.WriteString("\n\nBusiness context:\n")
	out.WriteString(renderPayload(request.RequestPayload))
	out.WriteString("\n\nReturn only the JSON object, no commentary.\n")
	return out.String()
}

func renderPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "(none provided)"
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return string(payload)
	}
	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return string(payload)
	}
	return string(pretty)
}
