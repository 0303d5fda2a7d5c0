package quality

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/craftpage/wizard-back/internal/domain"
)

var ErrContentRejected = errors.New("generated content failed validation")

const maxContentBytes = 128 * 1024

// requiredKeys lists the top-level keys an operator's pasted result must
// carry per request type. Custom and free-form content carry no contract.
var requiredKeys = map[domain.RequestType][]string{
	domain.RequestTypeHero:         {"title"},
	domain.RequestTypeAbout:        {"body"},
	domain.RequestTypeServices:     {"items"},
	domain.RequestTypeTestimonials: {"items"},
	domain.RequestTypeFAQ:          {"items"},
	domain.RequestTypeSEO:          {"title", "description"},
	domain.RequestTypeBlog:         {"posts"},
	domain.RequestTypeContact:      {"headline"},
}

// ValidateGeneratedContent gates the processing -> completed transition on
// the admin-supplied result being a well-formed document for its type.
func ValidateGeneratedContent(requestType domain.RequestType, content json.RawMessage) error {
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return fmt.Errorf("%w: empty result", ErrContentRejected)
	}
	if len(content) > maxContentBytes {
		return fmt.Errorf("%w: result exceeds %d bytes", ErrContentRejected, maxContentBytes)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(content, &decoded); err != nil {
		return fmt.Errorf("%w: result is not a JSON object", ErrContentRejected)
	}

	for _, key := range requiredKeys[requestType] {
		value, ok := decoded[key]
		if !ok || isEmptyValue(value) {
			return fmt.Errorf("%w: missing %q for %s result", ErrContentRejected, key, requestType)
		}
	}
	return nil
}

func isEmptyValue(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}
