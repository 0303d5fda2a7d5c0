package quality

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/craftpage/wizard-back/internal/domain"
)

func TestValidateGeneratedContentPerType(t *testing.T) {
	cases := []struct {
		requestType domain.RequestType
		content     string
		wantErr     bool
	}{
		{domain.RequestTypeHero, `{"title":"Fresh bread"}`, false},
		{domain.RequestTypeHero, `{"subtitle":"no title"}`, true},
		{domain.RequestTypeHero, `{"title":""}`, true},
		{domain.RequestTypeSEO, `{"title":"t","description":"d"}`, false},
		{domain.RequestTypeSEO, `{"title":"t"}`, true},
		{domain.RequestTypeFAQ, `{"items":[{"question":"q","answer":"a"}]}`, false},
		{domain.RequestTypeFAQ, `{"items":[]}`, true},
		{domain.RequestTypeCustom, `{"anything":"goes"}`, false},
	}

	for _, testCase := range cases {
		err := ValidateGeneratedContent(testCase.requestType, json.RawMessage(testCase.content))
		if testCase.wantErr && !errors.Is(err, ErrContentRejected) {
			t.Errorf("%s %s: expected rejection, got %v", testCase.requestType, testCase.content, err)
		}
		if !testCase.wantErr && err != nil {
			t.Errorf("%s %s: expected valid, got %v", testCase.requestType, testCase.content, err)
		}
	}
}

func TestValidateGeneratedContentShape(t *testing.T) {
	if err := ValidateGeneratedContent(domain.RequestTypeHero, nil); !errors.Is(err, ErrContentRejected) {
		t.Fatalf("expected rejection for empty content, got %v", err)
	}
	if err := ValidateGeneratedContent(domain.RequestTypeHero, json.RawMessage(`"just a string"`)); !errors.Is(err, ErrContentRejected) {
		t.Fatalf("expected rejection for non-object, got %v", err)
	}

	oversized := `{"title":"` + strings.Repeat("x", maxContentBytes) + `"}`
	if err := ValidateGeneratedContent(domain.RequestTypeHero, json.RawMessage(oversized)); !errors.Is(err, ErrContentRejected) {
		t.Fatalf("expected rejection for oversized content, got %v", err)
	}
}
