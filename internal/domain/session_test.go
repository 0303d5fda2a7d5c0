package domain

import (
	"encoding/json"
	"testing"
)

func TestDraftDataMergeOverwritesTopLevelKeys(t *testing.T) {
	base := DraftData{
		"hero":     json.RawMessage(`{"title":"A","subtitle":"keep me?"}`),
		"business": json.RawMessage(`{"industry":"food"}`),
	}
	fragment := DraftData{
		"hero": json.RawMessage(`{"title":"B"}`),
		"faq":  json.RawMessage(`{"items":[]}`),
	}

	merged := base.Merge(fragment)

	// Top-level replacement: the old hero subtitle does not survive.
	if string(merged["hero"]) != `{"title":"B"}` {
		t.Fatalf("expected hero to be replaced wholesale, got %s", merged["hero"])
	}
	if string(merged["business"]) != `{"industry":"food"}` {
		t.Fatalf("expected untouched key to survive, got %s", merged["business"])
	}
	if _, ok := merged["faq"]; !ok {
		t.Fatalf("expected new key to be added")
	}

	// The receiver is never mutated.
	if string(base["hero"]) != `{"title":"A","subtitle":"keep me?"}` {
		t.Fatalf("merge mutated its receiver: %s", base["hero"])
	}
}

func TestDraftDataMergeIntoNil(t *testing.T) {
	var base DraftData
	merged := base.Merge(DraftData{"hero": json.RawMessage(`{"title":"A"}`)})
	if len(merged) != 1 {
		t.Fatalf("expected one key, got %d", len(merged))
	}
}

func TestDraftDataCloneIsDeep(t *testing.T) {
	base := DraftData{"hero": json.RawMessage(`{"title":"A"}`)}
	clone := base.Clone()
	clone["hero"][2] = 'X'
	if string(base["hero"]) != `{"title":"A"}` {
		t.Fatalf("clone shares backing array with original")
	}
}

func TestSaveModeValid(t *testing.T) {
	if !SaveModeAdvance.Valid() || !SaveModeResumeTo.Valid() {
		t.Fatalf("expected built-in modes to be valid")
	}
	if SaveMode("rewind").Valid() {
		t.Fatalf("expected unknown mode to be invalid")
	}
}
