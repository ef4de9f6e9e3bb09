package config

import (
	"reflect"
	"testing"
)

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	nested := map[string]any{
		"log_level": "info",
		"llm": map[string]any{
			"provider": "openai",
			"model":    "gpt-4o",
		},
		"knowledge": map[string]any{
			"endpoint": "https://search.example.net",
		},
	}

	flat := Flatten(nested)
	if flat["llm.provider"] != "openai" {
		t.Errorf("expected llm.provider=openai, got %v", flat["llm.provider"])
	}
	if flat["knowledge.endpoint"] != "https://search.example.net" {
		t.Errorf("unexpected knowledge.endpoint %v", flat["knowledge.endpoint"])
	}

	back := Unflatten(flat)
	if !reflect.DeepEqual(back, nested) {
		t.Errorf("round trip mismatch:\n%v\n%v", back, nested)
	}
}

func TestIsSecretKey(t *testing.T) {
	if !IsSecretKey("llm.api_key") {
		t.Error("llm.api_key should be secret")
	}
	if IsSecretKey("llm.model") {
		t.Error("llm.model should not be secret")
	}
}
