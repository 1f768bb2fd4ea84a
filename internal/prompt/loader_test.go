package prompt

import (
	"strings"
	"testing"
)

func TestNewPromptLoader(t *testing.T) {
	loader := NewPromptLoader()
	if loader == nil {
		t.Fatal("NewPromptLoader() returned nil")
	}
}

func TestGetProbeSystemPrompt(t *testing.T) {
	loader := NewPromptLoader()
	content, err := loader.GetProbeSystemPrompt()

	if err != nil {
		t.Fatalf("GetProbeSystemPrompt() returned error: %v", err)
	}

	if content != "You are concise." {
		t.Errorf("GetProbeSystemPrompt() = %q, want %q", content, "You are concise.")
	}
}

func TestGetProbeUserPrompt(t *testing.T) {
	loader := NewPromptLoader()
	content, err := loader.GetProbeUserPrompt()

	if err != nil {
		t.Fatalf("GetProbeUserPrompt() returned error: %v", err)
	}

	// The prompt deliberately asks for an answer the YES|NO grammar refuses.
	if !strings.Contains(content, "MAYBE") {
		t.Error("GetProbeUserPrompt() does not mention MAYBE")
	}
	if strings.HasSuffix(content, "\n") {
		t.Error("GetProbeUserPrompt() is not trimmed")
	}
}
