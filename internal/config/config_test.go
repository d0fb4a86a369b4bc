package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("ICE_SERVERS_JSON", "")
	os.Setenv("OPEN_ROUTER_MODEL_ID", "")
	os.Setenv("INTAKE_PIVOT_QUESTION_ID", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.ICEServersJSON == "" {
		t.Fatalf("expected default ice servers json")
	}
	if cfg.OpenRouterModel == "" {
		t.Fatalf("expected default openrouter model id")
	}
	if cfg.PivotQuestionID != "severity" {
		t.Fatalf("expected default pivot question id, got %q", cfg.PivotQuestionID)
	}
	if cfg.SilenceWindow != 2*time.Second {
		t.Fatalf("expected default silence window 2s, got %s", cfg.SilenceWindow)
	}
}

func TestEnvInt_RejectsGarbage(t *testing.T) {
	os.Setenv("DEEPGRAM_ENDPOINTING_MS", "nope")
	defer os.Unsetenv("DEEPGRAM_ENDPOINTING_MS")
	if got := envInt("DEEPGRAM_ENDPOINTING_MS", 300); got != 300 {
		t.Fatalf("expected fallback 300, got %d", got)
	}
	os.Setenv("DEEPGRAM_ENDPOINTING_MS", "450")
	if got := envInt("DEEPGRAM_ENDPOINTING_MS", 300); got != 450 {
		t.Fatalf("expected 450, got %d", got)
	}
}
