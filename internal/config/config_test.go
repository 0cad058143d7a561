package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("INBOX_POLL_INTERVAL", "")
	t.Setenv("FOLLOWUP_SWEEP_INTERVAL", "")
	t.Setenv("FOLLOWUP_AFTER_HOURS", "")
	t.Setenv("FOLLOWUP_CLAIM_TTL", "")
	t.Setenv("CONTEXT_WINDOW_TURNS", "")
	t.Setenv("EVENT_HISTORY_SIZE", "")
	t.Setenv("LLM_PROVIDER", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.InboxPollInterval != 30*time.Second {
		t.Fatalf("expected 30s inbox poll interval, got %s", cfg.InboxPollInterval)
	}
	if cfg.FollowUpSweepInterval != 30*time.Minute {
		t.Fatalf("expected 30m sweep interval, got %s", cfg.FollowUpSweepInterval)
	}
	if cfg.FollowUpAfter != 24*time.Hour {
		t.Fatalf("expected 24h follow-up threshold, got %s", cfg.FollowUpAfter)
	}
	if cfg.FollowUpClaimTTL != 15*time.Minute {
		t.Fatalf("expected 15m follow-up claim ttl, got %s", cfg.FollowUpClaimTTL)
	}
	if cfg.ContextWindowTurns != 20 {
		t.Fatalf("expected context window 20, got %d", cfg.ContextWindowTurns)
	}
	if cfg.EventHistorySize != 200 {
		t.Fatalf("expected history size 200, got %d", cfg.EventHistorySize)
	}
	if cfg.LLMProvider != "gemini" {
		t.Fatalf("expected gemini provider, got %s", cfg.LLMProvider)
	}
	if !cfg.SchedulerEnabled {
		t.Fatalf("expected scheduler enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("INBOX_POLL_INTERVAL", "45s")
	t.Setenv("FOLLOWUP_AFTER_HOURS", "48")
	t.Setenv("CONTEXT_WINDOW_TURNS", "30")
	t.Setenv("LLM_PROVIDER", " OpenAI ")
	t.Setenv("SCHEDULER_ENABLED", "false")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected database url override, got %s", cfg.DatabaseURL)
	}
	if cfg.InboxPollInterval != 45*time.Second {
		t.Fatalf("expected 45s, got %s", cfg.InboxPollInterval)
	}
	if cfg.FollowUpAfter != 48*time.Hour {
		t.Fatalf("expected 48h, got %s", cfg.FollowUpAfter)
	}
	if cfg.ContextWindowTurns != 30 {
		t.Fatalf("expected 30 turns, got %d", cfg.ContextWindowTurns)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected normalized provider, got %q", cfg.LLMProvider)
	}
	if cfg.SchedulerEnabled {
		t.Fatalf("expected scheduler disabled")
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("JOB_CEILING", "soon")
	cfg := Load()
	if cfg.JobCeiling != 5*time.Minute {
		t.Fatalf("expected default ceiling, got %s", cfg.JobCeiling)
	}
}
