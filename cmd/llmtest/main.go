package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/outreach-orchestrator/cmd/mainconfig"
	"github.com/wolfman30/outreach-orchestrator/internal/app/bootstrap"
	appconfig "github.com/wolfman30/outreach-orchestrator/internal/config"
	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/internal/generation"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	clients := mainconfig.BuildClients(ctx, cfg, logger)
	client, err := bootstrap.BuildLLMClient(ctx, cfg, clients.Bedrock, logger)
	if err != nil {
		fmt.Printf("failed to build LLM client: %v\n", err)
		os.Exit(1)
	}
	if client == nil {
		fmt.Printf("no LLM configured for provider %q; fallback texts will be printed\n", cfg.LLMProvider)
	}

	repo := leads.NewInMemoryRepository()
	lead, _, err := repo.Upsert(ctx, &leads.UpsertLeadRequest{
		Name:       "Jordan Sample",
		ProfileURL: "https://example.com/in/jordan-sample",
		Role:       "Head of Operations",
		Company:    "Sample Logistics",
	})
	if err != nil {
		fmt.Printf("failed to seed lead: %v\n", err)
		os.Exit(1)
	}

	bus := eventbus.New(50)
	gen := generation.NewService(client, repo, bus, logger,
		generation.WithContextTurns(cfg.ContextWindowTurns),
		generation.WithTimeout(cfg.GenerationTimeout),
	)

	fmt.Printf("provider: %s (fallback: %s)\n\n", cfg.LLMProvider, cfg.LLMFallbackProvider)

	start := time.Now()
	fmt.Printf("[opening] %s\n  (%v)\n\n", gen.GenerateOpening(ctx, lead), time.Since(start).Round(time.Millisecond))

	reply := "Thanks for reaching out. We are actually looking at this next quarter, can you send details?"
	start = time.Now()
	fmt.Printf("[reply] %s\n  (%v)\n\n", gen.GenerateReply(ctx, lead, reply), time.Since(start).Round(time.Millisecond))

	start = time.Now()
	c := gen.Classify(ctx, lead, reply)
	fmt.Printf("[classify] interest=%s action=%s summary=%q\n  (%v)\n\n", c.Interest, c.Action, c.Summary, time.Since(start).Round(time.Millisecond))

	for _, ev := range bus.History() {
		fmt.Printf("[event] %s %s\n", ev.Level, ev.Message)
	}
}
