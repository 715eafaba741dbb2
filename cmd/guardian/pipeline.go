package main

import (
	"context"
	"fmt"

	"guardian/internal/config"
	"guardian/internal/notify"
	"guardian/internal/safety"
	"guardian/internal/store"
)

// pipeline bundles the assembled orchestrator with the resources that need
// closing when a command finishes.
type pipeline struct {
	orchestrator *safety.Orchestrator
	store        *store.EscalationStore
	watcher      *safety.RuleWatcher
}

// buildPipeline assembles the full validation pipeline from config.
// A missing classifier key is not fatal: the pipeline runs fallback-only.
func buildPipeline(cfg *config.Config) (*pipeline, error) {
	cache := safety.NewResultCache(safety.CacheOptions{
		MaxEntries:    cfg.Cache.MaxEntries,
		TTL:           cfg.CacheTTL(),
		SweepInterval: cfg.CacheSweepInterval(),
		AgeTolerance:  cfg.Cache.AgeTolerance,
	})
	cache.StartSweeper()

	rules := safety.NewRuleEngine(cfg.Rules.Path)

	var watcher *safety.RuleWatcher
	if cfg.Rules.WatchReload {
		w, err := safety.NewRuleWatcher(rules, cfg.Rules.Path)
		if err != nil {
			fmt.Printf("⚠️  rule watcher unavailable: %v\n", err)
		} else if err := w.Start(context.Background()); err != nil {
			fmt.Printf("⚠️  rule watcher failed to start: %v\n", err)
		} else {
			watcher = w
		}
	}

	var classifier safety.Classifier
	if c, err := safety.NewClassifierFromConfig(cfg); err == nil {
		classifier = c
	} else {
		fmt.Printf("⚠️  classifier unavailable (%v); running fallback-only\n", err)
	}

	templates, err := safety.LoadResponseTemplates(cfg.Responses.Path)
	if err != nil {
		fmt.Printf("⚠️  response templates: %v (using built-ins)\n", err)
	}

	db, err := store.NewEscalationStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open escalation store: %w", err)
	}

	orch := safety.NewOrchestrator(safety.OrchestratorOptions{
		Cache:      cache,
		Rules:      rules,
		Classifier: classifier,
		Fallback:   safety.NewFallbackValidator(),
		Health:     safety.NewClassifierHealth(cfg.FallbackFreshnessWindow()),
		Templates:  templates,
		Store:      db,
		Notifier:   notify.NewDispatcher(notify.LogChannel{}),
		BatchSize:  cfg.Batch.Size,
	})

	return &pipeline{orchestrator: orch, store: db, watcher: watcher}, nil
}

// close releases pipeline resources.
func (p *pipeline) close() {
	if p.watcher != nil {
		p.watcher.Stop()
	}
	p.orchestrator.Close()
	if p.store != nil {
		p.store.Close()
	}
}
