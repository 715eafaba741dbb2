// Package main - configuration check and event review commands.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guardian/internal/safety"
	"guardian/internal/store"

	"github.com/spf13/cobra"
)

var eventsLimit int

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate rule and template configuration",
	Long: `Load the rule set and response templates and report compilation errors.
A broken rule file does not stop the pipeline at runtime (it fails safe to
warn verdicts), so catch mistakes here before deploying.`,
	RunE: runCheckConfig,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List open safety events",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Maximum events to list")
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("🔍 Checking guardian configuration")
	fmt.Println(strings.Repeat("═", 50))

	rs, err := safety.LoadRuleSet(cfg.Rules.Path)
	if err != nil {
		fmt.Printf("❌ rules (%s): %v\n", cfg.Rules.Path, err)
	} else {
		fmt.Printf("✅ rules (%s): %d categories\n", cfg.Rules.Path, len(rs.Categories()))
		for _, cat := range rs.Categories() {
			fmt.Printf("   %-20s severity=%d action=%-8s patterns=%d\n",
				cat.Category, cat.Severity, cat.Action, len(cat.Patterns))
		}
	}

	if _, err := safety.LoadResponseTemplates(cfg.Responses.Path); err != nil {
		fmt.Printf("⚠️  templates (%s): %v (built-ins will be used)\n", cfg.Responses.Path, err)
	} else {
		fmt.Printf("✅ templates (%s)\n", cfg.Responses.Path)
	}

	if cfg.Classifier.APIKey == "" {
		fmt.Println("⚠️  no classifier API key; pipeline will run fallback-only")
	} else {
		fmt.Printf("✅ classifier: provider=%s model=%s\n", cfg.Classifier.Provider, cfg.Classifier.Model)
	}

	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.NewEscalationStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open escalation store: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := db.ListOpenEvents(ctx, eventsLimit)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No open safety events.")
		return nil
	}

	for _, ev := range events {
		fmt.Printf("%s  sev=%d  child=%s  %s\n    %s\n",
			ev.CreatedAt.Format(time.RFC3339), ev.Severity, ev.ChildID, ev.Reasoning, ev.TriggerContent)
	}
	return nil
}
