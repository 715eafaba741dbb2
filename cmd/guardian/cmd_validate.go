// Package main - validate and batch commands.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"guardian/internal/safety"

	"github.com/spf13/cobra"
)

var (
	childID   string
	childAge  int
	convID    string
	batchFile string
	parallel  bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [message]",
	Short: "Validate a single message",
	Long: `Run one message through the full safety pipeline and print the verdict
plus the child-facing response text.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Validate a file of messages (one per line)",
	RunE:  runBatch,
}

func init() {
	for _, cmd := range []*cobra.Command{validateCmd, batchCmd} {
		cmd.Flags().StringVar(&childID, "child", "", "Child identifier")
		cmd.Flags().IntVar(&childAge, "age", 10, "Child age")
		cmd.Flags().StringVar(&convID, "conversation", "", "Conversation identifier")
	}
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "File with one message per line")
	batchCmd.Flags().BoolVar(&parallel, "parallel", true, "Validate in concurrent batches")
	batchCmd.MarkFlagRequired("file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sctx := safety.Context{ChildID: childID, ChildAge: childAge, ConversationID: convID}
	verdict := p.orchestrator.Validate(ctx, args[0], sctx)

	printVerdict(args[0], verdict)
	fmt.Printf("Response: %s\n", p.orchestrator.SafetyResponse(verdict, childAge))
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(batchFile)
	if err != nil {
		return fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	var items []safety.BatchItem
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		items = append(items, safety.BatchItem{
			Message: line,
			Context: safety.Context{ChildID: childID, ChildAge: childAge, ConversationID: convID},
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read batch file: %w", err)
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	results := p.orchestrator.ValidateBatch(ctx, items, safety.BatchOptions{
		Parallel:  parallel,
		BatchSize: cfg.Batch.Size,
	})

	unsafe := 0
	for i, v := range results {
		printVerdict(items[i].Message, v)
		if !v.IsSafe {
			unsafe++
		}
	}

	m := p.orchestrator.Metrics()
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Validated %d messages (%d flagged unsafe)\n", len(results), unsafe)
	fmt.Printf("Cache: %d hits / %d misses (%.0f%% hit rate), %d evictions\n",
		m.Cache.Hits, m.Cache.Misses, m.Cache.HitRate*100, m.Cache.Evictions)
	fmt.Printf("Fallback used on %d of %d validations; classifier healthy=%v\n",
		m.FallbackUses, m.Validations, m.ClassifierHealth.Healthy)
	return nil
}

func printVerdict(message string, v safety.Verdict) {
	status := "✅"
	if !v.IsSafe {
		status = "🚫"
	}
	flags := ""
	if len(v.FlaggedTerms) > 0 {
		flags = " [" + strings.Join(v.FlaggedTerms, ",") + "]"
	}
	suffix := ""
	if v.CacheHit {
		suffix = " (cached)"
	} else if v.FallbackUsed {
		suffix = " (fallback)"
	}
	fmt.Printf("%s severity=%d action=%-8s %dms%s%s  %.60q\n",
		status, v.Severity, v.Action, v.ProcessingTimeMs, flags, suffix, message)
}
