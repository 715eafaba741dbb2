package safety

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"guardian/internal/logging"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// COLLABORATOR BOUNDARIES
// =============================================================================

// SafetyEvent is the record handed to the persistence collaborator when a
// message reaches severity 2 or higher.
type SafetyEvent struct {
	ID             string
	EventType      string
	Severity       Severity
	ChildID        string
	ConversationID string
	TriggerContent string
	Reasoning      string
	Status         string
	NotifiedAt     *time.Time
	CreatedAt      time.Time
}

// ParentNotification is the record created during escalation.
type ParentNotification struct {
	ID             string
	EventID        string
	ChildID        string
	ParentEmail    string
	Severity       Severity
	TriggerContent string
	ResponseText   string
	DeliveryStatus string
	CreatedAt      time.Time
	NotifiedAt     *time.Time
}

// Notification delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Safety event statuses.
const (
	EventStatusOpen      = "open"
	EventStatusEscalated = "escalated"
)

// ChildRecord is the child/parent lookup needed for escalation.
type ChildRecord struct {
	ID          string
	Name        string
	Age         int
	ParentEmail string
}

// EventStore is the persistence collaborator boundary. Implementations own
// storage lifecycle; the pipeline only creates and updates records.
type EventStore interface {
	CreateSafetyEvent(ctx context.Context, ev *SafetyEvent) error
	UpdateEventStatus(ctx context.Context, eventID, status string, notifiedAt *time.Time) error
	CreateParentNotification(ctx context.Context, n *ParentNotification) error
	UpdateNotificationStatus(ctx context.Context, notificationID, status string, notifiedAt *time.Time) error
	GetChild(ctx context.Context, childID string) (*ChildRecord, error)
}

// Notifier is the outbound notification collaborator boundary.
// The delivered boolean is recorded onto the notification's status.
type Notifier interface {
	Deliver(ctx context.Context, recipient, childName string, severity Severity, trigger, responseText string) (bool, error)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Metrics is the read-only observability surface for dashboards.
type Metrics struct {
	Cache            CacheStats   `json:"cache"`
	ClassifierHealth HealthStatus `json:"classifier_health"`
	Validations      uint64       `json:"validations"`
	FallbackUses     uint64       `json:"fallback_uses"`
	Escalations      uint64       `json:"escalations"`
}

// OrchestratorOptions assembles a pipeline. Store and Notifier may be nil in
// library-only use; escalation then degrades to logging.
type OrchestratorOptions struct {
	Cache      *ResultCache
	Rules      *RuleEngine
	Classifier Classifier
	Fallback   *FallbackValidator
	Health     *ClassifierHealth
	Templates  *ResponseTemplates
	Store      EventStore
	Notifier   Notifier
	BatchSize  int
}

// DefaultBatchSize is the per-chunk size for parallel batch validation.
const DefaultBatchSize = 5

// Orchestrator is the pipeline entry point. It consults the cache, chooses
// between fallback-only and parallel evaluation, combines results under
// most-restrictive-wins, and drives logging and escalation. Validate never
// panics and never returns an error: the caller always gets a verdict.
type Orchestrator struct {
	cache      *ResultCache
	rules      *RuleEngine
	classifier Classifier
	fallback   *FallbackValidator
	health     *ClassifierHealth
	templates  *ResponseTemplates
	store      EventStore
	notifier   Notifier
	batchSize  int

	validations  atomic.Uint64
	fallbackUses atomic.Uint64
	escalations  atomic.Uint64
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Cache == nil {
		opts.Cache = NewResultCache(CacheOptions{})
	}
	if opts.Fallback == nil {
		opts.Fallback = NewFallbackValidator()
	}
	if opts.Health == nil {
		opts.Health = NewClassifierHealth(DefaultFreshnessWindow)
	}
	if opts.Templates == nil {
		opts.Templates = NewResponseTemplates(nil, nil)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	return &Orchestrator{
		cache:      opts.Cache,
		rules:      opts.Rules,
		classifier: opts.Classifier,
		fallback:   opts.Fallback,
		health:     opts.Health,
		templates:  opts.Templates,
		store:      opts.Store,
		notifier:   opts.Notifier,
		batchSize:  opts.BatchSize,
	}
}

// Validate runs the full pipeline for one message and returns a verdict.
//
// Steps, strictly ordered for a single message: cache lookup; fallback-only
// or parallel classifier+rules evaluation; combine; annotate; conditional
// cache store; conditional event logging; conditional escalation. Across
// messages there is no ordering guarantee.
func (o *Orchestrator) Validate(ctx context.Context, message string, sctx Context) (v Verdict) {
	start := time.Now()
	o.validations.Add(1)

	// Outermost guard: an unexpected failure anywhere must yield the most
	// conservative verdict, never a silent "safe".
	defer func() {
		if r := recover(); r != nil {
			logging.ValidationError("validation panic recovered: %v", r)
			v = FailSafeVerdict("internal validation error")
			v.ProcessingTimeMs = time.Since(start).Milliseconds()
		}
	}()

	// 1. Cache lookup.
	if cached, ok := o.cache.Get(message, sctx.ChildAge, sctx.RecentMessages); ok {
		cached.CacheHit = true
		cached.ProcessingTimeMs = time.Since(start).Milliseconds()
		logging.ValidationDebug("cache hit: child=%s severity=%d", sctx.ChildID, cached.Severity)
		return cached
	}

	// 2. Choose path and evaluate.
	aiVerdict, ruleVerdict, fallbackUsed := o.evaluate(ctx, message, sctx)
	if fallbackUsed {
		o.fallbackUses.Add(1)
	}

	// 3-4. Combine and annotate.
	combined := Combine(aiVerdict, ruleVerdict)
	combined.FallbackUsed = combined.FallbackUsed || fallbackUsed
	combined.ProcessingTimeMs = time.Since(start).Milliseconds()

	// 5. Cache (severity<3 exclusion enforced by the cache itself).
	o.cache.Set(message, sctx.ChildAge, combined, sctx.RecentMessages)

	// 6-7. Log and escalate. Failures here never affect the verdict.
	if combined.Severity >= SeverityRedirect {
		event := o.persistEvent(ctx, message, sctx, combined)
		if combined.Severity >= SeverityEscalate {
			o.escalate(ctx, message, sctx, combined, event)
		}
	}

	logging.Validation("validated: child=%s severity=%d action=%s fallback=%v elapsed=%dms",
		sctx.ChildID, combined.Severity, combined.Action, combined.FallbackUsed, combined.ProcessingTimeMs)

	return combined
}

// evaluate runs either the fallback-only path or the parallel
// classifier+rules path, with per-side failure isolation.
func (o *Orchestrator) evaluate(ctx context.Context, message string, sctx Context) (ai, rule Verdict, fallbackUsed bool) {
	if o.classifier == nil || o.health.ShouldUseFallback() {
		// Fallback result feeds both sides so downstream combination
		// logic stays uniform.
		logging.FallbackDebug("using fallback path for child=%s", sctx.ChildID)
		fb := o.fallback.Evaluate(message, sctx)
		return fb, fb, true
	}

	// Both subtasks always join; one failing must not fail the other.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		verdict, err := o.classifier.Classify(gctx, message, sctx.ChildAge, contextString(sctx))
		if err != nil {
			logging.ClassifierWarn("classifier call failed: %v", err)
			o.health.MarkDown()
			ai = o.fallback.Evaluate(message, sctx)
			fallbackUsed = true
			return nil
		}
		o.health.MarkUp()
		ai = verdict
		return nil
	})

	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				logging.RulesError("rule evaluation panic recovered: %v", r)
				rule = ConfigErrorVerdict()
			}
		}()
		if o.rules == nil {
			rule = ConfigErrorVerdict()
			return nil
		}
		rule = o.rules.Evaluate(message)
		return nil
	})

	// Goroutines report failures through their verdicts, never as errors.
	_ = g.Wait()

	return ai, rule, fallbackUsed
}

// contextString flattens the most recent context messages for the
// classifier request.
func contextString(sctx Context) string {
	n := len(sctx.RecentMessages)
	if n > contextKeyDepth {
		n = contextKeyDepth
	}
	return strings.Join(sctx.RecentMessages[:n], " | ")
}

// persistEvent writes a safety event via the store. PersistenceFailure is
// logged and swallowed: the returned verdict is unaffected.
func (o *Orchestrator) persistEvent(ctx context.Context, message string, sctx Context, verdict Verdict) *SafetyEvent {
	event := &SafetyEvent{
		ID:             uuid.NewString(),
		EventType:      "content_flagged",
		Severity:       verdict.Severity,
		ChildID:        sctx.ChildID,
		ConversationID: sctx.ConversationID,
		TriggerContent: message,
		Reasoning:      verdict.Reason,
		Status:         EventStatusOpen,
		CreatedAt:      time.Now(),
	}

	if o.store == nil {
		logging.EscalationDebug("no store configured; event %s not persisted", event.ID)
		return event
	}

	if err := o.store.CreateSafetyEvent(ctx, event); err != nil {
		logging.EscalationError("failed to persist safety event: %v", err)
	}
	return event
}

// escalate runs the severity-3 workflow: child lookup, response generation,
// notification record, delivery attempt, status update. Every failure here
// is caught and logged; escalation never causes Validate to fail.
func (o *Orchestrator) escalate(ctx context.Context, message string, sctx Context, verdict Verdict, event *SafetyEvent) {
	defer func() {
		if r := recover(); r != nil {
			logging.EscalationError("escalation panic recovered: %v", r)
		}
	}()

	o.escalations.Add(1)
	logging.Escalation("escalating: child=%s event=%s reason=%q", sctx.ChildID, event.ID, verdict.Reason)

	if o.store == nil {
		logging.EscalationWarn("no store configured; escalation for child=%s logged only", sctx.ChildID)
		return
	}

	child, err := o.store.GetChild(ctx, sctx.ChildID)
	if err != nil {
		logging.EscalationError("child lookup failed for %s: %v", sctx.ChildID, err)
		return
	}

	responseText := o.templates.Select(verdict, child.Age)

	notification := &ParentNotification{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		ChildID:        child.ID,
		ParentEmail:    child.ParentEmail,
		Severity:       verdict.Severity,
		TriggerContent: message,
		ResponseText:   responseText,
		DeliveryStatus: DeliveryPending,
		CreatedAt:      time.Now(),
	}
	if err := o.store.CreateParentNotification(ctx, notification); err != nil {
		logging.EscalationError("failed to create parent notification: %v", err)
		return
	}

	status := DeliveryFailed
	var notifiedAt *time.Time
	if o.notifier != nil {
		delivered, err := o.notifier.Deliver(ctx, child.ParentEmail, child.Name, verdict.Severity, message, responseText)
		if err != nil {
			logging.NotifyError("notification delivery errored: %v", err)
		}
		if delivered {
			status = DeliveryDelivered
			now := time.Now()
			notifiedAt = &now
		}
	} else {
		logging.NotifyWarn("no notifier configured; notification %s left undelivered", notification.ID)
	}

	// Delivery status must reflect the actual outcome, including failure.
	if err := o.store.UpdateNotificationStatus(ctx, notification.ID, status, notifiedAt); err != nil {
		logging.EscalationError("failed to update notification status: %v", err)
	}
	if err := o.store.UpdateEventStatus(ctx, event.ID, EventStatusEscalated, notifiedAt); err != nil {
		logging.EscalationError("failed to update event status: %v", err)
	}

	logging.Escalation("escalation complete: event=%s notification=%s delivery=%s", event.ID, notification.ID, status)
}

// SafetyResponse returns the age-appropriate, child-facing response text for
// a verdict. The child never sees raw errors regardless of which layer
// produced the verdict.
func (o *Orchestrator) SafetyResponse(verdict Verdict, age int) string {
	return o.templates.Select(verdict, age)
}

// =============================================================================
// BATCH MODE
// =============================================================================

// BatchItem is one message to validate with its context.
type BatchItem struct {
	Message string
	Context Context
}

// BatchOptions controls batch validation.
type BatchOptions struct {
	Parallel  bool
	BatchSize int
}

// ValidateBatch validates items sequentially or in fixed-size concurrent
// chunks. Per-item failures are isolated; one message's error never fails
// the batch (Validate already converts failures to fail-safe verdicts).
// Results are positionally aligned with items.
func (o *Orchestrator) ValidateBatch(ctx context.Context, items []BatchItem, opts BatchOptions) []Verdict {
	results := make([]Verdict, len(items))

	if !opts.Parallel {
		for i, item := range items {
			results[i] = o.Validate(ctx, item.Message, item.Context)
		}
		return results
	}

	size := opts.BatchSize
	if size <= 0 {
		size = o.batchSize
	}

	for offset := 0; offset < len(items); offset += size {
		end := offset + size
		if end > len(items) {
			end = len(items)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := offset; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = o.Validate(gctx, items[i].Message, items[i].Context)
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

// Metrics returns current pipeline counters and collaborator health.
// Read-only; no side effects.
func (o *Orchestrator) Metrics() Metrics {
	return Metrics{
		Cache:            o.cache.Stats(),
		ClassifierHealth: o.health.Status(),
		Validations:      o.validations.Load(),
		FallbackUses:     o.fallbackUses.Load(),
		Escalations:      o.escalations.Load(),
	}
}

// Close stops background maintenance owned by the pipeline.
func (o *Orchestrator) Close() {
	o.cache.StopSweeper()
}
