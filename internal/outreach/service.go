// Package outreach runs the outreach pipelines: the inbound cycle, the
// follow-up sweep and the operator-triggered sends. Each pipeline commits
// per item, so a partial batch is safe to re-run.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/internal/generation"
	"github.com/wolfman30/outreach-orchestrator/internal/inbox"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// Job names.
const (
	JobInboxPoll      = "inbox_poll"
	JobFollowUpSweep  = "follow_up_sweep"
	JobInitialSend    = "initial_send"
	JobManualFollowUp = "manual_follow_up"
)

// ErrNotContacted is returned for a manual follow-up to a lead never messaged.
var ErrNotContacted = errors.New("outreach: lead has not been contacted")

// Channel is the outbound messaging capability.
type Channel interface {
	Login(ctx context.Context, username, password string) bool
	// SendInitialMessage returns the thread the message landed in, when the
	// channel reports one.
	SendInitialMessage(ctx context.Context, profileURL, text string) (threadURL string, ok bool)
	SendReply(ctx context.Context, threadURL, text string) bool
	FetchRecentInbound(ctx context.Context, limit int, allowedProfiles []string) []inbox.Message
}

// Generator drafts messages and classifies replies.
type Generator interface {
	GenerateOpening(ctx context.Context, lead *leads.Lead) string
	GenerateFollowUp(ctx context.Context, lead *leads.Lead) string
	GenerateReply(ctx context.Context, lead *leads.Lead, inbound string) string
	Classify(ctx context.Context, lead *leads.Lead, reply string) generation.Classification
}

// Notifier is told when a lead turns interested.
type Notifier interface {
	LeadInterested(ctx context.Context, lead *leads.Lead, c generation.Classification) error
}

// Config holds pipeline tunables.
type Config struct {
	FetchLimit       int
	FollowUpAfter    time.Duration
	// FollowUpClaimTTL is how long an unfinished follow-up blocks other
	// senders of the same lead.
	FollowUpClaimTTL time.Duration
	Username         string
	Password         string
}

// Service wires the pipelines to their collaborators.
type Service struct {
	repo     leads.Repository
	channel  Channel
	gen      Generator
	matcher  *inbox.Matcher
	guard    *inbox.Guard
	notifier Notifier
	bus      *eventbus.Bus
	logger   *logging.Logger
	tracer   trace.Tracer
	cfg      Config
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier sets the interested-lead notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the outreach service.
func NewService(repo leads.Repository, channel Channel, gen Generator, matcher *inbox.Matcher, guard *inbox.Guard, bus *eventbus.Bus, logger *logging.Logger, cfg Config, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 30
	}
	if cfg.FollowUpAfter <= 0 {
		cfg.FollowUpAfter = 24 * time.Hour
	}
	if cfg.FollowUpClaimTTL <= 0 {
		cfg.FollowUpClaimTTL = 15 * time.Minute
	}
	s := &Service{
		repo:    repo,
		channel: channel,
		gen:     gen,
		matcher: matcher,
		guard:   guard,
		bus:     bus,
		logger:  logger,
		tracer:  otel.Tracer("outreach.internal.outreach"),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login signs the channel in with the configured credentials.
func (s *Service) Login(ctx context.Context) ItemResult {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		s.bus.Warn("Channel credentials not configured", nil)
		return skipped("login", "", ReasonNoCredentials)
	}
	if !s.channel.Login(ctx, s.cfg.Username, s.cfg.Password) {
		return failed("login", "", ReasonChannelFailure)
	}
	return success("login", "")
}

// abandon reports whether the invocation ceiling has passed. It is only
// consulted between items.
func abandon(ctx context.Context, report *Report) bool {
	if ctx.Err() != nil {
		report.Abandoned = true
		return true
	}
	return false
}

func (s *Service) finish(report *Report) *Report {
	report.FinishedAt = s.now()
	return report
}

// PollInbox runs one inbound cycle.
func (s *Service) PollInbox(ctx context.Context) *Report {
	report := NewReport(JobInboxPoll, s.now())

	allowed, err := s.repo.ContactedProfileURLs(ctx)
	if err != nil {
		s.logger.Error("failed to load contacted profiles", "error", err)
		report.add(failed("contacted_profiles", "", fmt.Sprintf("%s: %v", ReasonStoreError, err)))
		return s.finish(report)
	}
	if len(allowed) == 0 {
		s.logger.Debug("no contacted leads; skipping inbox fetch")
		return s.finish(report)
	}

	messages := s.channel.FetchRecentInbound(context.WithoutCancel(ctx), s.cfg.FetchLimit, allowed)
	for _, msg := range messages {
		if abandon(ctx, report) {
			break
		}
		report.add(s.handleInbound(context.WithoutCancel(ctx), msg))
	}
	return s.finish(report)
}

func messageKey(msg inbox.Message) string {
	ref := msg.ProfileURL
	if ref == "" {
		ref = msg.ParticipantName
	}
	return inbox.Token(msg.ObservedAt, ref)
}

func (s *Service) handleInbound(ctx context.Context, msg inbox.Message) (result ItemResult) {
	key := messageKey(msg)
	ctx, span := s.tracer.Start(ctx, "outreach.inbound_message")
	defer func() {
		span.SetAttributes(
			attribute.String("outreach.lead_id", result.LeadID),
			attribute.String("outreach.outcome", string(result.Outcome)),
			attribute.String("outreach.reason", result.Reason),
		)
		span.End()
	}()

	if !msg.Actionable() {
		return skipped(key, "", ReasonNotIncoming)
	}

	match, err := s.matcher.Match(ctx, msg)
	if err != nil {
		s.logger.Error("failed to match inbound message", "error", err, "key", key)
		return failed(key, "", fmt.Sprintf("%s: %v", ReasonMatchError, err))
	}
	if match.Lead == nil {
		s.logger.Info("discarding inbound message with no lead", "key", key)
		return skipped(key, "", ReasonNoLead)
	}
	lead := match.Lead

	decision, err := s.guard.Check(ctx, lead, msg)
	if err != nil {
		s.logger.Error("dedup guard failed", "error", err, "lead_id", lead.ID)
		return failed(key, lead.ID, fmt.Sprintf("%s: %v", ReasonGuardError, err))
	}
	if !decision.Accepted {
		s.logger.Debug("inbound message already handled", "lead_id", lead.ID, "reason", decision.Reason)
		return skipped(key, lead.ID, string(decision.Reason))
	}

	at := s.now()
	inboundAt := msg.ObservedAt
	if inboundAt.IsZero() {
		inboundAt = at
	}
	ok, err := s.repo.Apply(ctx, lead.ID, leads.EventInboundAccepted, at, &leads.Turn{
		Role:      leads.TurnInbound,
		Content:   msg.Text,
		Timestamp: inboundAt,
	})
	if err != nil {
		s.logger.Error("failed to record inbound message", "error", err, "lead_id", lead.ID)
		return failed(key, lead.ID, fmt.Sprintf("%s: %v", ReasonStoreError, err))
	}
	if !ok {
		s.logger.Warn("inbound message for lead that was never contacted", "lead_id", lead.ID, "state", lead.State)
		return skipped(key, lead.ID, ReasonNotContacted)
	}

	threadURL := lead.ThreadURL
	if msg.ThreadURL != "" && msg.ThreadURL != lead.ThreadURL {
		threadURL = msg.ThreadURL
		if err := s.repo.SetThreadURL(ctx, lead.ID, threadURL); err != nil {
			s.logger.Warn("failed to store thread url", "error", err, "lead_id", lead.ID)
		}
	}

	s.bus.Info(fmt.Sprintf("New reply from %s", lead.Name), map[string]any{
		"lead_id": lead.ID,
		"match":   string(match.Kind),
	})

	s.classify(ctx, lead, msg.Text)

	reply := s.gen.GenerateReply(ctx, lead, msg.Text)
	if !s.channel.SendReply(ctx, threadURL, reply) {
		return failed(key, lead.ID, ReasonSendFailed)
	}

	ok, err = s.repo.Apply(ctx, lead.ID, leads.EventResponded, s.now(), &leads.Turn{
		Role:    leads.TurnOutbound,
		Content: reply,
	})
	if err != nil {
		s.logger.Error("failed to record reply", "error", err, "lead_id", lead.ID)
		return failed(key, lead.ID, fmt.Sprintf("%s: %v", ReasonStoreError, err))
	}
	if !ok {
		s.logger.Warn("reply sent but lead moved on", "lead_id", lead.ID)
		return failed(key, lead.ID, ReasonStateChanged)
	}

	s.bus.Success(fmt.Sprintf("Replied to %s", lead.Name), map[string]any{"lead_id": lead.ID})
	return success(key, lead.ID)
}

func (s *Service) classify(ctx context.Context, lead *leads.Lead, text string) {
	c := s.gen.Classify(ctx, lead, text)
	if c.Interest == "" || c.Interest == lead.InterestLevel {
		return
	}
	if err := s.repo.SetInterest(ctx, lead.ID, c.Interest); err != nil {
		s.logger.Warn("failed to store interest", "error", err, "lead_id", lead.ID)
		return
	}
	s.bus.Info(fmt.Sprintf("%s classified as %s", lead.Name, c.Interest), map[string]any{
		"lead_id": lead.ID,
		"action":  c.Action,
		"summary": c.Summary,
	})
	if c.Interest == leads.InterestInterested && s.notifier != nil {
		if err := s.notifier.LeadInterested(ctx, lead, c); err != nil {
			s.logger.Warn("failed to notify operator", "error", err, "lead_id", lead.ID)
		}
	}
}

// SweepFollowUps nudges every lead overdue for a reply.
func (s *Service) SweepFollowUps(ctx context.Context) *Report {
	report := NewReport(JobFollowUpSweep, s.now())
	cutoff := s.now().Add(-s.cfg.FollowUpAfter)

	candidates, err := s.repo.ListFollowUpCandidates(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to list follow-up candidates", "error", err)
		report.add(failed("follow_up_candidates", "", fmt.Sprintf("%s: %v", ReasonStoreError, err)))
		return s.finish(report)
	}

	for _, lead := range candidates {
		if abandon(ctx, report) {
			break
		}
		report.add(s.followUp(context.WithoutCancel(ctx), lead))
	}
	return s.finish(report)
}

// SendManualFollowUp sends a follow-up to one lead regardless of how long
// ago it was contacted.
func (s *Service) SendManualFollowUp(ctx context.Context, leadID string) (ItemResult, error) {
	lead, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return ItemResult{}, err
	}
	if !lead.MessageSent {
		return ItemResult{}, ErrNotContacted
	}
	return s.followUp(ctx, lead), nil
}

func (s *Service) followUp(ctx context.Context, lead *leads.Lead) (result ItemResult) {
	key := "lead:" + lead.ID
	ctx, span := s.tracer.Start(ctx, "outreach.follow_up")
	defer func() {
		span.SetAttributes(
			attribute.String("outreach.lead_id", lead.ID),
			attribute.String("outreach.outcome", string(result.Outcome)),
		)
		span.End()
	}()

	now := s.now()
	ok, err := s.repo.ClaimFollowUp(ctx, leads.FollowUpClaim{
		LeadID:        lead.ID,
		LastContactAt: lead.LastContactAt,
		At:            now,
		StaleBefore:   now.Add(-s.cfg.FollowUpClaimTTL),
	})
	if err != nil {
		s.logger.Error("failed to mark follow-up due", "error", err, "lead_id", lead.ID)
		return failed(key, lead.ID, fmt.Sprintf("%s: %v", ReasonStoreError, err))
	}
	if !ok {
		return skipped(key, lead.ID, ReasonStateChanged)
	}

	text := s.gen.GenerateFollowUp(ctx, lead)
	var sent bool
	if lead.ThreadURL != "" {
		sent = s.channel.SendReply(ctx, lead.ThreadURL, text)
	} else {
		var threadURL string
		threadURL, sent = s.channel.SendInitialMessage(ctx, lead.ProfileURL, text)
		if sent {
			s.rememberThread(ctx, lead.ID, threadURL)
		}
	}
	if !sent {
		return failed(key, lead.ID, ReasonSendFailed)
	}

	ok, err = s.repo.Apply(ctx, lead.ID, leads.EventFollowUpSent, s.now(), &leads.Turn{
		Role:    leads.TurnOutbound,
		Content: text,
	})
	if err != nil {
		s.logger.Error("failed to record follow-up", "error", err, "lead_id", lead.ID)
		return failed(key, lead.ID, fmt.Sprintf("%s: %v", ReasonStoreError, err))
	}
	if !ok {
		return failed(key, lead.ID, ReasonStateChanged)
	}

	s.logger.Info("follow-up sent", "lead_id", lead.ID)
	s.bus.Success(fmt.Sprintf("Follow-up sent to %s", lead.Name), map[string]any{"lead_id": lead.ID})
	return success(key, lead.ID)
}

// SendInitialMessages messages every lead still in state new.
func (s *Service) SendInitialMessages(ctx context.Context) *Report {
	report := NewReport(JobInitialSend, s.now())

	pending, err := s.repo.ListByState(ctx, leads.StateNew)
	if err != nil {
		s.logger.Error("failed to list new leads", "error", err)
		report.add(failed("new_leads", "", fmt.Sprintf("%s: %v", ReasonStoreError, err)))
		return s.finish(report)
	}

	for _, lead := range pending {
		if abandon(ctx, report) {
			break
		}
		report.add(s.sendInitial(context.WithoutCancel(ctx), lead))
	}
	return s.finish(report)
}

func (s *Service) sendInitial(ctx context.Context, lead *leads.Lead) ItemResult {
	key := "lead:" + lead.ID
	ctx, span := s.tracer.Start(ctx, "outreach.initial_message")
	defer span.End()

	text := s.gen.GenerateOpening(ctx, lead)
	threadURL, sent := s.channel.SendInitialMessage(ctx, lead.ProfileURL, text)
	if !sent {
		return failed(key, lead.ID, ReasonSendFailed)
	}
	s.rememberThread(ctx, lead.ID, threadURL)

	ok, err := s.repo.Apply(ctx, lead.ID, leads.EventInitialSent, s.now(), &leads.Turn{
		Role:    leads.TurnOutbound,
		Content: text,
	})
	if err != nil {
		s.logger.Error("failed to record initial message", "error", err, "lead_id", lead.ID)
		return failed(key, lead.ID, fmt.Sprintf("%s: %v", ReasonStoreError, err))
	}
	if !ok {
		return skipped(key, lead.ID, ReasonStateChanged)
	}

	s.bus.Success(fmt.Sprintf("Message sent to %s", lead.Name), map[string]any{"lead_id": lead.ID})
	return success(key, lead.ID)
}

// rememberThread stores the thread a message landed in so later replies and
// follow-ups go to the conversation rather than the profile.
func (s *Service) rememberThread(ctx context.Context, leadID, threadURL string) {
	if threadURL == "" {
		return
	}
	if err := s.repo.SetThreadURL(ctx, leadID, threadURL); err != nil {
		s.logger.Warn("failed to store thread url", "error", err, "lead_id", leadID)
	}
}
