package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/internal/inbox"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

const defaultCallTimeout = 45 * time.Second

// Sidecar is the transport the Session drives.
type Sidecar interface {
	Login(ctx context.Context, req LoginRequest) (*ActionResponse, error)
	SendInitialMessage(ctx context.Context, req InitialMessageRequest) (*ActionResponse, error)
	SendReply(ctx context.Context, req ReplyRequest) (*ActionResponse, error)
	LatestInbox(ctx context.Context, req InboxRequest) (*InboxResponse, error)
}

// Session is the single outbound channel session. The underlying browser is
// not safe for concurrent use, so every call holds the session mutex for its
// full duration. Failures are reported as false or empty results and
// published to the event bus; the session never returns an error.
type Session struct {
	mu      sync.Mutex
	sidecar Sidecar
	bus     *eventbus.Bus
	logger  *logging.Logger
	timeout time.Duration
}

// NewSession wraps sidecar. timeout bounds each call; zero uses 45s.
func NewSession(sidecar Sidecar, bus *eventbus.Bus, logger *logging.Logger, timeout time.Duration) *Session {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Session{sidecar: sidecar, bus: bus, logger: logger, timeout: timeout}
}

// callContext detaches from the caller's cancellation so that a job hitting
// its ceiling never interrupts a half-finished browser action.
func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *Session) timeoutMillis() int {
	return int(s.timeout / time.Millisecond)
}

// Login signs the channel session in.
func (s *Session) Login(ctx context.Context, username, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.sidecar.Login(callCtx, LoginRequest{Username: username, Password: password, Timeout: s.timeoutMillis()})
	if ok := s.check("login", resp, err, nil); !ok {
		return false
	}
	s.bus.Success("Logged in to messaging channel", nil)
	return true
}

// SendInitialMessage messages profileURL and returns the thread the message
// landed in when the sidecar reports one.
func (s *Session) SendInitialMessage(ctx context.Context, profileURL, text string) (string, bool) {
	text = SanitizeText(text)
	if strings.TrimSpace(text) == "" {
		s.logger.Warn("refusing to send empty initial message", "profile_url", profileURL)
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.sidecar.SendInitialMessage(callCtx, InitialMessageRequest{
		ProfileURL: profileURL,
		Text:       text,
		Timeout:    s.timeoutMillis(),
	})
	if !s.check("send initial message", resp, err, map[string]any{"profile_url": profileURL}) {
		return "", false
	}
	return resp.ThreadURL, true
}

// SendReply answers in threadURL, or in the open conversation when empty.
func (s *Session) SendReply(ctx context.Context, threadURL, text string) bool {
	text = SanitizeText(text)
	if strings.TrimSpace(text) == "" {
		s.logger.Warn("refusing to send empty reply", "thread_url", threadURL)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.sidecar.SendReply(callCtx, ReplyRequest{ThreadURL: threadURL, Text: text, Timeout: s.timeoutMillis()})
	return s.check("send reply", resp, err, map[string]any{"thread_url": threadURL})
}

// FetchRecentInbound returns up to limit messages, optionally restricted to
// the given profiles, in channel order.
func (s *Session) FetchRecentInbound(ctx context.Context, limit int, allowedProfiles []string) []inbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.sidecar.LatestInbox(callCtx, InboxRequest{
		Limit:           limit,
		AllowedProfiles: allowedProfiles,
		Timeout:         s.timeoutMillis(),
	})
	if err != nil {
		s.fail("fetch inbox", err.Error(), nil)
		return nil
	}
	if !resp.Success {
		s.fail("fetch inbox", resp.Error, nil)
		return nil
	}

	out := make([]inbox.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, inbox.Message{
			Text:            strings.TrimSpace(m.Text),
			ObservedAt:      m.ObservedAt,
			ProfileURL:      m.ProfileURL,
			ParticipantName: strings.TrimSpace(m.ParticipantName),
			Incoming:        m.Incoming,
			ThreadURL:       m.ThreadURL,
		})
	}
	return out
}

func (s *Session) check(op string, resp *ActionResponse, err error, extra map[string]any) bool {
	if err != nil {
		s.fail(op, err.Error(), extra)
		return false
	}
	if resp == nil || !resp.Success {
		reason := "unsuccessful"
		if resp != nil && resp.Error != "" {
			reason = resp.Error
		}
		s.fail(op, reason, extra)
		return false
	}
	return true
}

func (s *Session) fail(op, reason string, extra map[string]any) {
	s.logger.Warn("channel call failed", "op", op, "error", reason)
	payload := map[string]any{"op": op, "error": reason}
	for k, v := range extra {
		payload[k] = v
	}
	s.bus.Error("Channel "+op+" failed", payload)
}

// SanitizeText drops characters outside the Basic Multilingual Plane, which
// the browser driver cannot type.
func SanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF {
			return -1
		}
		return r
	}, s)
}
