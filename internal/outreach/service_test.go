package outreach

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/internal/generation"
	"github.com/wolfman30/outreach-orchestrator/internal/inbox"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

type sent struct {
	target string
	text   string
}

type fakeChannel struct {
	mu         sync.Mutex
	inbound    []inbox.Message
	allowed    []string
	initial    []sent
	replies    []sent
	failSends  map[string]bool
	threads    map[string]string
	gate       chan struct{}
	loginOK    bool
	loginCalls int
	fetchCalls int
}

func (f *fakeChannel) Login(ctx context.Context, username, password string) bool {
	f.loginCalls++
	return f.loginOK
}

func (f *fakeChannel) SendInitialMessage(ctx context.Context, profileURL, text string) (string, bool) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends[profileURL] {
		return "", false
	}
	f.initial = append(f.initial, sent{profileURL, text})
	return f.threads[profileURL], true
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.initial) + len(f.replies)
}

func (f *fakeChannel) SendReply(ctx context.Context, threadURL, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends[threadURL] {
		return false
	}
	f.replies = append(f.replies, sent{threadURL, text})
	return true
}

func (f *fakeChannel) FetchRecentInbound(ctx context.Context, limit int, allowedProfiles []string) []inbox.Message {
	f.fetchCalls++
	f.allowed = allowedProfiles
	return f.inbound
}

type stubGenerator struct {
	interest leads.Interest
}

func (g stubGenerator) GenerateOpening(ctx context.Context, lead *leads.Lead) string {
	return "Hi " + lead.Name
}

func (g stubGenerator) GenerateFollowUp(ctx context.Context, lead *leads.Lead) string {
	return "Just following up"
}

func (g stubGenerator) GenerateReply(ctx context.Context, lead *leads.Lead, inbound string) string {
	return "Thanks for getting back to me"
}

func (g stubGenerator) Classify(ctx context.Context, lead *leads.Lead, reply string) generation.Classification {
	interest := g.interest
	if interest == "" {
		interest = leads.InterestUnsure
	}
	return generation.Classification{Interest: interest, Action: generation.ActionAck, Summary: reply}
}

type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) LeadInterested(ctx context.Context, lead *leads.Lead, c generation.Classification) error {
	n.calls = append(n.calls, lead.ID)
	return nil
}

type fixture struct {
	repo    *leads.InMemoryRepository
	channel *fakeChannel
	bus     *eventbus.Bus
	clock   *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return &fixture{
		repo:    leads.NewInMemoryRepository().WithClock(clock.Now),
		channel: &fakeChannel{loginOK: true},
		bus:     eventbus.New(100),
		clock:   clock,
	}
}

func (f *fixture) service(gen Generator, opts ...Option) *Service {
	logger := logging.Discard()
	matcher := inbox.NewMatcher(f.repo, f.bus, logger)
	guard := inbox.NewGuard(f.repo, nil, logger)
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	return NewService(f.repo, f.channel, gen, matcher, guard, f.bus, logger, Config{
		FetchLimit:    30,
		FollowUpAfter: 24 * time.Hour,
		Username:      "user",
		Password:      "pass",
	}, opts...)
}

func (f *fixture) contactedLead(t *testing.T, svc *Service, name, profile string) *leads.Lead {
	t.Helper()
	ctx := context.Background()
	lead, _, err := f.repo.Upsert(ctx, &leads.UpsertLeadRequest{Name: name, ProfileURL: profile})
	require.NoError(t, err)
	ok, err := f.repo.Apply(ctx, lead.ID, leads.EventInitialSent, f.clock.Now(), &leads.Turn{Role: leads.TurnOutbound, Content: "Hi"})
	require.NoError(t, err)
	require.True(t, ok)
	lead, err = f.repo.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	return lead
}

func countTurns(t *testing.T, repo leads.Repository, leadID string, role leads.TurnRole) int {
	t.Helper()
	turns, err := repo.RecentTurns(context.Background(), leadID, 100)
	require.NoError(t, err)
	n := 0
	for _, turn := range turns {
		if turn.Role == role {
			n++
		}
	}
	return n
}

func TestPollInboxIsIdempotentAcrossCycles(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	alice := f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")

	f.channel.inbound = []inbox.Message{{
		Text:       "Sounds interesting",
		ObservedAt: f.clock.Now().Add(time.Minute),
		ProfileURL: "https://x/in/alice/",
		Incoming:   true,
		ThreadURL:  "https://x/messaging/thread/1",
	}}

	first := svc.PollInbox(context.Background())
	assert.Equal(t, Counts{Success: 1}, first.Counts())

	second := svc.PollInbox(context.Background())
	assert.Equal(t, Counts{Skipped: 1}, second.Counts())

	assert.Len(t, f.channel.replies, 1)
	assert.Equal(t, "https://x/messaging/thread/1", f.channel.replies[0].target)
	assert.Equal(t, 1, countTurns(t, f.repo, alice.ID, leads.TurnInbound))
	assert.Equal(t, 2, countTurns(t, f.repo, alice.ID, leads.TurnOutbound))

	got, err := f.repo.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StateAwaitingReply, got.State)
	assert.Equal(t, leads.ReplyStatusReplied, got.ReplyStatus)
	assert.Equal(t, "https://x/messaging/thread/1", got.ThreadURL)
}

func TestPollInboxSkipsFetchWithoutContactedLeads(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	_, _, err := f.repo.Upsert(context.Background(), &leads.UpsertLeadRequest{Name: "New Lead", ProfileURL: "https://x/in/new"})
	require.NoError(t, err)

	report := svc.PollInbox(context.Background())
	assert.Empty(t, report.Items)
	assert.Equal(t, 0, f.channel.fetchCalls)
}

func TestPollInboxRestrictsFetchToContactedProfiles(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	_, _, err := f.repo.Upsert(context.Background(), &leads.UpsertLeadRequest{Name: "Bob", ProfileURL: "https://x/in/bob"})
	require.NoError(t, err)

	svc.PollInbox(context.Background())
	assert.Equal(t, []string{"https://x/in/alice"}, f.channel.allowed)
}

func TestPollInboxItemOutcomes(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	alice := f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	bob := f.contactedLead(t, svc, "Bob Jones", "https://x/in/bob")
	f.channel.failSends = map[string]bool{"https://x/messaging/thread/bob": true}

	at := f.clock.Now().Add(time.Minute)
	f.channel.inbound = []inbox.Message{
		{Text: "my own note", ObservedAt: at, ProfileURL: "https://x/in/alice", Incoming: false},
		{Text: "hello", ObservedAt: at, ProfileURL: "https://x/in/bob", Incoming: true, ThreadURL: "https://x/messaging/thread/bob"},
		{Text: "hi!", ObservedAt: at, ProfileURL: "https://x/in/alice", Incoming: true, ThreadURL: "https://x/messaging/thread/alice"},
	}

	report := svc.PollInbox(context.Background())
	require.Len(t, report.Items, 3)
	assert.Equal(t, OutcomeSkipped, report.Items[0].Outcome)
	assert.Equal(t, ReasonNotIncoming, report.Items[0].Reason)
	assert.Equal(t, OutcomeFailed, report.Items[1].Outcome)
	assert.Equal(t, ReasonSendFailed, report.Items[1].Reason)
	assert.Equal(t, bob.ID, report.Items[1].LeadID)
	assert.Equal(t, OutcomeSuccess, report.Items[2].Outcome)
	assert.Equal(t, alice.ID, report.Items[2].LeadID)

	// the inbound was accepted before the send failed and is not retried
	again := svc.PollInbox(context.Background())
	assert.Equal(t, Counts{Skipped: 3}, again.Counts())
}

func TestPollInboxFallbackToUncontactedLeadIsSkipped(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	f.clock.Advance(time.Minute)
	_, _, err := f.repo.Upsert(context.Background(), &leads.UpsertLeadRequest{Name: "Zed", ProfileURL: "https://x/in/zed"})
	require.NoError(t, err)

	f.channel.inbound = []inbox.Message{{Text: "who is this", ObservedAt: f.clock.Now(), ParticipantName: "Unknown", Incoming: true}}
	report := svc.PollInbox(context.Background())
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeSkipped, report.Items[0].Outcome)
	assert.Equal(t, ReasonNotContacted, report.Items[0].Reason)
	assert.Empty(t, f.channel.replies)
}

func TestPollInboxNotifiesWhenLeadBecomesInterested(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	svc := f.service(stubGenerator{interest: leads.InterestInterested}, WithNotifier(notifier))
	alice := f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")

	f.channel.inbound = []inbox.Message{{Text: "Let's talk", ObservedAt: f.clock.Now(), ProfileURL: "https://x/in/alice", Incoming: true}}
	svc.PollInbox(context.Background())

	assert.Equal(t, []string{alice.ID}, notifier.calls)
	got, err := f.repo.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.InterestInterested, got.InterestLevel)
}

func TestPollInboxStopsBetweenItemsAfterCeiling(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	f.channel.inbound = []inbox.Message{{Text: "hi", ObservedAt: f.clock.Now(), ProfileURL: "https://x/in/alice", Incoming: true}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := svc.PollInbox(ctx)
	assert.True(t, report.Abandoned)
	assert.Empty(t, report.Items)
	assert.Empty(t, f.channel.replies)
}

func TestSweepFollowUpsEligibility(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	stale := f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	f.clock.Advance(24*time.Hour - time.Hour)
	fresh := f.contactedLead(t, svc, "Bob Jones", "https://x/in/bob")
	f.clock.Advance(2 * time.Hour)

	report := svc.SweepFollowUps(context.Background())
	require.Len(t, report.Items, 1)
	assert.Equal(t, stale.ID, report.Items[0].LeadID)
	assert.Equal(t, OutcomeSuccess, report.Items[0].Outcome)

	require.Len(t, f.channel.initial, 1)
	assert.Equal(t, "https://x/in/alice", f.channel.initial[0].target)

	got, err := f.repo.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StateFollowUpSent, got.State)
	assert.Equal(t, 1, got.FollowUpCount)
	assert.True(t, got.FollowUpTaken)

	untouched, err := f.repo.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StateContacted, untouched.State)

	// the stale lead was just contacted again, so a second sweep is empty
	assert.Empty(t, svc.SweepFollowUps(context.Background()).Items)
}

func TestSweepFollowUpsUsesKnownThread(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	lead := f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	require.NoError(t, f.repo.SetThreadURL(context.Background(), lead.ID, "https://x/messaging/thread/9"))
	f.clock.Advance(25 * time.Hour)

	svc.SweepFollowUps(context.Background())
	require.Len(t, f.channel.replies, 1)
	assert.Equal(t, "https://x/messaging/thread/9", f.channel.replies[0].target)
	assert.Empty(t, f.channel.initial)
}

func TestSweepFollowUpsContinuesPastFailedSend(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	alice := f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	bob := f.contactedLead(t, svc, "Bob Jones", "https://x/in/bob")
	f.channel.failSends = map[string]bool{"https://x/in/alice": true}
	f.clock.Advance(25 * time.Hour)

	report := svc.SweepFollowUps(context.Background())
	assert.Equal(t, Counts{Success: 1, Failed: 1}, report.Counts())
	assert.Equal(t, []string{"lead:" + alice.ID}, report.FailedKeys())

	got, err := f.repo.GetByID(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StateFollowUpSent, got.State)

	// alice stays due, and her unfinished claim blocks a retry until it expires
	delete(f.channel.failSends, "https://x/in/alice")
	blocked := svc.SweepFollowUps(context.Background())
	require.Len(t, blocked.Items, 1)
	assert.Equal(t, ReasonStateChanged, blocked.Items[0].Reason)
	assert.Len(t, f.channel.initial, 1)

	f.clock.Advance(16 * time.Minute)
	again := svc.SweepFollowUps(context.Background())
	require.Len(t, again.Items, 1)
	assert.Equal(t, alice.ID, again.Items[0].LeadID)
	assert.Equal(t, OutcomeSuccess, again.Items[0].Outcome)
}

func TestConcurrentFollowUpsSendOnce(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	lead := f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	f.clock.Advance(25 * time.Hour)
	f.channel.gate = make(chan struct{})

	ctx := context.Background()
	results := make(chan ItemResult, 9)
	for i := 0; i < 8; i++ {
		go func() {
			result, err := svc.SendManualFollowUp(ctx, lead.ID)
			assert.NoError(t, err)
			results <- result
		}()
	}
	go func() {
		report := svc.SweepFollowUps(ctx)
		if assert.Len(t, report.Items, 1) {
			results <- report.Items[0]
		}
	}()

	// the winner holds the send open until every other caller has given up
	collected := make([]ItemResult, 0, 9)
	for len(collected) < 8 {
		select {
		case r := <-results:
			collected = append(collected, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 8 losing follow-ups returned", len(collected))
		}
	}
	close(f.channel.gate)
	select {
	case r := <-results:
		collected = append(collected, r)
	case <-time.After(2 * time.Second):
		t.Fatal("winning follow-up never finished")
	}

	outcomes := map[Outcome]int{}
	for _, r := range collected {
		outcomes[r.Outcome]++
		if r.Outcome == OutcomeSkipped {
			assert.Equal(t, ReasonStateChanged, r.Reason)
		}
	}
	assert.Equal(t, map[Outcome]int{OutcomeSuccess: 1, OutcomeSkipped: 8}, outcomes)
	assert.Equal(t, 1, f.channel.sentCount())

	got, err := f.repo.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StateFollowUpSent, got.State)
	assert.Equal(t, 1, got.FollowUpCount)
	assert.Equal(t, 2, countTurns(t, f.repo, lead.ID, leads.TurnOutbound))
}

func TestFollowUpToProfileRecordsThread(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	lead := f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	f.channel.threads = map[string]string{"https://x/in/alice": "https://x/messaging/thread/a"}
	f.clock.Advance(25 * time.Hour)

	report := svc.SweepFollowUps(context.Background())
	require.Len(t, report.Items, 1)
	require.Equal(t, OutcomeSuccess, report.Items[0].Outcome)

	got, err := f.repo.GetByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://x/messaging/thread/a", got.ThreadURL)

	f.clock.Advance(25 * time.Hour)
	svc.SweepFollowUps(context.Background())
	require.Len(t, f.channel.replies, 1)
	assert.Equal(t, "https://x/messaging/thread/a", f.channel.replies[0].target)
	assert.Len(t, f.channel.initial, 1)
}

func TestSendInitialMessages(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	ctx := context.Background()
	lead, _, err := f.repo.Upsert(ctx, &leads.UpsertLeadRequest{Name: "Carol", ProfileURL: "https://x/in/carol"})
	require.NoError(t, err)
	f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")

	report := svc.SendInitialMessages(ctx)
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeSuccess, report.Items[0].Outcome)
	require.Len(t, f.channel.initial, 1)
	assert.Equal(t, sent{"https://x/in/carol", "Hi Carol"}, f.channel.initial[0])

	got, err := f.repo.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StateContacted, got.State)
	assert.True(t, got.MessageSent)
	assert.Empty(t, got.ThreadURL)
	assert.Empty(t, svc.SendInitialMessages(ctx).Items)
}

func TestSendInitialMessagesRecordsThread(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	ctx := context.Background()
	f.channel.threads = map[string]string{"https://x/in/carol": "https://x/messaging/thread/c"}
	lead, _, err := f.repo.Upsert(ctx, &leads.UpsertLeadRequest{Name: "Carol", ProfileURL: "https://x/in/carol"})
	require.NoError(t, err)

	report := svc.SendInitialMessages(ctx)
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeSuccess, report.Items[0].Outcome)

	got, err := f.repo.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://x/messaging/thread/c", got.ThreadURL)
}

func TestSendManualFollowUp(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	ctx := context.Background()

	fresh, _, err := f.repo.Upsert(ctx, &leads.UpsertLeadRequest{Name: "Carol", ProfileURL: "https://x/in/carol"})
	require.NoError(t, err)
	_, err = svc.SendManualFollowUp(ctx, fresh.ID)
	assert.ErrorIs(t, err, ErrNotContacted)

	_, err = svc.SendManualFollowUp(ctx, "missing")
	assert.ErrorIs(t, err, leads.ErrLeadNotFound)

	alice := f.contactedLead(t, svc, "Alice Smith", "https://x/in/alice")
	result, err := svc.SendManualFollowUp(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Len(t, f.channel.initial, 1)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	svc := f.service(stubGenerator{})
	assert.Equal(t, OutcomeSuccess, svc.Login(context.Background()).Outcome)

	f.channel.loginOK = false
	assert.Equal(t, OutcomeFailed, svc.Login(context.Background()).Outcome)

	noCreds := NewService(f.repo, f.channel, stubGenerator{}, nil, nil, f.bus, logging.Discard(), Config{})
	result := noCreds.Login(context.Background())
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, ReasonNoCredentials, result.Reason)
	assert.Equal(t, 2, f.channel.loginCalls)
}
