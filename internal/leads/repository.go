package leads

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage. Every mutation is a
// single-row conditional write so concurrent jobs never need a shared lock.
type Repository interface {
	Upsert(ctx context.Context, req *UpsertLeadRequest) (*Lead, bool, error)
	GetByID(ctx context.Context, id string) (*Lead, error)
	GetByProfileURL(ctx context.Context, profileURL string) (*Lead, error)
	FindLatestByName(ctx context.Context, fragment string) (*Lead, error)
	FindLatest(ctx context.Context) (*Lead, error)
	List(ctx context.Context, filter ListFilter) ([]*Lead, error)
	ListByState(ctx context.Context, state State) ([]*Lead, error)
	ContactedProfileURLs(ctx context.Context) ([]string, error)
	ListFollowUpCandidates(ctx context.Context, cutoff time.Time) ([]*Lead, error)
	ClaimMessageToken(ctx context.Context, leadID, token string) (bool, error)
	Apply(ctx context.Context, leadID string, ev Event, at time.Time, turn *Turn) (bool, error)
	ClaimFollowUp(ctx context.Context, claim FollowUpClaim) (bool, error)
	SetInterest(ctx context.Context, leadID string, level Interest) error
	SetThreadURL(ctx context.Context, leadID, threadURL string) error
	HasInboundTurn(ctx context.Context, leadID, content string) (bool, error)
	RecentTurns(ctx context.Context, leadID string, limit int) ([]Turn, error)
	Delete(ctx context.Context, id string) error
}

// InMemoryRepository is a Repository kept in process memory. It is used when
// no database is configured and as the reference store in tests.
type InMemoryRepository struct {
	mu        sync.RWMutex
	leads     map[string]*Lead
	byProfile map[string]string
	turns     map[string][]Turn
	seq       map[string]uint64
	counter   uint64
	now       func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads:     make(map[string]*Lead),
		byProfile: make(map[string]string),
		turns:     make(map[string][]Turn),
		seq:       make(map[string]uint64),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for created_at/updated_at.
func (r *InMemoryRepository) WithClock(now func() time.Time) *InMemoryRepository {
	if now != nil {
		r.now = now
	}
	return r
}

// touch must be called with the write lock held.
func (r *InMemoryRepository) touch(l *Lead) {
	r.counter++
	r.seq[l.ID] = r.counter
	l.UpdatedAt = r.now()
}

// Upsert creates a lead or refreshes display attributes of the existing one.
func (r *InMemoryRepository) Upsert(ctx context.Context, req *UpsertLeadRequest) (*Lead, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byProfile[req.ProfileURL]; ok {
		lead := r.leads[id]
		lead.Name = req.Name
		lead.Role = req.Role
		lead.Company = req.Company
		lead.Email = req.Email
		lead.Phone = req.Phone
		r.touch(lead)
		return lead.clone(), false, nil
	}

	now := r.now()
	lead := &Lead{
		ID:            uuid.New().String(),
		Name:          req.Name,
		ProfileURL:    req.ProfileURL,
		Role:          req.Role,
		Company:       req.Company,
		Email:         req.Email,
		Phone:         req.Phone,
		State:         StateNew,
		ReplyStatus:   ReplyStatusNotReplied,
		InterestLevel: InterestUnsure,
		CreatedAt:     now,
	}
	r.leads[lead.ID] = lead
	r.byProfile[lead.ProfileURL] = lead.ID
	r.touch(lead)
	return lead.clone(), true, nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead.clone(), nil
}

// GetByProfileURL looks a lead up by its normalized profile URL.
func (r *InMemoryRepository) GetByProfileURL(ctx context.Context, profileURL string) (*Lead, error) {
	key := NormalizeProfileURL(profileURL)
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byProfile[key]
	if !ok || key == "" {
		return nil, ErrLeadNotFound
	}
	return r.leads[id].clone(), nil
}

// FindLatestByName returns the most recently updated lead whose name
// contains fragment, case-insensitively.
func (r *InMemoryRepository) FindLatestByName(ctx context.Context, fragment string) (*Lead, error) {
	needle := strings.ToLower(strings.TrimSpace(fragment))
	if needle == "" {
		return nil, ErrLeadNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.latest(func(l *Lead) bool {
		return strings.Contains(strings.ToLower(l.Name), needle)
	})
}

// FindLatest returns the most recently updated lead overall.
func (r *InMemoryRepository) FindLatest(ctx context.Context) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest(func(*Lead) bool { return true })
}

func (r *InMemoryRepository) latest(match func(*Lead) bool) (*Lead, error) {
	var best *Lead
	for _, l := range r.leads {
		if !match(l) {
			continue
		}
		if best == nil || r.seq[l.ID] > r.seq[best.ID] {
			best = l
		}
	}
	if best == nil {
		return nil, ErrLeadNotFound
	}
	return best.clone(), nil
}

// List returns leads newest first.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Lead, 0, len(r.leads))
	for _, l := range r.leads {
		if filter.State != "" && l.State != filter.State {
			continue
		}
		out = append(out, l.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*Lead{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListByState returns leads currently in state, oldest first.
func (r *InMemoryRepository) ListByState(ctx context.Context, state State) ([]*Lead, error) {
	return r.collect(func(l *Lead) bool { return l.State == state }), nil
}

// ContactedProfileURLs returns the allow-set for inbox polling.
func (r *InMemoryRepository) ContactedProfileURLs(ctx context.Context) ([]string, error) {
	leads := r.collect(func(l *Lead) bool { return l.MessageSent })
	urls := make([]string, 0, len(leads))
	for _, l := range leads {
		urls = append(urls, l.ProfileURL)
	}
	return urls, nil
}

// ListFollowUpCandidates returns leads overdue for a follow-up as of cutoff.
func (r *InMemoryRepository) ListFollowUpCandidates(ctx context.Context, cutoff time.Time) ([]*Lead, error) {
	return r.collect(func(l *Lead) bool {
		return l.MessageSent && l.ReplyStatus == ReplyStatusNotReplied &&
			(l.LastContactAt == nil || l.LastContactAt.Before(cutoff))
	}), nil
}

func (r *InMemoryRepository) collect(match func(*Lead) bool) []*Lead {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Lead, 0)
	for _, l := range r.leads {
		if match(l) {
			out = append(out, l.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ClaimMessageToken records token as the lead's last seen message marker.
// It returns false when the lead already carries the same token.
func (r *InMemoryRepository) ClaimMessageToken(ctx context.Context, leadID, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[leadID]
	if !ok {
		return false, ErrLeadNotFound
	}
	if lead.LastSeenToken == token {
		return false, nil
	}
	lead.LastSeenToken = token
	r.touch(lead)
	return true, nil
}

// Apply commits ev for the lead if its current state allows it, appending
// turn in the same critical section. It returns false when the state check
// fails, which callers treat as already handled.
func (r *InMemoryRepository) Apply(ctx context.Context, leadID string, ev Event, at time.Time, turn *Turn) (bool, error) {
	rule, ok := RuleFor(ev)
	if !ok {
		return false, fmt.Errorf("leads: apply %q: %w", ev, ErrUnknownEvent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[leadID]
	if !ok {
		return false, ErrLeadNotFound
	}
	if !rule.Allows(lead.State) {
		return false, nil
	}
	if turn != nil {
		r.appendTurn(leadID, turn, at)
	}
	lead.State = rule.To
	applyEffects(lead, ev, at)
	r.touch(lead)
	return true, nil
}

// ClaimFollowUp moves a lead into follow_up_due when claim allows it.
func (r *InMemoryRepository) ClaimFollowUp(ctx context.Context, claim FollowUpClaim) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[claim.LeadID]
	if !ok {
		return false, ErrLeadNotFound
	}
	if !claim.allows(lead) {
		return false, nil
	}
	at := claim.At
	lead.State = StateFollowUpDue
	lead.FollowUpClaimedAt = &at
	r.touch(lead)
	return true, nil
}

func (r *InMemoryRepository) appendTurn(leadID string, turn *Turn, at time.Time) {
	t := *turn
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = at
	}
	t.LeadID = leadID
	r.turns[leadID] = append(r.turns[leadID], t)
	sort.SliceStable(r.turns[leadID], func(i, j int) bool {
		return r.turns[leadID][i].Timestamp.Before(r.turns[leadID][j].Timestamp)
	})
	*turn = t
}

// SetInterest stores the classified interest level.
func (r *InMemoryRepository) SetInterest(ctx context.Context, leadID string, level Interest) error {
	return r.update(leadID, func(l *Lead) { l.InterestLevel = level })
}

// SetThreadURL remembers the conversation thread for targeted replies.
func (r *InMemoryRepository) SetThreadURL(ctx context.Context, leadID, threadURL string) error {
	return r.update(leadID, func(l *Lead) { l.ThreadURL = threadURL })
}

func (r *InMemoryRepository) update(leadID string, fn func(*Lead)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[leadID]
	if !ok {
		return ErrLeadNotFound
	}
	fn(lead)
	r.touch(lead)
	return nil
}

// HasInboundTurn reports whether an identical inbound turn already exists.
func (r *InMemoryRepository) HasInboundTurn(ctx context.Context, leadID, content string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.turns[leadID] {
		if t.Role == TurnInbound && t.Content == content {
			return true, nil
		}
	}
	return false, nil
}

// RecentTurns returns up to limit of the newest turns, oldest first.
func (r *InMemoryRepository) RecentTurns(ctx context.Context, leadID string, limit int) ([]Turn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	turns := r.turns[leadID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Delete removes a lead together with its turns.
func (r *InMemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[id]
	if !ok {
		return ErrLeadNotFound
	}
	delete(r.byProfile, lead.ProfileURL)
	delete(r.leads, id)
	delete(r.turns, id)
	delete(r.seq, id)
	return nil
}
