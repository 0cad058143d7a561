package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool used by PostgresRepository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithDB(db DB) *PostgresRepository {
	if db == nil {
		panic("leads: db required")
	}
	return &PostgresRepository{db: db}
}

const leadColumns = `id, name, profile_url, role, company, email, phone, state, message_sent,
	reply_status, interest_level, follow_up_taken, follow_up_count, last_contact_at,
	last_seen_token, thread_url, follow_up_claimed_at, created_at, updated_at`

func scanLead(row pgx.Row) (*Lead, error) {
	var (
		lead                   Lead
		state, reply, interest string
		lastContact, claimedAt *time.Time
	)
	if err := row.Scan(
		&lead.ID,
		&lead.Name,
		&lead.ProfileURL,
		&lead.Role,
		&lead.Company,
		&lead.Email,
		&lead.Phone,
		&state,
		&lead.MessageSent,
		&reply,
		&interest,
		&lead.FollowUpTaken,
		&lead.FollowUpCount,
		&lastContact,
		&lead.LastSeenToken,
		&lead.ThreadURL,
		&claimedAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		return nil, err
	}
	lead.State = State(state)
	lead.ReplyStatus = ReplyStatus(reply)
	lead.InterestLevel = Interest(interest)
	lead.LastContactAt = lastContact
	lead.FollowUpClaimedAt = claimedAt
	return &lead, nil
}

func (r *PostgresRepository) queryLeads(ctx context.Context, op, query string, args ...any) ([]*Lead, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("leads: %s: %w", op, err)
	}
	defer rows.Close()

	out := make([]*Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: %s scan: %w", op, err)
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: %s rows: %w", op, err)
	}
	return out, nil
}

func (r *PostgresRepository) queryLead(ctx context.Context, op, query string, args ...any) (*Lead, error) {
	lead, err := scanLead(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: %s: %w", op, err)
	}
	return lead, nil
}

// Upsert inserts a lead or refreshes the display attributes of the row that
// owns the same normalized profile URL. The bool reports an insert.
func (r *PostgresRepository) Upsert(ctx context.Context, req *UpsertLeadRequest) (*Lead, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO leads (id, name, profile_url, role, company, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (profile_url) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			company = EXCLUDED.company,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			updated_at = now()
		RETURNING ` + leadColumns + `, (xmax = 0) AS inserted
	`
	row := r.db.QueryRow(ctx, query,
		uuid.New().String(),
		req.Name,
		req.ProfileURL,
		req.Role,
		req.Company,
		req.Email,
		req.Phone,
	)
	var inserted bool
	lead, err := scanLead(insertedRow{row: row, inserted: &inserted})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, false, ErrDuplicateProfile
		}
		return nil, false, fmt.Errorf("leads: upsert: %w", err)
	}
	return lead, inserted, nil
}

// insertedRow appends the trailing "inserted" column of an upsert to the
// destinations scanLead passes in.
type insertedRow struct {
	row      pgx.Row
	inserted *bool
}

func (r insertedRow) Scan(dest ...any) error {
	return r.row.Scan(append(dest, r.inserted)...)
}

// GetByID fetches a lead.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	return r.queryLead(ctx, "select by id", `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
}

// GetByProfileURL fetches a lead by its normalized profile URL.
func (r *PostgresRepository) GetByProfileURL(ctx context.Context, profileURL string) (*Lead, error) {
	key := NormalizeProfileURL(profileURL)
	if key == "" {
		return nil, ErrLeadNotFound
	}
	return r.queryLead(ctx, "select by profile", `SELECT `+leadColumns+` FROM leads WHERE profile_url = $1`, key)
}

// FindLatestByName returns the most recently updated lead whose name
// contains fragment, ignoring case.
func (r *PostgresRepository) FindLatestByName(ctx context.Context, fragment string) (*Lead, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, ErrLeadNotFound
	}
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE name ILIKE $1 ESCAPE '\'
		ORDER BY updated_at DESC, created_at DESC, id DESC
		LIMIT 1
	`
	return r.queryLead(ctx, "select by name", query, "%"+escapeLike(fragment)+"%")
}

// FindLatest returns the most recently updated lead.
func (r *PostgresRepository) FindLatest(ctx context.Context) (*Lead, error) {
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		ORDER BY updated_at DESC, created_at DESC, id DESC
		LIMIT 1
	`
	return r.queryLead(ctx, "select latest", query)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// List returns leads newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryLeads(ctx, "list", query, string(filter.State), limit, filter.Offset)
}

// ListByState returns leads in the given state, oldest first.
func (r *PostgresRepository) ListByState(ctx context.Context, state State) ([]*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE state = $1 ORDER BY created_at ASC, id ASC`
	return r.queryLeads(ctx, "list by state", query, string(state))
}

// ContactedProfileURLs returns profile URLs of every lead already messaged.
func (r *PostgresRepository) ContactedProfileURLs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT profile_url FROM leads WHERE message_sent ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("leads: contacted profiles: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("leads: contacted profiles scan: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// ListFollowUpCandidates returns leads overdue for a follow-up as of cutoff.
func (r *PostgresRepository) ListFollowUpCandidates(ctx context.Context, cutoff time.Time) ([]*Lead, error) {
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE message_sent
		  AND reply_status = 'not_replied'
		  AND (last_contact_at IS NULL OR last_contact_at < $1)
		ORDER BY created_at ASC, id ASC
	`
	return r.queryLeads(ctx, "follow-up candidates", query, cutoff)
}

// ClaimMessageToken sets last_seen_token unless it already equals token.
func (r *PostgresRepository) ClaimMessageToken(ctx context.Context, leadID, token string) (bool, error) {
	query := `
		UPDATE leads SET last_seen_token = $2, updated_at = now()
		WHERE id = $1 AND last_seen_token IS DISTINCT FROM $2
	`
	ct, err := r.db.Exec(ctx, query, leadID, token)
	if err != nil {
		return false, fmt.Errorf("leads: claim token: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// effectSQL mirrors applyEffects. $2 is the event time.
var effectSQL = map[Event]string{
	EventInitialSent:     "message_sent = TRUE, last_contact_at = $2,",
	EventInboundAccepted: "reply_status = 'replied',",
	EventResponded:       "last_contact_at = $2,",
	EventFollowUpDue:     "follow_up_claimed_at = $2,",
	EventFollowUpSent:    "follow_up_taken = TRUE, follow_up_count = follow_up_count + 1, last_contact_at = $2,",
}

// Apply commits ev as a conditional update. When turn is non-nil it is
// inserted in the same transaction; nothing is written if the state check
// fails.
func (r *PostgresRepository) Apply(ctx context.Context, leadID string, ev Event, at time.Time, turn *Turn) (bool, error) {
	rule, ok := RuleFor(ev)
	if !ok {
		return false, fmt.Errorf("leads: apply %q: %w", ev, ErrUnknownEvent)
	}
	from := make([]string, 0, len(rule.From))
	for _, s := range rule.From {
		from = append(from, string(s))
	}
	query := `UPDATE leads SET state = $3, ` + effectSQL[ev] + ` updated_at = $2
		WHERE id = $1 AND state = ANY($4)`

	if turn == nil {
		ct, err := r.db.Exec(ctx, query, leadID, at, string(rule.To), from)
		if err != nil {
			return false, fmt.Errorf("leads: apply %s: %w", ev, err)
		}
		return ct.RowsAffected() == 1, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("leads: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, query, leadID, at, string(rule.To), from)
	if err != nil {
		return false, fmt.Errorf("leads: apply %s: %w", ev, err)
	}
	if ct.RowsAffected() != 1 {
		return false, nil
	}

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = at
	}
	turn.LeadID = leadID
	if _, err := tx.Exec(ctx, `
		INSERT INTO conversation_turns (id, lead_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, turn.ID, leadID, string(turn.Role), turn.Content, turn.Timestamp); err != nil {
		return false, fmt.Errorf("leads: insert turn: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("leads: commit: %w", err)
	}
	return true, nil
}

// ClaimFollowUp moves a lead into follow_up_due for a single sender. See
// FollowUpClaim for the conditions.
func (r *PostgresRepository) ClaimFollowUp(ctx context.Context, claim FollowUpClaim) (bool, error) {
	rule, _ := RuleFor(EventFollowUpDue)
	from := make([]string, 0, len(rule.From))
	for _, s := range rule.From {
		from = append(from, string(s))
	}
	ct, err := r.db.Exec(ctx, `
		UPDATE leads SET state = $3, follow_up_claimed_at = $2, updated_at = $2
		WHERE id = $1
			AND last_contact_at IS NOT DISTINCT FROM $4
			AND (state = ANY($5)
				OR (state = $3 AND (follow_up_claimed_at IS NULL OR follow_up_claimed_at < $6)))
	`, claim.LeadID, claim.At, string(StateFollowUpDue), claim.LastContactAt, from, claim.StaleBefore)
	if err != nil {
		return false, fmt.Errorf("leads: claim follow-up: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// SetInterest stores the classified interest level.
func (r *PostgresRepository) SetInterest(ctx context.Context, leadID string, level Interest) error {
	return r.execOne(ctx, "set interest",
		`UPDATE leads SET interest_level = $2, updated_at = now() WHERE id = $1`, leadID, string(level))
}

// SetThreadURL remembers the conversation thread for a lead.
func (r *PostgresRepository) SetThreadURL(ctx context.Context, leadID, threadURL string) error {
	return r.execOne(ctx, "set thread",
		`UPDATE leads SET thread_url = $2, updated_at = now() WHERE id = $1`, leadID, threadURL)
}

func (r *PostgresRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("leads: %s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// HasInboundTurn reports whether an identical inbound turn exists.
func (r *PostgresRepository) HasInboundTurn(ctx context.Context, leadID, content string) (bool, error) {
	query := `SELECT 1 FROM conversation_turns WHERE lead_id = $1 AND role = 'inbound' AND content = $2 LIMIT 1`
	var exists int
	if err := r.db.QueryRow(ctx, query, leadID, content).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("leads: check inbound turn: %w", err)
	}
	return true, nil
}

// RecentTurns returns up to limit of the newest turns, oldest first.
func (r *PostgresRepository) RecentTurns(ctx context.Context, leadID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, lead_id, role, content, created_at FROM (
			SELECT id, lead_id, role, content, created_at
			FROM conversation_turns
			WHERE lead_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("leads: recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t    Turn
			role string
		)
		if err := rows.Scan(&t.ID, &t.LeadID, &role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("leads: recent turns scan: %w", err)
		}
		t.Role = TurnRole(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: recent turns rows: %w", err)
	}
	return turns, nil
}

// Delete removes a lead; its turns cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete", `DELETE FROM leads WHERE id = $1`, id)
}
