package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ziadkadry99/voicedesk/internal/business"
)

// PostgresStore implements Store on a PostgreSQL pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) LookupBusinessByNumber(ctx context.Context, number string) (*business.Profile, error) {
	var (
		p     business.Profile
		hours *string
		caps  string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE phone_number = $1`,
		NormalizeNumber(number),
	).Scan(&p.ID, &p.Name, &p.PhoneNumber, &p.Greeting, &p.Timezone, &hours,
		&p.TransferNumber, &caps, &p.VoiceStyle, &p.Address, &p.Contact, &p.GeneralInfo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up business by number: %w", err)
	}
	p.Hours = decodeHours(hours)
	p.Capabilities = decodeCapabilities(caps)
	return &p, nil
}

func (s *PostgresStore) UpsertBusiness(ctx context.Context, p business.Profile) (*business.Profile, error) {
	p.PhoneNumber = NormalizeNumber(p.PhoneNumber)
	if p.PhoneNumber == "" {
		return nil, fmt.Errorf("business %q has no phone number", p.Name)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	caps, err := encodeCapabilities(p.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("marshalling capabilities: %w", err)
	}
	hours, err := encodeHours(p.Hours)
	if err != nil {
		return nil, fmt.Errorf("marshalling hours: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO businesses (`+businessColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (phone_number) DO UPDATE SET
			name = EXCLUDED.name,
			greeting = EXCLUDED.greeting,
			timezone = EXCLUDED.timezone,
			hours = EXCLUDED.hours,
			transfer_number = EXCLUDED.transfer_number,
			capabilities = EXCLUDED.capabilities,
			voice_style = EXCLUDED.voice_style,
			address = EXCLUDED.address,
			contact = EXCLUDED.contact,
			general_info = EXCLUDED.general_info,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.PhoneNumber, p.Greeting, p.Timezone, hours, p.TransferNumber,
		caps, p.VoiceStyle, p.Address, p.Contact, p.GeneralInfo, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting business: %w", err)
	}
	return s.LookupBusinessByNumber(ctx, p.PhoneNumber)
}

func (s *PostgresStore) CreateCall(ctx context.Context, c Call) (*Call, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusInProgress
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
	c.StartedAt = c.StartedAt.UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO calls (id, call_sid, business_id, caller_number, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.CallSid, c.BusinessID, c.CallerNumber, c.Status, c.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting call: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) AppendTranscriptLine(ctx context.Context, line TranscriptLine) error {
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcript_lines (call_id, sequence, role, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_id, sequence) DO NOTHING`,
		line.CallID, line.Sequence, line.Role, line.Text, line.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending transcript line: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteCall(ctx context.Context, callID, status string, durationSeconds int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET status = $1, duration_seconds = $2, ended_at = $3 WHERE id = $4`,
		status, durationSeconds, time.Now().UTC(), callID)
	if err != nil {
		return fmt.Errorf("completing call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteCallBySid(ctx context.Context, callSid, status string, durationSeconds int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET status = $1, duration_seconds = $2, ended_at = $3 WHERE call_sid = $4`,
		status, durationSeconds, time.Now().UTC(), callSid)
	if err != nil {
		return fmt.Errorf("completing call %s: %w", callSid, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointments (id, call_id, business_id, customer_name, customer_phone,
			service, requested_time, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.CallID, a.BusinessID, a.CustomerName, a.CustomerPhone,
		a.Service, a.RequestedTime, a.Notes, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting appointment: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) CreateCustomerRequest(ctx context.Context, r CustomerRequest) (*CustomerRequest, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Kind == "" {
		r.Kind = RequestMessage
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customer_requests (id, call_id, business_id, kind, customer_name,
			customer_phone, message, preferred_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.CallID, r.BusinessID, r.Kind, r.CustomerName,
		r.CustomerPhone, r.Message, r.PreferredTime, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting customer request: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) FetchTranscript(ctx context.Context, callID string) ([]TranscriptLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT call_id, sequence, role, text, created_at
		FROM transcript_lines WHERE call_id = $1 ORDER BY sequence`, callID)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()

	var lines []TranscriptLine
	for rows.Next() {
		var l TranscriptLine
		if err := rows.Scan(&l.CallID, &l.Sequence, &l.Role, &l.Text, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transcript line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *PostgresStore) UpdateSummary(ctx context.Context, callID, summary, sentiment string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET summary = $1, sentiment = $2 WHERE id = $3`,
		summary, sentiment, callID)
	if err != nil {
		return fmt.Errorf("updating call summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCallsWithoutSummary(ctx context.Context, limit int) ([]Call, error) {
	query := `
		SELECT id, call_sid, business_id, caller_number, status, duration_seconds,
		       summary, sentiment, started_at, ended_at
		FROM calls
		WHERE status = $1 AND summary = ''
		  AND EXISTS (SELECT 1 FROM transcript_lines WHERE call_id = calls.id)
		ORDER BY started_at`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.pool.Query(ctx, query, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("querying calls without summary: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.ID, &c.CallSid, &c.BusinessID, &c.CallerNumber, &c.Status,
			&c.DurationSeconds, &c.Summary, &c.Sentiment, &c.StartedAt, &c.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS businesses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    phone_number TEXT NOT NULL UNIQUE,
    greeting TEXT NOT NULL DEFAULT '',
    timezone TEXT NOT NULL DEFAULT '',
    hours TEXT,
    transfer_number TEXT NOT NULL DEFAULT '',
    capabilities TEXT NOT NULL DEFAULT '[]',
    voice_style TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    contact TEXT NOT NULL DEFAULT '',
    general_info TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS calls (
    id TEXT PRIMARY KEY,
    call_sid TEXT NOT NULL UNIQUE,
    business_id TEXT NOT NULL DEFAULT '',
    caller_number TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'in-progress',
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    summary TEXT NOT NULL DEFAULT '',
    sentiment TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    ended_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_calls_business ON calls(business_id);
CREATE INDEX IF NOT EXISTS idx_calls_status ON calls(status);

CREATE TABLE IF NOT EXISTS transcript_lines (
    call_id TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
    sequence INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('caller','assistant')),
    text TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (call_id, sequence)
);

CREATE TABLE IF NOT EXISTS appointments (
    id TEXT PRIMARY KEY,
    call_id TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
    business_id TEXT NOT NULL DEFAULT '',
    customer_name TEXT NOT NULL DEFAULT '',
    customer_phone TEXT NOT NULL DEFAULT '',
    service TEXT NOT NULL DEFAULT '',
    requested_time TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS customer_requests (
    id TEXT PRIMARY KEY,
    call_id TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
    business_id TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL CHECK (kind IN ('message','callback')),
    customer_name TEXT NOT NULL DEFAULT '',
    customer_phone TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    preferred_time TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
