package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/voicedesk/internal/business"
	"github.com/ziadkadry99/voicedesk/internal/db"
)

// SQLiteStore implements Store on the local SQLite database.
type SQLiteStore struct {
	db *db.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store backed by the given database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const businessColumns = `id, name, phone_number, greeting, timezone, hours, transfer_number,
	capabilities, voice_style, address, contact, general_info`

// LookupBusinessByNumber returns the business that owns the dialed number.
func (s *SQLiteStore) LookupBusinessByNumber(ctx context.Context, number string) (*business.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE phone_number = ?`,
		NormalizeNumber(number))

	var (
		p     business.Profile
		hours sql.NullString
		caps  string
	)
	err := row.Scan(&p.ID, &p.Name, &p.PhoneNumber, &p.Greeting, &p.Timezone, &hours,
		&p.TransferNumber, &caps, &p.VoiceStyle, &p.Address, &p.Contact, &p.GeneralInfo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up business by number: %w", err)
	}

	if hours.Valid {
		p.Hours = decodeHours(&hours.String)
	}
	p.Capabilities = decodeCapabilities(caps)
	return &p, nil
}

// UpsertBusiness inserts a business or updates the one that owns the same number.
func (s *SQLiteStore) UpsertBusiness(ctx context.Context, p business.Profile) (*business.Profile, error) {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO businesses (`+businessColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone_number) DO UPDATE SET
			name = excluded.name,
			greeting = excluded.greeting,
			timezone = excluded.timezone,
			hours = excluded.hours,
			transfer_number = excluded.transfer_number,
			capabilities = excluded.capabilities,
			voice_style = excluded.voice_style,
			address = excluded.address,
			contact = excluded.contact,
			general_info = excluded.general_info,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.PhoneNumber, p.Greeting, p.Timezone, hours, p.TransferNumber,
		caps, p.VoiceStyle, p.Address, p.Contact, p.GeneralInfo, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting business: %w", err)
	}

	return s.LookupBusinessByNumber(ctx, p.PhoneNumber)
}

// CreateCall inserts the row for a new call. Each CallSid may be created once.
func (s *SQLiteStore) CreateCall(ctx context.Context, c Call) (*Call, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, call_sid, business_id, caller_number, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.CallSid, c.BusinessID, c.CallerNumber, c.Status, c.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting call: %w", err)
	}
	return &c, nil
}

// GetCall retrieves a call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, call_sid, business_id, caller_number, status, duration_seconds,
		       summary, sentiment, started_at, ended_at
		FROM calls WHERE id = ?`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// AppendTranscriptLine stores a line; repeating the same sequence is a no-op.
func (s *SQLiteStore) AppendTranscriptLine(ctx context.Context, line TranscriptLine) error {
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_lines (call_id, sequence, role, text, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(call_id, sequence) DO NOTHING`,
		line.CallID, line.Sequence, line.Role, line.Text, line.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending transcript line: %w", err)
	}
	return nil
}

// CompleteCall records the terminal status and duration of a call.
func (s *SQLiteStore) CompleteCall(ctx context.Context, callID, status string, durationSeconds int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calls SET status = ?, duration_seconds = ?, ended_at = ? WHERE id = ?`,
		status, durationSeconds, time.Now().UTC(), callID,
	)
	if err != nil {
		return fmt.Errorf("completing call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteCallBySid is CompleteCall for callers that only know the
// gateway's call identifier.
func (s *SQLiteStore) CompleteCallBySid(ctx context.Context, callSid, status string, durationSeconds int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calls SET status = ?, duration_seconds = ?, ended_at = ? WHERE call_sid = ?`,
		status, durationSeconds, time.Now().UTC(), callSid,
	)
	if err != nil {
		return fmt.Errorf("completing call %s: %w", callSid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAppointment stores a booking.
func (s *SQLiteStore) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments (id, call_id, business_id, customer_name, customer_phone,
			service, requested_time, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CallID, a.BusinessID, a.CustomerName, a.CustomerPhone,
		a.Service, a.RequestedTime, a.Notes, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting appointment: %w", err)
	}
	return &a, nil
}

// CreateCustomerRequest stores a message or callback request.
func (s *SQLiteStore) CreateCustomerRequest(ctx context.Context, r CustomerRequest) (*CustomerRequest, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Kind == "" {
		r.Kind = RequestMessage
	}
	r.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_requests (id, call_id, business_id, kind, customer_name,
			customer_phone, message, preferred_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CallID, r.BusinessID, r.Kind, r.CustomerName,
		r.CustomerPhone, r.Message, r.PreferredTime, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting customer request: %w", err)
	}
	return &r, nil
}

// FetchTranscript returns a call's lines in sequence order.
func (s *SQLiteStore) FetchTranscript(ctx context.Context, callID string) ([]TranscriptLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, sequence, role, text, created_at
		FROM transcript_lines WHERE call_id = ? ORDER BY sequence`, callID)
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

// UpdateSummary stores the post-call summary and sentiment.
func (s *SQLiteStore) UpdateSummary(ctx context.Context, callID, summary, sentiment string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET summary = ?, sentiment = ? WHERE id = ?`,
		summary, sentiment, callID)
	if err != nil {
		return fmt.Errorf("updating call summary: %w", err)
	}
	return nil
}

// ListCallsWithoutSummary returns completed calls that still need a summary,
// oldest first. Calls with no transcript lines have nothing to summarize and
// are left out.
func (s *SQLiteStore) ListCallsWithoutSummary(ctx context.Context, limit int) ([]Call, error) {
	query := `
		SELECT id, call_sid, business_id, caller_number, status, duration_seconds,
		       summary, sentiment, started_at, ended_at
		FROM calls
		WHERE status = ? AND summary = ''
		  AND EXISTS (SELECT 1 FROM transcript_lines WHERE call_id = calls.id)
		ORDER BY started_at`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("querying calls without summary: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCall(sc scanner) (*Call, error) {
	var (
		c       Call
		endedAt sql.NullTime
	)
	err := sc.Scan(&c.ID, &c.CallSid, &c.BusinessID, &c.CallerNumber, &c.Status,
		&c.DurationSeconds, &c.Summary, &c.Sentiment, &c.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return &c, nil
}
