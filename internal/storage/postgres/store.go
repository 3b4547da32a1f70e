package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"consulting-crm/internal/models"
	"consulting-crm/internal/storage"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Schema creates every table the store needs. All statements are idempotent.
//
//go:embed schema.sql
var Schema string

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.DirectoryStore = (*Store)(nil)
var _ storage.BookingStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- ApplicationStore -------------------------------------------------------

const applicationColumns = `
	a.application_id, a.scheme_id, COALESCE(a.booking_id, ''), a.assigned_to, a.status,
	a.applied_amount, a.approved_amount, a.submission_date, a.approval_date, a.rejection_date,
	a.rejection_reason, a.timeline, a.version, a.created_at, a.updated_at,
	c.id, c.name, COALESCE(c.user_id, ''), COALESCE(c.assigned_manager_id, ''),
	COALESCE(c.assigned_sales_id, ''), COALESCE(s.manager_id, '')`

const applicationFrom = `
	FROM applications a
	JOIN clients c ON c.id = a.client_id
	LEFT JOIN users s ON s.id = c.assigned_sales_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (models.Application, error) {
	var (
		app         models.Application
		status      string
		approved    decimal.NullDecimal
		submitted   sql.NullTime
		approvedOn  sql.NullTime
		rejectedOn  sql.NullTime
		timelineRaw []byte
	)

	err := row.Scan(
		&app.ApplicationID, &app.SchemeID, &app.BookingID, &app.AssignedTo, &status,
		&app.AppliedAmount, &approved, &submitted, &approvedOn, &rejectedOn,
		&app.RejectionReason, &timelineRaw, &app.Version, &app.CreatedAt, &app.UpdatedAt,
		&app.Client.ID, &app.Client.Name, &app.Client.UserID, &app.Client.AssignedManagerID,
		&app.Client.AssignedSalesID, &app.Client.AssignedSalesManagerID,
	)
	if err != nil {
		return models.Application{}, err
	}

	parsed, err := models.ParseStatus(status)
	if err != nil {
		return models.Application{}, fmt.Errorf("application %s: %w", app.ApplicationID, err)
	}
	app.Status = parsed

	if approved.Valid {
		v := approved.Decimal
		app.ApprovedAmount = &v
	}
	app.SubmissionDate = timePtr(submitted)
	app.ApprovalDate = timePtr(approvedOn)
	app.RejectionDate = timePtr(rejectedOn)

	if len(timelineRaw) > 0 {
		if err := json.Unmarshal(timelineRaw, &app.Timeline); err != nil {
			return models.Application{}, fmt.Errorf("decode timeline of %s: %w", app.ApplicationID, err)
		}
	}
	return app, nil
}

func (s *Store) GetApplication(ctx context.Context, applicationID string) (models.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+applicationColumns+applicationFrom+`
		WHERE a.application_id = $1`, applicationID)

	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Application{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Application{}, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

func (s *Store) CreateApplication(ctx context.Context, app models.Application) (models.Application, error) {
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = app.CreatedAt
	app.Version = 1

	timelineJSON, err := json.Marshal(app.Timeline)
	if err != nil {
		return models.Application{}, fmt.Errorf("encode timeline: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (
			application_id, client_id, scheme_id, booking_id, assigned_to, status,
			applied_amount, approved_amount, submission_date, approval_date, rejection_date,
			rejection_reason, timeline, version, created_at, updated_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
		app.ApplicationID,
		app.Client.ID,
		app.SchemeID,
		app.BookingID,
		app.AssignedTo,
		string(app.Status),
		app.AppliedAmount,
		nullDecimal(app.ApprovedAmount),
		nullTime(app.SubmissionDate),
		nullTime(app.ApprovalDate),
		nullTime(app.RejectionDate),
		app.RejectionReason,
		timelineJSON,
		app.Version,
		app.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.Application{}, fmt.Errorf("%w: application %s", storage.ErrDuplicate, app.ApplicationID)
		}
		return models.Application{}, fmt.Errorf("insert application: %w", err)
	}
	return app, nil
}

func (s *Store) SaveTransition(ctx context.Context, app models.Application, expectedVersion int64) (models.Application, error) {
	timelineJSON, err := json.Marshal(app.Timeline)
	if err != nil {
		return models.Application{}, fmt.Errorf("encode timeline: %w", err)
	}

	updatedAt := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE applications
		SET status = $3,
		    approved_amount = $4,
		    submission_date = $5,
		    approval_date = $6,
		    rejection_date = $7,
		    rejection_reason = $8,
		    timeline = $9,
		    version = version + 1,
		    updated_at = $10
		WHERE application_id = $1 AND version = $2`,
		app.ApplicationID,
		expectedVersion,
		string(app.Status),
		nullDecimal(app.ApprovedAmount),
		nullTime(app.SubmissionDate),
		nullTime(app.ApprovalDate),
		nullTime(app.RejectionDate),
		app.RejectionReason,
		timelineJSON,
		updatedAt,
	)
	if err != nil {
		return models.Application{}, fmt.Errorf("save transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return models.Application{}, fmt.Errorf("save transition rows affected: %w", err)
	}
	if rows == 0 {
		return models.Application{}, storage.ErrVersionConflict
	}

	app.Version = expectedVersion + 1
	app.UpdatedAt = updatedAt
	return app, nil
}

func (s *Store) ListApplications(ctx context.Context, scope storage.ListScope) ([]models.Application, error) {
	if scope.Empty() {
		return nil, nil
	}

	query, args := buildListQuery(scope)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var out []models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// buildListQuery ORs the visibility criteria together and ANDs the optional
// status filter onto the result.
func buildListQuery(scope storage.ListScope) (string, []interface{}) {
	var (
		visible []string
		args    []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !scope.Unrestricted {
		if scope.ClientUserID != "" {
			visible = append(visible, "c.user_id = "+arg(scope.ClientUserID))
		}
		if scope.AssignedTo != "" {
			visible = append(visible, "a.assigned_to = "+arg(scope.AssignedTo))
		}
		if scope.ManagerID != "" {
			p := arg(scope.ManagerID)
			visible = append(visible, "(c.assigned_manager_id = "+p+" OR s.manager_id = "+p+")")
		}
	}

	var where []string
	if len(visible) > 0 {
		where = append(where, "("+strings.Join(visible, " OR ")+")")
	}
	if scope.Status != "" {
		where = append(where, "a.status = "+arg(string(scope.Status)))
	}

	query := `SELECT` + applicationColumns + applicationFrom
	if len(where) > 0 {
		query += "\n\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\tORDER BY a.created_at DESC, a.application_id"
	return query, args
}

// --- DirectoryStore ---------------------------------------------------------

func (s *Store) GetActor(ctx context.Context, id string) (models.Actor, error) {
	var (
		actor models.Actor
		role  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, phone, role, is_superuser, COALESCE(manager_id, '')
		FROM users
		WHERE id = $1`, id).
		Scan(&actor.ID, &actor.DisplayName, &actor.Email, &actor.Phone, &role, &actor.IsSuperuser, &actor.ManagerID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Actor{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Actor{}, fmt.Errorf("get actor: %w", err)
	}

	actor.Role, err = models.ParseRole(role)
	if err != nil {
		return models.Actor{}, fmt.Errorf("actor %s: %w", id, err)
	}
	return actor, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (models.ClientRef, error) {
	var client models.ClientRef
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, COALESCE(c.user_id, ''), COALESCE(c.assigned_manager_id, ''),
		       COALESCE(c.assigned_sales_id, ''), COALESCE(s.manager_id, '')
		FROM clients c
		LEFT JOIN users s ON s.id = c.assigned_sales_id
		WHERE c.id = $1`, id).
		Scan(&client.ID, &client.Name, &client.UserID, &client.AssignedManagerID,
			&client.AssignedSalesID, &client.AssignedSalesManagerID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ClientRef{}, storage.ErrNotFound
	}
	if err != nil {
		return models.ClientRef{}, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

// --- BookingStore -----------------------------------------------------------

// GetBooking loads the booking with its most recent payment, if any.
func (s *Store) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	var (
		booking       models.Booking
		status        string
		paymentID     sql.NullString
		paymentStatus sql.NullString
		paymentAmount decimal.NullDecimal
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.client_id, COALESCE(b.scheme_id, ''), b.status, b.created_at,
		       p.id, p.status, p.amount
		FROM bookings b
		LEFT JOIN payments p ON p.booking_id = b.id
		WHERE b.id = $1
		ORDER BY p.created_at DESC NULLS LAST
		LIMIT 1`, id).
		Scan(&booking.ID, &booking.ClientID, &booking.SchemeID, &status, &booking.CreatedAt,
			&paymentID, &paymentStatus, &paymentAmount)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Booking{}, fmt.Errorf("get booking: %w", err)
	}

	booking.Status = models.BookingStatus(strings.ToUpper(status))
	if paymentID.Valid {
		booking.Payment = &models.Payment{
			ID:     paymentID.String,
			Status: models.PaymentStatus(strings.ToUpper(paymentStatus.String)),
			Amount: paymentAmount.Decimal,
		}
	}
	return booking, nil
}

// --- NotificationStore ------------------------------------------------------

const notificationColumns = `
	id, recipient_id, channel, notification_type, subject, message,
	COALESCE(related_application, ''), status, created_at, sent_at`

func scanNotification(row rowScanner) (models.Notification, error) {
	var (
		n      models.Notification
		sentAt sql.NullTime
	)
	err := row.Scan(&n.ID, &n.RecipientID, &n.Channel, &n.Type, &n.Subject, &n.Message,
		&n.RelatedApplication, &n.Status, &n.CreatedAt, &sentAt)
	if err != nil {
		return models.Notification{}, err
	}
	n.SentAt = timePtr(sentAt)
	return n, nil
}

func (s *Store) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, recipient_id, channel, notification_type, subject, message,
			related_application, status, created_at, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`,
		n.ID, n.RecipientID, string(n.Channel), string(n.Type), n.Subject, n.Message,
		n.RelatedApplication, string(n.Status), n.CreatedAt, nullTime(n.SentAt),
	)
	if err != nil {
		return models.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (models.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx,
		`SELECT`+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Notification{}, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// MarkNotification records a delivery outcome. sent_at is only stamped for SENT.
func (s *Store) MarkNotification(ctx context.Context, id string, status models.NotificationStatus, at time.Time) error {
	var sentAt *time.Time
	if status == models.NotificationSent {
		sentAt = &at
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = $2, sent_at = COALESCE($3, sent_at)
		WHERE id = $1`, id, string(status), nullTime(sentAt))
	if err != nil {
		return fmt.Errorf("mark notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT`+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- helpers ----------------------------------------------------------------

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
