package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultSecurityEventLimit = 100
	maxSecurityEventLimit     = 1000
)

// SetSecurityEventRetention sets how long security events are kept.
func (s *Store) SetSecurityEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultSecurityEventRetention
	}
	s.securityEventRetention = retention
}

// RecordSecurityEvent stores a warning-level event for identity with details
// encoded as a JSON object. An empty identity is stored as NULL.
func (s *Store) RecordSecurityEvent(ctx context.Context, eventType, identity string, details map[string]string) error {
	if details == nil {
		details = map[string]string{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode security event details: %w", err)
	}
	return s.LogSecurityEvent(ctx, SecurityEvent{
		EventType: eventType,
		Identity:  &identity,
		Details:   string(raw),
		Severity:  SecuritySeverityWarning,
	})
}

// LogSecurityEvent validates and inserts event, then drops rows older than the
// retention window.
func (s *Store) LogSecurityEvent(ctx context.Context, event SecurityEvent) error {
	if err := event.normalize(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO security_events (event_type, identity, details, severity, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		event.EventType, nullString(event.Identity), event.Details, event.Severity, event.Timestamp,
	); err != nil {
		return fmt.Errorf("insert security event %q: %w", event.EventType, err)
	}

	if s.securityEventRetention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.securityEventRetention).UnixMilli()
	if _, err := s.PruneSecurityEvents(ctx, cutoff); err != nil {
		return fmt.Errorf("prune security events: %w", err)
	}
	return nil
}

func (e *SecurityEvent) normalize() error {
	e.EventType = strings.TrimSpace(e.EventType)
	if e.EventType == "" {
		return errors.New("event_type is required")
	}
	if e.Severity == "" {
		e.Severity = SecuritySeverityInfo
	}
	if err := validateSecuritySeverity(e.Severity); err != nil {
		return err
	}
	switch {
	case e.Details == "":
		e.Details = "{}"
	case !json.Valid([]byte(e.Details)):
		return errors.New("details must be valid JSON text")
	}
	if e.Timestamp == 0 {
		e.Timestamp = nowUnixMilli()
	}
	if e.Identity != nil {
		trimmed := strings.TrimSpace(*e.Identity)
		if trimmed == "" {
			e.Identity = nil
		} else {
			e.Identity = &trimmed
		}
	}
	return nil
}

// where renders the filter as a SQL condition and its arguments.
func (f SecurityEventFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.EventType != "" {
		add("event_type = ?", f.EventType)
	}
	if f.Identity != "" {
		add("identity = ?", f.Identity)
	}
	if f.Severity != "" {
		add("severity = ?", f.Severity)
	}
	if f.FromTimestamp != nil {
		add("timestamp >= ?", *f.FromTimestamp)
	}
	if f.ToTimestamp != nil {
		add("timestamp <= ?", *f.ToTimestamp)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// GetSecurityEvents returns matching events, newest first.
func (s *Store) GetSecurityEvents(ctx context.Context, filter SecurityEventFilter) ([]SecurityEvent, error) {
	if filter.Severity != "" {
		if err := validateSecuritySeverity(filter.Severity); err != nil {
			return nil, err
		}
	}

	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = defaultSecurityEventLimit
	case limit > maxSecurityEventLimit:
		limit = maxSecurityEventLimit
	}

	cond, args := filter.where()
	query := `SELECT id, event_type, identity, details, severity, timestamp FROM security_events` +
		cond + ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get security events: %w", err)
	}
	defer rows.Close()

	events := make([]SecurityEvent, 0)
	for rows.Next() {
		event, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan security event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security event rows: %w", err)
	}
	return events, nil
}

// PruneSecurityEvents removes events older than cutoffTimestamp (unix ms).
func (s *Store) PruneSecurityEvents(ctx context.Context, cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune security events: %w", err)
	}
	return res.RowsAffected()
}

func scanSecurityEvent(row scanner) (SecurityEvent, error) {
	var (
		event    SecurityEvent
		identity sql.NullString
	)
	err := row.Scan(&event.ID, &event.EventType, &identity, &event.Details, &event.Severity, &event.Timestamp)
	event.Identity = stringPtr(identity)
	return event, err
}
