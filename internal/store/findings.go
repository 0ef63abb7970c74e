// ABOUTME: Finding persistence for the SQLite store
// ABOUTME: Inserts agent findings and lists them newest first with optional filters

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultFindingLimit = 100

// SaveFinding inserts a finding, assigning an ID and timestamp when unset.
func (s *SQLiteStore) SaveFinding(ctx context.Context, f *Finding) error {
	if !ValidSeverity(f.Severity) {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, f.Severity)
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO findings (id, agent_id, agent_name, target, severity, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		f.ID,
		f.AgentID,
		f.AgentName,
		f.Target,
		f.Severity,
		f.Content,
		formatTime(f.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateFinding
		}
		return fmt.Errorf("inserting finding: %w", err)
	}

	s.logger.Debug("saved finding", "id", f.ID, "agent_id", f.AgentID, "severity", f.Severity)
	return nil
}

// ListFindings returns findings newest first.
func (s *SQLiteStore) ListFindings(ctx context.Context, filter FindingFilter) ([]*Finding, error) {
	var (
		where []string
		args  []any
	)
	if filter.Target != "" {
		where = append(where, "target = ?")
		args = append(args, filter.Target)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultFindingLimit
	}

	query := `SELECT id, agent_id, agent_name, target, severity, content, created_at FROM findings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying findings: %w", err)
	}
	defer rows.Close()

	var findings []*Finding
	for rows.Next() {
		var f Finding
		var createdAt string
		if err := rows.Scan(&f.ID, &f.AgentID, &f.AgentName, &f.Target, &f.Severity, &f.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning finding: %w", err)
		}
		if f.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		findings = append(findings, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating findings: %w", err)
	}

	return findings, nil
}
