// ABOUTME: Saved mission config persistence for the SQLite store
// ABOUTME: Upserts by name and serializes tool lists and flag sets as JSON columns

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SaveConfig inserts cfg or replaces the existing config with the same name.
// CreatedAt is preserved across replacements.
func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg *SavedConfig) error {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return ErrInvalidName
	}

	tools, err := json.Marshal(nonNil(cfg.RequestedTools))
	if err != nil {
		return fmt.Errorf("encoding requested tools: %w", err)
	}

	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	query := `
		INSERT INTO mission_configs (
			name, target, category, model, agent_count, instructions, mode, os_type,
			requested_tools, allowlist_only, stealth, capabilities, execution_duration,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			target = excluded.target,
			category = excluded.category,
			model = excluded.model,
			agent_count = excluded.agent_count,
			instructions = excluded.instructions,
			mode = excluded.mode,
			os_type = excluded.os_type,
			requested_tools = excluded.requested_tools,
			allowlist_only = excluded.allowlist_only,
			stealth = excluded.stealth,
			capabilities = excluded.capabilities,
			execution_duration = excluded.execution_duration,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		cfg.Name,
		cfg.Target,
		cfg.Category,
		cfg.Model,
		cfg.AgentCount,
		cfg.Instructions,
		cfg.Mode,
		cfg.OSType,
		string(tools),
		cfg.AllowlistOnly,
		nullableJSON(cfg.Stealth),
		nullableJSON(cfg.Capabilities),
		cfg.ExecutionDuration,
		formatTime(cfg.CreatedAt),
		formatTime(cfg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	s.logger.Debug("saved mission config", "name", cfg.Name)
	return nil
}

const configColumns = `
	name, target, category, model, agent_count, instructions, mode, os_type,
	requested_tools, allowlist_only, stealth, capabilities, execution_duration,
	created_at, updated_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanConfig(row scanner) (*SavedConfig, error) {
	var (
		cfg                  SavedConfig
		tools                string
		stealth, caps        sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&cfg.Name,
		&cfg.Target,
		&cfg.Category,
		&cfg.Model,
		&cfg.AgentCount,
		&cfg.Instructions,
		&cfg.Mode,
		&cfg.OSType,
		&tools,
		&cfg.AllowlistOnly,
		&stealth,
		&caps,
		&cfg.ExecutionDuration,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tools), &cfg.RequestedTools); err != nil {
		return nil, fmt.Errorf("decoding requested tools: %w", err)
	}
	if stealth.Valid {
		cfg.Stealth = json.RawMessage(stealth.String)
	}
	if caps.Valid {
		cfg.Capabilities = json.RawMessage(caps.String)
	}
	if cfg.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if cfg.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetConfig returns the named config or ErrNotFound.
func (s *SQLiteStore) GetConfig(ctx context.Context, name string) (*SavedConfig, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+configColumns+" FROM mission_configs WHERE name = ?", name)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying config: %w", err)
	}
	return cfg, nil
}

// ListConfigs returns all saved configs, most recently updated first.
func (s *SQLiteStore) ListConfigs(ctx context.Context) ([]*SavedConfig, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+configColumns+" FROM mission_configs ORDER BY updated_at DESC, name")
	if err != nil {
		return nil, fmt.Errorf("querying configs: %w", err)
	}
	defer rows.Close()

	var configs []*SavedConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating configs: %w", err)
	}
	return configs, nil
}

// DeleteConfig removes the named config. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteConfig(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM mission_configs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted mission config", "name", name)
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
