package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
)

// AgentDirectory is the Postgres-backed agent directory. Wrap it with
// agent.NewCachedDirectory for the read path.
type AgentDirectory struct {
	pool *pgxpool.Pool
}

// NewAgentDirectory builds an AgentDirectory over a pool.
func NewAgentDirectory(pool *pgxpool.Pool) *AgentDirectory {
	return &AgentDirectory{pool: pool}
}

// GetAgent implements agent.Directory.
func (d *AgentDirectory) GetAgent(ctx context.Context, agentID string) (*agent.Config, error) {
	var cfg agent.Config
	var fewShot, dataToFill []byte
	var updatedAt sql.NullTime

	err := d.pool.QueryRow(ctx, `
		SELECT agent_id, name, prompt, few_shot, voice, language, greeting,
			data_to_fill, status, created_at, updated_at
		FROM agents
		WHERE agent_id = $1`, agentID).
		Scan(&cfg.ID, &cfg.Name, &cfg.Prompt, &fewShot, &cfg.Voice, &cfg.Language,
			&cfg.Greeting, &dataToFill, &cfg.Status, &cfg.CreatedAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, agent.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}

	if updatedAt.Valid {
		cfg.UpdatedAt = updatedAt.Time
	}
	if err := json.Unmarshal(fewShot, &cfg.FewShot); err != nil {
		return nil, fmt.Errorf("decode few_shot for %s: %w", agentID, err)
	}
	if err := json.Unmarshal(dataToFill, &cfg.DataToFill); err != nil {
		return nil, fmt.Errorf("decode data_to_fill for %s: %w", agentID, err)
	}

	if cfg.Status != "active" {
		return nil, fmt.Errorf("agent %s: %w", agentID, agent.ErrInactive)
	}
	return &cfg, nil
}

// UpsertAgent inserts or replaces an agent configuration.
func (d *AgentDirectory) UpsertAgent(ctx context.Context, cfg *agent.Config) error {
	fewShot, err := json.Marshal(cfg.FewShot)
	if err != nil {
		return fmt.Errorf("encode few_shot: %w", err)
	}
	dataToFill, err := json.Marshal(cfg.DataToFill)
	if err != nil {
		return fmt.Errorf("encode data_to_fill: %w", err)
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO agents (agent_id, name, prompt, few_shot, voice, language, greeting, data_to_fill, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name,
			prompt = EXCLUDED.prompt,
			few_shot = EXCLUDED.few_shot,
			voice = EXCLUDED.voice,
			language = EXCLUDED.language,
			greeting = EXCLUDED.greeting,
			data_to_fill = EXCLUDED.data_to_fill,
			status = EXCLUDED.status,
			updated_at = now()`,
		cfg.ID, cfg.Name, cfg.Prompt, fewShot, cfg.Voice, cfg.Language,
		cfg.Greeting, dataToFill, cfg.Status)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", cfg.ID, err)
	}
	return nil
}
