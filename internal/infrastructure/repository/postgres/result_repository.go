package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

// ResultRepository stores processor outcomes. The table is composite-keyed by
// (processor_id, document_id); Upsert keeps at most one row per pair.
type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

func (r *ResultRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083002)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS document_processor_results (
	processor_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	status TEXT NOT NULL,
	result JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (processor_id, document_id)
);

CREATE INDEX IF NOT EXISTS idx_processor_results_document ON document_processor_results(document_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ResultRepository) Upsert(ctx context.Context, result *domain.ProcessorResult) error {
	payload, err := json.Marshal(result.Result)
	if err != nil {
		return fmt.Errorf("marshal result payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO document_processor_results (processor_id, document_id, status, result, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (processor_id, document_id)
DO UPDATE SET status = EXCLUDED.status, result = EXCLUDED.result, created_at = EXCLUDED.created_at
`, result.ProcessorID, result.DocumentID, string(result.Status), payload, result.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert processor result: %w", err)
	}
	return nil
}

func (r *ResultRepository) FindByDocumentID(ctx context.Context, documentID string) ([]domain.ProcessorResult, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT processor_id, document_id, status, result, created_at
FROM document_processor_results
WHERE document_id = $1
ORDER BY created_at ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query processor results: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

func (r *ResultRepository) FindByDocumentIDAndProcessorIDs(ctx context.Context, documentID string, processorIDs []string) ([]domain.ProcessorResult, error) {
	if len(processorIDs) == 0 {
		return nil, nil
	}

	// string_to_array keeps the argument a single text placeholder, which
	// database/sql drivers accept without array support.
	rows, err := r.db.QueryContext(ctx, `
SELECT processor_id, document_id, status, result, created_at
FROM document_processor_results
WHERE document_id = $1 AND processor_id = ANY(string_to_array($2, ','))
ORDER BY created_at ASC
`, documentID, strings.Join(processorIDs, ","))
	if err != nil {
		return nil, fmt.Errorf("query processor results by ids: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]domain.ProcessorResult, error) {
	var out []domain.ProcessorResult
	for rows.Next() {
		var res domain.ProcessorResult
		var status string
		var payload []byte
		if err := rows.Scan(&res.ProcessorID, &res.DocumentID, &status, &payload, &res.Timestamp); err != nil {
			return nil, fmt.Errorf("scan processor result: %w", err)
		}
		if err := json.Unmarshal(payload, &res.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result payload: %w", err)
		}
		res.Status = domain.ProcessorResultStatus(status)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processor results: %w", err)
	}
	return out, nil
}
