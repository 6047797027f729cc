package patientflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// repoPG stores each patient as a JSONB document. The flow columns are kept
// alongside the document for ad hoc queries on the floor state.
type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Repository backed by PostgreSQL.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const upsertPatientSQL = `
	INSERT INTO flow_patient (id, token, current_department, status, entered_zone_at, record)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		current_department = EXCLUDED.current_department,
		status = EXCLUDED.status,
		entered_zone_at = EXCLUDED.entered_zone_at,
		record = EXCLUDED.record,
		updated_at = NOW()`

func savePatient(ctx context.Context, q queryable, p *Patient) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode patient %s: %w", p.ID, err)
	}
	_, err = q.Exec(ctx, upsertPatientSQL,
		p.ID, p.Token, string(p.CurrentDepartment), string(p.Status), p.EnteredZoneAt, string(doc))
	if err != nil {
		return fmt.Errorf("save patient %s: %w", p.ID, err)
	}
	return nil
}

func (r *repoPG) Save(ctx context.Context, p *Patient) error {
	return savePatient(ctx, r.pool, p)
}

func (r *repoPG) List(ctx context.Context) ([]Patient, error) {
	rows, err := r.pool.Query(ctx, `SELECT record FROM flow_patient ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		var p Patient
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("decode patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) ReplaceAll(ctx context.Context, list []Patient) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM flow_patient`); err != nil {
		return fmt.Errorf("clear patients: %w", err)
	}
	for i := range list {
		if err := savePatient(ctx, tx, &list[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
