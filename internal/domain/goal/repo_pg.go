package goal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psyrehab/rehab/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type milestoneRepoPG struct{ pool *pgxpool.Pool }

func NewMilestoneRepoPG(pool *pgxpool.Pool) MilestoneRepository {
	return &milestoneRepoPG{pool: pool}
}

func (r *milestoneRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const msCols = `id, patient_id, parent_id, level, sequence_number, title, description,
	status, completion_rate, completion_date, created_at, updated_at`

// Recursive member of the descendants query; same column order as msCols.
const msColsM = `m.id, m.patient_id, m.parent_id, m.level, m.sequence_number, m.title, m.description,
	m.status, m.completion_rate, m.completion_date, m.created_at, m.updated_at`

func (r *milestoneRepoPG) scan(row pgx.Row) (*Milestone, error) {
	var m Milestone
	err := row.Scan(&m.ID, &m.PatientID, &m.ParentID, &m.Level, &m.SequenceNumber,
		&m.Title, &m.Description, &m.Status, &m.CompletionRate, &m.CompletionDate,
		&m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *milestoneRepoPG) scanAll(rows pgx.Rows) ([]*Milestone, error) {
	defer rows.Close()
	var items []*Milestone
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *milestoneRepoPG) Create(ctx context.Context, m *Milestone) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO milestone (id, patient_id, parent_id, level, sequence_number, title,
			description, status, completion_rate, completion_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		m.ID, m.PatientID, m.ParentID, m.Level, m.SequenceNumber, m.Title,
		m.Description, m.Status, m.CompletionRate, m.CompletionDate).Scan(&m.CreatedAt, &m.UpdatedAt)
	return err
}

func (r *milestoneRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Milestone, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+msCols+` FROM milestone WHERE id = $1`, id))
}

func (r *milestoneRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Milestone, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM milestone WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+msCols+` FROM milestone WHERE patient_id = $1
		ORDER BY level, sequence_number, created_at LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanAll(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *milestoneRepoPG) NonCompletedOutcomes(ctx context.Context, patientID uuid.UUID) ([]*Milestone, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+msCols+` FROM milestone
		WHERE patient_id = $1 AND level = 'outcome' AND status <> 'completed'
		ORDER BY sequence_number, created_at`, patientID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *milestoneRepoPG) Descendants(ctx context.Context, outcomeID uuid.UUID) ([]*Milestone, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		WITH RECURSIVE tree AS (
			SELECT `+msCols+` FROM milestone WHERE parent_id = $1
			UNION ALL
			SELECT `+msColsM+` FROM milestone m JOIN tree t ON m.parent_id = t.id
		)
		SELECT `+msCols+` FROM tree ORDER BY level, sequence_number, created_at`, outcomeID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *milestoneRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, rate int, completedAt *time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE milestone SET status=$2, completion_rate=$3, completion_date=$4, updated_at=NOW()
		WHERE id = $1`, id, status, rate, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
