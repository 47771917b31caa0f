package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"ev_scanner/internal/models"
	"ev_scanner/pkg/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_verdicts (
	id         TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	product_id TEXT,
	readiness  INT,
	reasons    JSONB NOT NULL DEFAULT '[]',
	output     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

const insertVerdict = `
INSERT INTO scan_verdicts (id, state, product_id, readiness, reasons, output, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

const selectRecent = `
SELECT id, state, COALESCE(product_id, ''), readiness, reasons, output, created_at
FROM scan_verdicts
ORDER BY created_at DESC
LIMIT $1`

// Archive: append-only журнал вердиктов в Postgres.
type Archive struct {
	db db.TxManager
}

func NewArchive(tx db.TxManager) *Archive {
	return &Archive{db: tx}
}

func (a *Archive) EnsureSchema(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Archive.EnsureSchema: %w", err)
		}
	}()
	return a.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, schema)
		return err
	})
}

// Save пишет вердикт; повторная запись того же id игнорируется.
func (a *Archive) Save(ctx context.Context, r models.ScanResult) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Archive.Save: %w", err)
		}
	}()

	reasons := r.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	var rb []byte
	rb, err = sonic.Marshal(reasons)
	if err != nil {
		return err
	}

	var productID *string
	if r.ProductID != "" {
		productID = &r.ProductID
	}

	return a.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, insertVerdict,
			r.ID, string(r.State), productID, r.ReadinessScore, rb, r.Output,
			time.UnixMilli(r.Timestamp).UTC())
		return err
	})
}

// Recent: последние limit вердиктов, от новых к старым.
func (a *Archive) Recent(ctx context.Context, limit int) (out []models.ScanResult, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Archive.Recent: %w", err)
		}
	}()

	err = a.db.RunReadOnly(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctxTx, selectRecent, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r         models.ScanResult
				state     string
				readiness *int
				reasons   []byte
				created   time.Time
			)
			if err := rows.Scan(&r.ID, &state, &r.ProductID, &readiness, &reasons, &r.Output, &created); err != nil {
				return err
			}
			r.State = models.ScanState(state)
			r.ReadinessScore = readiness
			r.Timestamp = created.UnixMilli()
			if len(reasons) > 0 {
				if err := sonic.Unmarshal(reasons, &r.Reasons); err != nil {
					return err
				}
				if len(r.Reasons) == 0 {
					r.Reasons = nil
				}
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}
