package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/flexigpt/skillregistry-go/compiler"
)

// DoctorReport summarizes what Doctor found and did.
type DoctorReport struct {
	Replayed  []string
	RolledBack []string
	Clean     bool
}

// Doctor reconciles any `prepare` tx_log record without a matching
// `complete` record, per spec.md §4.2: "any prepare without complete is
// replayed or rolled back based on observable state." Observable state
// here is whether the archive already holds the prepared payload
// (HasCommitFor) — if so the P3 step already happened and we only need to
// append P4; if not, the write never reached the archive and is rolled
// back (the relational row, if present from a partial P2, is left as the
// authoritative state since P2 is itself transactional and cannot be
// half-applied).
func Doctor(ctx context.Context, s *Store, fix bool) (DoctorReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.entity_id, p.target_paths, p.payload_hash
		FROM tx_log p
		WHERE p.phase = 'prepare'
		AND NOT EXISTS (
			SELECT 1 FROM tx_log c
			WHERE c.entity_id = p.entity_id AND c.payload_hash = p.payload_hash AND c.phase = 'complete'
		)
	`)
	if err != nil {
		return DoctorReport{}, err
	}
	defer rows.Close()

	type pending struct{ id, entityID, targetPaths, payloadHash string }
	var items []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.entityID, &p.targetPaths, &p.payloadHash); err != nil {
			return DoctorReport{}, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return DoctorReport{}, err
	}

	report := DoctorReport{Clean: len(items) == 0}
	for _, p := range items {
		layer, id := splitTargetPaths(p.targetPaths)
		has, herr := s.archive.HasCommitFor(layer, id)
		if herr != nil {
			return report, herr
		}
		if has {
			dir, derr := s.archive.skillDir(layer, id)
			if derr != nil {
				return report, derr
			}
			b, rerr := os.ReadFile(filepath.Join(dir, "compiled.md"))
			has = rerr == nil && compiler.ContentHash(b) == p.payloadHash
		}
		if has {
			report.Replayed = append(report.Replayed, p.entityID)
			if fix {
				if _, err := s.db.ExecContext(ctx,
					`INSERT INTO tx_log (id, entity, entity_id, payload_hash, target_paths, phase, created_at) VALUES (?,?,?,?,?,?,?)`,
					p.id+":doctor-complete", "skill", p.entityID, p.payloadHash, p.targetPaths, "complete", time.Now()); err != nil {
					return report, err
				}
			}
		} else {
			report.RolledBack = append(report.RolledBack, p.entityID)
			if fix {
				if err := markRolledBack(ctx, s.db, p.id); err != nil {
					return report, err
				}
			}
		}
	}
	return report, nil
}

func markRolledBack(ctx context.Context, db *sql.DB, txID string) error {
	_, err := db.ExecContext(ctx, `UPDATE tx_log SET phase = 'rolled_back' WHERE id = ?`, txID)
	return err
}

func splitTargetPaths(tp string) (layer, id string) {
	for i := 0; i < len(tp); i++ {
		if tp[i] == '/' {
			return tp[:i], tp[i+1:]
		}
	}
	return "", tp
}
