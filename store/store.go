package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/flexigpt/skillregistry-go/compiler"
	"github.com/flexigpt/skillregistry-go/spec"
)

// Store is the Dual Store: a SQLite-backed queryable store plus a
// go-git-backed content-addressed archive, kept consistent via two-phase
// commit behind a cross-process advisory lock.
type Store struct {
	db      *sql.DB
	archive *Archive
	lock    *FileLock
	log     zerolog.Logger

	layerOrder map[string]int // layer name -> ascending priority index
}

// Options configures Open.
type Options struct {
	DBPath      string
	ArchiveRoot string
	LockPath    string
	LayerOrder  []string // ascending priority, e.g. base < community < org < project < user
	GracePeriod time.Duration
	Logger      zerolog.Logger
}

// Open opens (creating if necessary) the SQLite store and the archive,
// and prepares the advisory lock. It does not acquire the lock; each
// write call does that around its own critical section.
func Open(ctx context.Context, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", opts.DBPath)
	if err != nil {
		return nil, spec.NewStorageError(spec.KindStoreWrite, fmt.Sprintf("open sqlite: %v", err), false)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, spec.NewStorageError(spec.KindStoreWrite, fmt.Sprintf("migrate: %v", err), false)
	}
	archive, err := OpenArchive(opts.ArchiveRoot)
	if err != nil {
		db.Close()
		return nil, spec.NewStorageError(spec.KindArchiveCommit, err.Error(), false)
	}

	layers := map[string]int{}
	for i, l := range opts.LayerOrder {
		layers[l] = i
	}

	return &Store{
		db: db, archive: archive,
		lock:       NewFileLock(opts.LockPath, opts.GracePeriod),
		log:        opts.Logger,
		layerOrder: layers,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// WriteSkill upserts a single skill through the full two-phase commit
// protocol described in spec.md §4.2.
func (s *Store) WriteSkill(ctx context.Context, sp spec.Spec, audit spec.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return spec.NewCancelledError("write_skill")
	}
	if err := s.lock.Acquire(); err != nil {
		return spec.NewStorageError(spec.KindLockTimeout, err.Error(), true)
	}
	defer s.lock.Release()

	view := compiler.Compile(sp)
	contentHash := compiler.ContentHash(view.Bytes)
	specJSON, err := json.Marshal(sp)
	if err != nil {
		return spec.NewStorageError(spec.KindStoreWrite, err.Error(), false)
	}

	txID := uuid.NewString()
	dir := fmt.Sprintf("%s/%s", sp.Layer, sp.Frontmatter.ID)

	// P1: prepare record.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tx_log (id, entity, entity_id, payload_hash, target_paths, phase, created_at) VALUES (?,?,?,?,?,?,?)`,
		txID, "skill", sp.Frontmatter.ID, contentHash, dir, "prepare", time.Now(),
	); err != nil {
		return spec.NewStorageError(spec.KindStoreWrite, fmt.Sprintf("P1 prepare: %v", err), true)
	}

	// P2: relational transaction.
	if err := s.applyRelational(ctx, sp, contentHash, specJSON, view.Bytes); err != nil {
		return spec.NewStorageError(spec.KindStoreWrite, fmt.Sprintf("P2 relational: %v", err), true)
	}

	// P3: archive commit.
	if _, err := s.archive.CommitSkill(sp.Layer, sp.Frontmatter.ID, []byte(rawSourcePlaceholder(sp)), view.Bytes, contentHash); err != nil {
		s.markDegraded(ctx, txID)
		return spec.NewStorageError(spec.KindArchiveCommit, fmt.Sprintf("P3 archive: %v", err), true)
	}

	// P4: complete record.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tx_log (id, entity, entity_id, payload_hash, target_paths, phase, created_at) VALUES (?,?,?,?,?,?,?)`,
		uuid.NewString(), "skill", sp.Frontmatter.ID, contentHash, dir, "complete", time.Now(),
	); err != nil {
		return spec.NewStorageError(spec.KindStoreWrite, fmt.Sprintf("P4 complete: %v", err), true)
	}

	s.log.Info().Str("skill_id", sp.Frontmatter.ID).Str("content_hash", contentHash).Msg("wrote skill")
	return nil
}

// rawSourcePlaceholder recompiles the spec as its own "source" text when
// the original source bytes were not retained by the caller (e.g. a
// programmatically constructed spec). WriteSkill always uses it, so the
// archive's spec.md holds this recompiled text.
func rawSourcePlaceholder(sp spec.Spec) string {
	return string(compiler.Compile(sp).Bytes)
}

func (s *Store) applyRelational(ctx context.Context, sp spec.Spec, contentHash string, specJSON, compiledMD []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO skills (id, name, description, version, layer, content_hash, deprecated, replaced_by, source_path, modified_at, spec_json, compiled_md)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, version=excluded.version,
			layer=excluded.layer, content_hash=excluded.content_hash, deprecated=excluded.deprecated,
			replaced_by=excluded.replaced_by, source_path=excluded.source_path, modified_at=excluded.modified_at,
			spec_json=excluded.spec_json, compiled_md=excluded.compiled_md
	`, sp.Frontmatter.ID, sp.Frontmatter.Name, sp.Frontmatter.Description, sp.Frontmatter.Version,
		sp.Layer, contentHash, boolToInt(sp.Frontmatter.Deprecated.Deprecated), sp.Frontmatter.Deprecated.ReplacedBy,
		sp.SourcePath, time.Now(), specJSON, compiledMD)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE skill_id = ?`, sp.Frontmatter.ID); err != nil {
		return err
	}
	if sp.Frontmatter.Extends != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO dependencies (skill_id, depends_on, edge_kind) VALUES (?,?,?)`,
			sp.Frontmatter.ID, sp.Frontmatter.Extends, "extends"); err != nil {
			return err
		}
	}
	for _, inc := range sp.Frontmatter.Includes {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO dependencies (skill_id, depends_on, edge_kind) VALUES (?,?,?)`,
			sp.Frontmatter.ID, inc.Skill, "includes"); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM aliases WHERE to_id = ? AND kind = 'alias'`, sp.Frontmatter.ID); err != nil {
		return err
	}
	for _, a := range sp.Frontmatter.Aliases {
		if err := insertAliasTx(ctx, tx, a, sp.Frontmatter.ID, "alias"); err != nil {
			return err
		}
	}
	if sp.Frontmatter.Deprecated.Deprecated && sp.Frontmatter.Deprecated.ReplacedBy != "" {
		if err := insertAliasTx(ctx, tx, sp.Frontmatter.ID, sp.Frontmatter.Deprecated.ReplacedBy, "deprecated"); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertAliasTx(ctx context.Context, tx *sql.Tx, from, to, kind string) error {
	var existingTo string
	err := tx.QueryRowContext(ctx, `SELECT to_id FROM aliases WHERE from_id = ?`, from).Scan(&existingTo)
	if err == nil && existingTo != to {
		return fmt.Errorf("alias %q already maps to %q, refusing collision with %q", from, existingTo, to)
	}
	var primary string
	err = tx.QueryRowContext(ctx, `SELECT id FROM skills WHERE id = ?`, from).Scan(&primary)
	if err == nil {
		return fmt.Errorf("alias %q collides with an existing primary skill id", from)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO aliases (from_id, to_id, kind, created_at) VALUES (?,?,?,?)
		 ON CONFLICT(from_id) DO UPDATE SET to_id=excluded.to_id, kind=excluded.kind`,
		from, to, kind, time.Now())
	return err
}

func (s *Store) markDegraded(ctx context.Context, txID string) {
	_, _ = s.db.ExecContext(ctx, `UPDATE tx_log SET phase = 'degraded' WHERE id = ?`, txID)
}

// DeleteSkill marks a skill deprecated/removed and writes an archive
// tombstone (spec.md §4.2/§3: "never hard-deleted by the core").
func (s *Store) DeleteSkill(ctx context.Context, id string, audit spec.AuditEvent) error {
	if err := s.lock.Acquire(); err != nil {
		return spec.NewStorageError(spec.KindLockTimeout, err.Error(), true)
	}
	defer s.lock.Release()

	var layer string
	if err := s.db.QueryRowContext(ctx, `SELECT layer FROM skills WHERE id = ?`, id).Scan(&layer); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("skill %q not found", id)
		}
		return spec.NewStorageError(spec.KindStoreWrite, err.Error(), true)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE skills SET deprecated = 1 WHERE id = ?`, id); err != nil {
		return spec.NewStorageError(spec.KindStoreWrite, err.Error(), true)
	}
	if err := s.archive.Tombstone(layer, id); err != nil {
		return spec.NewStorageError(spec.KindArchiveCommit, err.Error(), true)
	}
	return nil
}

// GetSkill implements resolver.SpecSource and general read access.
func (s *Store) GetSkill(ctx context.Context, id string) (spec.Spec, bool, error) {
	var specJSON []byte
	var deprecated int
	err := s.db.QueryRowContext(ctx, `SELECT spec_json, deprecated FROM skills WHERE id = ?`, id).Scan(&specJSON, &deprecated)
	if err == sql.ErrNoRows {
		return spec.Spec{}, false, nil
	}
	if err != nil {
		return spec.Spec{}, false, err
	}
	var sp spec.Spec
	if err := json.Unmarshal(specJSON, &sp); err != nil {
		return spec.Spec{}, false, err
	}
	return sp, true, nil
}

// GetSpec is the resolver.SpecSource method name; GetSkill is kept as the
// public read-path alias spec.md §4.2 names explicitly.
func (s *Store) GetSpec(ctx context.Context, id string) (spec.Spec, bool, error) { return s.GetSkill(ctx, id) }

// ResolveAlias looks up the canonical id a query exactly matches as an
// alias, per spec.md §4.5's alias-rewriting retrieval behavior.
func (s *Store) ResolveAlias(query string) (string, bool, error) {
	var to string
	err := s.db.QueryRow(`SELECT to_id FROM aliases WHERE from_id = ?`, query).Scan(&to)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return to, true, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Layer             string
	Tag               string // not applied by List
	IncludeDeprecated bool
}

// List returns lightweight summaries, per spec.md §4.2.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]spec.SkillSummary, error) {
	q := `SELECT id, name, description, layer, content_hash, deprecated, modified_at FROM skills WHERE 1=1`
	var args []any
	if filter.Layer != "" {
		q += ` AND layer = ?`
		args = append(args, filter.Layer)
	}
	if !filter.IncludeDeprecated {
		q += ` AND deprecated = 0`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []spec.SkillSummary
	for rows.Next() {
		var sm spec.SkillSummary
		var deprecated int
		if err := rows.Scan(&sm.ID, &sm.Name, &sm.Description, &sm.Layer, &sm.ContentHash, &deprecated, &sm.ModifiedAt); err != nil {
			return nil, err
		}
		sm.Deprecated = deprecated != 0
		out = append(out, sm)
	}
	return out, rows.Err()
}

// WriteOverlay persists a single-layer overlay targeting id.
func (s *Store) WriteOverlay(ctx context.Context, id string, ov spec.Overlay) error {
	opsJSON, err := json.Marshal(ov.Ops)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO overlays (id, target_skill_id, layer, ops_json) VALUES (?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET ops_json = excluded.ops_json`,
		id+":"+ov.Layer, id, ov.Layer, opsJSON)
	return err
}

// GetOverlays implements resolver.SpecSource: returns id's overlays in
// ascending layer order (lowest overlay layer first, per spec.md §4.3).
func (s *Store) GetOverlays(ctx context.Context, id string) ([]spec.Overlay, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT layer, ops_json FROM overlays WHERE target_skill_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []spec.Overlay
	for rows.Next() {
		var layer string
		var opsJSON []byte
		if err := rows.Scan(&layer, &opsJSON); err != nil {
			return nil, err
		}
		var ops []spec.OverlayOp
		if err := json.Unmarshal(opsJSON, &ops); err != nil {
			return nil, err
		}
		out = append(out, spec.Overlay{Layer: layer, Ops: ops})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return s.layerOrder[out[i].Layer] < s.layerOrder[out[j].Layer]
	})
	return out, nil
}

// Get / Put implement resolver.PersistentCache, the
// persistent tier of the resolve cache (spec.md §4.3).
func (s *Store) Get(ctx context.Context, resolveKey string) (spec.ResolvedSpec, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM resolved_cache WHERE resolve_key = ?`, resolveKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return spec.ResolvedSpec{}, false, nil
	}
	if err != nil {
		return spec.ResolvedSpec{}, false, err
	}
	var rs spec.ResolvedSpec
	if err := json.Unmarshal(payload, &rs); err != nil {
		return spec.ResolvedSpec{}, false, err
	}
	return rs, true, nil
}

func (s *Store) Put(ctx context.Context, resolveKey string, rs spec.ResolvedSpec) error {
	payload, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolved_cache (resolve_key, payload_json, created_at) VALUES (?,?,?)
		 ON CONFLICT(resolve_key) DO UPDATE SET payload_json = excluded.payload_json`,
		resolveKey, payload, time.Now())
	return err
}

// GetPointer fetches a skill's last-known resolve cache pointer, the
// cheap revalidation path for resolver.Resolve's cold-start probe.
func (s *Store) GetPointer(ctx context.Context, id string) (spec.CachePointer, bool, error) {
	var resolveKey, fingerprint string
	var depHashesJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT resolve_key, dep_hashes_json, fingerprint FROM resolve_pointer WHERE id = ?`, id).
		Scan(&resolveKey, &depHashesJSON, &fingerprint)
	if err == sql.ErrNoRows {
		return spec.CachePointer{}, false, nil
	}
	if err != nil {
		return spec.CachePointer{}, false, err
	}
	var depHashes map[string]string
	if err := json.Unmarshal(depHashesJSON, &depHashes); err != nil {
		return spec.CachePointer{}, false, err
	}
	return spec.CachePointer{ResolveKey: resolveKey, DepHashes: depHashes, Fingerprint: fingerprint}, true, nil
}

func (s *Store) PutPointer(ctx context.Context, id string, ptr spec.CachePointer) error {
	depHashesJSON, err := json.Marshal(ptr.DepHashes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolve_pointer (id, resolve_key, dep_hashes_json, fingerprint) VALUES (?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET resolve_key = excluded.resolve_key,
		 	dep_hashes_json = excluded.dep_hashes_json, fingerprint = excluded.fingerprint`,
		id, ptr.ResolveKey, depHashesJSON, ptr.Fingerprint)
	return err
}

// WriteSlices replaces the stored slice decomposition for a skill, as
// produced by the indexer (spec.md §4.4: "Slices are never user-
// authored").
func (s *Store) WriteSlices(ctx context.Context, skillID string, slices []spec.Slice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM slices WHERE skill_id = ?`, skillID); err != nil {
		return err
	}
	for _, sl := range slices {
		payload, err := json.Marshal(sl)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO slices (skill_id, slice_id, payload_json) VALUES (?,?,?)`,
			skillID, sl.SliceID, payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSlices returns every stored slice for a skill.
func (s *Store) ListSlices(ctx context.Context, skillID string) ([]spec.Slice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload_json FROM slices WHERE skill_id = ?`, skillID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []spec.Slice
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sl spec.Slice
		if err := json.Unmarshal(payload, &sl); err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

// AllSlices returns every stored slice across every skill, for retrieval
// index construction.
func (s *Store) AllSlices(ctx context.Context) ([]spec.Slice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload_json FROM slices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []spec.Slice
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sl spec.Slice
		if err := json.Unmarshal(payload, &sl); err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

// WriteEmbedding stores a fixed-width embedding (spec.md §6: "embeddings
// (fixed-width binary blob)").
func (s *Store) WriteEmbedding(ctx context.Context, e spec.Embedding) error {
	buf := make([]byte, len(e.Vector)*4)
	for i, f := range e.Vector {
		putFloat32(buf[i*4:], f)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (owner_id, backend, dims, vector) VALUES (?,?,?,?)
		 ON CONFLICT(owner_id) DO UPDATE SET backend=excluded.backend, dims=excluded.dims, vector=excluded.vector`,
		e.OwnerID, e.Backend, e.Dims, buf)
	return err
}

// GetEmbedding retrieves a previously stored embedding.
func (s *Store) GetEmbedding(ctx context.Context, ownerID string) (spec.Embedding, bool, error) {
	var backend string
	var dims int
	var buf []byte
	err := s.db.QueryRowContext(ctx, `SELECT backend, dims, vector FROM embeddings WHERE owner_id = ?`, ownerID).
		Scan(&backend, &dims, &buf)
	if err == sql.ErrNoRows {
		return spec.Embedding{}, false, nil
	}
	if err != nil {
		return spec.Embedding{}, false, err
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = getFloat32(buf[i*4:])
	}
	return spec.Embedding{OwnerID: ownerID, Backend: backend, Dims: dims, Vector: vec}, true, nil
}

// AllEmbeddings returns every stored embedding, for dense index
// construction.
func (s *Store) AllEmbeddings(ctx context.Context) ([]spec.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_id, backend, dims, vector FROM embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []spec.Embedding
	for rows.Next() {
		var e spec.Embedding
		var buf []byte
		if err := rows.Scan(&e.OwnerID, &e.Backend, &e.Dims, &buf); err != nil {
			return nil, err
		}
		e.Vector = make([]float32, e.Dims)
		for i := range e.Vector {
			e.Vector[i] = getFloat32(buf[i*4:])
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func putFloat32(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

func getFloat32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
