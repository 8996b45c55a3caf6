// Package store implements C2, the Dual Store: a queryable relational
// store (modernc.org/sqlite) kept atomically consistent with a
// content-addressed archive (go-git) via two-phase commit, behind a
// cross-process advisory write lock.
//
// Grounded on the modernc.org/sqlite usage in
// _examples/RedClaus-cortex/apps/pinky/internal/memory/sqlite.go
// (sql.Open("sqlite", path) + an embedded CREATE TABLE IF NOT EXISTS
// migration run at construction time) and on go-git's own documented API
// shape for the archive, since the pack's own go-git usage
// (cortex-coder-agent/pkg/tui/browser.go) only exercises gitignore
// matching rather than commits — see DESIGN.md.
package store

import "database/sql"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS skills (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	version TEXT,
	layer TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	deprecated INTEGER NOT NULL DEFAULT 0,
	replaced_by TEXT,
	source_path TEXT NOT NULL,
	modified_at TIMESTAMP NOT NULL,
	spec_json BLOB NOT NULL,
	compiled_md BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS aliases (
	from_id TEXT PRIMARY KEY,
	to_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS dependencies (
	skill_id TEXT NOT NULL,
	depends_on TEXT NOT NULL,
	edge_kind TEXT NOT NULL, -- "extends" | "includes"
	PRIMARY KEY (skill_id, depends_on, edge_kind)
);

CREATE TABLE IF NOT EXISTS capabilities (
	skill_id TEXT NOT NULL,
	capability TEXT NOT NULL,
	PRIMARY KEY (skill_id, capability)
);

CREATE TABLE IF NOT EXISTS slices (
	skill_id TEXT NOT NULL,
	slice_id TEXT PRIMARY KEY,
	payload_json BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	owner_id TEXT PRIMARY KEY,
	backend TEXT NOT NULL,
	dims INTEGER NOT NULL,
	vector BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_events (
	id TEXT PRIMARY KEY,
	slice_id TEXT NOT NULL,
	outcome TEXT NOT NULL, -- "success" | "failure" | "neutral"
	at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS experiments (
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	weights_json BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS resolved_cache (
	resolve_key TEXT PRIMARY KEY,
	payload_json BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL
);

-- resolve_pointer is the id-addressable front door onto resolved_cache:
-- it lets a cold start find a skill's last resolve_key and the dependency
-- hashes it was computed from, so that hash set can be revalidated with a
-- handful of cheap lookups instead of re-walking extends/includes.
CREATE TABLE IF NOT EXISTS resolve_pointer (
	id TEXT PRIMARY KEY,
	resolve_key TEXT NOT NULL,
	dep_hashes_json BLOB NOT NULL,
	fingerprint TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dependency_graph (
	parent_id TEXT NOT NULL,
	child_id TEXT NOT NULL,
	PRIMARY KEY (parent_id, child_id)
);

CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS overlays (
	id TEXT PRIMARY KEY,
	target_skill_id TEXT NOT NULL,
	layer TEXT NOT NULL,
	ops_json BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS tx_log (
	id TEXT PRIMARY KEY,
	entity TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	target_paths TEXT NOT NULL,
	phase TEXT NOT NULL, -- "prepare" | "complete" | "degraded" | "rolled_back"
	created_at TIMESTAMP NOT NULL
);
`

func migrate(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}
