package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/flexigpt/skillregistry-go/internal/pathsafe"
)

// Archive is the content-addressed, version-controlled directory tree
// spec.md §4.2/§6 describes: `<root>/<layer>/<skill-id>/` holding the spec
// source and compiled view, with history tracked by go-git so every
// commit is an atomic, durable ref.
type Archive struct {
	root string
	repo *git.Repository
}

// OpenArchive opens (initializing if necessary) a go-git repository
// rooted at root.
func OpenArchive(root string) (*Archive, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("archive mkdir: %w", err)
	}
	repo, err := git.PlainOpen(root)
	if err != nil {
		repo, err = git.PlainInit(root, false)
		if err != nil {
			return nil, fmt.Errorf("archive init: %w", err)
		}
	}
	return &Archive{root: root, repo: repo}, nil
}

// skillDir returns the absolute directory for a skill in a layer,
// confined under root via pathsafe so a hostile layer/id value can never
// escape the archive tree.
func (a *Archive) skillDir(layer, id string) (string, error) {
	return pathsafe.JoinUnderRoot(a.root, filepath.Join(layer, id))
}

// CommitSkill stages spec.md + compiled.md for a skill and commits,
// returning the new commit hash. Idempotent: committing identical bytes a
// second time stages no change, go-git reports ErrEmptyCommit, and the
// current HEAD hash is returned instead of a new commit.
func (a *Archive) CommitSkill(layer, id string, specBytes, compiledBytes []byte, contentHash string) (plumbing string, err error) {
	dir, err := a.skillDir(layer, id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive mkdir skill dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "spec.md"), specBytes, 0o644); err != nil {
		return "", fmt.Errorf("archive write spec: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "compiled.md"), compiledBytes, 0o644); err != nil {
		return "", fmt.Errorf("archive write compiled: %w", err)
	}

	wt, err := a.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("archive worktree: %w", err)
	}
	rel, err := filepath.Rel(a.root, dir)
	if err != nil {
		return "", err
	}
	if _, err := wt.Add(filepath.Join(rel, "spec.md")); err != nil {
		return "", fmt.Errorf("archive stage spec: %w", err)
	}
	if _, err := wt.Add(filepath.Join(rel, "compiled.md")); err != nil {
		return "", fmt.Errorf("archive stage compiled: %w", err)
	}

	commit, err := wt.Commit(fmt.Sprintf("write %s (content_hash %s)", id, shortHash(contentHash)), &git.CommitOptions{
		Author: &object.Signature{Name: "skillregistry", Email: "skillregistry@localhost", When: time.Now()},
	})
	if err != nil {
		if err == git.ErrEmptyCommit {
			head, herr := a.repo.Head()
			if herr != nil {
				return "", herr
			}
			return head.Hash().String(), nil
		}
		return "", fmt.Errorf("archive commit: %w", err)
	}
	return commit.String(), nil
}

// Tombstone writes a deletion marker for a skill id in layer and commits
// it, per spec.md §3/§4.2 ("physical removal ... also writes a tombstone
// in the archive").
func (a *Archive) Tombstone(layer, id string) error {
	dir, err := a.skillDir(layer, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tombPath := filepath.Join(dir, "TOMBSTONE")
	if err := os.WriteFile(tombPath, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return err
	}
	wt, err := a.repo.Worktree()
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(a.root, tombPath)
	if err != nil {
		return err
	}
	if _, err := wt.Add(rel); err != nil {
		return err
	}
	_, err = wt.Commit(fmt.Sprintf("tombstone %s", id), &git.CommitOptions{
		Author: &object.Signature{Name: "skillregistry", Email: "skillregistry@localhost", When: time.Now()},
	})
	if err != nil && err != git.ErrEmptyCommit {
		return err
	}
	return nil
}

// HasCommitFor reports whether the archive's working tree holds a spec.md
// at the given skill directory, a cheap existence probe used during
// P3-replay-on-restart (spec.md §4.2). It does not compare content.
func (a *Archive) HasCommitFor(layer, id string) (bool, error) {
	dir, err := a.skillDir(layer, id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, "spec.md"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
