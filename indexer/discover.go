package indexer

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
)

// skillFileName is the skill-source filename within a skill directory,
// grounded on the teacher's fsskillprovider/skillmd.go convention.
const skillFileName = "SKILL.md"

// LayerRoot pairs a layer name with its filesystem root, in priority
// order (lowest layer first).
type LayerRoot struct {
	Layer string
	Root  string
}

// Candidate is a discovered skill source file awaiting parse.
type Candidate struct {
	Layer string
	Path  string // absolute path to SKILL.md
}

// Discover walks layer roots in layer order, per spec.md §4.4: "Layer
// roots are walked in layer order. Within a layer, path order is sorted
// lexicographically for determinism. A file is a candidate skill when it
// matches the skill-source suffix." Missing layer roots are skipped, not
// an error — a layer need not exist until something is authored into it.
func Discover(roots []LayerRoot) ([]Candidate, error) {
	var out []Candidate
	for _, lr := range roots {
		var found []string
		err := filepath.WalkDir(lr.Root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fs.SkipDir
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			if d.Name() == skillFileName {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		for _, p := range found {
			out = append(out, Candidate{Layer: lr.Layer, Path: p})
		}
	}
	return out, nil
}
