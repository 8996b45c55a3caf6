package spec

// ResolutionContext is the environment snapshot predicates are evaluated
// against: tool versions, declared package dependencies, environment
// variables, and file-existence globs (spec.md §4.1).
type ResolutionContext struct {
	ToolVersions map[string]string // tool name -> semver string
	Packages     map[string]string // package name -> semver string
	Env          map[string]string
	Files        []string // paths of files known to exist; file:<glob> atoms match against these

	// Used by suggestion/packer novelty scoring; not part of predicate
	// evaluation itself.
	TechStack      []string
	TriggerHits    []string
	AlreadyPresent map[string]bool // slice ids already in the agent's context
}

// ContextFingerprint identifies a suggestion request's environment for
// cooldown suppression (spec.md §4.5).
type ContextFingerprint struct {
	RepoRoot        string
	VCSHead         string
	FileSetDigest   string
	RecentCmdDigest string
	Query           string
}
