// Command skillregistryd exposes the skill registry engine as a CLI,
// one subcommand per spec.md §6 operation identifier.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flexigpt/skillregistry-go/engine"
	"github.com/flexigpt/skillregistry-go/indexer"
	"github.com/flexigpt/skillregistry-go/internal/config"
	"github.com/flexigpt/skillregistry-go/internal/logging"
	"github.com/flexigpt/skillregistry-go/packer"
	"github.com/flexigpt/skillregistry-go/retrieval"
	"github.com/flexigpt/skillregistry-go/spec"
	"github.com/flexigpt/skillregistry-go/store"
)

var (
	cfgFile    string
	rootFlag   string
	jsonOutput bool

	cfg *config.Config
	eng *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:   "skillregistryd",
	Short: "Local-first skill registry and retrieval engine for AI coding agents",
	Long: `skillregistryd indexes, resolves, stores, and serves procedural
skill specifications to AI coding agents through hybrid search,
context-aware suggestion, and progressive-disclosure packing.

Configuration is loaded (in increasing priority) from built-in
defaults, a config file, then environment variables:
  SKILLREG_CONFIG  - explicit config file path
  SKILLREG_ROOT    - override every layer root with one directory
  SKILLREG_JSON    - force compact machine-readable output`,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if eng != nil {
			return eng.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: SKILLREG_CONFIG or ./skillregistry.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "override every layer root with this directory (default: SKILLREG_ROOT)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "force compact machine-readable JSON output")

	rootCmd.AddCommand(indexCmd, resolveCmd, loadCmd, writeCmd, deleteCmd, statusCmd, doctorCmd, searchCmd, suggestCmd, packCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile, rootFlag)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg = loaded

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, LogDir: cfg.LogDir, Console: true})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	roots := make([]indexer.LayerRoot, 0, len(cfg.Layers))
	layerOrder := make([]string, 0, len(cfg.Layers))
	for _, l := range cfg.Layers {
		roots = append(roots, indexer.LayerRoot{Layer: l.Layer, Root: l.Root})
		layerOrder = append(layerOrder, l.Layer)
	}

	eng, err = engine.New(cmd.Context(), engine.Options{
		Store: store.Options{
			DBPath:      cfg.DBPath,
			ArchiveRoot: cfg.ArchiveRoot,
			LockPath:    cfg.LockPath,
			LayerOrder:  layerOrder,
			GracePeriod: cfg.WriteLockGracePeriod,
			Logger:      logger,
		},
		CacheCapacity:      cfg.ResolveCacheCapacity,
		MaxDepth:           cfg.CompositionDepthLimit,
		Roots:              roots,
		BanditEpsilon:      cfg.BanditEpsilon,
		BanditEnabled:      cfg.BanditEnabled,
		SuggestionCooldown: cfg.CooldownWindow,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	return nil
}

func emit(res spec.ResultEnvelope) error {
	indent := "  "
	if jsonOutput || config.JSONOutputRequested() {
		indent = ""
	}
	enc := json.NewEncoder(os.Stdout)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Status != "ok" {
		return fmt.Errorf("operation failed: %v", res.Data)
	}
	return nil
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run a full indexing pass over the configured layer roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return emit(eng.Index(cmd.Context()))
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <skill-id>",
	Short: "Materialize a skill's fully composed specification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return emit(eng.Resolve(cmd.Context(), args[0]))
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <skill-id>",
	Short: "Compile a resolved skill to its canonical markdown view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return emit(eng.Load(cmd.Context(), args[0]))
	},
}

var writeLayer string

var writeCmd = &cobra.Command{
	Use:   "write <path>",
	Short: "Parse, validate, and persist a skill source file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		audit := spec.AuditEvent{Op: "write", Actor: currentUser(), At: timeNow()}
		return emit(eng.Write(cmd.Context(), args[0], src, writeLayer, audit))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <skill-id>",
	Short: "Mark a skill deprecated and write an archive tombstone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		audit := spec.AuditEvent{Op: "delete", EntityID: args[0], Actor: currentUser(), At: timeNow()}
		return emit(eng.Delete(cmd.Context(), args[0], audit))
	},
}

var statusIncludeDeprecated bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the registry's current skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		return emit(eng.Status(cmd.Context(), store.ListFilter{IncludeDeprecated: statusIncludeDeprecated}))
	},
}

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Reconcile incomplete two-phase-commit transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return emit(eng.Doctor(cmd.Context(), doctorFix))
	},
}

var (
	searchTopK int
	searchTags []string
	searchLayer string
	searchIncludeDeprecated bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run hybrid lexical/dense retrieval over the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return emit(eng.Search(cmd.Context(), engine.SearchRequest{
			Query: args[0],
			TopK:  searchTopK,
			Filter: retrieval.Filter{
				Layer:             searchLayer,
				Tags:              searchTags,
				IncludeDeprecated: searchIncludeDeprecated,
			},
		}))
	},
}

var (
	suggestQuery string
	suggestRepo  string
	suggestHead  string
	suggestTopK  int
	suggestForce bool
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest skills for the current editing context",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := suggestRepo
		if repo == "" {
			repo, _ = os.Getwd()
		}
		fp := spec.ContextFingerprint{RepoRoot: repo, VCSHead: suggestHead, Query: suggestQuery}
		return emit(eng.Suggest(cmd.Context(), engine.SuggestRequest{
			Fingerprint: fp,
			TopK:        suggestTopK,
			Force:       suggestForce,
		}))
	},
}

var (
	packBudget   int
	packContract string
)

var packCmd = &cobra.Command{
	Use:   "pack <skill-id> [skill-id...]",
	Short: "Pack resolved skills' slices into a token-bounded context block",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		budget := packBudget
		if budget <= 0 {
			budget = cfg.DefaultTokenBudget
		}
		res := eng.Pack(cmd.Context(), engine.PackRequest{
			SkillIDs:     args,
			Budget:       budget,
			ContractName: packContract,
		})
		if res.Status == "error" {
			if name := packContract; name != "" {
				if _, ok := packer.NamedContract(name); !ok {
					return fmt.Errorf("unknown contract %q (known: Debug, Refactor, Review)", name)
				}
			}
		}
		return emit(res)
	},
}

func init() {
	writeCmd.Flags().StringVar(&writeLayer, "layer", "project", "layer to write into (base|community|org|project|user)")
	statusCmd.Flags().BoolVar(&statusIncludeDeprecated, "include-deprecated", false, "include deprecated skills")
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "attempt to repair incomplete transactions")

	searchCmd.Flags().IntVar(&searchTopK, "top-k", 10, "maximum number of results")
	searchCmd.Flags().StringSliceVar(&searchTags, "tag", nil, "filter results to skills carrying all of these tags")
	searchCmd.Flags().StringVar(&searchLayer, "layer", "", "filter results to a single layer")
	searchCmd.Flags().BoolVar(&searchIncludeDeprecated, "include-deprecated", false, "include deprecated skills")

	suggestCmd.Flags().StringVar(&suggestQuery, "query", "", "free-text query describing the current task")
	suggestCmd.Flags().StringVar(&suggestRepo, "repo-root", "", "repository root (default: current directory)")
	suggestCmd.Flags().StringVar(&suggestHead, "vcs-head", "", "current VCS head commit, for cooldown fingerprinting")
	suggestCmd.Flags().IntVar(&suggestTopK, "top-k", 5, "maximum number of suggestions")
	suggestCmd.Flags().BoolVar(&suggestForce, "force", false, "bypass cooldown suppression")

	packCmd.Flags().IntVar(&packBudget, "budget", 0, "token budget (default: configured default_token_budget)")
	packCmd.Flags().StringVar(&packContract, "contract", "", "named pack contract (Debug|Refactor|Review)")
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// timeNow is a thin indirection so audit-event timestamps stay in one
// place; cobra command bodies never call time.Now() directly.
func timeNow() time.Time { return time.Now() }
