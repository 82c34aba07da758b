package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"provision-host/internal/logger"
)

// The registry is the declarative tool catalog: categories, priorities, batch
// thresholds, generic tool names, per-manager package overrides, presence
// rules, and verification probes. It is pure data, loaded once at process
// start and read-only afterwards.

//go:embed catalog.yaml
var defaultCatalog []byte

// Priority orders categories for processing and reporting.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank gives high the smallest value so a plain ascending sort processes
// categories high → medium → low.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Presence-rule kinds. The zero value means "a runnable command matching the
// generic name exists".
const (
	CheckCommand = "command" // default: generic name is runnable
	CheckAnyOf   = "any-of"  // any one of several binaries satisfies the tool
	CheckPackage = "package" // query the manager's installed-package database
)

// Check is a tool's presence rule. Deliberately decoupled from package
// identity: a native package name is not assumed to match a runnable binary.
type Check struct {
	Kind     string   `yaml:"kind"`
	Binaries []string `yaml:"binaries"` // for any-of: acceptable binary names
}

// Verify is an optional functional probe run after installation, e.g. a
// version query. Exit code zero means the tool operates.
type Verify struct {
	Program string   `yaml:"program"`
	Args    []string `yaml:"args"`
}

// Fallback points at a direct-download source used only after every
// package-manager attempt for the tool has failed. Either a fixed URL or a
// GitHub repository release.
type Fallback struct {
	URL  string `yaml:"url"`
	Repo string `yaml:"repo"` // owner/name, e.g. sharkdp/fd
	Tag  string `yaml:"tag"`  // release tag, e.g. v10.2.0
}

// Tool declares one generic capability.
type Tool struct {
	Name string `yaml:"name"` // generic, manager-agnostic identifier

	// Packages maps a manager identifier to the native package name(s)
	// satisfying this tool there. A missing entry means the generic name
	// is used verbatim; an entry may expand to several packages.
	Packages map[string][]string `yaml:"packages"`

	Check    Check     `yaml:"check"`
	Verify   *Verify   `yaml:"verify"`
	Fallback *Fallback `yaml:"fallback"`

	// Aliases are acceptable alternative generic identities for this
	// capability; any of them being runnable counts as present.
	Aliases []string `yaml:"aliases"`
}

// Category groups tools of one concern under a shared priority and batch
// threshold.
type Category struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Priority    Priority `yaml:"priority"`

	// BatchSize is the maximum candidate count eligible for one combined
	// install request. Larger candidate sets are installed individually.
	BatchSize int `yaml:"batch_size"`

	Tools []Tool `yaml:"tools"`
}

// Catalog is the full loaded registry.
type Catalog struct {
	Categories []Category `yaml:"categories"`
}

// ErrCategoryNotFound is returned for lookups of unknown category ids.
var ErrCategoryNotFound = errors.New("category not found")

const defaultBatchSize = 4

// Load reads and validates a catalog. An empty path loads the embedded
// default catalog shipped with the binary.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read registry file %s: %w", path, err)
		}
		logger.Debug("[DEBUG] Loading registry from %s\n", path)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	logger.Debug("[DEBUG] Registry loaded: %d categories, %d tools\n", len(c.Categories), c.toolCount())
	return &c, nil
}

// validate enforces the structural invariants the engine relies on: unique
// category ids, every tool owned by exactly one category, sane priorities.
func (c *Catalog) validate() error {
	if len(c.Categories) == 0 {
		return errors.New("registry declares no categories")
	}
	seenCat := map[string]bool{}
	seenTool := map[string]string{}
	for i := range c.Categories {
		cat := &c.Categories[i]
		if cat.ID == "" {
			return errors.New("registry contains a category without an id")
		}
		if seenCat[cat.ID] {
			return fmt.Errorf("duplicate category id %q", cat.ID)
		}
		seenCat[cat.ID] = true
		switch cat.Priority {
		case PriorityHigh, PriorityMedium, PriorityLow:
		case "":
			cat.Priority = PriorityMedium
		default:
			return fmt.Errorf("category %q has invalid priority %q", cat.ID, cat.Priority)
		}
		if cat.BatchSize <= 0 {
			cat.BatchSize = defaultBatchSize
		}
		for _, tool := range cat.Tools {
			if tool.Name == "" {
				return fmt.Errorf("category %q contains a tool without a name", cat.ID)
			}
			if owner, dup := seenTool[tool.Name]; dup {
				return fmt.Errorf("tool %q declared in both %q and %q", tool.Name, owner, cat.ID)
			}
			seenTool[tool.Name] = cat.ID
			switch tool.Check.Kind {
			case "", CheckCommand, CheckAnyOf, CheckPackage:
			default:
				return fmt.Errorf("tool %q has invalid check kind %q", tool.Name, tool.Check.Kind)
			}
			if tool.Check.Kind == CheckAnyOf && len(tool.Check.Binaries) == 0 {
				return fmt.Errorf("tool %q uses any-of check but lists no binaries", tool.Name)
			}
		}
	}
	return nil
}

// CategoryByID returns the named category or ErrCategoryNotFound.
func (c *Catalog) CategoryByID(id string) (*Category, error) {
	for i := range c.Categories {
		if c.Categories[i].ID == id {
			return &c.Categories[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrCategoryNotFound, id)
}

// Sorted returns the categories in strict high → medium → low priority order.
// The sort is stable, so categories sharing a priority keep declaration order.
func (c *Catalog) Sorted() []Category {
	out := make([]Category, len(c.Categories))
	copy(out, c.Categories)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.rank() < out[j].Priority.rank()
	})
	return out
}

func (c *Catalog) toolCount() int {
	n := 0
	for _, cat := range c.Categories {
		n += len(cat.Tools)
	}
	return n
}
