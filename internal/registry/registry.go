package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry describes the available fault proof platforms (VMs) and the
// programs that can run on them. Platforms and programs keep their
// declaration order from the source document because the job matrix
// must be resolved in a stable, reproducible order.
type Registry struct {
	Platforms []*Platform
	Programs  []*Program

	platformsByName map[string]*Platform
	programsByName  map[string]*Program
}

// Platform is a single execution target. A platform without a build
// block (for example the native host) is assumed pre-available.
type Platform struct {
	Name    string
	Default bool
	Build   *BuildSpec
}

// Program is a fault proof program and the set of platforms it may run
// under.
type Program struct {
	Name           string
	Default        bool
	PlatformCompat []string
	Build          *BuildSpec
}

// BuildSpec describes how to produce a platform or program's binary
// artifacts from a pinned source revision.
type BuildSpec struct {
	Repo      string            `yaml:"repo"`
	Rev       string            `yaml:"rev"`
	Workdir   string            `yaml:"workdir"`
	Cmd       string            `yaml:"cmd"`
	Artifacts map[string]string `yaml:"artifacts"`
}

// ValidationError reports every problem found in a registry document so
// a user can fix the whole file in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid registry (%d problems):", len(e.Violations))
	for _, v := range e.Violations {
		sb.WriteString("\n  - ")
		sb.WriteString(v)
	}
	return sb.String()
}

// Load reads and validates a registry document from the given path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a registry document. The document has two
// top-level keyed sections, platform.<name> and program.<name>.
func Parse(data []byte) (*Registry, error) {
	var doc struct {
		Platform yaml.Node `yaml:"platform"`
		Program  yaml.Node `yaml:"program"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry YAML: %w", err)
	}

	reg := &Registry{
		platformsByName: make(map[string]*Platform),
		programsByName:  make(map[string]*Program),
	}
	var violations []string

	forEachEntry(&doc.Platform, func(name string, node *yaml.Node) {
		var def struct {
			Default bool       `yaml:"default"`
			Build   *BuildSpec `yaml:"build"`
		}
		if err := node.Decode(&def); err != nil {
			violations = append(violations, fmt.Sprintf("platform %q: %v", name, err))
			return
		}
		if _, dup := reg.platformsByName[name]; dup {
			violations = append(violations, fmt.Sprintf("platform %q: declared more than once", name))
			return
		}
		p := &Platform{Name: name, Default: def.Default, Build: def.Build}
		reg.Platforms = append(reg.Platforms, p)
		reg.platformsByName[name] = p
	})

	forEachEntry(&doc.Program, func(name string, node *yaml.Node) {
		var def struct {
			Default        bool       `yaml:"default"`
			PlatformCompat []string   `yaml:"platform-compat"`
			Build          *BuildSpec `yaml:"build"`
		}
		if err := node.Decode(&def); err != nil {
			violations = append(violations, fmt.Sprintf("program %q: %v", name, err))
			return
		}
		if _, dup := reg.programsByName[name]; dup {
			violations = append(violations, fmt.Sprintf("program %q: declared more than once", name))
			return
		}
		p := &Program{Name: name, Default: def.Default, PlatformCompat: def.PlatformCompat, Build: def.Build}
		reg.Programs = append(reg.Programs, p)
		reg.programsByName[name] = p
	})

	violations = append(violations, reg.validate()...)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return reg, nil
}

// validate collects every violation rather than stopping at the first.
func (r *Registry) validate() []string {
	var violations []string

	for _, p := range r.Platforms {
		if p.Build != nil {
			violations = append(violations, validateBuild(fmt.Sprintf("platform %q", p.Name), p.Build)...)
		}
	}

	for _, p := range r.Programs {
		if len(p.PlatformCompat) == 0 {
			violations = append(violations, fmt.Sprintf("program %q: platform-compat must not be empty", p.Name))
		}
		seen := make(map[string]bool)
		for _, compat := range p.PlatformCompat {
			if seen[compat] {
				violations = append(violations, fmt.Sprintf("program %q: platform %q listed twice in platform-compat", p.Name, compat))
				continue
			}
			seen[compat] = true
			if _, ok := r.platformsByName[compat]; !ok {
				violations = append(violations, fmt.Sprintf("program %q: platform-compat references unknown platform %q", p.Name, compat))
			}
		}
		if p.Build == nil {
			violations = append(violations, fmt.Sprintf("program %q: build block is required", p.Name))
		} else {
			violations = append(violations, validateBuild(fmt.Sprintf("program %q", p.Name), p.Build)...)
		}
	}

	return violations
}

func validateBuild(owner string, b *BuildSpec) []string {
	var violations []string
	if b.Repo == "" {
		violations = append(violations, fmt.Sprintf("%s: build.repo is required", owner))
	}
	if b.Rev == "" {
		violations = append(violations, fmt.Sprintf("%s: build.rev is required", owner))
	}
	if b.Cmd == "" {
		violations = append(violations, fmt.Sprintf("%s: build.cmd is required", owner))
	}
	if len(b.Artifacts) == 0 {
		violations = append(violations, fmt.Sprintf("%s: build.artifacts must declare at least one artifact", owner))
	}
	return violations
}

// forEachEntry walks a YAML mapping node in document order. A zero or
// null node (missing section) yields no entries.
func forEachEntry(node *yaml.Node, fn func(name string, value *yaml.Node)) {
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		fn(node.Content[i].Value, node.Content[i+1])
	}
}

// Platform looks up a platform by name.
func (r *Registry) Platform(name string) (*Platform, bool) {
	p, ok := r.platformsByName[name]
	return p, ok
}

// Program looks up a program by name.
func (r *Registry) Program(name string) (*Program, bool) {
	p, ok := r.programsByName[name]
	return p, ok
}

// DefaultProgram returns the first program flagged as default, in
// declaration order. Used by the fixture generator to pick the
// reference program.
func (r *Registry) DefaultProgram() (*Program, bool) {
	for _, p := range r.Programs {
		if p.Default {
			return p, true
		}
	}
	return nil, false
}

// ArtifactNames returns the declared artifact names of a build spec in
// sorted order. Useful for deterministic logging.
func (b *BuildSpec) ArtifactNames() []string {
	names := make([]string, 0, len(b.Artifacts))
	for name := range b.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
