// Package testtree builds the Test Tree (SPEC_FULL.md C2): it expands the
// Suite/Spec tree the external Loader produces into one model.Test per
// (Spec, Project) pair, computes each Test's FixtureHash, and applies the
// grep/projectFilter/shard/forbidOnly filters that narrow a full tree down
// to the runnable subset a dispatch actually executes.
//
// The filter semantics are grounded on cmd/tast/internal/run/sharding (the
// `i mod t == c-1` shard selection) and on testing.Test's own title/pattern
// matching for grep, adapted from entity names to this spec's suite-title
// concatenation rule.
package testtree

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/fixture"
	"github.com/paratest-dev/paratest/internal/model"
)

// Build expands root against projects, computes FixtureHash for every
// resulting Test via reg, applies cfg's filters, and returns the runnable
// Tests in stable order (file discovery order, then declaration order,
// then project order). root itself is mutated: each matching Spec gains one
// Test per matching Project.
func Build(root *model.Suite, projects []*model.Project, cfg model.RunConfig, reg *fixture.Registry) ([]*model.Test, error) {
	if cfg.ForbidOnly {
		if hasOnly(root) {
			return nil, errs.Errorf("ForbiddenOnly: an \"only\" annotation is present with --forbid-only set")
		}
	}

	projects = filterProjects(projects, cfg.ProjectFilter)
	if len(projects) == 0 {
		return nil, errs.Errorf("no project matches --project filter %v", cfg.ProjectFilter)
	}

	var tests []*model.Test
	if err := walk(root, nil, func(ancestors []string, spec *model.Spec) error {
		if !matchesGrep(ancestors, spec.Title, cfg.Grep) {
			return nil
		}
		for _, proj := range projects {
			if !matchesProject(proj, spec.File) {
				continue
			}
			fixtureDigest, err := reg.WorkerHash(spec.FixtureRefs)
			if err != nil {
				return errs.Wrapf(err, "spec %q: computing fixture hash", spec.Title)
			}
			// A worker is initialized once with a single project's config
			// (§6.4's init carries one projectIndex), so a worker-scope
			// fixture instantiated under project A's config is never
			// interchangeable with one under project B's, even when the
			// fixture names and dependency sets are identical. Folding the
			// project name into the hash keeps "equal FixtureHash implies
			// safe to share a worker" true across projects, not just within
			// fixtures.
			hash := fixtureDigest + "@" + proj.Name
			expected := spec.ExpectedStatus
			if expected == "" {
				expected = model.StatusPassed
			}
			retries := proj.Retries
			if spec.RetriesOverride != nil {
				retries = *spec.RetriesOverride
			}
			t := &model.Test{
				Spec:           spec,
				Project:        proj,
				FixtureHash:    hash,
				Timeout:        proj.Timeout,
				ExpectedStatus: expected,
				Annotations:    spec.Annotations,
				Retries:        retries,
			}
			spec.Tests = append(spec.Tests, t)
			tests = append(tests, t)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return applyShard(tests, cfg.Shard), nil
}

// hasOnly reports whether any spec in the tree carries an exclusive-focus
// annotation.
func hasOnly(s *model.Suite) bool {
	for _, spec := range s.Specs {
		if spec.Only {
			return true
		}
	}
	for _, child := range s.Suites {
		if hasOnly(child) {
			return true
		}
	}
	return false
}

// walk visits every Spec in the tree in declaration order, calling fn with
// the titles of its ancestor suites (outermost first).
func walk(s *model.Suite, ancestors []string, fn func(ancestors []string, spec *model.Spec) error) error {
	path := ancestors
	if s.Title != "" {
		path = append(append([]string(nil), ancestors...), s.Title)
	}
	for _, spec := range s.Specs {
		if err := fn(path, spec); err != nil {
			return err
		}
	}
	for _, child := range s.Suites {
		if err := walk(child, path, fn); err != nil {
			return err
		}
	}
	return nil
}

// matchesGrep implements the grep filter: suite titles concatenated with a
// space, then the spec title, must contain a match of the regular expression
// pattern. An empty pattern matches everything; an invalid one matches
// nothing.
func matchesGrep(ancestors []string, specTitle, pattern string) bool {
	if pattern == "" {
		return true
	}
	full := strings.Join(append(append([]string(nil), ancestors...), specTitle), " ")
	matched, err := regexp.MatchString(pattern, full)
	return err == nil && matched
}

// filterProjects narrows projects to those named in names. An empty names
// selects every project.
func filterProjects(projects []*model.Project, names []string) []*model.Project {
	if len(names) == 0 {
		return projects
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*model.Project
	for _, p := range projects {
		if want[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// matchesProject reports whether file (an absolute or testDir-relative
// path) should run under project, per its testMatch/testIgnore globs.
func matchesProject(project *model.Project, file string) bool {
	rel := file
	if project.TestDir != "" {
		if r, err := filepath.Rel(project.TestDir, file); err == nil {
			rel = filepath.ToSlash(r)
		}
	}

	matched := len(project.TestMatch) == 0
	for _, pattern := range project.TestMatch {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, pattern := range project.TestIgnore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	return true
}

// applyShard selects every test whose 0-based index i (after every other
// filter has already run) satisfies i mod shard.Total == shard.Current-1.
func applyShard(tests []*model.Test, shard *model.Shard) []*model.Test {
	if shard == nil || shard.Total <= 1 {
		return tests
	}
	var out []*model.Test
	for i, t := range tests {
		if i%shard.Total == shard.Current-1 {
			out = append(out, t)
		}
	}
	return out
}

// HashRuns partitions an ordered test list into maximal contiguous runs of
// equal FixtureHash, the unit the dispatcher assigns to a single worker.
// Exported so both the dispatcher and its tests can reason about the
// expected grouping without recomputing it ad hoc.
type HashRun struct {
	Hash  string
	Tests []*model.Test
}

// HashRuns groups tests into hash-runs, preserving order.
func HashRuns(tests []*model.Test) []*HashRun {
	var runs []*HashRun
	for _, t := range tests {
		if n := len(runs); n > 0 && runs[n-1].Hash == t.FixtureHash {
			runs[n-1].Tests = append(runs[n-1].Tests, t)
			continue
		}
		runs = append(runs, &HashRun{Hash: t.FixtureHash, Tests: []*model.Test{t}})
	}
	return runs
}

// DistinctProjects returns the set of project names represented in tests,
// sorted, used by the dispatcher to give each project a stable index.
func DistinctProjects(tests []*model.Test) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tests {
		name := t.ProjectName()
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
