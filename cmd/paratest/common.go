package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paratest-dev/paratest/internal/config"
	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/fixture"
	"github.com/paratest-dev/paratest/internal/loader"
	"github.com/paratest-dev/paratest/internal/model"
	"github.com/paratest-dev/paratest/internal/testtree"
)

// filterFlags is the set of flags shared by run and list: everything needed
// to resolve a Test Tree, as opposed to the flags (workers, reporters,
// timeouts) that only matter once tests actually execute.
type filterFlags struct {
	configPath string
	grep       string
	projects   stringListFlag
	shard      string
	forbidOnly bool
}

func (f *filterFlags) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "path to a paratest config file")
	fs.StringVar(&f.grep, "grep", "", "only run specs whose title (with ancestor suite titles) matches this regular expression")
	fs.Var(&f.projects, "project", "restrict to the named project (may be repeated)")
	fs.StringVar(&f.shard, "shard", "", "shard selector \"current/total\", 1-based current")
	fs.BoolVar(&f.forbidOnly, "forbid-only", false, "fail if any spec or suite uses an exclusive-focus annotation")
}

// stringListFlag implements flag.Value, accumulating one value per
// occurrence of the flag, matching the --project=name... repeatable flag
// SPEC_FULL.md §6.5 describes.
type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ",") }
func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// shardValue parses a "current/total" shard selector.
func shardValue(s string) (*model.Shard, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return nil, errs.Errorf("ConfigError: --shard must be \"current/total\", got %q", s)
	}
	cur, err1 := strconv.Atoi(parts[0])
	total, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || cur < 1 || total < 1 || cur > total {
		return nil, errs.Errorf("ConfigError: invalid shard selector %q", s)
	}
	return &model.Shard{Current: cur, Total: total}, nil
}

// loadConfig reads the config file at path, if any, returning an empty File
// so a run with no config still proceeds against a single default project.
func loadConfig(path string) (*config.File, error) {
	if path == "" {
		return &config.File{}, nil
	}
	return config.Load(path)
}

// resolveProjects returns the projects a run should use: whatever the
// config file declares, or a single "default" project rooted at "." if the
// file declares none.
func resolveProjects(f *config.File) ([]*model.Project, error) {
	projects, err := f.Projects()
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		projects = []*model.Project{{Name: "default", TestDir: "."}}
	}
	return projects, nil
}

// buildTree loads the global test registrations and expands them into the
// runnable Test list per flt and runCfg, returning the root suite (for
// reporters that print the nested tree) alongside the tests.
func buildTree(flt *filterFlags, runCfg model.RunConfig) (*model.Suite, []*model.Test, *fixture.Registry, error) {
	root, reg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	cfgFile, err := loadConfig(flt.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	projects, err := resolveProjects(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}

	shard, err := shardValue(flt.shard)
	if err != nil {
		return nil, nil, nil, err
	}
	runCfg.Grep = flt.grep
	runCfg.ProjectFilter = flt.projects
	runCfg.Shard = shard
	runCfg.ForbidOnly = flt.forbidOnly

	tests, err := testtree.Build(root, projects, runCfg, reg)
	if err != nil {
		return nil, nil, nil, err
	}
	return root, tests, reg, nil
}

func fatalConfigError(err error) {
	fmt.Fprintf(os.Stderr, "paratest: %+v\n", err)
}
