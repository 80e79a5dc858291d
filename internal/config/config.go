// Package config loads and validates the on-disk RunConfig/Project file
// (SPEC_FULL.md AMBIENT STACK: Configuration), merging it with CLI flag
// overrides the way cmd/tast/internal/run/config layers a config.yaml
// underneath its flag.FlagSet. Project definitions live in the file; the
// run-scoped knobs in model.RunConfig are expected to arrive from flags and
// are merged in by the caller (cmd/paratest), not by this package.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v2"

	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/model"
)

// File is the on-disk shape of a paratest config file.
type File struct {
	Projects  []ProjectFile `yaml:"projects"`
	Reporters []string      `yaml:"reporters"`
	Workers   int           `yaml:"workers"`
}

// ProjectFile is the on-disk shape of one project definition; durations are
// strings (e.g. "30s") so the file stays human-writable, then parsed into
// model.Project's time.Duration fields by ToModel.
type ProjectFile struct {
	Name        string            `yaml:"name"`
	OutputDir   string            `yaml:"outputDir"`
	TestDir     string            `yaml:"testDir"`
	TestMatch   []string          `yaml:"testMatch"`
	TestIgnore  []string          `yaml:"testIgnore"`
	Timeout     string            `yaml:"timeout"`
	Retries     int               `yaml:"retries"`
	RepeatEach  int               `yaml:"repeatEach"`
	SnapshotDir string            `yaml:"snapshotDir"`
	Metadata    map[string]string `yaml:"metadata"`
}

// ToModel parses durations and returns the model.Project this file entry
// describes.
func (p ProjectFile) ToModel() (*model.Project, error) {
	timeout, err := parseDuration(p.Timeout)
	if err != nil {
		return nil, errs.Wrapf(err, "project %q: timeout", p.Name)
	}
	return &model.Project{
		Name:        p.Name,
		OutputDir:   p.OutputDir,
		TestDir:     p.TestDir,
		TestMatch:   p.TestMatch,
		TestIgnore:  p.TestIgnore,
		Timeout:     timeout,
		Retries:     p.Retries,
		RepeatEach:  p.RepeatEach,
		SnapshotDir: p.SnapshotDir,
		Metadata:    p.Metadata,
	}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Load reads, schema-validates, and parses the config file at path. A schema
// failure or malformed YAML is returned as a ConfigError-class *errs.E, per
// SPEC_FULL.md §7.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err, "ConfigError: reading config file")
	}

	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, errs.Wrap(err, "ConfigError: parsing config YAML")
	}
	if err := validate(toJSONCompatible(generic)); err != nil {
		return nil, errs.Wrap(err, "ConfigError: schema validation failed")
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errs.Wrap(err, "ConfigError: decoding config file")
	}
	return &f, nil
}

// Projects converts every entry in f.Projects to model.Project form.
func (f *File) Projects() ([]*model.Project, error) {
	out := make([]*model.Project, 0, len(f.Projects))
	for _, p := range f.Projects {
		mp, err := p.ToModel()
		if err != nil {
			return nil, err
		}
		out = append(out, mp)
	}
	return out, nil
}

// schemaJSON is the packaged JSON Schema config files are validated against
// before being parsed, giving field-precise ConfigErrors (e.g. "workers:
// must be >= 0") instead of ad hoc hand-written checks.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "workers": {"type": "integer", "minimum": 0},
    "reporters": {"type": "array", "items": {"type": "string"}},
    "projects": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "outputDir": {"type": "string"},
          "testDir": {"type": "string"},
          "testMatch": {"type": "array", "items": {"type": "string"}},
          "testIgnore": {"type": "array", "items": {"type": "string"}},
          "timeout": {"type": "string"},
          "retries": {"type": "integer", "minimum": 0},
          "repeatEach": {"type": "integer", "minimum": 0},
          "snapshotDir": {"type": "string"},
          "metadata": {"type": "object"}
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile("config.schema.json")
}

func validate(doc interface{}) error {
	return compiledSchema.Validate(doc)
}

// toJSONCompatible recursively converts the map[interface{}]interface{}
// shape gopkg.in/yaml.v2 produces into the map[string]interface{} shape
// santhosh-tekuri/jsonschema expects (the same conversion tast's own
// YAML-backed config tooling performs before any JSON-Schema-style check).
func toJSONCompatible(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			m[fmt.Sprint(k)] = toJSONCompatible(val)
		}
		return m
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, val := range vv {
			out[i] = toJSONCompatible(val)
		}
		return out
	default:
		return v
	}
}
