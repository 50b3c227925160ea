package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/knights-analytics/gopaddle/util/fileutil"
)

// Load reads a Config from a .json, .yaml or .yml file on local disk or s3.
// Fields missing from the file keep their Defaults. Relative model paths are resolved
// against the directory of the file, and URL model sources are fetched into memory.
func Load(ctx context.Context, path string) (Config, error) {
	data, err := fileutil.ReadFileBytesContext(ctx, path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	c, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	base := filepath.Dir(path)
	if fileutil.GetPathType(path) == "S3" {
		base = path[:strings.LastIndex(path, "/")]
	}
	c.Model.relativeTo(base)
	if err = c.Model.Resolve(ctx); err != nil {
		return Config{}, err
	}
	if err = c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Parse decodes data in the format named by ext (".json", ".yaml" or ".yml") on top of
// Defaults. It does not validate.
func Parse(data []byte, ext string) (Config, error) {
	c := Defaults(Model{})
	switch strings.ToLower(ext) {
	case ".json":
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &c); err != nil {
			return Config{}, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}
	return c, nil
}

// Marshal encodes c as JSON or YAML. Model buffers are never written.
func Marshal(c Config, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".json":
		return jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(c, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(c)
	}
	return nil, fmt.Errorf("unsupported config format %q", ext)
}

func (m *Model) relativeTo(base string) {
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) || fileutil.GetPathType(p) == "S3" {
			return p
		}
		return fileutil.PathJoinSafe(base, p)
	}
	m.Dir = join(m.Dir)
	m.ProgFile = join(m.ProgFile)
	m.ParamsFile = join(m.ParamsFile)
	m.ProgURL = join(m.ProgURL)
	m.ParamsURL = join(m.ParamsURL)
}
