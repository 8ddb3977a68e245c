package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"
)

// yamlAssetFile is the structure of the assets YAML definition file.
type yamlAssetFile struct {
	Assets []Definition `yaml:"assets"`
}

// YAMLSource reads asset definitions from a YAML file. The file is
// re-read on every Definitions call, so each discovery pass sees the
// feed as it currently exists on disk.
type YAMLSource struct {
	path string
}

// NewYAMLSource creates a YAMLSource for path. The file does not need to
// exist yet; a missing file is an error at enumeration time, not here.
func NewYAMLSource(path string) *YAMLSource {
	return &YAMLSource{path: path}
}

// Path returns the file the source reads from.
func (s *YAMLSource) Path() string { return s.path }

// Definitions implements Source.
func (s *YAMLSource) Definitions(_ context.Context) ([]Definition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read definitions file %s: %w", s.path, err)
	}

	var file yamlAssetFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse definitions file %s: %w", s.path, err)
	}

	glog.V(1).Infof("loaded %d asset definitions from %s", len(file.Assets), s.path)
	return file.Assets, nil
}
