package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// autoRequireFile is the layout of AUTOREQUIRE_FILE:
//
//	autorequire:
//	  mdn: MDN:Common
//	  util: helpers
type autoRequireFile struct {
	AutoRequire map[string]string `yaml:"autorequire"`
}

// LoadAutoRequire reads the install name to macro mapping at path. An empty
// path yields an empty mapping.
func LoadAutoRequire(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read AUTOREQUIRE_FILE: %w", err)
	}
	return ParseAutoRequire(data)
}

// ParseAutoRequire decodes an auto-require mapping. Both the documented
// layout and a bare top-level mapping are accepted.
func ParseAutoRequire(data []byte) (map[string]string, error) {
	var file autoRequireFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid auto-require mapping: %w", err)
	}

	mapping := file.AutoRequire
	if mapping == nil {
		if err := yaml.Unmarshal(data, &mapping); err != nil {
			return nil, fmt.Errorf("invalid auto-require mapping: %w", err)
		}
	}

	out := make(map[string]string, len(mapping))
	for installName, templateName := range mapping {
		installName = strings.TrimSpace(installName)
		templateName = strings.TrimSpace(templateName)
		if installName == "" || templateName == "" {
			return nil, fmt.Errorf("auto-require entries need both an install name and a template")
		}
		out[installName] = templateName
	}
	return out, nil
}
