package script

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/davidleathers/collections-call-engine/internal/domain/script"
)

// LoadScripts reads and validates the phone script catalog from a YAML
// file. Scripts are immutable after load.
func LoadScripts(path string) (map[string]*script.PhoneScript, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading scripts from %s: %w", path, err)
	}

	var catalog struct {
		Scripts []script.PhoneScript `koanf:"scripts"`
	}
	if err := k.Unmarshal("", &catalog); err != nil {
		return nil, fmt.Errorf("unmarshaling scripts: %w", err)
	}

	if len(catalog.Scripts) == 0 {
		return nil, fmt.Errorf("no scripts defined in %s", path)
	}

	scripts := make(map[string]*script.PhoneScript, len(catalog.Scripts))
	for i := range catalog.Scripts {
		s := &catalog.Scripts[i]
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("invalid script: %w", err)
		}
		if _, exists := scripts[s.Name]; exists {
			return nil, fmt.Errorf("duplicate script name %q", s.Name)
		}
		scripts[s.Name] = s
	}

	return scripts, nil
}
