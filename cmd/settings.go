package cmd

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/CraigKelly/nutsgo/sampler"
)

// loadSettings reads the configuration file (defaults when there is none)
// and applies the --set overrides in order.
func loadSettings(sp *startupParams) (*sampler.Settings, error) {
	var data []byte
	if len(sp.configFile) > 0 {
		var err error
		data, err = os.ReadFile(sp.configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "Could not READ run configuration from %s", sp.configFile)
		}
	}

	s, err := sampler.LoadSettings(data)
	if err != nil {
		return nil, err
	}

	for _, kv := range sp.sets {
		name, value, found := strings.Cut(kv, "=")
		if !found {
			return nil, errors.Wrapf(sampler.ErrConfig, "Override %q is not name=value", kv)
		}
		if err := s.Set(strings.TrimSpace(name), value); err != nil {
			return nil, err
		}
	}

	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}
