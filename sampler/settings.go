package sampler

import (
	"bytes"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Adaptation selects the mass matrix adaptation scheme of the engine. The
// scheme decides which tuning options are available.
type Adaptation string

// Adaptation schemes
const (
	Diag      Adaptation = "diag"
	LowRank   Adaptation = "low_rank"
	Transform Adaptation = "transform"
)

// Settings is the run configuration.
type Settings struct {
	Adaptation Adaptation `yaml:"adaptation" validate:"oneof=diag low_rank transform"`

	NumTune    int    `yaml:"tune" validate:"gte=0"`
	NumDraws   int    `yaml:"draws" validate:"gte=0"`
	NumChains  int    `yaml:"chains" validate:"gte=1"`
	Seed       uint64 `yaml:"seed"`
	NumTryInit int    `yaml:"num_try_init" validate:"gte=1"`

	SaveWarmup         bool `yaml:"save_warmup"`
	StoreMassMatrix    bool `yaml:"store_mass_matrix"`
	StoreGradient      bool `yaml:"store_gradient"`
	StoreDivergences   bool `yaml:"store_divergences"`
	StoreUnconstrained bool `yaml:"store_unconstrained"`

	MaxDepth       int     `yaml:"maxdepth" validate:"gte=1"`
	MaxEnergyError float64 `yaml:"max_energy_error" validate:"gt=0"`
	TargetAccept   float64 `yaml:"target_accept" validate:"gt=0,lt=1"`
	InitialStep    float64 `yaml:"initial_step" validate:"gt=0"`

	MassMatrixSwitchFreq      int     `yaml:"mass_matrix_switch_freq" validate:"gte=1"`
	EarlyMassMatrixSwitchFreq int     `yaml:"early_mass_matrix_switch_freq" validate:"gte=1"`
	UseGradBasedMassMatrix    bool    `yaml:"use_grad_based_mass_matrix"`
	MassMatrixEigvalCutoff    float64 `yaml:"mass_matrix_eigval_cutoff" validate:"gt=0"`
	MassMatrixGamma           float64 `yaml:"mass_matrix_gamma" validate:"gt=0"`
}

var validate = validator.New()

// NewSettings returns the default configuration for an adaptation scheme.
func NewSettings(kind Adaptation, seed uint64) (*Settings, error) {
	switch kind {
	case Diag, LowRank, Transform:
	default:
		return nil, errors.Wrapf(ErrConfig, "Unknown adaptation %q", kind)
	}

	return &Settings{
		Adaptation:                kind,
		NumTune:                   1000,
		NumDraws:                  1000,
		NumChains:                 4,
		Seed:                      seed,
		NumTryInit:                100,
		SaveWarmup:                true,
		MaxDepth:                  10,
		MaxEnergyError:            1000,
		TargetAccept:              0.8,
		InitialStep:               0.1,
		MassMatrixSwitchFreq:      80,
		EarlyMassMatrixSwitchFreq: 10,
		UseGradBasedMassMatrix:    true,
		MassMatrixEigvalCutoff:    100,
		MassMatrixGamma:           1e-5,
	}, nil
}

// Check returns an error if any setting is out of range.
func (s *Settings) Check() error {
	if err := validate.Struct(s); err != nil {
		return errors.Wrapf(ErrConfig, "Invalid settings: %v", err)
	}
	if s.Adaptation == Transform && s.StoreMassMatrix {
		return errors.Wrapf(ErrConfig, "Option store_mass_matrix not available for %s adaptation", s.Adaptation)
	}
	return nil
}

// option is one named tuning override. A nil variants list means the option
// exists for every adaptation scheme.
type option struct {
	variants []Adaptation
	set      func(s *Settings, v interface{}) error
}

func intOpt(field func(*Settings) *int) func(*Settings, interface{}) error {
	return func(s *Settings, v interface{}) error {
		i, err := toInt(v)
		if err != nil {
			return err
		}
		*field(s) = i
		return nil
	}
}

func floatOpt(field func(*Settings) *float64) func(*Settings, interface{}) error {
	return func(s *Settings, v interface{}) error {
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		*field(s) = f
		return nil
	}
}

func boolOpt(field func(*Settings) *bool) func(*Settings, interface{}) error {
	return func(s *Settings, v interface{}) error {
		b, err := toBool(v)
		if err != nil {
			return err
		}
		*field(s) = b
		return nil
	}
}

var options = map[string]option{
	"tune":         {nil, intOpt(func(s *Settings) *int { return &s.NumTune })},
	"draws":        {nil, intOpt(func(s *Settings) *int { return &s.NumDraws })},
	"chains":       {nil, intOpt(func(s *Settings) *int { return &s.NumChains })},
	"num_try_init": {nil, intOpt(func(s *Settings) *int { return &s.NumTryInit })},
	"seed": {nil, func(s *Settings, v interface{}) error {
		i, err := toInt(v)
		if err != nil {
			return err
		}
		if i < 0 {
			return errors.Errorf("Seed must be >= 0, got %d", i)
		}
		s.Seed = uint64(i)
		return nil
	}},

	"save_warmup":         {nil, boolOpt(func(s *Settings) *bool { return &s.SaveWarmup })},
	"store_gradient":      {nil, boolOpt(func(s *Settings) *bool { return &s.StoreGradient })},
	"store_divergences":   {nil, boolOpt(func(s *Settings) *bool { return &s.StoreDivergences })},
	"store_unconstrained": {nil, boolOpt(func(s *Settings) *bool { return &s.StoreUnconstrained })},
	"store_mass_matrix": {
		[]Adaptation{Diag, LowRank},
		boolOpt(func(s *Settings) *bool { return &s.StoreMassMatrix }),
	},

	"maxdepth":         {nil, intOpt(func(s *Settings) *int { return &s.MaxDepth })},
	"max_energy_error": {nil, floatOpt(func(s *Settings) *float64 { return &s.MaxEnergyError })},
	"target_accept":    {nil, floatOpt(func(s *Settings) *float64 { return &s.TargetAccept })},
	"initial_step":     {nil, floatOpt(func(s *Settings) *float64 { return &s.InitialStep })},

	"mass_matrix_switch_freq": {
		[]Adaptation{Diag, LowRank},
		intOpt(func(s *Settings) *int { return &s.MassMatrixSwitchFreq }),
	},
	"early_mass_matrix_switch_freq": {
		[]Adaptation{Diag, LowRank},
		intOpt(func(s *Settings) *int { return &s.EarlyMassMatrixSwitchFreq }),
	},
	"use_grad_based_mass_matrix": {
		[]Adaptation{Diag},
		boolOpt(func(s *Settings) *bool { return &s.UseGradBasedMassMatrix }),
	},
	"mass_matrix_eigval_cutoff": {
		[]Adaptation{LowRank},
		floatOpt(func(s *Settings) *float64 { return &s.MassMatrixEigvalCutoff }),
	},
	"mass_matrix_gamma": {
		[]Adaptation{LowRank},
		floatOpt(func(s *Settings) *float64 { return &s.MassMatrixGamma }),
	},
}

// OptionNames lists every name Set accepts, sorted.
func OptionNames() []string {
	names := make([]string, 0, len(options))
	for n := range options {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Set applies one named override. Unknown names, badly typed values and
// options the adaptation scheme does not have are configuration errors.
// Strings are parsed, so values straight from a command line work.
func (s *Settings) Set(name string, value interface{}) error {
	opt, ok := options[name]
	if !ok {
		return errors.Wrapf(ErrConfig, "Unknown option %s", name)
	}

	if opt.variants != nil {
		allowed := false
		for _, a := range opt.variants {
			if a == s.Adaptation {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.Wrapf(ErrConfig, "Option %s not available for %s adaptation", name, s.Adaptation)
		}
	}

	if err := opt.set(s, value); err != nil {
		return errors.Wrapf(ErrConfig, "Option %s: %v", name, err)
	}
	return nil
}

// LoadSettings reads a YAML mapping of option names to values. The optional
// adaptation key picks the scheme whose defaults the other keys override.
func LoadSettings(data []byte) (*Settings, error) {
	raw := map[string]interface{}{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil && err != io.EOF {
		return nil, errors.Wrapf(ErrConfig, "Could not PARSE settings: %v", err)
	}

	kind := Diag
	if a, ok := raw["adaptation"]; ok {
		str, isStr := a.(string)
		if !isStr {
			return nil, errors.Wrapf(ErrConfig, "Adaptation must be a string, got %v", a)
		}
		kind = Adaptation(str)
		delete(raw, "adaptation")
	}

	s, err := NewSettings(kind, 42)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(raw))
	for n := range raw {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if err := s.Set(n, raw[n]); err != nil {
			return nil, err
		}
	}

	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

func toInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, errors.Errorf("Value %d out of range", x)
		}
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.Errorf("Value %v is not an integer", x)
		}
		return int(x), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, errors.Errorf("Value %q is not an integer", x)
		}
		return i, nil
	}
	return 0, errors.Errorf("Value %v (%T) is not an integer", v, v)
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, errors.Errorf("Value %q is not a number", x)
		}
		return f, nil
	}
	return 0, errors.Errorf("Value %v (%T) is not a number", v, v)
}

func toBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, errors.Errorf("Value %q is not a bool", x)
		}
		return b, nil
	}
	return false, errors.Errorf("Value %v (%T) is not a bool", v, v)
}
