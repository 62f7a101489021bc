package sampler

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewSettings(t *testing.T) {
	assert := assert.New(t)

	s, err := NewSettings(Diag, 7)
	assert.NoError(err)
	assert.Equal(Diag, s.Adaptation)
	assert.Equal(1000, s.NumTune)
	assert.Equal(1000, s.NumDraws)
	assert.Equal(4, s.NumChains)
	assert.Equal(uint64(7), s.Seed)
	assert.Equal(100, s.NumTryInit)
	assert.True(s.SaveWarmup)
	assert.False(s.StoreMassMatrix)
	assert.InDelta(0.8, s.TargetAccept, 1e-12)
	assert.NoError(s.Check())

	for _, kind := range []Adaptation{LowRank, Transform} {
		s, err := NewSettings(kind, 0)
		assert.NoError(err)
		assert.NoError(s.Check())
	}

	_, err = NewSettings("bogus", 0)
	assert.Error(err)
	assert.True(errors.Is(err, ErrConfig))
}

func TestSettingsCheck(t *testing.T) {
	assert := assert.New(t)

	s, _ := NewSettings(Diag, 0)
	s.NumChains = 0
	assert.True(errors.Is(s.Check(), ErrConfig))

	s, _ = NewSettings(Diag, 0)
	s.TargetAccept = 1.0
	assert.True(errors.Is(s.Check(), ErrConfig))

	s, _ = NewSettings(Diag, 0)
	s.NumTune = -1
	assert.Error(s.Check())

	s, _ = NewSettings(Transform, 0)
	s.StoreMassMatrix = true
	assert.True(errors.Is(s.Check(), ErrConfig))
}

func TestSettingsSet(t *testing.T) {
	assert := assert.New(t)

	s, _ := NewSettings(Diag, 0)
	assert.NoError(s.Set("tune", 3))
	assert.NoError(s.Set("draws", "2"))
	assert.NoError(s.Set("target_accept", "0.9"))
	assert.NoError(s.Set("store_gradient", "true"))
	assert.NoError(s.Set("store_mass_matrix", true))
	assert.NoError(s.Set("use_grad_based_mass_matrix", false))
	assert.NoError(s.Set("seed", 12))
	assert.Equal(3, s.NumTune)
	assert.Equal(2, s.NumDraws)
	assert.InDelta(0.9, s.TargetAccept, 1e-12)
	assert.True(s.StoreGradient)
	assert.True(s.StoreMassMatrix)
	assert.False(s.UseGradBasedMassMatrix)
	assert.Equal(uint64(12), s.Seed)

	err := s.Set("no_such_option", 1)
	assert.True(errors.Is(err, ErrConfig))
	assert.True(errors.Is(s.Set("tune", "many"), ErrConfig))
	assert.True(errors.Is(s.Set("tune", 1.5), ErrConfig))
	assert.True(errors.Is(s.Set("seed", -1), ErrConfig))

	// Variant specific options
	assert.True(errors.Is(s.Set("mass_matrix_gamma", 1e-3), ErrConfig))
	assert.True(errors.Is(s.Set("mass_matrix_eigval_cutoff", 10), ErrConfig))

	lr, _ := NewSettings(LowRank, 0)
	assert.NoError(lr.Set("mass_matrix_gamma", 1e-3))
	assert.NoError(lr.Set("mass_matrix_eigval_cutoff", 10))
	assert.True(errors.Is(lr.Set("use_grad_based_mass_matrix", false), ErrConfig))

	tr, _ := NewSettings(Transform, 0)
	assert.True(errors.Is(tr.Set("store_mass_matrix", true), ErrConfig))
	assert.True(errors.Is(tr.Set("mass_matrix_switch_freq", 10), ErrConfig))
	assert.NoError(tr.Set("store_divergences", true))
}

func TestOptionNames(t *testing.T) {
	assert := assert.New(t)

	names := OptionNames()
	assert.Contains(names, "tune")
	assert.Contains(names, "mass_matrix_gamma")
	assert.NotContains(names, "adaptation")
	assert.IsNonDecreasing(names)
}

func TestLoadSettings(t *testing.T) {
	assert := assert.New(t)

	s, err := LoadSettings([]byte(`
adaptation: low_rank
tune: 10
draws: 20
chains: 2
seed: 99
mass_matrix_gamma: 0.001
store_divergences: true
`))
	assert.NoError(err)
	assert.Equal(LowRank, s.Adaptation)
	assert.Equal(10, s.NumTune)
	assert.Equal(20, s.NumDraws)
	assert.Equal(2, s.NumChains)
	assert.Equal(uint64(99), s.Seed)
	assert.InDelta(0.001, s.MassMatrixGamma, 1e-12)
	assert.True(s.StoreDivergences)

	s, err = LoadSettings([]byte(""))
	assert.NoError(err)
	assert.Equal(Diag, s.Adaptation)

	_, err = LoadSettings([]byte("mass_matrix_gamma: 0.1\n"))
	assert.True(errors.Is(err, ErrConfig))

	_, err = LoadSettings([]byte("adaptation: 3\n"))
	assert.True(errors.Is(err, ErrConfig))

	_, err = LoadSettings([]byte("chains: 0\n"))
	assert.True(errors.Is(err, ErrConfig))

	_, err = LoadSettings([]byte("tune: [1, 2\n"))
	assert.True(errors.Is(err, ErrConfig))
}
