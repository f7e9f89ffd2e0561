package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dev.helix.router/internal/models"
)

// profileSpec is the YAML shape of one capability profile. It mirrors
// models.ProviderCapabilities but keeps the yaml tags out of the model
// package.
type profileSpec struct {
	Name                  string  `yaml:"name"`
	QualityScore          float64 `yaml:"quality_score"`
	SpeedScore            float64 `yaml:"speed_score"`
	CostScore             float64 `yaml:"cost_score"`
	PhilosophicalAccuracy float64 `yaml:"philosophical_accuracy"`
	ReliabilityScore      float64 `yaml:"reliability_score"`
	MaxTokens             int     `yaml:"max_tokens"`
	SupportsStreaming     bool    `yaml:"supports_streaming"`
	OverrideMinQuality    bool    `yaml:"override_min_quality"`
}

type profilesFile struct {
	Providers []profileSpec `yaml:"providers"`
}

// DefaultCapabilityProfiles returns the built-in scoring profiles for
// every shipped adapter. Gemini's adapter collapses generation into a
// single request, so its profile does not advertise streaming. The two
// premium hosted vendors carry OverrideMinQuality because their nominal
// quality scores underrate the newest model generations.
func DefaultCapabilityProfiles() []models.ProviderCapabilities {
	return []models.ProviderCapabilities{
		{
			Name:                  "anthropic",
			QualityScore:          0.95,
			SpeedScore:            0.75,
			CostScore:             0.3,
			PhilosophicalAccuracy: 0.95,
			ReliabilityScore:      0.95,
			MaxTokens:             200000,
			SupportsStreaming:     true,
			OverrideMinQuality:    true,
		},
		{
			Name:                  "openai",
			QualityScore:          0.9,
			SpeedScore:            0.8,
			CostScore:             0.35,
			PhilosophicalAccuracy: 0.85,
			ReliabilityScore:      0.93,
			MaxTokens:             128000,
			SupportsStreaming:     true,
			OverrideMinQuality:    true,
		},
		{
			Name:                  "gemini",
			QualityScore:          0.85,
			SpeedScore:            0.85,
			CostScore:             0.5,
			PhilosophicalAccuracy: 0.8,
			ReliabilityScore:      0.9,
			MaxTokens:             1000000,
			SupportsStreaming:     false,
		},
		{
			Name:                  "deepseek",
			QualityScore:          0.8,
			SpeedScore:            0.7,
			CostScore:             0.85,
			PhilosophicalAccuracy: 0.7,
			ReliabilityScore:      0.85,
			MaxTokens:             64000,
			SupportsStreaming:     true,
		},
		{
			Name:                  "openrouter",
			QualityScore:          0.85,
			SpeedScore:            0.65,
			CostScore:             0.6,
			PhilosophicalAccuracy: 0.8,
			ReliabilityScore:      0.88,
			MaxTokens:             128000,
			SupportsStreaming:     true,
		},
		{
			Name:                  "ollama",
			QualityScore:          0.6,
			SpeedScore:            0.5,
			CostScore:             1.0,
			PhilosophicalAccuracy: 0.5,
			ReliabilityScore:      0.8,
			MaxTokens:             32000,
			SupportsStreaming:     true,
		},
	}
}

// LoadCapabilityProfiles reads the YAML profiles file and merges it over
// the built-in defaults: file entries replace same-named defaults, new
// names append in file order. An empty path returns the defaults
// unchanged.
func LoadCapabilityProfiles(path string) ([]models.ProviderCapabilities, error) {
	defaults := DefaultCapabilityProfiles()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied profiles path
	if err != nil {
		return nil, fmt.Errorf("reading capability profiles: %w", err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing capability profiles: %w", err)
	}

	merged := make([]models.ProviderCapabilities, len(defaults))
	index := make(map[string]int, len(defaults))
	for i, p := range defaults {
		merged[i] = p
		index[p.Name] = i
	}

	for _, spec := range file.Providers {
		caps, err := spec.toCapabilities()
		if err != nil {
			return nil, err
		}
		if i, ok := index[caps.Name]; ok {
			merged[i] = caps
			continue
		}
		index[caps.Name] = len(merged)
		merged = append(merged, caps)
	}
	return merged, nil
}

func (s profileSpec) toCapabilities() (models.ProviderCapabilities, error) {
	if s.Name == "" {
		return models.ProviderCapabilities{}, fmt.Errorf("capability profile without a name")
	}
	for dim, v := range map[string]float64{
		"quality_score":          s.QualityScore,
		"speed_score":            s.SpeedScore,
		"cost_score":             s.CostScore,
		"philosophical_accuracy": s.PhilosophicalAccuracy,
		"reliability_score":      s.ReliabilityScore,
	} {
		if v < 0 || v > 1 {
			return models.ProviderCapabilities{}, fmt.Errorf("profile %q: %s %v outside [0,1]", s.Name, dim, v)
		}
	}
	return models.ProviderCapabilities{
		Name:                  s.Name,
		QualityScore:          s.QualityScore,
		SpeedScore:            s.SpeedScore,
		CostScore:             s.CostScore,
		PhilosophicalAccuracy: s.PhilosophicalAccuracy,
		ReliabilityScore:      s.ReliabilityScore,
		MaxTokens:             s.MaxTokens,
		SupportsStreaming:     s.SupportsStreaming,
		OverrideMinQuality:    s.OverrideMinQuality,
	}, nil
}
