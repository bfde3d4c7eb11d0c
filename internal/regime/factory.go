package regime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Detector type names the factory registry knows about.
const (
	TypeHMM   = "hmm"
	TypeRules = "rules"
)

// FactoryConfig selects the active detector type and carries the
// per-type parameters. It is read once at factory construction and on
// explicit Reload; the core never re-reads configuration mid-operation.
type FactoryConfig struct {
	Active   string          `yaml:"active" json:"active"`
	ModelDir string          `yaml:"model_dir" json:"model_dir"`
	HMM      TrainingConfig  `yaml:"hmm" json:"hmm"`
	Rules    ThresholdConfig `yaml:"rules" json:"rules"`
}

// SetDefaults implements the creasty/defaults Setter hook.
func (c *FactoryConfig) SetDefaults() {
	if c.Active == "" {
		c.Active = TypeHMM
	}
	if c.ModelDir == "" {
		c.ModelDir = filepath.Join("artifacts", "models")
	}
	c.HMM.SetDefaults()
	if (c.Rules == ThresholdConfig{}) {
		c.Rules = DefaultThresholds()
	}
}

// DetectorBuilder constructs one detector variant from the factory
// configuration.
type DetectorBuilder func(cfg FactoryConfig) (Detector, error)

// Factory instantiates detectors by type name and owns one cached active
// instance. It is explicitly constructed and injected rather than held as
// package-level state, so lifecycle and test isolation stay visible.
type Factory struct {
	mu       sync.Mutex
	cfg      FactoryConfig
	registry map[string]DetectorBuilder
	active   Detector
}

// NewFactory builds a factory with the two standard detector types
// registered.
func NewFactory(cfg FactoryConfig) *Factory {
	cfg.SetDefaults()
	f := &Factory{
		cfg:      cfg,
		registry: make(map[string]DetectorBuilder),
	}
	f.registry[TypeRules] = buildRuleDetector
	f.registry[TypeHMM] = buildHMMDetector
	return f
}

// Register adds or replaces a detector constructor under a type name.
func (f *Factory) Register(name string, builder DetectorBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[name] = builder
}

// Create instantiates a detector of the given type, or of the configured
// active type when typ is empty. Unknown types fail with
// ErrConfiguration. For the statistical type a previously trained
// artifact is loaded when one exists; a missing artifact is an expected
// first-run condition and degrades to an untrained instance.
func (f *Factory) Create(typ string) (Detector, error) {
	f.mu.Lock()
	cfg := f.cfg
	if typ == "" {
		typ = cfg.Active
	}
	builder, ok := f.registry[typ]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown detector type %q", ErrConfiguration, typ)
	}
	return builder(cfg)
}

// Active returns the cached process-wide detector, creating it on first
// use.
func (f *Factory) Active() (Detector, error) {
	f.mu.Lock()
	if f.active != nil {
		d := f.active
		f.mu.Unlock()
		return d, nil
	}
	f.mu.Unlock()

	d, err := f.Create("")
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		f.active = d
	}
	return f.active, nil
}

// ActiveType reports the configured active detector type name. Callers
// labeling telemetry or output by detector kind use this rather than
// inspecting the concrete detector, so custom registered types keep
// their registered name.
func (f *Factory) ActiveType() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Active
}

// Invalidate drops the cached active detector, forcing recreation on the
// next Active call.
func (f *Factory) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
}

// Reload swaps in a fresh configuration and invalidates the cached
// instance.
func (f *Factory) Reload(cfg FactoryConfig) {
	cfg.SetDefaults()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.active = nil
}

func buildRuleDetector(cfg FactoryConfig) (Detector, error) {
	return NewRuleBasedDetector(cfg.Rules), nil
}

func buildHMMDetector(cfg FactoryConfig) (Detector, error) {
	d, err := NewHMMDetector(cfg.HMM)
	if err != nil {
		return nil, err
	}

	dir, err := LatestArtifactDir(cfg.ModelDir)
	if err != nil {
		log.Warn().Err(err).Str("model_dir", cfg.ModelDir).
			Msg("no trained regime model found; returning untrained detector")
		return d, nil
	}
	if err := d.Load(dir); err != nil {
		log.Warn().Err(err).Str("artifact", dir).
			Msg("loading trained regime model failed; returning untrained detector")
		return d, nil
	}

	log.Info().Str("model_id", d.ModelID()).Str("artifact", dir).Msg("loaded trained regime model")
	return d, nil
}

// LatestArtifactDir resolves the newest versioned statistical-model
// artifact under modelDir by the conventional hmm_<date>_<hash> naming.
func LatestArtifactDir(modelDir string) (string, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return "", fmt.Errorf("%w: reading model dir: %v", ErrModelLoad, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "hmm_") && !strings.HasSuffix(e.Name(), ".tmp") {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no artifacts under %s", ErrModelLoad, modelDir)
	}

	// Date-stamped names sort chronologically
	sort.Strings(candidates)
	return filepath.Join(modelDir, candidates[len(candidates)-1]), nil
}
