package regime

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Default feature names, in the order detectors expect them.
const (
	FeatureReturn5d        = "return_5d"
	FeatureVolatility20d   = "volatility_20d"
	FeatureTrendStrength14 = "trend_strength_14d"
	FeatureVolumeRatio     = "volume_ratio"
)

// DefaultFeatures returns the standard four-feature vector layout.
func DefaultFeatures() []string {
	return []string{FeatureReturn5d, FeatureVolatility20d, FeatureTrendStrength14, FeatureVolumeRatio}
}

// TrainingConfig parameterizes the statistical detector. A short content
// hash of it is embedded in the model identifier so two differently
// configured models never collide.
type TrainingConfig struct {
	States        int      `yaml:"states" json:"states" validate:"gte=2"`
	MaxIterations int      `yaml:"max_iterations" json:"max_iterations" validate:"gte=10"`
	Covariance    string   `yaml:"covariance" json:"covariance" validate:"oneof=full diagonal tied spherical"`
	Features      []string `yaml:"features" json:"features" validate:"min=1"`
	Seed          int64    `yaml:"seed" json:"seed"`
	Tolerance     float64  `yaml:"tolerance" json:"tolerance" validate:"gt=0"`
	MinCovar      float64  `yaml:"min_covar" json:"min_covar" validate:"gt=0"`

	// Feature names the state-to-label heuristic ranks on. They fall
	// back to positions 0 and 1 when absent from Features.
	ReturnFeature     string `yaml:"return_feature" json:"return_feature"`
	VolatilityFeature string `yaml:"volatility_feature" json:"volatility_feature"`
}

// SetDefaults implements the creasty/defaults Setter hook.
func (c *TrainingConfig) SetDefaults() {
	if c.States == 0 {
		c.States = 4
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 100
	}
	if c.Covariance == "" {
		c.Covariance = CovDiagonal
	}
	if len(c.Features) == 0 {
		c.Features = DefaultFeatures()
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1e-4
	}
	if c.MinCovar == 0 {
		c.MinCovar = 1e-6
	}
	if c.ReturnFeature == "" {
		c.ReturnFeature = FeatureReturn5d
	}
	if c.VolatilityFeature == "" {
		c.VolatilityFeature = FeatureVolatility20d
	}
}

// DefaultTrainingConfig returns the production defaults.
func DefaultTrainingConfig() TrainingConfig {
	var c TrainingConfig
	c.SetDefaults()
	return c
}

// Validate rejects configurations the trainer cannot run with.
func (c TrainingConfig) Validate() error {
	if c.States < 2 {
		return fmt.Errorf("%w: states %d below minimum 2", ErrConfiguration, c.States)
	}
	if c.MaxIterations < 10 {
		return fmt.Errorf("%w: max_iterations %d below minimum 10", ErrConfiguration, c.MaxIterations)
	}
	if !validCovariance(c.Covariance) {
		return fmt.Errorf("%w: unknown covariance family %q", ErrConfiguration, c.Covariance)
	}
	if len(c.Features) == 0 {
		return fmt.Errorf("%w: empty feature list", ErrConfiguration)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be positive", ErrConfiguration)
	}
	if c.MinCovar <= 0 {
		return fmt.Errorf("%w: min_covar must be positive", ErrConfiguration)
	}
	return nil
}

// featureScaler holds the training-time z-score statistics, reused
// unmodified at inference.
type featureScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func fitScaler(obs [][]float64) *featureScaler {
	t := len(obs)
	d := len(obs[0])
	s := &featureScaler{Mean: make([]float64, d), Std: make([]float64, d)}

	for _, o := range obs {
		for j, v := range o {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= float64(t)
	}
	for _, o := range obs {
		for j, v := range o {
			diff := v - s.Mean[j]
			s.Std[j] += diff * diff
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / float64(t))
		// Constant features would blow up the division
		if s.Std[j] < 1e-8 {
			s.Std[j] = 1.0
		}
	}
	return s
}

func (s *featureScaler) transform(features []float64) []float64 {
	out := make([]float64, len(features))
	for j, v := range features {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

func (s *featureScaler) transformAll(obs [][]float64) [][]float64 {
	out := make([][]float64, len(obs))
	for t, o := range obs {
		out[t] = s.transform(o)
	}
	return out
}

// hmmMetadata is the artifact document that freezes everything needed to
// reconstruct a trained detector besides the raw parameters.
type hmmMetadata struct {
	ModelID     string         `json:"model_id"`
	Version     string         `json:"version"`
	ConfigHash  string         `json:"config_hash"`
	TrainedAt   time.Time      `json:"trained_at"`
	Config      TrainingConfig `json:"config"`
	StateLabels []Label        `json:"state_labels"`
}

// HMMDetector learns latent market states from unlabeled feature
// sequences via a Gaussian hidden-state model trained with EM, then maps
// the anonymous states onto regime labels.
type HMMDetector struct {
	cfg     TrainingConfig
	cfgHash string

	params    *hmmParams
	scaler    *featureScaler
	mapping   []Label
	fitted    bool
	trainedAt time.Time
	version   string
	metrics   *ModelMetrics
}

// NewHMMDetector builds an unfitted detector. Fit or Load must run before
// Predict.
func NewHMMDetector(cfg TrainingConfig) (*HMMDetector, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hash := shortHash(cfg)
	return &HMMDetector{
		cfg:     cfg,
		cfgHash: hash,
		metrics: &ModelMetrics{ModelID: fmt.Sprintf("hmm-unfitted-%s", hash)},
	}, nil
}

func (d *HMMDetector) RequiredFeatures() []string {
	out := make([]string, len(d.cfg.Features))
	copy(out, d.cfg.Features)
	return out
}

func (d *HMMDetector) IsFitted() bool { return d.fitted }

func (d *HMMDetector) ModelID() string { return d.metrics.ModelID }

// Config returns a copy of the effective training configuration.
func (d *HMMDetector) Config() TrainingConfig { return d.cfg }

// StateLabels returns the frozen state-to-label mapping, one label per
// hidden state. Nil before fitting.
func (d *HMMDetector) StateLabels() []Label {
	if d.mapping == nil {
		return nil
	}
	return append([]Label(nil), d.mapping...)
}

// Fit trains the model: z-score normalization, Baum-Welch EM, then the
// post-hoc state-to-label mapping. Hitting the iteration cap without
// convergence logs a warning but does not fail the fit.
func (d *HMMDetector) Fit(observations [][]float64) error {
	if err := validateObservations(observations, d.cfg.Features); err != nil {
		return err
	}
	if len(observations) < 2*d.cfg.States {
		return fmt.Errorf("%w: %d observations too few for %d states", ErrTraining, len(observations), d.cfg.States)
	}

	scaler := fitScaler(observations)
	scaled := scaler.transformAll(observations)

	params := initParams(scaled, d.cfg.States, d.cfg.Covariance, d.cfg.Seed, d.cfg.MinCovar)
	res, err := baumWelch(params, scaled, d.cfg.MaxIterations, d.cfg.Tolerance, d.cfg.MinCovar)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTraining, err)
	}
	if !res.converged {
		log.Warn().
			Int("iterations", res.iterations).
			Float64("log_likelihood", res.logLikelihood).
			Str("config_hash", d.cfgHash).
			Msg("EM hit iteration cap without converging; model usable but flagged")
	}

	path, err := viterbi(params, scaled)
	if err != nil {
		return fmt.Errorf("%w: decoding training sequence: %v", ErrTraining, err)
	}

	d.params = params
	d.scaler = scaler
	d.mapping = mapStatesToLabels(params, d.featureIndex(d.cfg.VolatilityFeature, 1), d.featureIndex(d.cfg.ReturnFeature, 0))
	d.trainedAt = time.Now().UTC()
	d.version = d.trainedAt.Format("20060102T150405")
	d.fitted = true

	ll := res.logLikelihood
	aic, bic := informationCriteria(d.cfg.Covariance, d.cfg.States, len(d.cfg.Features), len(observations), ll)

	labelDist := make(map[Label]float64, len(AllLabels()))
	for _, state := range path {
		labelDist[d.mapping[state]]++
	}
	for l := range labelDist {
		labelDist[l] /= float64(len(path))
	}

	d.metrics = &ModelMetrics{
		ModelID:           fmt.Sprintf("hmm-%s-%s", d.version, d.cfgHash),
		Version:           d.version,
		TrainedAt:         d.trainedAt,
		TrainingSamples:   len(observations),
		Converged:         res.converged,
		LogLikelihood:     &ll,
		AIC:               &aic,
		BIC:               &bic,
		LabelDistribution: labelDist,
	}

	log.Info().
		Str("model_id", d.metrics.ModelID).
		Int("samples", len(observations)).
		Int("iterations", res.iterations).
		Bool("converged", res.converged).
		Float64("log_likelihood", ll).
		Msg("regime model trained")

	return nil
}

func (d *HMMDetector) featureIndex(name string, fallback int) int {
	for i, f := range d.cfg.Features {
		if f == name {
			return i
		}
	}
	return fallback
}

// Predict classifies a single feature vector from the posterior over
// hidden states.
func (d *HMMDetector) Predict(features []float64) (*Prediction, error) {
	return d.predictSequence([][]float64{features})
}

// PredictSequence classifies the final time step of a full observation
// sequence, conditioning the posterior on every step that precedes it.
func (d *HMMDetector) PredictSequence(observations [][]float64) (*Prediction, error) {
	return d.predictSequence(observations)
}

func (d *HMMDetector) predictSequence(observations [][]float64) (*Prediction, error) {
	start := time.Now()

	if !d.fitted {
		return nil, fmt.Errorf("%w: call Fit or Load first", ErrModelNotFitted)
	}
	if err := validateObservations(observations, d.cfg.Features); err != nil {
		return nil, err
	}

	posterior, err := statePosterior(d.params, d.scaler.transformAll(observations))
	if err != nil {
		return nil, fmt.Errorf("computing posterior: %w", err)
	}

	best := 0
	for i, p := range posterior {
		if p > posterior[best] {
			best = i
		}
	}

	last := observations[len(observations)-1]
	latency := time.Since(start)

	pred, err := NewPrediction(
		d.mapping[best],
		posterior[best],
		d.labelDistribution(posterior),
		d.metrics.ModelID,
		latency,
		featuresUsed(d.cfg.Features, last),
		map[string]any{
			"hidden_state":    best,
			"state_posterior": posterior,
		},
	)
	if err != nil {
		return nil, err
	}

	d.metrics.RecordPrediction(latency)
	return pred, nil
}

// PredictProba returns the label probabilities for one feature vector.
func (d *HMMDetector) PredictProba(features []float64) (map[Label]float64, error) {
	if !d.fitted {
		return nil, fmt.Errorf("%w: call Fit or Load first", ErrModelNotFitted)
	}
	if err := validateFeatures(features, d.cfg.Features); err != nil {
		return nil, err
	}
	posterior, err := statePosterior(d.params, [][]float64{d.scaler.transform(features)})
	if err != nil {
		return nil, fmt.Errorf("computing posterior: %w", err)
	}
	return d.labelDistribution(posterior), nil
}

// labelDistribution folds the per-state posterior into a per-label
// distribution. Multiple states mapped to the same label have their
// probabilities summed.
func (d *HMMDetector) labelDistribution(posterior []float64) map[Label]float64 {
	dist := make(map[Label]float64, len(AllLabels()))
	for _, l := range AllLabels() {
		dist[l] = 0
	}
	for state, p := range posterior {
		dist[d.mapping[state]] += p
	}
	return dist
}

// DecodeSequence returns the globally optimal label sequence over a full
// feature-vector history via Viterbi decoding.
func (d *HMMDetector) DecodeSequence(observations [][]float64) ([]Label, error) {
	if !d.fitted {
		return nil, fmt.Errorf("%w: call Fit or Load first", ErrModelNotFitted)
	}
	if err := validateObservations(observations, d.cfg.Features); err != nil {
		return nil, err
	}
	path, err := viterbi(d.params, d.scaler.transformAll(observations))
	if err != nil {
		return nil, fmt.Errorf("decoding sequence: %w", err)
	}
	labels := make([]Label, len(path))
	for t, state := range path {
		labels[t] = d.mapping[state]
	}
	return labels, nil
}

// Save persists the four model artifacts into one versioned directory.
func (d *HMMDetector) Save(dir string) error {
	if !d.fitted {
		return fmt.Errorf("%w: nothing to save before Fit", ErrModelSave)
	}
	meta := hmmMetadata{
		ModelID:     d.metrics.ModelID,
		Version:     d.version,
		ConfigHash:  d.cfgHash,
		TrainedAt:   d.trainedAt,
		Config:      d.cfg,
		StateLabels: d.mapping,
	}
	return writeArtifact(dir, map[string]any{
		modelFile:    d.params,
		metadataFile: meta,
		metricsFile:  d.metrics.Snapshot(),
		scalerFile:   d.scaler,
	})
}

// Load restores a detector from a saved artifact directory. It fails if
// any required artifact is missing and never mutates the stored files.
func (d *HMMDetector) Load(dir string) error {
	var params hmmParams
	if err := readArtifactFile(dir, modelFile, &params); err != nil {
		return err
	}
	var meta hmmMetadata
	if err := readArtifactFile(dir, metadataFile, &meta); err != nil {
		return err
	}
	var metrics ModelMetrics
	if err := readArtifactFile(dir, metricsFile, &metrics); err != nil {
		return err
	}
	var scaler featureScaler
	if err := readArtifactFile(dir, scalerFile, &scaler); err != nil {
		return err
	}

	if len(meta.StateLabels) != params.States {
		return fmt.Errorf("%w: %d state labels for %d states", ErrModelLoad, len(meta.StateLabels), params.States)
	}
	if len(scaler.Mean) != params.Features || len(scaler.Std) != params.Features {
		return fmt.Errorf("%w: scaler dimension mismatch", ErrModelLoad)
	}
	if _, err := params.cholFactors(); err != nil {
		return fmt.Errorf("%w: corrupt covariance: %v", ErrModelLoad, err)
	}

	meta.Config.SetDefaults()
	d.cfg = meta.Config
	d.cfgHash = meta.ConfigHash
	d.params = &params
	d.scaler = &scaler
	d.mapping = meta.StateLabels
	d.trainedAt = meta.TrainedAt
	d.version = meta.Version
	d.metrics = &metrics
	d.fitted = true

	return nil
}

func (d *HMMDetector) Metrics() ModelMetrics { return d.metrics.Snapshot() }

// DirectoryName returns the conventional versioned artifact directory
// name for this trained model: type, date, short config hash.
func (d *HMMDetector) DirectoryName() string {
	return fmt.Sprintf("hmm_%s_%s", d.trainedAt.Format("20060102"), d.cfgHash)
}

// mapStatesToLabels reconstructs label identity from the anonymous
// learned states: the state with the highest mean volatility becomes
// Unstable; the rest are ranked by mean return, top to TrendingUp, bottom
// to TrendingDown, anything strictly between to Flat. States this
// procedure cannot place fall back to a fixed index mapping.
func mapStatesToLabels(p *hmmParams, volIdx, retIdx int) []Label {
	k := p.States
	mapping := make([]Label, k)

	unstable := 0
	for i := 1; i < k; i++ {
		if p.Means[i][volIdx] > p.Means[unstable][volIdx] {
			unstable = i
		}
	}
	mapping[unstable] = Unstable

	remaining := make([]int, 0, k-1)
	for i := 0; i < k; i++ {
		if i != unstable {
			remaining = append(remaining, i)
		}
	}

	if len(remaining) >= 2 {
		sort.Slice(remaining, func(a, b int) bool {
			return p.Means[remaining[a]][retIdx] > p.Means[remaining[b]][retIdx]
		})
		mapping[remaining[0]] = TrendingUp
		mapping[remaining[len(remaining)-1]] = TrendingDown
		for _, i := range remaining[1 : len(remaining)-1] {
			mapping[i] = Flat
		}
	} else {
		// Too few states to rank; fixed default by state index
		defaults := []Label{TrendingUp, TrendingDown, Flat, Unstable}
		for _, i := range remaining {
			mapping[i] = defaults[i%len(defaults)]
		}
	}

	return mapping
}

// informationCriteria computes AIC and BIC from the log-likelihood and
// the family-dependent free-parameter count.
func informationCriteria(covariance string, states, features, samples int, logLikelihood float64) (aic, bic float64) {
	k := covarianceParams(covariance, states, features) +
		(states - 1) + states*(states-1) + // initial probs + transition matrix
		states*features // emission means

	aic = 2*float64(k) - 2*logLikelihood
	bic = float64(k)*math.Log(float64(samples)) - 2*logLikelihood
	return aic, bic
}
