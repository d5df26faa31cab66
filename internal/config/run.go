// Package config holds the run configuration: file defaults, WINRATE_*
// environment overrides and command-line flags, in that order.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/winrate/internal/calibration"
	"github.com/banshee-data/winrate/internal/crossval"
	"github.com/banshee-data/winrate/internal/dataset"
	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/report"
)

// ExampleConfigPath is the annotated example configuration shipped with the
// repository.
const ExampleConfigPath = "config/winrate.example.yaml"

// EnvPrefix prefixes every environment override, e.g. WINRATE_ESTIMATOR.
const EnvPrefix = "WINRATE"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// RunConfig is the full set of knobs for one invocation. Nil fields fall
// back to the defaults returned by the Get* methods, so partial files are
// safe.
type RunConfig struct {
	// Dataset
	Dataset              *string  `json:"dataset,omitempty" yaml:"dataset,omitempty" envconfig:"DATASET"`
	AnnotationsPath      *string  `json:"annotations_path,omitempty" yaml:"annotations_path,omitempty" envconfig:"ANNOTATIONS_PATH"`
	QPriorDataRatio      *float64 `json:"q_prior_data_ratio,omitempty" yaml:"q_prior_data_ratio,omitempty" envconfig:"Q_PRIOR_DATA_RATIO"`
	QPriorDataUsage      *string  `json:"q_prior_data_usage,omitempty" yaml:"q_prior_data_usage,omitempty" envconfig:"Q_PRIOR_DATA_USAGE"`
	LoadCache            *bool    `json:"load_cache,omitempty" yaml:"load_cache,omitempty" envconfig:"LOAD_CACHE"`
	QPriorInDistribution *bool    `json:"q_prior_in_distribution,omitempty" yaml:"q_prior_in_distribution,omitempty" envconfig:"Q_PRIOR_IN_DISTRIBUTION"`
	QPriorOODSource      *string  `json:"q_prior_ood_source,omitempty" yaml:"q_prior_ood_source,omitempty" envconfig:"Q_PRIOR_OOD_SOURCE"`
	DatasetP             *float64 `json:"dataset_p,omitempty" yaml:"dataset_p,omitempty" envconfig:"DATASET_P"`

	// Calibrator
	Calibrator            *string   `json:"calibrator,omitempty" yaml:"calibrator,omitempty" envconfig:"CALIBRATOR"`
	CalibratorSampleSize  *int      `json:"calibrator_sample_size,omitempty" yaml:"calibrator_sample_size,omitempty" envconfig:"CALIBRATOR_SAMPLE_SIZE"`
	CalibratorSampleCores *int      `json:"calibrator_sample_cores,omitempty" yaml:"calibrator_sample_cores,omitempty" envconfig:"CALIBRATOR_SAMPLE_CORES"`
	CalibratorBurnIn      *int      `json:"calibrator_burn_in,omitempty" yaml:"calibrator_burn_in,omitempty" envconfig:"CALIBRATOR_BURN_IN"`
	PriorStrength         *float64  `json:"prior_strength,omitempty" yaml:"prior_strength,omitempty" envconfig:"PRIOR_STRENGTH"`
	QPrior                []float64 `json:"q_prior,omitempty" yaml:"q_prior,omitempty" envconfig:"Q_PRIOR"`

	// Estimator
	Estimator   *string  `json:"estimator,omitempty" yaml:"estimator,omitempty" envconfig:"ESTIMATOR"`
	PlotDir     *string  `json:"plot_dir,omitempty" yaml:"plot_dir,omitempty" envconfig:"PLOT_DIR"`
	PlotFormats []string `json:"plot_formats,omitempty" yaml:"plot_formats,omitempty" envconfig:"PLOT_FORMATS"`
	PSampleSize *int     `json:"p_sample_size,omitempty" yaml:"p_sample_size,omitempty" envconfig:"P_SAMPLE_SIZE"`
	PConfidence *float64 `json:"p_confidence,omitempty" yaml:"p_confidence,omitempty" envconfig:"P_CONFIDENCE"`

	// Overall control
	CompareModels *string `json:"compare_models,omitempty" yaml:"compare_models,omitempty" envconfig:"COMPARE_MODELS"`
	QPriorCVFolds *int    `json:"q_prior_cv_folds,omitempty" yaml:"q_prior_cv_folds,omitempty" envconfig:"Q_PRIOR_CV_FOLDS"`
	Seed          *uint64 `json:"seed,omitempty" yaml:"seed,omitempty" envconfig:"SEED"`
	Database      *string `json:"database,omitempty" yaml:"database,omitempty" envconfig:"DATABASE"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Load reads the optional config file, applies WINRATE_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*RunConfig, error) {
	cfg := &RunConfig{}
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errkind.Configurationf("processing env config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses a JSON or YAML config file. The file must have a .json,
// .yaml or .yml extension and be under 1MB. It is not validated, since
// environment and flags may still override it.
func LoadFile(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, errkind.Configurationf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errkind.Configurationf("failed to stat config file: %v", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, errkind.Configurationf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errkind.Configurationf("failed to read config file: %v", err)
	}

	cfg := &RunConfig{}
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, errkind.Configurationf("failed to parse config JSON: %v", err)
		}
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errkind.Configurationf("failed to parse config YAML: %v", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errkind.Configurationf("failed to parse config YAML: expected single document")
	}
	return cfg, nil
}

// Merge copies every field set in o over c. Flags are merged last.
func (c *RunConfig) Merge(o *RunConfig) {
	if o == nil {
		return
	}
	mergePtr(&c.Dataset, o.Dataset)
	mergePtr(&c.AnnotationsPath, o.AnnotationsPath)
	mergePtr(&c.QPriorDataRatio, o.QPriorDataRatio)
	mergePtr(&c.QPriorDataUsage, o.QPriorDataUsage)
	mergePtr(&c.LoadCache, o.LoadCache)
	mergePtr(&c.QPriorInDistribution, o.QPriorInDistribution)
	mergePtr(&c.QPriorOODSource, o.QPriorOODSource)
	mergePtr(&c.DatasetP, o.DatasetP)
	mergePtr(&c.Calibrator, o.Calibrator)
	mergePtr(&c.CalibratorSampleSize, o.CalibratorSampleSize)
	mergePtr(&c.CalibratorSampleCores, o.CalibratorSampleCores)
	mergePtr(&c.CalibratorBurnIn, o.CalibratorBurnIn)
	mergePtr(&c.PriorStrength, o.PriorStrength)
	mergePtr(&c.Estimator, o.Estimator)
	mergePtr(&c.PlotDir, o.PlotDir)
	mergePtr(&c.PSampleSize, o.PSampleSize)
	mergePtr(&c.PConfidence, o.PConfidence)
	mergePtr(&c.CompareModels, o.CompareModels)
	mergePtr(&c.QPriorCVFolds, o.QPriorCVFolds)
	mergePtr(&c.Seed, o.Seed)
	mergePtr(&c.Database, o.Database)
	if o.QPrior != nil {
		c.QPrior = append([]float64(nil), o.QPrior...)
	}
	if o.PlotFormats != nil {
		c.PlotFormats = append([]string(nil), o.PlotFormats...)
	}
}

func mergePtr[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// ParseQPrior parses the comma separated --q-prior list.
func ParseQPrior(s string) ([]float64, error) {
	var out []float64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, errkind.Configurationf("invalid q prior value %q", field)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errkind.Configurationf("empty q prior list %q", s)
	}
	return out, nil
}

// Validate checks every option on its own and the combinations the
// pipeline cannot honour. All failures wrap errkind.ErrConfiguration.
func (c *RunConfig) Validate() error {
	estimators := reliability.DefaultRegistry()
	calibrators := calibration.DefaultRegistry()
	datasets := dataset.DefaultRegistry()

	if _, ok := datasets.Get(c.GetDataset()); !ok {
		return errkind.Configurationf("unknown dataset %q (have %s)", c.GetDataset(), strings.Join(datasets.Names(), ", "))
	}
	if !estimators.Known(c.GetEstimator()) {
		return errkind.Configurationf("unknown q estimator %q", c.GetEstimator())
	}
	if !calibrators.Known(c.GetCalibrator()) {
		return errkind.Configurationf("unknown q calibrator %q", c.GetCalibrator())
	}
	if c.OneCoinCalibrator() && !c.OneCoinEstimator() {
		return errkind.Configurationf("calibrator %s needs a one-coin estimator, got %s", c.GetCalibrator(), c.GetEstimator())
	}

	if c.GetEstimator() == reliability.NoEstimator && c.QPrior == nil && c.GetCalibrator() == calibration.NoCalibrator {
		return errkind.Configurationf("no source of q: estimator and calibrator are None and q_prior is unset")
	}

	folds := c.GetQPriorCVFolds()
	if folds != crossval.Disabled && folds < 2 {
		return errkind.Configurationf("q_prior_cv_folds must be -1 or at least 2, got %d", folds)
	}
	if folds != crossval.Disabled && c.QPriorDataRatio != nil {
		return errkind.Configurationf("q_prior_data_ratio is unused with q_prior_cv_folds, leave it unset")
	}
	if r := c.QPriorDataRatio; r != nil && !(*r > 0 && *r <= 1) {
		return errkind.Configurationf("q_prior_data_ratio must be in (0,1], got %v", *r)
	}
	if p := c.DatasetP; p != nil && !(*p >= 0 && *p <= 1) {
		return errkind.Configurationf("dataset_p must be in [0,1], got %v", *p)
	}
	switch dataset.PriorUsage(c.GetQPriorDataUsage()) {
	case dataset.UsageQPrior, dataset.UsageGoldLabels:
	default:
		return errkind.Configurationf("unknown q_prior_data_usage %q", c.GetQPriorDataUsage())
	}
	switch dataset.OODSource(c.GetQPriorOODSource()) {
	case dataset.OODAllOthers, dataset.OODExcludeGenerators:
	default:
		return errkind.Configurationf("unknown q_prior_ood_source %q", c.GetQPriorOODSource())
	}

	if n := c.GetCalibratorSampleSize(); n < 1 {
		return errkind.Configurationf("calibrator_sample_size must be positive, got %d", n)
	}
	if n := c.GetCalibratorSampleCores(); n < 1 {
		return errkind.Configurationf("calibrator_sample_cores must be positive, got %d", n)
	}
	if n := c.GetCalibratorBurnIn(); n < 0 {
		return errkind.Configurationf("calibrator_burn_in must be non-negative, got %d", n)
	}
	if s := c.GetPriorStrength(); !(s > 0) {
		return errkind.Configurationf("prior_strength must be positive, got %v", s)
	}
	if n := c.GetPSampleSize(); n < 1 {
		return errkind.Configurationf("p_sample_size must be positive, got %d", n)
	}
	if conf := c.GetPConfidence(); !(conf > 0 && conf < 1) {
		return errkind.Configurationf("p_confidence must be in (0,1), got %v", conf)
	}
	for _, q := range c.QPrior {
		if !(q >= 0 && q <= 1) {
			return errkind.Configurationf("q_prior values must be in [0,1], got %v", q)
		}
	}
	if c.QPrior != nil && c.OneCoinEstimator() && len(c.QPrior) != 1 {
		return errkind.Configurationf("one-coin q_prior takes a single value, got %d", len(c.QPrior))
	}
	for _, f := range c.GetPlotFormats() {
		switch report.Format(f) {
		case report.FormatPNG, report.FormatHTML:
		default:
			return errkind.Configurationf("unknown plot format %q", f)
		}
	}
	if c.GetDataset() == "Annotated" && c.GetAnnotationsPath() == "" {
		return errkind.Configurationf("dataset Annotated needs annotations_path")
	}
	return nil
}

// OneCoinEstimator reports whether the configured estimator uses the
// one-coin model.
func (c *RunConfig) OneCoinEstimator() bool {
	def, ok := reliability.DefaultRegistry().Get(c.GetEstimator())
	return ok && def.Model == reliability.OneCoin
}

// OneCoinCalibrator reports whether the configured calibrator uses the
// one-coin model.
func (c *RunConfig) OneCoinCalibrator() bool {
	def, ok := calibration.DefaultRegistry().Get(c.GetCalibrator())
	return ok && def.Calibrator.Model() == reliability.OneCoin
}

// GetDataset returns the dataset name or the default.
func (c *RunConfig) GetDataset() string {
	if c.Dataset == nil {
		return "RandomSamples"
	}
	return *c.Dataset
}

// GetAnnotationsPath returns the annotations CSV path, empty when unset.
func (c *RunConfig) GetAnnotationsPath() string {
	if c.AnnotationsPath == nil {
		return ""
	}
	return *c.AnnotationsPath
}

func (c *RunConfig) GetQPriorDataUsage() string {
	if c.QPriorDataUsage == nil {
		return string(dataset.UsageQPrior)
	}
	return *c.QPriorDataUsage
}

func (c *RunConfig) GetLoadCache() bool {
	return c.LoadCache != nil && *c.LoadCache
}

// GetQPriorInDistribution is true unless q should come from other
// comparisons.
func (c *RunConfig) GetQPriorInDistribution() bool {
	if c.QPriorInDistribution == nil {
		return true
	}
	return *c.QPriorInDistribution
}

func (c *RunConfig) GetQPriorOODSource() string {
	if c.QPriorOODSource == nil {
		return string(dataset.OODAllOthers)
	}
	return *c.QPriorOODSource
}

func (c *RunConfig) GetCalibrator() string {
	if c.Calibrator == nil {
		return "BayesianDawidSkene"
	}
	return *c.Calibrator
}

func (c *RunConfig) GetCalibratorSampleSize() int {
	if c.CalibratorSampleSize == nil {
		return 10000
	}
	return *c.CalibratorSampleSize
}

func (c *RunConfig) GetCalibratorSampleCores() int {
	if c.CalibratorSampleCores == nil {
		return 4
	}
	return *c.CalibratorSampleCores
}

func (c *RunConfig) GetCalibratorBurnIn() int {
	if c.CalibratorBurnIn == nil {
		return 500
	}
	return *c.CalibratorBurnIn
}

// GetPriorStrength is the pseudo-count behind a point-value prior.
func (c *RunConfig) GetPriorStrength() float64 {
	if c.PriorStrength == nil {
		return 100
	}
	return *c.PriorStrength
}

func (c *RunConfig) GetEstimator() string {
	if c.Estimator == nil {
		return "BetaBernoulli"
	}
	return *c.Estimator
}

// GetPlotDir returns the report directory. An explicit empty string turns
// plotting off.
func (c *RunConfig) GetPlotDir() string {
	if c.PlotDir == nil {
		return "results/plots"
	}
	return *c.PlotDir
}

func (c *RunConfig) GetPlotFormats() []string {
	if c.PlotFormats == nil {
		return []string{string(report.FormatPNG)}
	}
	return c.PlotFormats
}

func (c *RunConfig) GetPSampleSize() int {
	if c.PSampleSize == nil {
		return 10000
	}
	return *c.PSampleSize
}

func (c *RunConfig) GetPConfidence() float64 {
	if c.PConfidence == nil {
		return 0.95
	}
	return *c.PConfidence
}

func (c *RunConfig) GetCompareModels() string {
	if c.CompareModels == nil {
		return "All"
	}
	return *c.CompareModels
}

func (c *RunConfig) GetQPriorCVFolds() int {
	if c.QPriorCVFolds == nil {
		return crossval.Disabled
	}
	return *c.QPriorCVFolds
}

func (c *RunConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetDatabase returns the sqlite path for the matrix cache and run
// history. An explicit empty string disables both.
func (c *RunConfig) GetDatabase() string {
	if c.Database == nil {
		return "results/winrate.db"
	}
	return *c.Database
}

// DatasetRequest builds the matrix request for one comparison.
func (c *RunConfig) DatasetRequest(modelA, modelB string) dataset.Request {
	return dataset.Request{
		ModelA:          modelA,
		ModelB:          modelB,
		UseOODQ:         !c.GetQPriorInDistribution(),
		QPriorDataRatio: c.QPriorDataRatio,
		QPriorDataUsage: dataset.PriorUsage(c.GetQPriorDataUsage()),
		LoadCache:       c.GetLoadCache(),
		DatasetP:        c.DatasetP,
		QPriorOODSource: dataset.OODSource(c.GetQPriorOODSource()),
		Seed:            c.GetSeed(),
	}
}
