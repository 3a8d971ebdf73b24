// Package config declares the training options of the embedding encoder
// trainer and validates them before any expensive resource is allocated.
//
// Configuration files are YAML (JSON is accepted as a YAML subset). Option
// names are snake_case. Options that have no sensible default, the batch
// composition fields, are pointers so that an absent value can be told
// apart from an explicit zero:
//
//	model: speaker_encoder
//	loss: angleproto
//	num_classes_in_batch: 32
//	num_utter_per_class: 4
//	num_loader_workers: 4
//	datasets:
//	  - formatter: speaker_dirs
//	    path: /data/voxceleb
//
// Load and Parse always return a validated Config. A Config must not be
// mutated after it has been handed to the trainer.
package config

// Model selectors.
const (
	ModelSpeakerEncoder = "speaker_encoder"
	ModelEmotionEncoder = "emotion_encoder"
)

// Pooling modes of the MLP encoder.
const (
	PoolingMean  = "mean"
	PoolingStats = "stats"
)

// Config is the full set of recognized training options.
type Config struct {
	// Run bookkeeping.
	RunName        string `yaml:"run_name" json:"run_name"`
	RunDescription string `yaml:"run_description,omitempty" json:"run_description,omitempty"`
	// OutputPath is a local directory or an s3://bucket/prefix URL.
	OutputPath string `yaml:"output_path" json:"output_path"`
	Seed       uint64 `yaml:"seed" json:"seed"`
	// DashboardPath is the local directory of the statistics store. Empty
	// means "<run dir>/dashboard" for local output.
	DashboardPath string `yaml:"dashboard_path,omitempty" json:"dashboard_path,omitempty"`
	// FeatureCachePath enables the on-disk mel feature cache when set.
	FeatureCachePath string `yaml:"feature_cache_path,omitempty" json:"feature_cache_path,omitempty"`

	Model       string          `yaml:"model" json:"model"`
	ModelParams ModelParams     `yaml:"model_params" json:"model_params"`
	Audio       AudioConfig     `yaml:"audio" json:"audio"`
	Datasets    []DatasetConfig `yaml:"datasets" json:"datasets"`

	EvalSplitSize    float64 `yaml:"eval_split_size" json:"eval_split_size"`
	EvalSplitMaxSize int     `yaml:"eval_split_max_size" json:"eval_split_max_size"`

	AudioAugmentation AugmentationConfig `yaml:"audio_augmentation" json:"audio_augmentation"`

	// Training.
	MaxTrainStep int      `yaml:"max_train_step" json:"max_train_step"`
	Loss         LossKind `yaml:"loss" json:"loss"`
	GradClip     float64  `yaml:"grad_clip" json:"grad_clip"`
	LR           float64  `yaml:"lr" json:"lr"`
	LRDecay      bool     `yaml:"lr_decay" json:"lr_decay"`
	WarmupSteps  int      `yaml:"warmup_steps" json:"warmup_steps"`
	WD           float64  `yaml:"wd" json:"wd"`

	// Logging and checkpointing cadence.
	TBModelParamStats bool `yaml:"tb_model_param_stats" json:"tb_model_param_stats"`
	StepsPlotStats    int  `yaml:"steps_plot_stats" json:"steps_plot_stats"`
	// Checkpoint keeps a checkpoint_<step>.pth at every save point in
	// addition to best_model.pth.
	Checkpoint        bool `yaml:"checkpoint" json:"checkpoint"`
	SaveStep          int  `yaml:"save_step" json:"save_step"`
	PrintStep         int  `yaml:"print_step" json:"print_step"`

	// Data loader. The three batch fields are mandatory.
	NumClassesInBatch *int    `yaml:"num_classes_in_batch" json:"num_classes_in_batch"`
	NumUtterPerClass  *int    `yaml:"num_utter_per_class" json:"num_utter_per_class"`
	NumLoaderWorkers  *int    `yaml:"num_loader_workers" json:"num_loader_workers"`
	SkipClasses       bool    `yaml:"skip_classes" json:"skip_classes"`
	VoiceLen          float64 `yaml:"voice_len" json:"voice_len"`

	// MapClassIDToClassName is filled at runtime for emotion encoders
	// trained with the softmaxproto loss. Keys are decimal class ids.
	MapClassIDToClassName map[string]string `yaml:"map_classid_to_classname,omitempty" json:"map_classid_to_classname,omitempty"`
}

// ModelParams holds the encoder architecture hyperparameters.
type ModelParams struct {
	ModelName string `yaml:"model_name" json:"model_name"`
	InputDim  int    `yaml:"input_dim" json:"input_dim"`
	HiddenDim int    `yaml:"hidden_dim" json:"hidden_dim"`
	NumLayers int    `yaml:"num_layers" json:"num_layers"`
	ProjDim   int    `yaml:"proj_dim" json:"proj_dim"`
	Pooling   string `yaml:"pooling" json:"pooling"`
}

// AudioConfig configures waveform loading and mel feature extraction.
type AudioConfig struct {
	SampleRate int  `yaml:"sample_rate" json:"sample_rate"`
	Resample   bool `yaml:"resample" json:"resample"`

	NumMels     int     `yaml:"num_mels" json:"num_mels"`
	FFTSize     int     `yaml:"fft_size" json:"fft_size"`
	WinLength   int     `yaml:"win_length" json:"win_length"`
	HopLength   int     `yaml:"hop_length" json:"hop_length"`
	MelFMin     float64 `yaml:"mel_fmin" json:"mel_fmin"`
	MelFMax     float64 `yaml:"mel_fmax" json:"mel_fmax"`
	Preemphasis float64 `yaml:"preemphasis" json:"preemphasis"`

	DoTrimSilence bool    `yaml:"do_trim_silence" json:"do_trim_silence"`
	TrimDB        float64 `yaml:"trim_db" json:"trim_db"`
	DoCMVN        bool    `yaml:"do_cmvn" json:"do_cmvn"`
}

// DatasetConfig references one labelled utterance collection.
type DatasetConfig struct {
	Formatter      string   `yaml:"formatter" json:"formatter"`
	DatasetName    string   `yaml:"dataset_name,omitempty" json:"dataset_name,omitempty"`
	Path           string   `yaml:"path" json:"path"`
	MetaFileTrain  string   `yaml:"meta_file_train,omitempty" json:"meta_file_train,omitempty"`
	MetaFileVal    string   `yaml:"meta_file_val,omitempty" json:"meta_file_val,omitempty"`
	IgnoredClasses []string `yaml:"ignored_classes,omitempty" json:"ignored_classes,omitempty"`
	Language       string   `yaml:"language,omitempty" json:"language,omitempty"`
}

// AugmentationConfig configures waveform augmentation of training samples.
// P is the probability that an utterance is augmented at all.
type AugmentationConfig struct {
	P        float64         `yaml:"p" json:"p"`
	Gaussian *GaussianConfig `yaml:"gaussian,omitempty" json:"gaussian,omitempty"`
}

// GaussianConfig adds white noise with an amplitude drawn uniformly from
// [MinAmplitude, MaxAmplitude].
type GaussianConfig struct {
	P            float64 `yaml:"p" json:"p"`
	MinAmplitude float64 `yaml:"min_amplitude" json:"min_amplitude"`
	MaxAmplitude float64 `yaml:"max_amplitude" json:"max_amplitude"`
}

// Enabled reports whether any augmentation can be applied.
func (a AugmentationConfig) Enabled() bool {
	return a.P > 0 && a.Gaussian != nil && a.Gaussian.P > 0
}

// Default returns a Config with every default applied. The mandatory
// batch fields are left unset.
func Default() *Config {
	return &Config{
		RunName:    "encoder",
		OutputPath: "output",
		Seed:       54321,
		Model:      ModelSpeakerEncoder,
		ModelParams: ModelParams{
			ModelName: "mlp",
			InputDim:  80,
			HiddenDim: 256,
			NumLayers: 1,
			ProjDim:   256,
			Pooling:   PoolingStats,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			NumMels:       80,
			FFTSize:       512,
			WinLength:     400,
			HopLength:     160,
			MelFMin:       20,
			MelFMax:       7600,
			Preemphasis:   0.97,
			DoTrimSilence: true,
			TrimDB:        45,
			DoCMVN:        true,
		},
		EvalSplitSize: 0.01,

		MaxTrainStep: 1000000,
		Loss:         LossAngleProto,
		GradClip:     3.0,
		LR:           0.0001,
		WarmupSteps:  4000,
		WD:           1e-6,

		StepsPlotStats: 10,
		Checkpoint:     true,
		SaveStep:       1000,
		PrintStep:      20,

		VoiceLen: 1.6,
	}
}

// BatchSize is num_classes_in_batch * num_utter_per_class.
func (c *Config) BatchSize() int {
	return c.ClassesInBatch() * c.UtterancesPerClass()
}

// ClassesInBatch returns num_classes_in_batch, or 0 when unset.
func (c *Config) ClassesInBatch() int { return deref(c.NumClassesInBatch) }

// UtterancesPerClass returns num_utter_per_class, or 0 when unset.
func (c *Config) UtterancesPerClass() int { return deref(c.NumUtterPerClass) }

// LoaderWorkers returns num_loader_workers, or 0 when unset.
func (c *Config) LoaderWorkers() int { return deref(c.NumLoaderWorkers) }

// ClassField names the item attribute used as the training class.
func (c *Config) ClassField() string {
	if c.Model == ModelEmotionEncoder {
		return "emotion_name"
	}
	return "speaker_name"
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	cp.NumClassesInBatch = clonePtr(c.NumClassesInBatch)
	cp.NumUtterPerClass = clonePtr(c.NumUtterPerClass)
	cp.NumLoaderWorkers = clonePtr(c.NumLoaderWorkers)
	cp.Datasets = make([]DatasetConfig, len(c.Datasets))
	for i, d := range c.Datasets {
		d.IgnoredClasses = append([]string(nil), d.IgnoredClasses...)
		cp.Datasets[i] = d
	}
	if c.AudioAugmentation.Gaussian != nil {
		g := *c.AudioAugmentation.Gaussian
		cp.AudioAugmentation.Gaussian = &g
	}
	if c.MapClassIDToClassName != nil {
		cp.MapClassIDToClassName = make(map[string]string, len(c.MapClassIDToClassName))
		for k, v := range c.MapClassIDToClassName {
			cp.MapClassIDToClassName[k] = v
		}
	}
	return &cp
}

// Int returns a pointer to v, for filling the mandatory batch fields.
func Int(v int) *int { return &v }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func clonePtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
