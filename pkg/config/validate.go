package config

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid or inconsistent option.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Formatters understood by the dataset loader.
var Formatters = []string{"speaker_dirs", "csv"}

// Validate checks every option. All problems are reported together; each
// one is a *ConfigurationError reachable with errors.As.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.ModelParams.InputDim != c.Audio.NumMels {
		fail("model_params.input_dim", "model input dimension (%d) must be equal to melspectrogram dimension (%d)",
			c.ModelParams.InputDim, c.Audio.NumMels)
	}

	checkBatchField := func(field string, v *int, min int) {
		switch {
		case v == nil:
			fail(field, "is required")
		case *v < min:
			fail(field, "must be >= %d, got %d", min, *v)
		}
	}
	checkBatchField("num_classes_in_batch", c.NumClassesInBatch, 2)
	checkBatchField("num_utter_per_class", c.NumUtterPerClass, 2)
	checkBatchField("num_loader_workers", c.NumLoaderWorkers, 0)

	if !c.Loss.Valid() {
		fail("loss", "unsupported loss %q, want one of %v", c.Loss, LossKinds)
	}
	if c.Model != ModelSpeakerEncoder && c.Model != ModelEmotionEncoder {
		fail("model", "unsupported model %q", c.Model)
	}

	mp := c.ModelParams
	if mp.ModelName != "mlp" {
		fail("model_params.model_name", "unsupported architecture %q", mp.ModelName)
	}
	if mp.Pooling != PoolingMean && mp.Pooling != PoolingStats {
		fail("model_params.pooling", "unsupported pooling %q", mp.Pooling)
	}
	if mp.HiddenDim <= 0 {
		fail("model_params.hidden_dim", "must be positive")
	}
	if mp.NumLayers < 0 {
		fail("model_params.num_layers", "must not be negative")
	}
	if mp.ProjDim <= 0 {
		fail("model_params.proj_dim", "must be positive")
	}

	a := c.Audio
	if a.SampleRate <= 0 {
		fail("audio.sample_rate", "must be positive")
	}
	if a.NumMels <= 0 {
		fail("audio.num_mels", "must be positive")
	}
	if a.WinLength <= 0 || a.HopLength <= 0 {
		fail("audio.win_length", "window and hop lengths must be positive")
	}
	if a.FFTSize < a.WinLength || a.FFTSize&(a.FFTSize-1) != 0 {
		fail("audio.fft_size", "must be a power of two >= win_length, got %d", a.FFTSize)
	}
	if a.MelFMax > 0 && a.MelFMax <= a.MelFMin {
		fail("audio.mel_fmax", "must be greater than mel_fmin")
	}

	for _, pair := range []struct {
		field string
		v     int
	}{
		{"max_train_step", c.MaxTrainStep},
		{"save_step", c.SaveStep},
		{"print_step", c.PrintStep},
		{"steps_plot_stats", c.StepsPlotStats},
	} {
		if pair.v <= 0 {
			fail(pair.field, "must be positive, got %d", pair.v)
		}
	}
	if c.LR <= 0 {
		fail("lr", "must be positive")
	}
	if c.GradClip <= 0 {
		fail("grad_clip", "must be positive")
	}
	if c.WD < 0 {
		fail("wd", "must not be negative")
	}
	if c.LRDecay && c.WarmupSteps <= 0 {
		fail("warmup_steps", "must be positive when lr_decay is enabled")
	}
	if c.VoiceLen <= 0 {
		fail("voice_len", "must be positive")
	}

	if len(c.Datasets) == 0 {
		fail("datasets", "at least one dataset is required")
	}
	for i, d := range c.Datasets {
		if !knownFormatter(d.Formatter) {
			fail(fmt.Sprintf("datasets[%d].formatter", i), "unknown formatter %q, want one of %v", d.Formatter, Formatters)
		}
		if d.Path == "" {
			fail(fmt.Sprintf("datasets[%d].path", i), "is required")
		}
		if d.Formatter == "csv" && d.MetaFileTrain == "" {
			fail(fmt.Sprintf("datasets[%d].meta_file_train", i), "is required by the csv formatter")
		}
	}
	if c.EvalSplitSize < 0 || c.EvalSplitSize >= 1 {
		fail("eval_split_size", "must be in [0, 1), got %g", c.EvalSplitSize)
	}
	if c.EvalSplitMaxSize < 0 {
		fail("eval_split_max_size", "must not be negative")
	}

	aug := c.AudioAugmentation
	if aug.P < 0 || aug.P > 1 {
		fail("audio_augmentation.p", "must be in [0, 1]")
	}
	if g := aug.Gaussian; g != nil {
		if g.P < 0 || g.P > 1 {
			fail("audio_augmentation.gaussian.p", "must be in [0, 1]")
		}
		if g.MinAmplitude < 0 || g.MinAmplitude > g.MaxAmplitude {
			fail("audio_augmentation.gaussian", "need 0 <= min_amplitude <= max_amplitude")
		}
	}

	return errors.Join(errs...)
}

func knownFormatter(name string) bool {
	for _, f := range Formatters {
		if f == name {
			return true
		}
	}
	return false
}
