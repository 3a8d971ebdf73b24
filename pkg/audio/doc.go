// Package audio turns utterance files into encoder input features.
//
// A Processor is built once from the audio section of the training
// configuration and shared by the data loader workers:
//
//	proc, err := audio.NewProcessor(cfg.Audio)
//	samples, err := proc.LoadWAV("/data/spk1/utt1.wav")
//	mel := proc.Melspectrogram(proc.TrimSilence(samples)) // [frames][num_mels]
//
// Sub-packages:
//
//   - wav: RIFF/WAVE decoding
//   - resampler: sample rate conversion
//   - fbank: log mel filterbank extraction
package audio
