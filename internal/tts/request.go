package tts

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Fixed synthesis options. They are not configurable per request.
const (
	defaultUseFP16                 = true
	defaultUseCUDAKernel           = false
	defaultUseDeepSpeed            = false
	defaultEmoAlpha                = 1.0
	defaultUseEmoText              = false
	defaultUseRandom               = false
	defaultIntervalSilenceMS       = 200
	defaultMaxTextTokensPerSegment = 120
)

// SynthesisRequest is one voice-cloned synthesis job. It is immutable.
type SynthesisRequest struct {
	referenceAudio string
	text           string
	outputPath     string
}

// NewSynthesisRequest validates and builds a request.
func NewSynthesisRequest(referenceAudio, text, outputPath string) (SynthesisRequest, error) {
	if strings.TrimSpace(referenceAudio) == "" {
		return SynthesisRequest{}, fmt.Errorf("reference audio path is required")
	}
	if strings.TrimSpace(outputPath) == "" {
		return SynthesisRequest{}, fmt.Errorf("output path is required")
	}
	return SynthesisRequest{
		referenceAudio: referenceAudio,
		text:           text,
		outputPath:     outputPath,
	}, nil
}

func (r SynthesisRequest) ReferenceAudio() string { return r.referenceAudio }
func (r SynthesisRequest) Text() string           { return r.text }
func (r SynthesisRequest) OutputPath() string     { return r.outputPath }

// Args is the JSON argument bundle handed to the isolated synthesis program.
// Field order and keys are part of the process contract.
type Args struct {
	ReferenceAudio          string  `json:"reference_audio"`
	Text                    string  `json:"text"`
	OutputPath              string  `json:"output_path"`
	CfgPath                 string  `json:"cfg_path"`
	ModelDir                string  `json:"model_dir"`
	UseFP16                 bool    `json:"use_fp16"`
	UseCUDAKernel           bool    `json:"use_cuda_kernel"`
	UseDeepSpeed            bool    `json:"use_deepspeed"`
	EmoAlpha                float64 `json:"emo_alpha"`
	UseEmoText              bool    `json:"use_emo_text"`
	UseRandom               bool    `json:"use_random"`
	IntervalSilence         int     `json:"interval_silence"`
	MaxTextTokensPerSegment int     `json:"max_text_tokens_per_segment"`
}

// newArgs fills the bundle with absolute paths and the fixed options.
func newArgs(referenceAudio, text, outputPath, modelDir string) (Args, error) {
	ref, err := filepath.Abs(referenceAudio)
	if err != nil {
		return Args{}, err
	}
	out, err := filepath.Abs(outputPath)
	if err != nil {
		return Args{}, err
	}
	dir, err := filepath.Abs(modelDir)
	if err != nil {
		return Args{}, err
	}

	return Args{
		ReferenceAudio:          ref,
		Text:                    text,
		OutputPath:              out,
		CfgPath:                 filepath.Join(dir, "config.yaml"),
		ModelDir:                dir,
		UseFP16:                 defaultUseFP16,
		UseCUDAKernel:           defaultUseCUDAKernel,
		UseDeepSpeed:            defaultUseDeepSpeed,
		EmoAlpha:                defaultEmoAlpha,
		UseEmoText:              defaultUseEmoText,
		UseRandom:               defaultUseRandom,
		IntervalSilence:         defaultIntervalSilenceMS,
		MaxTextTokensPerSegment: defaultMaxTextTokensPerSegment,
	}, nil
}
