package tts

import (
	"bytes"
	"encoding/json"
	"strconv"
	"text/template"
)

// SuccessMarker is printed on stdout by the synthesis program when inference finished.
const SuccessMarker = "TTS_SUCCESS"

// ErrorMarker prefixes the exception line the program writes to stderr.
const ErrorMarker = "TTS_ERROR:"

// The program runs inside the isolated interpreter. Values are spliced in as
// ASCII-escaped string literals, which are valid in both Go and Python.
var programTemplate = template.Must(template.New("indextts").Parse(`
import sys
import os
import json
import warnings
warnings.filterwarnings('ignore')

sys.path.insert(0, {{.Root}})

args = json.loads({{.Args}})

try:
    from indextts.infer_v2 import IndexTTS2

    tts = IndexTTS2(
        cfg_path=args['cfg_path'],
        model_dir=args['model_dir'],
        use_fp16=bool(args['use_fp16']),
        use_cuda_kernel=bool(args['use_cuda_kernel']),
        use_deepspeed=bool(args['use_deepspeed'])
    )

    tts.infer(
        spk_audio_prompt=str(args['reference_audio']),
        text=str(args['text']),
        output_path=str(args['output_path']),
        emo_alpha=float(args['emo_alpha']),
        use_emo_text=bool(args['use_emo_text']),
        use_random=bool(args['use_random']),
        interval_silence=int(args['interval_silence']),
        max_text_tokens_per_segment=int(args['max_text_tokens_per_segment']),
        verbose=True
    )

    print("{{.Success}}", flush=True)

except Exception as e:
    import traceback
    print(f"{{.Error}} {type(e).__name__}: {str(e)}", file=sys.stderr)
    traceback.print_exc(file=sys.stderr)
    sys.exit(1)
`))

// renderProgram builds the inline program for root with the JSON bundle embedded.
func renderProgram(root string, args Args) (string, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = programTemplate.Execute(&buf, struct {
		Root, Args, Success, Error string
	}{
		Root:    strconv.QuoteToASCII(root),
		Args:    strconv.QuoteToASCII(string(payload)),
		Success: SuccessMarker,
		Error:   ErrorMarker,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
