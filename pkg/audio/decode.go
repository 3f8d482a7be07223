package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// TargetRate is the sample rate the transcription pipeline operates at.
const TargetRate = 16000

// DecodeFile reads an audio file of any common container format and returns
// 16 kHz mono int16 PCM bytes. WAV files are decoded in-process; everything
// else is handed to ffmpeg, which must be on PATH.
func DecodeFile(ctx context.Context, path string) ([]byte, error) {
	if strings.HasSuffix(strings.ToLower(path), ".wav") {
		pcm, err := decodeWAVFile(path)
		if err == nil {
			return pcm, nil
		}
		// Mislabelled or compressed WAV; fall through to ffmpeg.
	}
	return decodeWithFFmpeg(ctx, path)
}

func decodeWAVFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	pcm, rate, channels, err := ReadWAV(f)
	if err != nil {
		return nil, err
	}
	if channels == 2 {
		pcm = StereoToMono(pcm)
	} else if channels != 1 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", channels)
	}
	return ResampleMono16(pcm, rate, TargetRate), nil
}

func decodeWithFFmpeg(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "s16le",
		"-ac", "1",
		"-ar", fmt.Sprint(TargetRate),
		"pipe:1",
	)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("audio: ffmpeg decode %q: %s", path, msg)
	}
	return out.Bytes(), nil
}
