// Package whisper provides a local whisper.cpp-backed Transcriber, used as
// the offline fallback when the hosted transcription service is unavailable.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH environment
// variables. The model is loaded once at startup and shared across all
// concurrent transcriptions; each Transcribe call creates its own inference
// context.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/speakdrill/speakdrill/pkg/provider/transcribe"
)

const (
	defaultLanguage = "en"

	// wavHeaderSize is the canonical PCM RIFF header length. Recordings are
	// stored as 16 kHz mono s16le WAV, so a fixed offset suffices.
	wavHeaderSize = 44
)

// Compile-time assertion that Transcriber implements transcribe.Transcriber.
var _ transcribe.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithHTTPClient replaces the client used to fetch remote audio references.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Transcriber) { t.httpClient = hc }
}

// Transcriber implements transcribe.Transcriber using whisper.cpp Go
// bindings (CGO). audioRef values may be http(s) URLs or local file paths.
type Transcriber struct {
	model      whisperlib.Model
	language   string
	httpClient *http.Client
}

// New creates a Transcriber that loads the whisper.cpp model from the given
// file path. The caller must call Close when the Transcriber is no longer
// needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		model:      model,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe implements transcribe.Transcriber. It fetches the recording,
// converts it to normalised float32 samples, and runs one-shot inference.
func (t *Transcriber) Transcribe(ctx context.Context, audioRef string) (string, error) {
	pcm, err := t.fetch(ctx, audioRef)
	if err != nil {
		return "", fmt.Errorf("whisper: fetch %q: %w", audioRef, err)
	}

	samples := pcmToFloat32(pcm)
	if len(samples) == 0 {
		return "", fmt.Errorf("whisper: %q contains no audio samples", audioRef)
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("whisper: set language %q: %w", t.language, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// fetch loads the raw PCM bytes behind an audio reference, stripping the WAV
// header when present.
func (t *Transcriber) fetch(ctx context.Context, audioRef string) ([]byte, error) {
	var data []byte
	if strings.HasPrefix(audioRef, "http://") || strings.HasPrefix(audioRef, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioRef, nil)
		if err != nil {
			return nil, err
		}
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP error %d", resp.StatusCode)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		data, err = os.ReadFile(audioRef)
		if err != nil {
			return nil, err
		}
	}

	if len(data) > wavHeaderSize && bytes.HasPrefix(data, []byte("RIFF")) {
		data = data[wavHeaderSize:]
	}
	return data, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
