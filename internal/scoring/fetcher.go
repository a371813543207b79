package scoring

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
)

// maxAudioBytes caps how much submission audio a single fetch may pull in.
// 25 MiB covers several minutes of 16-bit PCM at the wire sample rates.
const maxAudioBytes = 25 << 20

// HTTPFetcher resolves submission audio references that are plain HTTPS
// URLs, typically presigned object-storage links handed out by the upload
// service.
type HTTPFetcher struct {
	httpClient *http.Client
}

var _ AudioFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTPFetcher. A nil client gets a default with a
// 30 second timeout.
func NewHTTPFetcher(hc *http.Client) *HTTPFetcher {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{httpClient: hc}
}

// FetchAudio implements [AudioFetcher]. The format is taken from the
// response Content-Type, falling back to the URL's file extension.
func (f *HTTPFetcher) FetchAudio(ctx context.Context, audioRef string) ([]byte, string, error) {
	if !strings.HasPrefix(audioRef, "http://") && !strings.HasPrefix(audioRef, "https://") {
		return nil, "", fmt.Errorf("scoring: audio ref %q is not an HTTP URL", audioRef)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioRef, nil)
	if err != nil {
		return nil, "", fmt.Errorf("scoring: build audio request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("scoring: fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("scoring: fetch audio: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("scoring: read audio body: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, "", fmt.Errorf("scoring: audio exceeds %d byte limit", maxAudioBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("scoring: audio body is empty")
	}

	return data, audioFormat(resp.Header.Get("Content-Type"), audioRef), nil
}

// audioFormat derives a short format label ("wav", "mp3", ...) from the
// Content-Type header, falling back to the URL path's extension.
func audioFormat(contentType, ref string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "audio/wav", "audio/x-wav", "audio/wave":
			return "wav"
		case "audio/mpeg", "audio/mp3":
			return "mp3"
		case "audio/ogg":
			return "ogg"
		case "audio/flac", "audio/x-flac":
			return "flac"
		case "audio/webm":
			return "webm"
		}
	}
	if ext := strings.TrimPrefix(path.Ext(strings.SplitN(ref, "?", 2)[0]), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return "wav"
}
