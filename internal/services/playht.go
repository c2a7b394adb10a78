package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// play.ht Speech Synthesis Service
// Uses the play.ht v1 REST API, which converts text asynchronously:
// POST /convert → transcriptionId, GET /articleStatus until converted,
// then download the audio from the returned URL.
// ---------------------------------------------------------------------------

const (
	playHTDefaultBaseURL  = "https://play.ht/api/v1"
	playHTDefaultVoice    = "Mizuki" // Japanese female voice
	playHTDefaultSpeed    = "75%"    // Slower delivery so single readings are easy to follow
	playHTStatusCreated   = "CREATED"
	playHTRequestTimeout  = 30 * time.Second // Per HTTP call, not the whole job
	playHTDownloadTimeout = 120 * time.Second

	// DefaultMaxArtifactBytes caps a single download. Readings are a few seconds of speech.
	DefaultMaxArtifactBytes = 20 << 20
)

// PlayHTConfig holds the provider settings.
type PlayHTConfig struct {
	BaseURL          string
	APIKey           string
	UserID           string
	Voice            string
	Speed            string // play.ht globalSpeed, e.g. "75%"
	SubmitsPerMinute int    // 0 disables client-side rate limiting
	MaxArtifactBytes int64  // download cap, DefaultMaxArtifactBytes when 0
}

// PlayHTService implements SynthesisClient against play.ht.
type PlayHTService struct {
	baseURL        string
	apiKey         string
	userID         string
	voice          string
	speed          string
	httpClient     *http.Client
	downloadClient *http.Client
	limiter        *rate.Limiter
	maxArtifact    int64
}

// Ensure PlayHTService implements SynthesisClient at compile time.
var _ SynthesisClient = (*PlayHTService)(nil)

// NewPlayHTService creates a play.ht client, filling in defaults for empty fields.
func NewPlayHTService(cfg PlayHTConfig) *PlayHTService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = playHTDefaultBaseURL
	}
	if cfg.Voice == "" {
		cfg.Voice = playHTDefaultVoice
	}
	if cfg.Speed == "" {
		cfg.Speed = playHTDefaultSpeed
	}
	if cfg.MaxArtifactBytes <= 0 {
		cfg.MaxArtifactBytes = DefaultMaxArtifactBytes
	}

	var limiter *rate.Limiter
	if cfg.SubmitsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.SubmitsPerMinute)), 1)
	}

	return &PlayHTService{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		userID:         cfg.UserID,
		voice:          cfg.Voice,
		speed:          cfg.Speed,
		httpClient:     &http.Client{Timeout: playHTRequestTimeout},
		downloadClient: &http.Client{Timeout: playHTDownloadTimeout},
		limiter:        limiter,
		maxArtifact:    cfg.MaxArtifactBytes,
	}
}

// ---------------------------------------------------------------------------
// Request / Response types
// ---------------------------------------------------------------------------

// playHTConvertRequest is the body for POST /convert
type playHTConvertRequest struct {
	Content     []string `json:"content"`
	Voice       string   `json:"voice"`
	GlobalSpeed string   `json:"globalSpeed,omitempty"`
}

// playHTConvertResponse is the response from POST /convert
type playHTConvertResponse struct {
	Status          string `json:"status"` // "CREATED" on success
	TranscriptionID string `json:"transcriptionId"`
	Error           string `json:"error,omitempty"`
	Message         string `json:"message,omitempty"`
}

// playHTStatusResponse is the response from GET /articleStatus.
//
// play.ht returns different shapes depending on state:
//   - Pending:   {"converted":false,"message":"Transcription still in progress"}
//   - Completed: {"converted":true,"audioUrl":"https://..."} (audioUrl is sometimes an array)
//   - Failed:    {"error":true,"errorMessage":"..."}
type playHTStatusResponse struct {
	Converted    *bool           `json:"converted"`
	AudioURL     json.RawMessage `json:"audioUrl,omitempty"`
	Error        bool            `json:"error,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// Submit sends text to POST /convert and returns the transcription id.
func (s *PlayHTService) Submit(ctx context.Context, text string) (JobHandle, error) {
	if strings.TrimSpace(text) == "" {
		return "", &RejectedError{Message: "empty text"}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: waiting for submit slot: %w", ErrUnavailable, err)
		}
	}

	jsonData, err := json.Marshal(playHTConvertRequest{
		Content:     []string{text},
		Voice:       s.voice,
		GlobalSpeed: s.speed,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal play.ht request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/convert", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create play.ht request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[PlayHT] Submitting conversion (voice=%s, speed=%s, textLen=%d)", s.voice, s.speed, len(text))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: convert request failed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read convert response: %w", ErrUnavailable, err)
	}

	if isRetryableStatus(resp.StatusCode) || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: play.ht returned status %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(body), 200))
	}
	if resp.StatusCode >= 400 {
		return "", &RejectedError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}

	var convResp playHTConvertResponse
	if err := json.Unmarshal(body, &convResp); err != nil {
		return "", fmt.Errorf("%w: failed to parse convert response: %w (body: %s)", ErrUnavailable, err, truncate(string(body), 200))
	}

	if convResp.Status != playHTStatusCreated {
		msg := firstNonEmpty(convResp.Error, convResp.Message, "status "+convResp.Status)
		return "", &RejectedError{Message: msg}
	}
	if convResp.TranscriptionID == "" {
		return "", &RejectedError{Message: "no transcriptionId in convert response"}
	}

	log.Printf("[PlayHT] Conversion created, transcriptionId=%s", convResp.TranscriptionID)
	return JobHandle(convResp.TranscriptionID), nil
}

// CheckStatus fetches GET /articleStatus for a transcription.
func (s *PlayHTService) CheckStatus(ctx context.Context, handle JobHandle) (JobState, error) {
	statusURL := s.baseURL + "/articleStatus?" + url.Values{"transcriptionId": {string(handle)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", statusURL, nil)
	if err != nil {
		return JobState{}, fmt.Errorf("failed to create status request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return JobState{}, fmt.Errorf("%w: status request failed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return JobState{}, fmt.Errorf("%w: failed to read status response: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return JobState{}, &UnknownJobError{Handle: handle, Detail: "provider returned 404"}
	case isRetryableStatus(resp.StatusCode) || resp.StatusCode >= 500:
		return JobState{}, fmt.Errorf("%w: play.ht returned status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return JobState{}, &UnknownJobError{Handle: handle, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}

	return decodeJobState(handle, body)
}

// decodeJobState maps a status body onto JobState. Shapes that fit none of
// pending/ready/failed are reported as an unknown job.
func decodeJobState(handle JobHandle, body []byte) (JobState, error) {
	var r playHTStatusResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return JobState{}, &UnknownJobError{Handle: handle, Detail: "unparseable status response: " + truncate(string(body), 200)}
	}

	if r.Error {
		return JobState{
			Status: JobFailed,
			Reason: firstNonEmpty(r.ErrorMessage, r.Message, "provider reported failure"),
		}, nil
	}

	if r.Converted == nil {
		return JobState{}, &UnknownJobError{Handle: handle, Detail: "status response has no converted field"}
	}

	if !*r.Converted {
		return JobState{Status: JobPending}, nil
	}

	audioURL := parseAudioURL(r.AudioURL)
	if audioURL == "" {
		return JobState{}, &UnknownJobError{Handle: handle, Detail: "converted without audioUrl"}
	}

	return JobState{Status: JobReady, ArtifactURL: audioURL}, nil
}

// parseAudioURL accepts "audioUrl" as a string or an array of strings.
func parseAudioURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, u := range many {
			if u != "" {
				return u
			}
		}
	}
	return ""
}

// FetchResult downloads the finished audio.
func (s *PlayHTService) FetchResult(ctx context.Context, handle JobHandle, artifactURL string) ([]byte, error) {
	if artifactURL == "" {
		return nil, fmt.Errorf("%w: no artifact url for job %s", ErrArtifactGone, handle)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", artifactURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := s.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download request failed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone, http.StatusForbidden: // expired signed URLs answer 403
		return nil, fmt.Errorf("%w: download returned status %d (job %s)", ErrArtifactGone, resp.StatusCode, handle)
	default:
		return nil, fmt.Errorf("%w: download returned status %d", ErrUnavailable, resp.StatusCode)
	}

	if resp.ContentLength > s.maxArtifact {
		return nil, fmt.Errorf("%w: %d bytes (limit %d, job %s)", ErrArtifactTooLarge, resp.ContentLength, s.maxArtifact, handle)
	}

	// Read one byte past the limit to tell "exactly at the cap" from "over it".
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxArtifact+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio data: %w", ErrUnavailable, err)
	}
	if int64(len(data)) > s.maxArtifact {
		return nil, fmt.Errorf("%w: more than %d bytes (job %s)", ErrArtifactTooLarge, s.maxArtifact, handle)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: downloaded audio is empty (0 bytes)", ErrUnavailable)
	}

	log.Printf("[PlayHT] Audio downloaded for %s (%d bytes)", handle, len(data))
	return data, nil
}

func (s *PlayHTService) setHeaders(req *http.Request) {
	req.Header.Set("AUTHORIZATION", "Bearer "+s.apiKey)
	req.Header.Set("X-USER-ID", s.userID)
	req.Header.Set("Accept", "application/json")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
