package srmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"council-gather/pkg/pipeline"
	"council-gather/pkg/transcript"
)

// RemoteConfig configures the hosted recognition backend.
type RemoteConfig struct {
	// Endpoint is the recognition API's transcribe URL.
	Endpoint string
	// Token is sent as a bearer token when set.
	Token string
	// RequestTimeout bounds a single recognition request. Zero means 10
	// minutes; council sessions run long.
	RequestTimeout time.Duration
	// MaxFailures is the consecutive-failure count that opens the
	// circuit. Zero means 3.
	MaxFailures uint32
	// CooldownPeriod is how long the circuit stays open before probing
	// again. Zero means 1 minute.
	CooldownPeriod time.Duration
}

// RemoteModel calls a hosted speech recognition API. Calls go through a
// circuit breaker so a struggling backend is probed, not hammered:
// after MaxFailures consecutive failures further candidates fail fast
// until the cooldown elapses.
type RemoteModel struct {
	cfg     RemoteConfig
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewRemoteModel constructs the remote model and its circuit breaker.
func NewRemoteModel(cfg RemoteConfig) *RemoteModel {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CooldownPeriod == 0 {
		cfg.CooldownPeriod = time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "speech-recognition",
		Timeout: cfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// Quota exhaustion is a hard stop handled upstream, not a
			// backend health signal; it must not trip the circuit.
			return err == nil || errors.Is(err, pipeline.ErrTranscriptionQuota)
		},
	})

	return &RemoteModel{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.RequestTimeout},
		breaker: breaker,
	}
}

// transcribeRequest is the API's request body.
type transcribeRequest struct {
	AudioURI string   `json:"audio_uri"`
	Phrases  []string `json:"phrases,omitempty"`
}

// transcribeResponse is the API's response body: one or more transcript
// payloads in the standard wire format.
type transcribeResponse struct {
	Transcripts []transcript.Payload `json:"transcripts"`
}

// Transcribe sends staged audio to the recognition API and returns its
// transcript payloads.
func (m *RemoteModel) Transcribe(ctx context.Context, req pipeline.TranscribeRequest) ([]transcript.Payload, error) {
	if req.AudioURI == "" {
		return nil, fmt.Errorf("%w: no audio to transcribe", pipeline.ErrTranscription)
	}

	result, err := m.breaker.Execute(func() (interface{}, error) {
		return m.call(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: recognition backend circuit open", pipeline.ErrTranscription)
		}
		return nil, err
	}
	return result.([]transcript.Payload), nil
}

func (m *RemoteModel) call(ctx context.Context, req pipeline.TranscribeRequest) ([]transcript.Payload, error) {
	body, err := json.Marshal(transcribeRequest{AudioURI: req.AudioURI, Phrases: req.Phrases})
	if err != nil {
		return nil, fmt.Errorf("encode transcribe request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build transcribe request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	resp, err := m.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrTranscription, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode.
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired:
		return nil, fmt.Errorf("%w: status %d from recognition backend", pipeline.ErrTranscriptionQuota, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d from recognition backend", pipeline.ErrTranscription, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", pipeline.ErrTranscription, err)
	}
	var decoded transcribeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", pipeline.ErrTranscription, err)
	}

	var payloads []transcript.Payload
	for _, p := range decoded.Transcripts {
		if p.Validate() != nil {
			continue
		}
		payloads = append(payloads, p)
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("%w: backend returned no usable transcripts", pipeline.ErrTranscription)
	}
	return payloads, nil
}
