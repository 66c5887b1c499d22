// Package transcript defines the transcript payload wire format shared
// with the downstream indexing pipeline, and the resolver that selects
// which representation becomes an event's authoritative transcript.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Format identifies a transcript representation. Formats are strictly
// ordered by granularity: raw < timestamped-words < timestamped-sentences.
type Format string

const (
	FormatRaw                  Format = "raw"
	FormatTimestampedWords     Format = "timestamped-words"
	FormatTimestampedSentences Format = "timestamped-sentences"
)

// Rank returns the format's position in the preference order. Higher is
// better. Unknown formats rank below raw.
func (f Format) Rank() int {
	switch f {
	case FormatRaw:
		return 1
	case FormatTimestampedWords:
		return 2
	case FormatTimestampedSentences:
		return 3
	default:
		return 0
	}
}

// Unit is one timed span of transcript text: a sentence, a word, or the
// whole transcript depending on the payload format.
type Unit struct {
	StartTime float64 `json:"start_time"`
	Text      string  `json:"text"`
	EndTime   float64 `json:"end_time"`
}

// Payload is the normalized transcription result. Every speech
// recognition backend's output is converted into this shape before the
// resolver sees it.
type Payload struct {
	Format      Format           `json:"format"`
	Annotations []map[string]any `json:"annotations"`
	Confidence  float64          `json:"confidence"`
	Data        []Unit           `json:"data"`
}

var (
	ErrUnknownFormat = errors.New("unknown transcript format")
	ErrEmptyData     = errors.New("transcript payload has no data units")
	ErrNoCandidates  = errors.New("no transcript candidates to select from")
)

// Validate checks the payload against the wire contract.
func (p Payload) Validate() error {
	if p.Format.Rank() == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, p.Format)
	}
	if len(p.Data) == 0 {
		return ErrEmptyData
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %f out of range [0,1]", p.Confidence)
	}
	return nil
}

// Encode serializes the payload for storage and downstream consumption.
func (p Payload) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// Decode parses a stored payload.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode transcript payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// SynthesizeRaw derives a raw payload from a finer-grained one by
// concatenating its units, so a raw transcript is always producible
// locally without asking the speech backend for one.
func SynthesizeRaw(p Payload) (Payload, error) {
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	if p.Format == FormatRaw {
		return p, nil
	}

	parts := make([]string, 0, len(p.Data))
	for _, u := range p.Data {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}

	return Payload{
		Format:      FormatRaw,
		Annotations: p.Annotations,
		Confidence:  p.Confidence,
		Data: []Unit{{
			StartTime: p.Data[0].StartTime,
			Text:      strings.Join(parts, " "),
			EndTime:   p.Data[len(p.Data)-1].EndTime,
		}},
	}, nil
}

// Select picks the authoritative payload from a set of candidates:
// timestamped-sentences over timestamped-words over raw. When no raw
// candidate exists it is synthesized from the best finer format, so the
// returned raw payload is always available to callers that want both.
// Invalid candidates are ignored.
func Select(candidates []Payload) (best Payload, raw Payload, err error) {
	var found bool
	for _, c := range candidates {
		if c.Validate() != nil {
			continue
		}
		if !found || c.Format.Rank() > best.Format.Rank() {
			best = c
			found = true
		}
		if c.Format == FormatRaw {
			raw = c
		}
	}
	if !found {
		return Payload{}, Payload{}, ErrNoCandidates
	}
	if raw.Format != FormatRaw {
		raw, err = SynthesizeRaw(best)
		if err != nil {
			return Payload{}, Payload{}, err
		}
	}
	return best, raw, nil
}

// ShouldReplace reports whether a newly produced format supersedes the
// stored one. The stored transcript's format never decreases in rank,
// and an equal-ranked result leaves the stored record alone.
func ShouldReplace(storedFormat string, produced Format) bool {
	return produced.Rank() > Format(storedFormat).Rank()
}
