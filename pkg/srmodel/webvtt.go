// Package srmodel provides speech recognition backends: a WebVTT
// caption model that converts source-published captions into
// timestamped sentences without any recognition work, and a remote
// HTTP model for events that only have audio.
package srmodel

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"council-gather/pkg/pipeline"
	"council-gather/pkg/transcript"
)

// WebVTTModel builds transcripts from published WebVTT caption files.
// Captions are human-authored, so confidence is always 1. It only works
// for requests carrying a caption URI; audio-only requests fail with
// ErrTranscription so the caller can fall back to a real recognizer.
type WebVTTModel struct {
	fetcher pipeline.Fetcher
}

// NewWebVTTModel constructs the caption model.
func NewWebVTTModel(fetcher pipeline.Fetcher) *WebVTTModel {
	return &WebVTTModel{fetcher: fetcher}
}

// Transcribe fetches and parses the caption file into a
// timestamped-sentences payload.
func (m *WebVTTModel) Transcribe(ctx context.Context, req pipeline.TranscribeRequest) ([]transcript.Payload, error) {
	if req.CaptionURI == "" {
		return nil, fmt.Errorf("%w: no caption file for this event", pipeline.ErrTranscription)
	}

	body, _, err := m.fetcher.Fetch(ctx, req.CaptionURI)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch captions %s: %v", pipeline.ErrTranscription, req.CaptionURI, err)
	}

	cues, err := parseWebVTT(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse captions %s: %v", pipeline.ErrTranscription, req.CaptionURI, err)
	}
	sentences := groupSentences(cues)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("%w: caption file %s has no cues", pipeline.ErrTranscription, req.CaptionURI)
	}

	return []transcript.Payload{{
		Format:     transcript.FormatTimestampedSentences,
		Confidence: 1,
		Data:       sentences,
	}}, nil
}

// cue is one WebVTT cue block: a time range and its text.
type cue struct {
	start float64
	end   float64
	text  string
}

// parseWebVTT reads cue blocks from a WebVTT document. Cue identifiers,
// NOTE blocks, and STYLE blocks are skipped; inline voice/formatting
// tags are stripped.
func parseWebVTT(doc string) ([]cue, error) {
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")
	if len(lines) == 0 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "WEBVTT") {
		return nil, fmt.Errorf("missing WEBVTT header")
	}

	var cues []cue
	i := 1
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION") {
			i = skipBlock(lines, i)
			continue
		}

		// A cue may open with an optional identifier line.
		if !strings.Contains(line, "-->") {
			i++
			if i >= len(lines) {
				break
			}
			line = strings.TrimSpace(lines[i])
		}
		if !strings.Contains(line, "-->") {
			i = skipBlock(lines, i)
			continue
		}

		start, end, err := parseCueTiming(line)
		if err != nil {
			return nil, err
		}

		var text []string
		for i++; i < len(lines) && strings.TrimSpace(lines[i]) != ""; i++ {
			text = append(text, stripCueTags(strings.TrimSpace(lines[i])))
		}
		cues = append(cues, cue{start: start, end: end, text: strings.Join(text, " ")})
	}
	return cues, nil
}

// skipBlock advances past the current block and its trailing blank line.
func skipBlock(lines []string, i int) int {
	for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
		i++
	}
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return i
}

// parseCueTiming parses "00:01:02.500 --> 00:01:05.000" lines. Cue
// settings after the end timestamp are ignored.
func parseCueTiming(line string) (start, end float64, err error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed cue timing %q", line)
	}
	start, err = parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	endField := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endField) == 0 {
		return 0, 0, fmt.Errorf("malformed cue timing %q", line)
	}
	end, err = parseTimestamp(endField[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp parses "[hh:]mm:ss.mmm" into seconds.
func parseTimestamp(ts string) (float64, error) {
	parts := strings.Split(ts, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed timestamp %q", ts)
		}
		total = total*60 + v
	}
	return total, nil
}

// stripCueTags removes inline markup like <v Speaker> and <i>.
func stripCueTags(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// groupSentences merges consecutive cues into sentences. A cue whose
// text ends in terminal punctuation closes the sentence; leftovers at
// the end of the file still form one final sentence.
func groupSentences(cues []cue) []transcript.Unit {
	var sentences []transcript.Unit
	var parts []string
	var start float64
	open := false

	for _, c := range cues {
		if c.text == "" {
			continue
		}
		if !open {
			start = c.start
			open = true
		}
		parts = append(parts, c.text)
		if endsSentence(c.text) {
			sentences = append(sentences, transcript.Unit{
				StartTime: start,
				EndTime:   c.end,
				Text:      strings.Join(parts, " "),
			})
			parts = nil
			open = false
		}
	}
	if open && len(cues) > 0 {
		sentences = append(sentences, transcript.Unit{
			StartTime: start,
			EndTime:   cues[len(cues)-1].end,
			Text:      strings.Join(parts, " "),
		})
	}
	return sentences
}

func endsSentence(text string) bool {
	trimmed := strings.TrimRight(text, " ")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}
