package pipeline

import "errors"

// Error taxonomy shared by all capability implementations. Concrete
// modules wrap these sentinels so the orchestrator can classify
// failures without knowing which backend produced them.
var (
	// ErrSourceUnavailable means the upstream municipal source could not
	// be reached. Retryable with backoff.
	ErrSourceUnavailable = errors.New("event source unavailable")

	// ErrSourceFormatChanged means the source responded but the expected
	// structure was absent, usually a site redesign. Retryable, then
	// escalates to a run-level alert.
	ErrSourceFormatChanged = errors.New("event source format changed")

	// ErrMediaExtraction means audio could not be derived from a video.
	// Retryable once, then the candidate is skipped with a record.
	ErrMediaExtraction = errors.New("media extraction failed")

	// ErrTranscription is a transient speech recognition failure.
	ErrTranscription = errors.New("transcription failed")

	// ErrTranscriptionQuota is fatal for the remainder of the run: no
	// further transcription is attempted, metadata-only merges continue.
	ErrTranscriptionQuota = errors.New("transcription quota exceeded")

	// ErrStorage means a file store operation failed. A failed store
	// must prevent the dependent database write.
	ErrStorage = errors.New("file storage failed")

	// ErrFileNotFound is returned by FileStore lookups for unknown keys.
	ErrFileNotFound = errors.New("file not found in store")

	// ErrMergeConflict means the database reported a concurrent
	// modification. The whole merge is retried with re-read state.
	ErrMergeConflict = errors.New("concurrent modification during merge")
)

// Retryable reports whether an error is worth another attempt within
// the same candidate's state machine.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrTranscriptionQuota):
		return false
	case errors.Is(err, ErrSourceUnavailable),
		errors.Is(err, ErrSourceFormatChanged),
		errors.Is(err, ErrMediaExtraction),
		errors.Is(err, ErrTranscription),
		errors.Is(err, ErrStorage),
		errors.Is(err, ErrMergeConflict):
		return true
	default:
		return false
	}
}
