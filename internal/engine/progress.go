package engine

// ProgressKind identifies a progress event.
type ProgressKind string

const (
	ProgressFetchStart      ProgressKind = "fetch-start"
	ProgressFetchProgress   ProgressKind = "fetch-progress"
	ProgressFetchDone       ProgressKind = "fetch-done"
	ProgressFirecrawlStart  ProgressKind = "firecrawl-start"
	ProgressFirecrawlDone   ProgressKind = "firecrawl-done"
	ProgressTranscriptStart ProgressKind = "transcript-start"
	ProgressTranscriptDone  ProgressKind = "transcript-done"
	ProgressMediaDownload   ProgressKind = "media-download-progress"
	ProgressTranscribePart  ProgressKind = "transcribe-part"
)

// ProgressEvent is advisory; handlers must not influence control flow.
type ProgressEvent struct {
	Kind            ProgressKind     `json:"kind"`
	URL             string           `json:"url,omitempty"`
	BytesDownloaded int64            `json:"bytesDownloaded,omitempty"`
	TotalBytes      int64            `json:"totalBytes,omitempty"` // -1 = unknown
	Provider        TranscriptSource `json:"provider,omitempty"`
	Part            int              `json:"part,omitempty"`
	Parts           int              `json:"parts,omitempty"`
	Note            string           `json:"note,omitempty"`
}

// ProgressFunc receives progress events. A nil ProgressFunc is valid.
type ProgressFunc func(ProgressEvent)

// Emit delivers ev if f is set.
func (f ProgressFunc) Emit(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}
