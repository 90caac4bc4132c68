package db

import "time"

// Page is one converted archive entry.
type Page struct {
	ID             int64
	Namespace      string
	URL            string
	MimeType       string
	Title          string
	ContentSHA256  string
	RawHTML        []byte
	PlainText      string
	RedirectTarget string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Definition is one extracted sense attached to a page.
type Definition struct {
	ID           int64
	PageID       int64
	Language     string
	PartOfSpeech string
	SenseNumber  int
	SubSensePath string
	Text         string
	Confidence   float64
}

// Relation links a page to a target lemma string.
type Relation struct {
	ID             int64
	PageID         int64
	Language       string
	Type           string
	TargetLemma    string
	TargetLanguage string
	Qualifier      string
}

// Alias is one search alias for a page title.
type Alias struct {
	ID       int64
	PageID   int64
	Language string
	Alias    string
	Kind     string
}

// Checkpoint is a named resume watermark: every entry index up to and
// including LastEntryIndex has been durably written.
type Checkpoint struct {
	Name             string
	LastEntryIndex   uint32
	EntriesProcessed int64
	UpdatedAt        time.Time
}

// ReindexState tracks incremental full-text reindex progress.
type ReindexState struct {
	Name              string
	LastPageIDIndexed int64
	UpdatedAt         time.Time
}

// RunCounters accumulate per-run statistics persisted on finalize.
type RunCounters struct {
	PagesSeen          int64
	PagesWritten       int64
	DefinitionsWritten int64
	RelationsWritten   int64
	AliasesWritten     int64
	ErrorsSeen         int64
}

// Run statuses recorded in ingestion_runs.
const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusInterrupted = "interrupted"
	RunStatusFailed      = "failed"
)
