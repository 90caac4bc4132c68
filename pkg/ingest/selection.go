package ingest

import (
	"strings"

	"github.com/japaniel/zimdict/pkg/config"
)

// Skip reasons recorded per rejected entry for telemetry.
const (
	SkipBeforeStart    = "before-start-index"
	SkipNamespace      = "namespace"
	SkipURLExcluded    = "url-excluded"
	SkipURLNotIncluded = "url-not-included"
	SkipMime           = "mime"
	SkipMaxEntries     = "max-entries"
	SkipRedirect       = "redirect"
	SkipNoTitle        = "no-title"
	SkipTitleExcluded  = "title-excluded"
)

// Decision is the selection policy's verdict for one directory entry.
type Decision struct {
	Eligible bool
	Reason   string
	// Stop asks the driver to end directory iteration (max_entries reached).
	Stop bool
}

// SelectionPolicy applies the configured entry filters in a fixed rule order,
// counting accepted entries so max_entries can stop the walk.
type SelectionPolicy struct {
	cfg      config.SelectionConfig
	accepted uint32
}

func NewSelectionPolicy(cfg config.SelectionConfig) *SelectionPolicy {
	return &SelectionPolicy{cfg: cfg}
}

// Accepted returns how many entries the policy has admitted so far.
func (p *SelectionPolicy) Accepted() uint32 { return p.accepted }

// Decide evaluates one entry. Not safe for concurrent use; the producer is
// the only caller.
func (p *SelectionPolicy) Decide(index uint32, namespace byte, url, title, mime string, isRedirect bool) Decision {
	if index < p.cfg.StartIndex {
		return Decision{Reason: SkipBeforeStart}
	}

	if len(p.cfg.IncludeNamespaces) > 0 {
		ok := false
		for _, ns := range p.cfg.IncludeNamespaces {
			if ns == string(namespace) {
				ok = true
				break
			}
		}
		if !ok {
			return Decision{Reason: SkipNamespace}
		}
	}

	for _, prefix := range p.cfg.ExcludeURLPrefixes {
		if strings.HasPrefix(url, prefix) {
			return Decision{Reason: SkipURLExcluded}
		}
	}

	if len(p.cfg.IncludeURLPrefixes) > 0 {
		ok := false
		for _, prefix := range p.cfg.IncludeURLPrefixes {
			if strings.HasPrefix(url, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return Decision{Reason: SkipURLNotIncluded}
		}
	}

	if len(p.cfg.IncludeMimePrefixes) > 0 && !isRedirect {
		ok := false
		for _, prefix := range p.cfg.IncludeMimePrefixes {
			if strings.HasPrefix(mime, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return Decision{Reason: SkipMime}
		}
	}

	if isRedirect && p.cfg.SkipRedirects {
		return Decision{Reason: SkipRedirect}
	}

	if p.cfg.RequireTitle && strings.TrimSpace(title) == "" {
		return Decision{Reason: SkipNoTitle}
	}
	for _, prefix := range p.cfg.ExcludeTitlePrefix {
		if strings.HasPrefix(title, prefix) {
			return Decision{Reason: SkipTitleExcluded}
		}
	}

	if p.cfg.MaxEntries > 0 && p.accepted >= p.cfg.MaxEntries {
		return Decision{Reason: SkipMaxEntries, Stop: true}
	}

	p.accepted++
	return Decision{Eligible: true}
}
