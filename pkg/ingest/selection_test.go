package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/japaniel/zimdict/pkg/config"
)

func articleSelection() config.SelectionConfig {
	return config.SelectionConfig{
		IncludeNamespaces:   []string{"A"},
		IncludeMimePrefixes: []string{"text/html"},
	}
}

func TestSelectionAcceptsArticle(t *testing.T) {
	p := NewSelectionPolicy(articleSelection())
	d := p.Decide(0, 'A', "Dog", "Dog", "text/html", false)
	assert.True(t, d.Eligible)
	assert.Equal(t, uint32(1), p.Accepted())
}

func TestSelectionRuleOrder(t *testing.T) {
	cfg := articleSelection()
	cfg.StartIndex = 5
	cfg.ExcludeURLPrefixes = []string{"Special:"}
	cfg.IncludeURLPrefixes = []string{"D"}
	p := NewSelectionPolicy(cfg)

	cases := []struct {
		name   string
		index  uint32
		ns     byte
		url    string
		mime   string
		reason string
	}{
		{"before start wins over namespace", 2, 'M', "Counter", "text/plain", SkipBeforeStart},
		{"namespace", 7, 'M', "Counter", "text/plain", SkipNamespace},
		{"url exclusion", 7, 'A', "Special:Search", "text/html", SkipURLExcluded},
		{"url inclusion", 7, 'A', "Cat", "text/html", SkipURLNotIncluded},
		{"mime", 7, 'A', "Dog.png", "image/png", SkipMime},
	}
	for _, tc := range cases {
		d := p.Decide(tc.index, tc.ns, tc.url, tc.url, tc.mime, false)
		assert.False(t, d.Eligible, tc.name)
		assert.Equal(t, tc.reason, d.Reason, tc.name)
	}
	assert.Zero(t, p.Accepted())
}

func TestSelectionMaxEntriesStopsIteration(t *testing.T) {
	cfg := articleSelection()
	cfg.MaxEntries = 2
	p := NewSelectionPolicy(cfg)

	assert.True(t, p.Decide(0, 'A', "A", "A", "text/html", false).Eligible)
	assert.True(t, p.Decide(1, 'A', "B", "B", "text/html", false).Eligible)

	d := p.Decide(2, 'A', "C", "C", "text/html", false)
	assert.False(t, d.Eligible)
	assert.True(t, d.Stop)
	assert.Equal(t, SkipMaxEntries, d.Reason)
}

func TestSelectionRedirectAndTitleRules(t *testing.T) {
	cfg := articleSelection()
	cfg.SkipRedirects = true
	cfg.RequireTitle = true
	cfg.ExcludeTitlePrefix = []string{"Appendix:"}
	p := NewSelectionPolicy(cfg)

	// Redirects carry no payload mime; the mime rule must not reject them
	// before the redirect rule runs.
	d := p.Decide(0, 'A', "Dogs", "Dogs", "redirect", true)
	assert.Equal(t, SkipRedirect, d.Reason)

	d = p.Decide(1, 'A', "Blank", "   ", "text/html", false)
	assert.Equal(t, SkipNoTitle, d.Reason)

	d = p.Decide(2, 'A', "Appendix:Glossary", "Appendix:Glossary", "text/html", false)
	assert.Equal(t, SkipTitleExcluded, d.Reason)
}

func TestSelectionAllowsRedirectsByDefault(t *testing.T) {
	p := NewSelectionPolicy(articleSelection())
	d := p.Decide(0, 'A', "Dogs", "Dogs", "redirect", true)
	assert.True(t, d.Eligible)
}
