// Package normalize maps language labels to lemma normalizers. Normalizers
// are pure functions producing extra search aliases; they never fail and an
// unknown language falls back to identity.
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Context carries the page-level information a normalizer may consult.
type Context struct {
	Language  string
	PageTitle string
}

// Func turns a lemma into additional aliases. Implementations must be
// deterministic and total.
type Func func(lemma string, ctx Context) []string

// Registry holds named normalizer plugins and the language → plugin binding.
type Registry struct {
	mu         sync.RWMutex
	plugins    map[string]Func
	byLanguage map[string]string
}

// NewRegistry returns a registry with the builtin plugins registered and the
// stock languages bound.
func NewRegistry() *Registry {
	r := &Registry{
		plugins:    map[string]Func{},
		byLanguage: map[string]string{},
	}
	r.RegisterPlugin("identity", identity)
	r.RegisterPlugin("casefold", casefold)
	r.RegisterPlugin("english_basic", englishBasic)
	r.RegisterPlugin("romance_basic", romanceBasic)
	r.RegisterPlugin("cjk_basic", casefold)
	r.RegisterPlugin("japanese_reading", japaneseReading)

	r.Bind("English", "english_basic")
	r.Bind("French", "romance_basic")
	r.Bind("Spanish", "romance_basic")
	r.Bind("Japanese", "japanese_reading")
	r.Bind("Chinese", "cjk_basic")
	return r
}

// RegisterPlugin adds or replaces a named plugin.
func (r *Registry) RegisterPlugin(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = fn
}

// Bind routes a language label to a registered plugin. Binding to an unknown
// plugin is remembered and resolves to identity until the plugin appears.
func (r *Registry) Bind(language, plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLanguage[language] = plugin
}

// BindAll applies a language → plugin map, e.g. from configuration.
func (r *Registry) BindAll(bindings map[string]string) {
	for language, plugin := range bindings {
		r.Bind(language, plugin)
	}
}

// Has reports whether a plugin is bound for the language.
func (r *Registry) Has(language string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byLanguage[language]
	return ok
}

// Apply runs the normalizer bound to the language and returns its aliases.
// The lemma itself is never included.
func (r *Registry) Apply(language, lemma string) []string {
	r.mu.RLock()
	plugin := r.byLanguage[language]
	fn, ok := r.plugins[plugin]
	r.mu.RUnlock()
	if !ok {
		fn = identity
	}

	ctx := Context{Language: language, PageTitle: lemma}
	var out []string
	seen := map[string]struct{}{lemma: {}}
	for _, alias := range fn(lemma, ctx) {
		alias = CollapseWhitespace(alias)
		if alias == "" {
			continue
		}
		if _, dup := seen[alias]; dup {
			continue
		}
		seen[alias] = struct{}{}
		out = append(out, alias)
	}
	return out
}

func identity(string, Context) []string { return nil }

func casefold(lemma string, _ Context) []string {
	return []string{strings.ToLower(lemma)}
}

// englishBasic lowercases and strips the infinitive marker and leading
// articles, so "To the Rescue" also aliases as "rescue".
func englishBasic(lemma string, ctx Context) []string {
	lowered := strings.ToLower(CollapseWhitespace(lemma))
	out := []string{lowered}

	stripped := strings.TrimPrefix(lowered, "to ")
	for _, article := range []string{"a ", "an ", "the "} {
		if rest := strings.TrimPrefix(stripped, article); rest != stripped {
			stripped = rest
			break
		}
	}
	if stripped != lowered && stripped != "" {
		out = append(out, stripped)
	}
	return out
}

// romanceBasic lowercases and folds typographic apostrophes, so French
// "l’eau" matches "l'eau".
func romanceBasic(lemma string, _ Context) []string {
	lowered := strings.ToLower(CollapseWhitespace(lemma))
	folded := strings.Map(func(r rune) rune {
		if r == '’' || r == '`' {
			return '\''
		}
		return r
	}, lowered)

	out := []string{lowered}
	if folded != lowered {
		out = append(out, folded)
	}
	return out
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// StripDiacritics removes combining marks: "Café" becomes "Cafe". Input that
// fails to transform is returned unchanged.
func StripDiacritics(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

// CollapseWhitespace trims and squeezes runs of whitespace into one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
