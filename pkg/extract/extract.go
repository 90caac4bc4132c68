// Package extract turns one Wiktionary page's HTML into structured
// definitions, relations and search aliases.
package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/japaniel/zimdict/pkg/normalize"
)

// Relation type labels stored in the relations table.
const (
	RelationSynonym     = "synonym"
	RelationAntonym     = "antonym"
	RelationTranslation = "translation"
)

// Alias kinds stored in the lemma_aliases table.
const (
	AliasSurface    = "surface"
	AliasLowercase  = "lowercase"
	AliasStripped   = "stripped-diacritics"
	AliasNormalizer = "normalizer-emitted"
)

// Definition is one extracted sense.
type Definition struct {
	Language     string
	PartOfSpeech string
	SenseNumber  int
	SubSensePath string
	Text         string
	Confidence   float64
}

// Relation is a typed lexical link to a target lemma string.
type Relation struct {
	Language       string
	Type           string
	TargetLemma    string
	TargetLanguage string
	Qualifier      string
}

// Alias is one normalized search alias for the page title.
type Alias struct {
	Language string
	Alias    string
	Kind     string
}

// Result is everything the extractor produces for one page.
type Result struct {
	PlainText      string
	RedirectTarget string
	Definitions    []Definition
	Relations      []Relation
	Aliases        []Alias
	// DroppedSections counts H2 headings that could not be classified as a
	// language and were skipped.
	DroppedSections int
}

// Options configures an Extractor.
type Options struct {
	LanguageAllowlist         []string
	ExtraPOSLabels            []string
	MaxDefinitionsPerLanguage int
	MaxSenseDepth             int
	MinDefinitionChars        int
	ConfidenceThreshold       float64
	EmitSynonyms              bool
	EmitAntonyms              bool
	EmitTranslations          bool
	AliasMinLength            int
	MaxRelationTargets        int
	Normalizers               *normalize.Registry
}

// Base part-of-speech subheadings recognized under a language section.
var basePOSLabels = []string{
	"Noun", "Verb", "Adjective", "Adverb", "Pronoun", "Preposition",
	"Conjunction", "Interjection", "Determiner", "Article", "Numeral",
	"Proper noun",
}

// Extractor is a reusable, read-only HTML extractor. Safe for concurrent use.
type Extractor struct {
	opts      Options
	allowlist map[string]struct{}
	posLabels map[string]struct{}
}

// New builds an Extractor from options, applying the documented defaults.
func New(opts Options) *Extractor {
	if opts.MaxSenseDepth <= 0 {
		opts.MaxSenseDepth = 3
	}
	if opts.MaxDefinitionsPerLanguage <= 0 {
		opts.MaxDefinitionsPerLanguage = 64
	}
	if opts.MaxRelationTargets <= 0 {
		opts.MaxRelationTargets = 48
	}
	if opts.Normalizers == nil {
		opts.Normalizers = normalize.NewRegistry()
	}

	x := &Extractor{
		opts:      opts,
		allowlist: map[string]struct{}{},
		posLabels: map[string]struct{}{},
	}
	for _, lang := range opts.LanguageAllowlist {
		x.allowlist[strings.TrimSpace(lang)] = struct{}{}
	}
	for _, label := range basePOSLabels {
		x.posLabels[strings.ToLower(label)] = struct{}{}
	}
	for _, label := range opts.ExtraPOSLabels {
		x.posLabels[strings.ToLower(strings.TrimSpace(label))] = struct{}{}
	}
	return x
}

// Page extracts one page. The output is deterministic for identical input.
func (x *Extractor) Page(title string, raw []byte) (*Result, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	res := &Result{PlainText: plainText(doc)}

	if target := redirectTarget(doc); target != "" {
		res.RedirectTarget = target
		return res, nil
	}

	elems := flatten(doc)
	sections, dropped := x.languageSections(elems)
	res.DroppedSections = dropped

	firstLanguage := ""
	for _, sec := range sections {
		if firstLanguage == "" {
			firstLanguage = sec.language
		}
		x.extractSenses(sec, res)
		x.extractRelations(sec, res)
	}

	res.Aliases = x.aliases(title, firstLanguage)
	return res, nil
}

// section is one language block: the flat element range between an H2 and
// the next H2.
type section struct {
	language string
	elems    []*html.Node
}

func (x *Extractor) languageSections(elems []*html.Node) ([]section, int) {
	var h2 []int
	for i, n := range elems {
		if n.Data == "h2" {
			h2 = append(h2, i)
		}
	}

	var out []section
	dropped := 0
	for i, start := range h2 {
		end := len(elems)
		if i+1 < len(h2) {
			end = h2[i+1]
		}

		language := headingLanguage(elems[start])
		if language == "" {
			dropped++
			continue
		}
		if len(x.allowlist) > 0 {
			if _, ok := x.allowlist[language]; !ok {
				continue
			}
		}
		out = append(out, section{language: language, elems: elems[start+1 : end]})
	}
	return out, dropped
}

// headingLanguage prefers the mw-headline span Wiktionary wraps section
// titles in, falling back to the heading's own text.
func headingLanguage(h2 *html.Node) string {
	for _, span := range descendantsByTag(h2, "span") {
		if strings.Contains(attr(span, "class"), "mw-headline") {
			return normalize.CollapseWhitespace(textContent(span))
		}
	}
	return normalize.CollapseWhitespace(textContent(h2))
}

func (x *Extractor) extractSenses(sec section, res *Result) {
	written := 0
	for i, n := range sec.elems {
		rank := headingRank(n)
		if rank < 3 {
			continue
		}
		label := normalize.CollapseWhitespace(headingText(n))
		if _, ok := x.posLabels[strings.ToLower(label)]; !ok {
			continue
		}

		list := firstListAfter(sec.elems, i+1, rank, "ol")
		if list == nil {
			continue
		}

		sense := 0
		for _, li := range childElements(list, "li") {
			sense++
			x.walkSenseItem(li, sec.language, label, sense, strconv.Itoa(sense), 1, &written, res)
		}
	}
}

// walkSenseItem records the item's own text as a definition and recurses
// into nested lists, extending the dotted sub-sense path.
func (x *Extractor) walkSenseItem(li *html.Node, language, pos string, senseNumber int, path string, depth int, written *int, res *Result) {
	if *written >= x.opts.MaxDefinitionsPerLanguage {
		return
	}

	text := normalize.CollapseWhitespace(textExcludingLists(li))
	if utf8.RuneCountInString(text) >= x.opts.MinDefinitionChars && text != "" {
		confidence := scoreConfidence(text, depth)
		if confidence >= x.opts.ConfidenceThreshold {
			res.Definitions = append(res.Definitions, Definition{
				Language:     language,
				PartOfSpeech: pos,
				SenseNumber:  senseNumber,
				SubSensePath: path,
				Text:         text,
				Confidence:   confidence,
			})
			*written++
		}
	}

	if depth >= x.opts.MaxSenseDepth {
		return
	}
	child := 0
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.Data != "ol" && c.Data != "ul") {
			continue
		}
		for _, nested := range childElements(c, "li") {
			child++
			x.walkSenseItem(nested, language, pos, senseNumber, path+"."+strconv.Itoa(child), depth+1, written, res)
		}
	}
}

// scoreConfidence implements the fixed scoring heuristic: short or very long
// texts, leftover wiki template braces, unbalanced brackets and deep nesting
// all cost confidence. The result is clamped to [0,1].
func scoreConfidence(text string, depth int) float64 {
	score := 1.0
	runes := utf8.RuneCountInString(text)
	if runes < 8 {
		score -= 0.1
	}
	if runes > 600 {
		score -= 0.1
	}
	if strings.Contains(text, "{{") || strings.Contains(text, "}}") || unbalancedBrackets(text) {
		score -= 0.2
	}
	if depth > 2 {
		score -= 0.1 * float64(depth-2)
	}
	if score < 0 {
		score = 0
	}
	return score
}

func unbalancedBrackets(text string) bool {
	round, square := 0, 0
	for _, r := range text {
		switch r {
		case '(':
			round++
		case ')':
			round--
		case '[':
			square++
		case ']':
			square--
		}
		if round < 0 || square < 0 {
			return true
		}
	}
	return round != 0 || square != 0
}

func (x *Extractor) extractRelations(sec section, res *Result) {
	seen := map[string]struct{}{}

	for i, n := range sec.elems {
		rank := headingRank(n)
		if rank < 3 {
			continue
		}

		var relType string
		switch strings.ToLower(normalize.CollapseWhitespace(headingText(n))) {
		case "synonyms":
			relType = RelationSynonym
		case "antonyms":
			relType = RelationAntonym
		case "translations":
			relType = RelationTranslation
		default:
			continue
		}
		if relType == RelationSynonym && !x.opts.EmitSynonyms {
			continue
		}
		if relType == RelationAntonym && !x.opts.EmitAntonyms {
			continue
		}
		if relType == RelationTranslation && !x.opts.EmitTranslations {
			continue
		}

		list := firstListAfter(sec.elems, i+1, rank, "ol", "ul")
		if list == nil {
			continue
		}

		emitted := 0
		for _, li := range childElements(list, "li") {
			text := normalize.CollapseWhitespace(textExcludingLists(li))
			if text == "" {
				continue
			}

			if relType == RelationTranslation {
				targetLang, rest, ok := strings.Cut(text, ":")
				if !ok {
					continue
				}
				targetLang = strings.TrimSpace(targetLang)
				for _, lemma := range splitTargets(rest) {
					x.addRelation(res, seen, &emitted, Relation{
						Language:       sec.language,
						Type:           relType,
						TargetLemma:    lemma,
						TargetLanguage: targetLang,
					})
				}
				continue
			}

			for _, lemma := range splitTargets(text) {
				x.addRelation(res, seen, &emitted, Relation{
					Language:       sec.language,
					Type:           relType,
					TargetLemma:    lemma,
					TargetLanguage: sec.language,
				})
			}
		}
	}
}

func (x *Extractor) addRelation(res *Result, seen map[string]struct{}, emitted *int, rel Relation) {
	if rel.TargetLemma == "" || *emitted >= x.opts.MaxRelationTargets {
		return
	}
	key := rel.Language + "\x00" + rel.Type + "\x00" + rel.TargetLemma + "\x00" + rel.TargetLanguage
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}
	res.Relations = append(res.Relations, rel)
	*emitted++
}

// splitTargets breaks "canine, pooch; doggo" into individual lemmas.
func splitTargets(s string) []string {
	var out []string
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func (x *Extractor) aliases(title, language string) []Alias {
	title = normalize.CollapseWhitespace(title)
	minLen := x.opts.AliasMinLength

	var out []Alias
	seen := map[string]struct{}{}
	add := func(alias, kind string) {
		if len([]rune(alias)) < minLen {
			return
		}
		key := alias + "\x00" + kind
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Alias{Language: language, Alias: alias, Kind: kind})
	}

	if title == "" {
		return nil
	}
	add(title, AliasSurface)
	if lowered := strings.ToLower(title); lowered != title {
		add(lowered, AliasLowercase)
	}
	if stripped := normalize.StripDiacritics(title); stripped != title {
		add(stripped, AliasStripped)
	}
	if language != "" && x.opts.Normalizers.Has(language) {
		for _, alias := range x.opts.Normalizers.Apply(language, title) {
			add(alias, AliasNormalizer)
		}
	}
	return out
}
