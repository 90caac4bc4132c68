package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultOptions() Options {
	return Options{
		MinDefinitionChars:  1,
		ConfidenceThreshold: 0.2,
		EmitSynonyms:        true,
		EmitAntonyms:        true,
		EmitTranslations:    true,
		AliasMinLength:      2,
	}
}

const dogPage = `<html><body>
<h2><span class="mw-headline">English</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol>
  <li>A domesticated carnivorous mammal.</li>
  <li>A contemptible person.</li>
</ol>
<h4><span class="mw-headline">Synonyms</span></h4>
<ul>
  <li>canine, pooch; doggo</li>
</ul>
<h4><span class="mw-headline">Translations</span></h4>
<ul>
  <li>French: chien, chienne</li>
  <li>German: Hund</li>
  <li>no colon here</li>
</ul>
<h2><span class="mw-headline">Swedish</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol>
  <li>death, esp. by murder or accident</li>
</ol>
</body></html>`

func TestExtractLanguageSections(t *testing.T) {
	x := New(defaultOptions())

	res, err := x.Page("dog", []byte(dogPage))
	require.NoError(t, err)

	var langs []string
	for _, d := range res.Definitions {
		langs = append(langs, d.Language)
	}
	assert.Equal(t, []string{"English", "English", "Swedish"}, langs)

	first := res.Definitions[0]
	assert.Equal(t, "Noun", first.PartOfSpeech)
	assert.Equal(t, 1, first.SenseNumber)
	assert.Equal(t, "1", first.SubSensePath)
	assert.Equal(t, "A domesticated carnivorous mammal.", first.Text)
	assert.InDelta(t, 1.0, first.Confidence, 1e-9)
}

func TestExtractRelations(t *testing.T) {
	x := New(defaultOptions())

	res, err := x.Page("dog", []byte(dogPage))
	require.NoError(t, err)

	var syn, trans []Relation
	for _, r := range res.Relations {
		switch r.Type {
		case RelationSynonym:
			syn = append(syn, r)
		case RelationTranslation:
			trans = append(trans, r)
		}
	}

	require.Len(t, syn, 3)
	assert.Equal(t, "canine", syn[0].TargetLemma)
	assert.Equal(t, "doggo", syn[2].TargetLemma)
	assert.Equal(t, "English", syn[0].TargetLanguage)

	// The colon-less item is skipped; "chien, chienne" splits in two.
	require.Len(t, trans, 3)
	assert.Equal(t, "chien", trans[0].TargetLemma)
	assert.Equal(t, "French", trans[0].TargetLanguage)
	assert.Equal(t, "Hund", trans[2].TargetLemma)
	assert.Equal(t, "German", trans[2].TargetLanguage)
}

func TestRelationTogglesOff(t *testing.T) {
	opts := defaultOptions()
	opts.EmitSynonyms = false
	opts.EmitTranslations = false
	x := New(opts)

	res, err := x.Page("dog", []byte(dogPage))
	require.NoError(t, err)
	assert.Empty(t, res.Relations)
}

func TestNestedSenses(t *testing.T) {
	page := `<html><body>
<h2><span class="mw-headline">English</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol>
  <li>Top
    <ol>
      <li>First nested sense here.</li>
      <li>Second nested sense here.</li>
    </ol>
  </li>
  <li>Second top-level sense.</li>
</ol>
</body></html>`

	x := New(defaultOptions())
	res, err := x.Page("top", []byte(page))
	require.NoError(t, err)

	var paths []string
	for _, d := range res.Definitions {
		paths = append(paths, d.SubSensePath)
	}
	assert.Equal(t, []string{"1", "1.1", "1.2", "2"}, paths)

	// Nested items keep the top-level sense number.
	assert.Equal(t, 1, res.Definitions[1].SenseNumber)
	assert.Equal(t, "First nested sense here.", res.Definitions[1].Text)
	assert.Equal(t, "Top", res.Definitions[0].Text)
}

func TestMaxSenseDepthStopsRecursion(t *testing.T) {
	page := `<html><body>
<h2><span class="mw-headline">English</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol>
  <li>level one text
    <ol><li>level two text
      <ol><li>level three text
        <ol><li>level four text</li></ol>
      </li></ol>
    </li></ol>
  </li>
</ol>
</body></html>`

	opts := defaultOptions()
	opts.MaxSenseDepth = 2
	x := New(opts)

	res, err := x.Page("deep", []byte(page))
	require.NoError(t, err)

	var paths []string
	for _, d := range res.Definitions {
		paths = append(paths, d.SubSensePath)
	}
	assert.Equal(t, []string{"1", "1.1"}, paths)
}

func TestConfidenceScoring(t *testing.T) {
	assert.InDelta(t, 1.0, scoreConfidence("A perfectly ordinary definition.", 1), 1e-9)
	assert.InDelta(t, 0.9, scoreConfidence("tiny", 1), 1e-9)
	assert.InDelta(t, 0.8, scoreConfidence("leftover {{template}} junk", 1), 1e-9)
	assert.InDelta(t, 0.8, scoreConfidence("unbalanced (bracket text here", 1), 1e-9)
	assert.InDelta(t, 0.9, scoreConfidence("a definition nested three deep", 3), 1e-9)
	assert.InDelta(t, 0.0, scoreConfidence("((", 9), 1e-9)

	// Length is measured in runes, not bytes: seven kana cost the short
	// penalty even at 21 bytes, and multibyte text is only penalized past
	// 600 runes.
	assert.InDelta(t, 0.9, scoreConfidence("いぬねこきつね", 1), 1e-9)
	assert.InDelta(t, 1.0, scoreConfidence(strings.Repeat("あ", 600), 1), 1e-9)
	assert.InDelta(t, 0.9, scoreConfidence(strings.Repeat("あ", 601), 1), 1e-9)
}

func TestMinDefinitionCharsCountsRunes(t *testing.T) {
	page := `<html><body>
<h2><span class="mw-headline">Japanese</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol><li>ねこだ</li></ol>
</body></html>`

	opts := defaultOptions()
	opts.MinDefinitionChars = 4
	x := New(opts)

	// Three runes (nine bytes) fall below a four-character minimum.
	res, err := x.Page("w", []byte(page))
	require.NoError(t, err)
	assert.Empty(t, res.Definitions)
}

func TestConfidenceThresholdDropsDefinition(t *testing.T) {
	page := `<html><body>
<h2><span class="mw-headline">English</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol>
  <li>A solid keeper definition.</li>
  <li>(( bad</li>
</ol>
</body></html>`

	opts := defaultOptions()
	opts.ConfidenceThreshold = 0.8
	x := New(opts)

	res, err := x.Page("w", []byte(page))
	require.NoError(t, err)
	require.Len(t, res.Definitions, 1)
	assert.Equal(t, "A solid keeper definition.", res.Definitions[0].Text)
}

func TestLanguageAllowlist(t *testing.T) {
	opts := defaultOptions()
	opts.LanguageAllowlist = []string{"Swedish"}
	x := New(opts)

	res, err := x.Page("dog", []byte(dogPage))
	require.NoError(t, err)
	require.Len(t, res.Definitions, 1)
	assert.Equal(t, "Swedish", res.Definitions[0].Language)
	assert.Zero(t, res.DroppedSections)
}

func TestUnclassifiableHeadingCounted(t *testing.T) {
	page := `<html><body>
<h2><span class="mw-headline">  </span></h2>
<h2><span class="mw-headline">English</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol><li>Something ordinary enough.</li></ol>
</body></html>`

	x := New(defaultOptions())
	res, err := x.Page("w", []byte(page))
	require.NoError(t, err)
	assert.Equal(t, 1, res.DroppedSections)
	assert.Len(t, res.Definitions, 1)
}

func TestRedirectPage(t *testing.T) {
	page := `<html><head>
<meta http-equiv="refresh" content="0;url=./Dog">
</head><body><p>Redirecting…</p></body></html>`

	x := New(defaultOptions())
	res, err := x.Page("Dogs", []byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Dog", res.RedirectTarget)
	assert.Empty(t, res.Definitions)
	assert.Empty(t, res.Relations)
}

func TestParsoidRedirectLink(t *testing.T) {
	page := `<html><head>
<link rel="mw:PageProp/redirect" href="./Caf%C3%A9"/>
</head><body></body></html>`

	x := New(defaultOptions())
	res, err := x.Page("Cafés", []byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Café", res.RedirectTarget)
}

func TestAliases(t *testing.T) {
	page := `<html><body>
<h2><span class="mw-headline">French</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol><li>A small coffee house.</li></ol>
</body></html>`

	x := New(defaultOptions())
	res, err := x.Page("Café", []byte(page))
	require.NoError(t, err)

	kinds := map[string]string{}
	for _, a := range res.Aliases {
		kinds[a.Kind] = a.Alias
		assert.Equal(t, "French", a.Language)
	}
	assert.Equal(t, "Café", kinds[AliasSurface])
	assert.Equal(t, "café", kinds[AliasLowercase])
	assert.Equal(t, "Cafe", kinds[AliasStripped])
}

func TestAliasMinLength(t *testing.T) {
	opts := defaultOptions()
	opts.AliasMinLength = 3
	x := New(opts)

	res, err := x.Page("Ab", []byte("<html><body></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, res.Aliases)
}

func TestExtraPOSLabels(t *testing.T) {
	page := `<html><body>
<h2><span class="mw-headline">English</span></h2>
<h3><span class="mw-headline">Particle</span></h3>
<ol><li>A grammatical particle sense.</li></ol>
</body></html>`

	x := New(defaultOptions())
	res, err := x.Page("w", []byte(page))
	require.NoError(t, err)
	assert.Empty(t, res.Definitions)

	opts := defaultOptions()
	opts.ExtraPOSLabels = []string{"Particle"}
	x = New(opts)
	res, err = x.Page("w", []byte(page))
	require.NoError(t, err)
	require.Len(t, res.Definitions, 1)
	assert.Equal(t, "Particle", res.Definitions[0].PartOfSpeech)
}

func TestMaxDefinitionsPerLanguage(t *testing.T) {
	page := `<html><body>
<h2><span class="mw-headline">English</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol>
  <li>Definition number one text.</li>
  <li>Definition number two text.</li>
  <li>Definition number three text.</li>
</ol>
</body></html>`

	opts := defaultOptions()
	opts.MaxDefinitionsPerLanguage = 2
	x := New(opts)

	res, err := x.Page("w", []byte(page))
	require.NoError(t, err)
	assert.Len(t, res.Definitions, 2)
}

func TestPlainTextCollapses(t *testing.T) {
	page := `<html><body><p>Hello   <b>bold</b> world</p><p>Next</p></body></html>`

	x := New(defaultOptions())
	res, err := x.Page("w", []byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Hello bold world\nNext", res.PlainText)
}

func TestDeterministicOutput(t *testing.T) {
	x := New(defaultOptions())
	a, err := x.Page("dog", []byte(dogPage))
	require.NoError(t, err)
	b, err := x.Page("dog", []byte(dogPage))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
