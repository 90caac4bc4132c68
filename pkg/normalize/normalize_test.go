package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyUnknownLanguageIsIdentity(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Apply("Klingon", "batlh"))
}

func TestEnglishBasicStripsPrefixes(t *testing.T) {
	r := NewRegistry()

	aliases := r.Apply("English", "To The Rescue")
	assert.Contains(t, aliases, "to the rescue")
	assert.Contains(t, aliases, "the rescue")
}

func TestRomanceBasicFoldsApostrophes(t *testing.T) {
	r := NewRegistry()

	aliases := r.Apply("French", "L’eau")
	assert.Contains(t, aliases, "l’eau")
	assert.Contains(t, aliases, "l'eau")
}

func TestApplyIsDeterministic(t *testing.T) {
	r := NewRegistry()
	a := r.Apply("English", "The Dog")
	b := r.Apply("English", "The Dog")
	assert.Equal(t, a, b)
}

func TestApplyNeverEmitsLemmaItself(t *testing.T) {
	r := NewRegistry()
	for _, alias := range r.Apply("Spanish", "agua") {
		assert.NotEqual(t, "agua", alias)
	}
}

func TestBindOverride(t *testing.T) {
	r := NewRegistry()
	r.RegisterPlugin("shout", func(lemma string, _ Context) []string {
		return []string{lemma + "!"}
	})
	r.BindAll(map[string]string{"German": "shout"})

	assert.Equal(t, []string{"Hund!"}, r.Apply("German", "Hund"))
}

func TestStripDiacritics(t *testing.T) {
	assert.Equal(t, "Cafe au lait", StripDiacritics("Café au lait"))
	assert.Equal(t, "uber", StripDiacritics("über"))
	assert.Equal(t, "plain", StripDiacritics("plain"))
}

func TestToHiragana(t *testing.T) {
	assert.Equal(t, "いぬ", ToHiragana("イヌ"))
	assert.Equal(t, "dogいぬ", ToHiragana("dogイヌ"))
}
