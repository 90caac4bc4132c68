package normalize

import (
	"strings"
	"sync"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

var (
	jpOnce sync.Once
	jpTok  *tokenizer.Tokenizer
)

// japaneseReading tokenizes the lemma with kagome and emits its hiragana
// reading as an alias, so 漢字 entries are findable by kana. Tokenizer
// construction is deferred until the first Japanese lemma shows up because
// loading the IPA dictionary is not free.
func japaneseReading(lemma string, _ Context) []string {
	jpOnce.Do(func() {
		t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
		if err == nil {
			jpTok = t
		}
	})
	if jpTok == nil {
		return nil
	}

	var reading strings.Builder
	for _, token := range jpTok.Tokenize(lemma) {
		if token.Class == tokenizer.DUMMY {
			continue
		}
		features := token.Features()
		// IPA feature 7 is the katakana reading.
		if len(features) > 7 && features[7] != "*" {
			reading.WriteString(features[7])
		} else {
			reading.WriteString(token.Surface)
		}
	}

	kana := ToHiragana(reading.String())
	if kana == "" || kana == lemma {
		return nil
	}
	return []string{kana}
}

// ToHiragana converts katakana runes to their hiragana counterparts and
// leaves everything else untouched.
func ToHiragana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'ァ' && r <= 'ヶ' {
			return r - 0x60
		}
		return r
	}, s)
}
