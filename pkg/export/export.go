// Package export turns a converted database back into portable forms:
// JSON dumps, trimmed sample databases and compressed release artifacts.
package export

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/japaniel/zimdict/pkg/db"
)

// Options shape the JSON dump.
type Options struct {
	Pretty         bool
	IncludeRawHTML bool
	JSONLines      bool
	BatchSize      int
	Limit          int64 // 0 = no limit
}

// PageDoc is one exported page with its child rows inlined.
type PageDoc struct {
	ID             int64           `json:"id"`
	Namespace      string          `json:"namespace"`
	URL            string          `json:"url"`
	MimeType       string          `json:"mime_type"`
	Title          string          `json:"title"`
	ContentSHA256  string          `json:"content_sha256"`
	RawHTML        []byte          `json:"raw_html,omitempty"`
	PlainText      string          `json:"plain_text"`
	RedirectTarget string          `json:"redirect_target,omitempty"`
	Definitions    []DefinitionDoc `json:"definitions"`
	Relations      []RelationDoc   `json:"relations"`
	Aliases        []AliasDoc      `json:"aliases"`
}

type DefinitionDoc struct {
	Language     string  `json:"language"`
	PartOfSpeech string  `json:"part_of_speech"`
	SenseNumber  int     `json:"sense_number"`
	SubSensePath string  `json:"sub_sense_path"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
}

type RelationDoc struct {
	Language       string `json:"language"`
	Type           string `json:"relation_type"`
	TargetLemma    string `json:"target_lemma"`
	TargetLanguage string `json:"target_language,omitempty"`
	Qualifier      string `json:"qualifier,omitempty"`
}

type AliasDoc struct {
	Language string `json:"language"`
	Alias    string `json:"alias"`
	Kind     string `json:"kind"`
}

// JSON streams every page as JSON to w, reading the database in id-ordered
// batches so memory stays flat regardless of database size. Returns the
// number of pages exported.
func JSON(conn *sql.DB, w io.Writer, opts Options) (int64, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	enc := json.NewEncoder(w)
	if opts.Pretty {
		enc.SetIndent("", "  ")
	}

	if !opts.JSONLines {
		if _, err := io.WriteString(w, "[\n"); err != nil {
			return 0, err
		}
	}

	var exported int64
	var afterID int64
scan:
	for {
		pages, err := db.PagesAfter(conn, afterID, opts.BatchSize, opts.IncludeRawHTML)
		if err != nil {
			return exported, err
		}
		if len(pages) == 0 {
			break
		}
		for _, p := range pages {
			if opts.Limit > 0 && exported >= opts.Limit {
				break scan
			}
			doc, err := buildDoc(conn, p, opts.IncludeRawHTML)
			if err != nil {
				return exported, err
			}
			if !opts.JSONLines && exported > 0 {
				if _, err := io.WriteString(w, ",\n"); err != nil {
					return exported, err
				}
			}
			if err := enc.Encode(doc); err != nil {
				return exported, fmt.Errorf("encode page %d: %w", p.ID, err)
			}
			exported++
		}
		afterID = pages[len(pages)-1].ID
	}

	if !opts.JSONLines {
		if _, err := io.WriteString(w, "]\n"); err != nil {
			return exported, err
		}
	}
	return exported, nil
}

func buildDoc(conn *sql.DB, p db.Page, includeRaw bool) (*PageDoc, error) {
	doc := &PageDoc{
		ID:             p.ID,
		Namespace:      p.Namespace,
		URL:            p.URL,
		MimeType:       p.MimeType,
		Title:          p.Title,
		ContentSHA256:  p.ContentSHA256,
		PlainText:      p.PlainText,
		RedirectTarget: p.RedirectTarget,
		Definitions:    []DefinitionDoc{},
		Relations:      []RelationDoc{},
		Aliases:        []AliasDoc{},
	}
	if includeRaw {
		doc.RawHTML = p.RawHTML
	}

	defs, err := db.DefinitionsForPage(conn, p.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		doc.Definitions = append(doc.Definitions, DefinitionDoc{
			Language:     d.Language,
			PartOfSpeech: d.PartOfSpeech,
			SenseNumber:  d.SenseNumber,
			SubSensePath: d.SubSensePath,
			Text:         d.Text,
			Confidence:   d.Confidence,
		})
	}

	rels, err := db.RelationsForPage(conn, p.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range rels {
		doc.Relations = append(doc.Relations, RelationDoc{
			Language:       r.Language,
			Type:           r.Type,
			TargetLemma:    r.TargetLemma,
			TargetLanguage: r.TargetLanguage,
			Qualifier:      r.Qualifier,
		})
	}

	aliases, err := db.AliasesForPage(conn, p.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range aliases {
		doc.Aliases = append(doc.Aliases, AliasDoc{
			Language: a.Language,
			Alias:    a.Alias,
			Kind:     a.Kind,
		})
	}
	return doc, nil
}
