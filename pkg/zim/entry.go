package zim

import "fmt"

// Entry is one decoded directory entry. It keeps a reference to its archive
// so blob and redirect lookups stay one call away.
type Entry struct {
	arc   *Archive
	index uint32

	mimeID        uint16
	namespace     byte
	revision      uint32
	redirectIndex uint32
	clusterNum    uint32
	blobNum       uint32
	url           string
	title         string
}

// Index is the entry's position in the URL pointer list.
func (e *Entry) Index() uint32 { return e.index }

// Namespace is the single-letter entry namespace ('A' = article).
func (e *Entry) Namespace() byte { return e.namespace }

// URL is the entry URL without the namespace prefix.
func (e *Entry) URL() string { return e.url }

// Title is the display title, falling back to the URL when blank.
func (e *Entry) Title() string {
	if e.title == "" {
		return e.url
	}
	return e.title
}

// IsRedirect reports whether the entry points at another entry instead of a
// blob.
func (e *Entry) IsRedirect() bool { return e.mimeID == mimeRedirect }

// MimeType resolves the entry's MIME type through the archive's mime list.
// Pseudo entries get stable labels instead.
func (e *Entry) MimeType() string {
	switch e.mimeID {
	case mimeRedirect:
		return "redirect"
	case mimeLinkTarget:
		return "link-target"
	case mimeDeleted:
		return "deleted"
	}
	if int(e.mimeID) >= len(e.arc.mimeTypes) {
		return fmt.Sprintf("unknown/%d", e.mimeID)
	}
	return e.arc.mimeTypes[e.mimeID]
}

// RedirectTarget resolves the redirect target entry's URL. Only valid for
// redirect entries.
func (e *Entry) RedirectTarget() (string, error) {
	if !e.IsRedirect() {
		return "", fmt.Errorf("zim: entry %d (%s) is not a redirect", e.index, e.url)
	}
	target, err := e.arc.EntryAt(e.redirectIndex)
	if err != nil {
		return "", fmt.Errorf("resolve redirect target of entry %d: %w", e.index, err)
	}
	return target.URL(), nil
}

// Blob fetches and returns the entry's payload bytes, decompressing the
// backing cluster as needed.
func (e *Entry) Blob() ([]byte, error) {
	if e.IsRedirect() || e.mimeID == mimeLinkTarget || e.mimeID == mimeDeleted {
		return nil, fmt.Errorf("zim: entry %d (%s) has no payload", e.index, e.url)
	}
	return e.arc.blobAt(e.clusterNum, e.blobNum)
}
