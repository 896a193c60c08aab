// Package document loads the reference text a reader follows.
//
// A document is an ordered list of lines; line order is scrolling order.
// Two on-disk formats are accepted:
//
//   - plain text (any extension other than .yaml/.yml): one line per line,
//     the first line starting with "# " becomes the title;
//   - YAML: a mapping with a title and either a "lines" list or a "text"
//     block scalar.
//
//	title: Mudam-se os tempos
//	author: Luís de Camões
//	lines:
//	  - Mudam-se os tempos, mudam-se as vontades,
//	  - Muda-se o ser, muda-se a confiança;
//
// A loaded Document is immutable. Edits on disk produce a new Document with
// a new Hash (see [Watcher]).
package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/scrollsync/internal/align"
)

// VisibleLines is how many lines a display shows starting at the current
// position.
const VisibleLines = 40

// ErrEmpty is returned when a document has no lines.
var ErrEmpty = errors.New("document: no lines")

// Document is an immutable reference text.
type Document struct {
	// Title is a display name. It defaults to the file's base name.
	Title string `json:"title"`

	// Author is optional.
	Author string `json:"author,omitempty"`

	// Lines holds the text as displayed, unnormalized.
	Lines []string `json:"lines"`

	// Hash is the hex SHA-256 of the title, author and lines. Equal hashes
	// mean equal documents.
	Hash string `json:"hash"`
}

// yamlDocument is the on-disk YAML shape.
type yamlDocument struct {
	Title  string   `yaml:"title"`
	Author string   `yaml:"author"`
	Lines  []string `yaml:"lines"`
	Text   string   `yaml:"text"`
}

// New builds a Document from lines. It returns [ErrEmpty] when lines is
// empty.
func New(title string, lines []string) (*Document, error) {
	if len(lines) == 0 {
		return nil, ErrEmpty
	}
	d := &Document{
		Title: title,
		Lines: append([]string(nil), lines...),
	}
	d.rehash()
	return d, nil
}

// Load reads the document at path, choosing the format by extension.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("document: read %q: %w", path, err)
	}
	var d *Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		d, err = ParseYAML(data)
	default:
		d, err = ParseText(data)
	}
	if err != nil {
		return nil, fmt.Errorf("document: parse %q: %w", path, err)
	}
	if d.Title == "" {
		d.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		d.rehash()
	}
	return d, nil
}

// ParseText splits data into lines. CRLF endings are accepted; a single
// trailing newline does not produce an empty last line. A first line of the
// form "# Title" sets the title and is not part of the text.
func ParseText(data []byte) (*Document, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	lines := strings.Split(text, "\n")

	var title string
	if t, ok := strings.CutPrefix(lines[0], "# "); ok {
		title = strings.TrimSpace(t)
		lines = lines[1:]
	}
	return New(title, lines)
}

// ParseYAML decodes the YAML document format. Unknown keys are rejected and
// exactly one of "lines" and "text" must be set.
func ParseYAML(data []byte) (*Document, error) {
	var y yamlDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&y); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	var lines []string
	switch {
	case len(y.Lines) > 0 && y.Text != "":
		return nil, errors.New(`"lines" and "text" are mutually exclusive`)
	case len(y.Lines) > 0:
		lines = y.Lines
	case y.Text != "":
		lines = strings.Split(strings.TrimSuffix(y.Text, "\n"), "\n")
	}

	d, err := New(y.Title, lines)
	if err != nil {
		return nil, err
	}
	d.Author = y.Author
	d.rehash()
	return d, nil
}

// Len returns the number of lines.
func (d *Document) Len() int { return len(d.Lines) }

// Visible returns up to n lines starting at line, the slice a display shows
// when scrolled to line. Out-of-range positions are clamped.
func (d *Document) Visible(line, n int) []string {
	if len(d.Lines) == 0 || n <= 0 {
		return nil
	}
	line = max(0, min(line, len(d.Lines)-1))
	return d.Lines[line:min(line+n, len(d.Lines))]
}

// Vocabulary returns the document's distinct normalized words in order of
// first appearance. Recognizers use it as a decoding hint.
func (d *Document) Vocabulary() []string {
	tokens := align.NormalizeLines(d.Lines)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// String implements fmt.Stringer for log output.
func (d *Document) String() string {
	return fmt.Sprintf("%s (%d lines, %s)", d.Title, len(d.Lines), shortHash(d.Hash))
}

// rehash recomputes Hash. Title and author are NUL-terminated so no field
// can bleed into the next.
func (d *Document) rehash() {
	h := sha256.New()
	h.Write([]byte(d.Title))
	h.Write([]byte{0})
	h.Write([]byte(d.Author))
	h.Write([]byte{0})
	for i, l := range d.Lines {
		if i > 0 {
			h.Write([]byte{'\n'})
		}
		h.Write([]byte(l))
	}
	d.Hash = hex.EncodeToString(h.Sum(nil))
}
