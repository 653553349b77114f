package importer

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// frontMatter is the YAML header of a vault Markdown note. Only fields a
// human would maintain by hand live here; sync bookkeeping stays in the
// store.
type frontMatter struct {
	ID    string   `yaml:"id,omitempty"`
	Title string   `yaml:"title,omitempty"`
	Tags  []string `yaml:"tags,omitempty"`
}

// ParseMarkdown decodes a vault Markdown file. The front matter block is
// optional: a file that starts with "---" must close the block, anything
// else is treated as pure content. fallback names the note when neither
// front matter nor the id assignment has given it a title yet.
func ParseMarkdown(data []byte, fallback string) (*note.Note, error) {
	n := &note.Note{}

	if bytes.HasPrefix(data, []byte("---\n")) || bytes.HasPrefix(data, []byte("---\r\n")) {
		rest := data[3:]
		parts := bytes.SplitN(rest, []byte("\n---"), 2)
		if len(parts) == 1 {
			return nil, fmt.Errorf("front matter opened but never closed")
		}

		var fm frontMatter
		if err := yaml.Unmarshal(parts[0], &fm); err != nil {
			return nil, fmt.Errorf("invalid front matter: %w", err)
		}
		n.ID = fm.ID
		n.Title = fm.Title
		n.Tags = note.NormalizeTags(fm.Tags)

		body := strings.TrimPrefix(string(parts[1]), "\r\n")
		body = strings.TrimPrefix(body, "\n")
		n.Content = body
	} else {
		n.Content = string(data)
	}

	if n.Title == "" {
		n.Title = fallback
	}
	return n, nil
}

// RenderMarkdown is the inverse of ParseMarkdown: front matter block plus
// body. Round-tripping a parsed file reproduces its note exactly, which is
// what lets the importer write ids back into files it ingests.
func RenderMarkdown(n *note.Note) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(frontMatter{ID: n.ID, Title: n.Title, Tags: n.Tags}); err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish front matter: %w", err)
	}
	buf.WriteString("---\n")
	buf.WriteString(n.Content)

	return buf.Bytes(), nil
}
