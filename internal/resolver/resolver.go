// resolver maps workspace files to Taguette documents. The text of document
// d of project p lives at <root>/project-<p>/document-<d>.txt.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

var ErrNotDocument = errors.New("not a document file")

var documentPath = regexp.MustCompile(`^project-(\d+)/document-(\d+)\.txt$`)

type Doc struct {
	URI          protocol.DocumentUri
	AbsolutePath string
	RelativePath string
	Project      int
	Document     int
}

type Resolver struct {
	root string
}

func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace %s: %w", root, err)
	}
	return &Resolver{root: abs}, nil
}

func (r *Resolver) Root() string {
	return r.root
}

// Resolve accepts a file URI, an absolute path or a path relative to the
// root.
func (r *Resolver) Resolve(base string) (Doc, error) {
	path := base
	if strings.HasPrefix(base, "file:") {
		u, err := url.Parse(base)
		if err != nil {
			return Doc{}, err
		}
		path = filepath.FromSlash(u.Path)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, path)
	}
	return r.resolveAbsolute(path)
}

func (r *Resolver) resolveAbsolute(absolutepath string) (Doc, error) {
	cleaned := filepath.Clean(absolutepath)
	rel, err := filepath.Rel(r.root, cleaned)
	if err != nil {
		return Doc{}, err
	}

	m := documentPath.FindStringSubmatch(filepath.ToSlash(rel))
	if m == nil {
		return Doc{}, fmt.Errorf("%w: %s", ErrNotDocument, rel)
	}
	project, _ := strconv.Atoi(m[1])
	document, _ := strconv.Atoi(m[2])

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(cleaned)}
	return Doc{
		URI:          protocol.DocumentUri(u.String()),
		AbsolutePath: cleaned,
		RelativePath: rel,
		Project:      project,
		Document:     document,
	}, nil
}

// ForDocument returns where the text of a document is written.
func (r *Resolver) ForDocument(project, document int) Doc {
	rel := filepath.Join(
		"project-"+strconv.Itoa(project),
		"document-"+strconv.Itoa(document)+".txt",
	)
	doc, _ := r.resolveAbsolute(filepath.Join(r.root, rel))
	return doc
}

// IgnoreDir reports whether a directory is skipped when scanning.
func IgnoreDir(path string) bool {
	name := filepath.Base(path)
	return len(name) > 1 && strings.HasPrefix(name, ".")
}
