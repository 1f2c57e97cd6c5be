package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/evalbot/internal/command"
)

// DocItem is one entry of the standard library documentation index.
type DocItem struct {
	// Path is the module path, e.g. "std::collections".
	Path string `json:"path"`
	// Parent is the owning type for methods and associated items.
	Parent string `json:"parent,omitempty"`
	Name   string `json:"name"`
	// Kind is the rustdoc item type: "struct", "fn", "macro", "keyword",
	// "primitive", "method", ...
	Kind string `json:"kind"`
	Desc string `json:"desc,omitempty"`
	// URL is relative to the documentation root.
	URL string `json:"url"`
}

func (d DocItem) keywordOrPrimitive() bool {
	return d.Kind == "keyword" || d.Kind == "primitive"
}

// fullPath renders the item the way it is written in code.
func (d DocItem) fullPath(parentKeywordOrPrimitive bool) string {
	var b strings.Builder
	if !d.keywordOrPrimitive() && !parentKeywordOrPrimitive {
		b.WriteString(d.Path)
		b.WriteString("::")
	}
	if d.Parent != "" {
		b.WriteString(d.Parent)
		b.WriteString("::")
	}
	b.WriteString(d.Name)
	if d.Kind == "macro" {
		b.WriteByte('!')
	}
	return b.String()
}

// indexedDoc is the shape stored in the search index.
type indexedDoc struct {
	NameLC string `json:"name_lc"`
	Desc   string `json:"desc"`
}

const (
	docsRoot       = "https://doc.rust-lang.org/"
	docsLineWidth  = 80
	docsSearchSize = 500
)

// Docs searches an in-memory index of documentation items.
type Docs struct {
	index   bleve.Index
	items   []DocItem
	parents map[string]string // parent name -> kind, for path rendering
	cache   *lru.Cache[string, string]
}

// LoadDocs reads a JSON array of DocItem from path and indexes it.
func LoadDocs(path string) (*Docs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read doc index: %w", err)
	}
	var items []DocItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode doc index %s: %w", path, err)
	}
	return NewDocs(items)
}

// NewDocs indexes items in memory.
func NewDocs(items []DocItem) (*Docs, error) {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("name_lc", nameField)

	descField := bleve.NewTextFieldMapping()
	docMapping.AddFieldMappingsAt("desc", descField)

	indexMapping.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("create doc index: %w", err)
	}

	batch := index.NewBatch()
	parents := make(map[string]string)
	for i, item := range items {
		doc := indexedDoc{NameLC: strings.ToLower(item.Name), Desc: item.Desc}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			index.Close()
			return nil, fmt.Errorf("index doc item %q: %w", item.Name, err)
		}
		if item.Parent == "" {
			parents[item.Path+"::"+item.Name] = item.Kind
		}
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		return nil, fmt.Errorf("index doc items: %w", err)
	}

	cache, _ := lru.New[string, string](256)
	return &Docs{index: index, items: items, parents: parents, cache: cache}, nil
}

// Close releases the index.
func (d *Docs) Close() error {
	return d.index.Close()
}

// Len returns the number of indexed items.
func (d *Docs) Len() int {
	return len(d.items)
}

// Respond handles doc commands. The argument is a path like
// "std::collections::HashMap" or just "HashMap"; the last segment is matched
// against item names case-insensitively and earlier segments must appear,
// in order, in the item's path.
func (d *Docs) Respond(ctx context.Context, cmd command.Command) (Reply, error) {
	limit := 3
	if cmd.Private {
		limit = 10
	}
	key := strconv.Itoa(limit) + "\x00" + cmd.Args
	if text, ok := d.cache.Get(key); ok {
		return Reply{Text: text}, nil
	}

	text, err := d.search(ctx, cmd.Args, limit)
	if err != nil {
		return Reply{}, &CollaboratorError{Collaborator: "docs", Kind: FailureUpstream, Err: err}
	}
	d.cache.Add(key, text)
	return Reply{Text: text}, nil
}

func (d *Docs) search(ctx context.Context, arg string, limit int) (string, error) {
	var segments []string
	for _, s := range strings.Split(arg, "::") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return "(empty query)", nil
	}

	root := "std"
	switch segments[0] {
	case "std", "core", "alloc":
		root, segments = segments[0], segments[1:]
	}
	if len(segments) == 0 {
		return "(empty query)", nil
	}
	name := segments[len(segments)-1]
	levels := segments[:len(segments)-1]

	// Substring match on the lowercased name. User text is matched literally.
	q := bleve.NewRegexpQuery(".*" + regexp.QuoteMeta(strings.ToLower(name)) + ".*")
	q.SetField("name_lc")
	req := bleve.NewSearchRequest(q)
	req.Size = docsSearchSize

	res, err := d.index.SearchInContext(ctx, req)
	if err != nil {
		return "", err
	}

	var matched []DocItem
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(d.items) {
			continue
		}
		if item := d.items[i]; matchesPath(item, root, levels) {
			matched = append(matched, item)
		}
	}
	if len(matched) == 0 {
		return "(empty result)", nil
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if len(a.Name) != len(b.Name) {
			return len(a.Name) < len(b.Name)
		}
		if (a.Desc == "") != (b.Desc == "") {
			return a.Desc != ""
		}
		if ra, rb := kindRank(a.Kind), kindRank(b.Kind); ra != rb {
			return ra < rb
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Parent < b.Parent
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	var b strings.Builder
	for _, item := range matched {
		b.WriteString(d.formatItem(item))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func kindRank(kind string) int {
	switch kind {
	case "keyword":
		return 0
	case "primitive":
		return 1
	default:
		return 2
	}
}

// matchesPath checks that the item lives under root and that every query
// level appears, in order, in its path.
func matchesPath(item DocItem, root string, levels []string) bool {
	parts := strings.Split(item.Path, "::")
	if item.Parent != "" {
		parts = append(parts, item.Parent)
	}
	if len(parts) == 0 || parts[0] != root {
		return false
	}
	rest := parts[1:]
	for _, level := range levels {
		found := false
		for len(rest) > 0 {
			part := rest[0]
			rest = rest[1:]
			if strings.Contains(part, level) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (d *Docs) formatItem(item DocItem) string {
	parentKind := ""
	if item.Parent != "" {
		parentKind = d.parents[item.Path+"::"+item.Parent]
	}
	path := item.fullPath(parentKind == "keyword" || parentKind == "primitive")

	var b strings.Builder
	fmt.Fprintf(&b, `<a href="%s">%s</a>`, escapeAttr(docsRoot+item.URL), escapeText(path))

	typeStr := ""
	switch item.Kind {
	case "keyword":
		typeStr = " (keyword)"
	case "primitive":
		typeStr = " (primitive type)"
	}
	b.WriteString(typeStr)

	const sep = " - "
	remaining := docsLineWidth - stringWidth(path) - stringWidth(typeStr) - len(sep)
	if item.Desc != "" && remaining > 0 {
		b.WriteString(sep)
		b.WriteString(escapeText(truncateOutput(item.Desc, 1, remaining)))
	}
	return b.String()
}
