package responder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/evalbot/internal/command"
)

// DefaultRegistryURL is the crates.io API root.
const DefaultRegistryURL = "https://crates.io"

// DefaultRegistryCacheSize bounds the number of cached registry answers.
const DefaultRegistryCacheSize = 512

// registryCacheTTL keeps cached answers from going stale for long.
const registryCacheTTL = 10 * time.Minute

// Registry looks up crates on a crates.io compatible registry.
//
// Without flags the argument is looked up by exact name. --keyword and
// --query list matching crates instead, ten in private chats and three
// elsewhere.
type Registry struct {
	baseURL string
	client  httpClient
	cache   *lru.Cache[string, cachedReply]
	now     func() time.Time
}

type cachedReply struct {
	text    string
	expires time.Time
}

// NewRegistry creates a registry collaborator.
func NewRegistry(baseURL string, hc *http.Client, cacheSize int) *Registry {
	if baseURL == "" {
		baseURL = DefaultRegistryURL
	}
	if cacheSize <= 0 {
		cacheSize = DefaultRegistryCacheSize
	}
	cache, _ := lru.New[string, cachedReply](cacheSize)
	return &Registry{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient("registry", hc),
		cache:   cache,
		now:     time.Now,
	}
}

type crateInfo struct {
	Crate crate `json:"crate"`
}

type crateList struct {
	Crates []crate `json:"crates"`
	Meta   struct {
		Total int `json:"total"`
	} `json:"meta"`
}

type crate struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   *string `json:"description"`
	MaxVersion    string  `json:"max_version"`
	Documentation *string `json:"documentation"`
	Repository    *string `json:"repository"`
}

// Respond handles crate commands.
func (r *Registry) Respond(ctx context.Context, cmd command.Command) (Reply, error) {
	query := strings.TrimSpace(cmd.Args)
	if query == "" {
		return Reply{}, nil
	}
	mode := cmd.Option("mode", "")
	limit := 3
	if cmd.Private {
		limit = 10
	}

	key := mode + "\x00" + strconv.Itoa(limit) + "\x00" + query
	if c, ok := r.cache.Get(key); ok && r.now().Before(c.expires) {
		return Reply{Text: c.text}, nil
	}

	var (
		text string
		err  error
	)
	if mode == "" {
		text, err = r.lookup(ctx, query)
	} else {
		text, err = r.search(ctx, mode, query, limit)
	}
	if err != nil {
		return Reply{}, err
	}
	r.cache.Add(key, cachedReply{text: text, expires: r.now().Add(registryCacheTTL)})
	return Reply{Text: text}, nil
}

func (r *Registry) lookup(ctx context.Context, name string) (string, error) {
	var info crateInfo
	status, err := r.client.getJSON(ctx, r.baseURL+"/api/v1/crates/"+url.PathEscape(name), &info)
	if status == http.StatusNotFound {
		return fmt.Sprintf("<b>%s</b> - not found", escapeText(name)), nil
	}
	if err != nil {
		return "", err
	}
	return formatCrate(info.Crate), nil
}

func (r *Registry) search(ctx context.Context, mode, query string, limit int) (string, error) {
	params := url.Values{}
	var more string
	switch mode {
	case "keyword":
		params.Set("keyword", query)
		params.Set("sort", "recent-downloads")
		more = "https://crates.io/keywords/" + url.PathEscape(query)
	default:
		params.Set("q", query)
		params.Set("sort", "relevance")
		more = "https://crates.io/search?q=" + url.QueryEscape(query)
	}
	params.Set("per_page", strconv.Itoa(limit))

	var list crateList
	if _, err := r.client.getJSON(ctx, r.baseURL+"/api/v1/crates?"+params.Encode(), &list); err != nil {
		return "", err
	}
	if len(list.Crates) == 0 {
		return "(none)", nil
	}

	var b strings.Builder
	for _, c := range list.Crates {
		b.WriteString(formatCrate(c))
		b.WriteByte('\n')
	}
	if len(list.Crates) < list.Meta.Total {
		fmt.Fprintf(&b, `<a href="%s">More...</a>`, escapeAttr(more))
	}
	return b.String(), nil
}

// formatCrate renders "<b>name</b> (version) - info - doc - repo - description".
func formatCrate(c crate) string {
	name := url.PathEscape(c.Name)
	docURL := "https://docs.rs/crate/" + name
	if c.Documentation != nil && *c.Documentation != "" {
		docURL = *c.Documentation
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<b>%s</b> (%s) - <a href="%s">info</a> - <a href="%s">doc</a>`,
		escapeText(c.Name),
		escapeText(c.MaxVersion),
		escapeAttr("https://crates.io/crates/"+name),
		escapeAttr(docURL))
	if c.Repository != nil && *c.Repository != "" {
		fmt.Fprintf(&b, ` - <a href="%s">repo</a>`, escapeAttr(*c.Repository))
	}
	if c.Description != nil {
		b.WriteString(" - ")
		b.WriteString(escapeText(strings.Join(strings.Fields(*c.Description), " ")))
	}
	return b.String()
}
