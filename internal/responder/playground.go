package responder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/roach88/evalbot/internal/command"
)

// DefaultPlaygroundURL is the public Rust playground.
const DefaultPlaygroundURL = "https://play.rust-lang.org"

const defaultEdition = "2021"

var (
	reErrorCode = regexp.MustCompile(`^error\[(E\d{4})\]:`)
	reBackticks = regexp.MustCompile("`(.+?)`")
	reIssue     = regexp.MustCompile(`\(see issue #(\d+)\)`)
)

// Playground evaluates code and reports compiler versions through a
// play.rust-lang.org compatible sandbox.
type Playground struct {
	baseURL string
	client  httpClient
}

// NewPlayground creates a playground collaborator. An empty baseURL uses
// DefaultPlaygroundURL; a nil client uses a default http.Client.
func NewPlayground(baseURL string, hc *http.Client) *Playground {
	if baseURL == "" {
		baseURL = DefaultPlaygroundURL
	}
	return &Playground{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient("playground", hc),
	}
}

type executeRequest struct {
	Channel   string `json:"channel"`
	Edition   string `json:"edition"`
	Mode      string `json:"mode"`
	CrateType string `json:"crateType"`
	Tests     bool   `json:"tests"`
	Backtrace bool   `json:"backtrace"`
	Code      string `json:"code"`
}

type executeResponse struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

type versionResponse struct {
	Version string `json:"version"`
	Hash    string `json:"hash"`
	Date    string `json:"date"`
}

// Respond handles eval and version commands.
func (p *Playground) Respond(ctx context.Context, cmd command.Command) (Reply, error) {
	channel := cmd.Option("channel", "stable")

	if cmd.Kind == command.KindVersion || cmd.Enabled("version") {
		text, err := p.Version(ctx, channel)
		return Reply{Text: text}, err
	}
	if strings.TrimSpace(cmd.Args) == "" {
		// Nothing to run; the command is tracked without a reply.
		return Reply{}, nil
	}

	req := executeRequest{
		Channel:   channel,
		Edition:   cmd.Option("edition", defaultEdition),
		Mode:      cmd.Option("mode", "debug"),
		CrateType: "bin",
		Code:      wrapCode(cmd.Args, cmd.Enabled("bare"), cmd.Enabled("raw")),
	}
	var resp executeResponse
	if _, err := p.client.postJSON(ctx, p.baseURL+"/execute", req, &resp); err != nil {
		return Reply{}, err
	}
	return Reply{Text: formatExecution(resp, channel, cmd.Private)}, nil
}

// Version returns "rustc X (hash date)" for a release channel.
func (p *Playground) Version(ctx context.Context, channel string) (string, error) {
	var v versionResponse
	if _, err := p.client.getJSON(ctx, p.baseURL+"/meta/version/"+url.PathEscape(channel), &v); err != nil {
		return "", err
	}
	hash := v.Hash
	if len(hash) > 9 {
		hash = hash[:9]
	}
	return fmt.Sprintf("rustc %s (%s %s)", v.Version, hash, v.Date), nil
}

func formatExecution(resp executeResponse, channel string, private bool) string {
	if resp.Success {
		output := strings.TrimSpace(resp.Stdout)
		if !private {
			output = truncateOutput(output, groupMaxLines, groupMaxColumns)
		}
		if output == "" {
			return "(no output)"
		}
		return "<pre>" + escapeText(output) + "</pre>"
	}

	line, ok := firstErrorLine(resp.Stderr)
	if !ok {
		return "(nothing??)"
	}
	line = escapeText(line)
	if m := reErrorCode.FindStringSubmatchIndex(line); m != nil {
		code := line[m[2]:m[3]]
		link := fmt.Sprintf("https://doc.rust-lang.org/%s/error-index.html#%s", channel, code)
		line = fmt.Sprintf(`error<a href="%s">[%s]</a>:`, escapeAttr(link), code) + line[m[1]:]
	}
	line = reBackticks.ReplaceAllString(line, "<code>$1</code>")
	if m := reIssue.FindStringSubmatchIndex(line); m != nil {
		num := line[m[2]:m[3]]
		link := "https://github.com/rust-lang/rust/issues/" + num
		line = line[:m[0]] + fmt.Sprintf(`(see issue <a href="%s">#%s</a>)`, link, num) + line[m[1]:]
	}
	return line
}

// firstErrorLine picks the line of compiler output worth showing: the first
// line starting with "error", or failing that the first non-noise line.
func firstErrorLine(stderr string) (string, bool) {
	var fallback string
	found := false
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" ||
			strings.HasPrefix(line, "Compiling") ||
			strings.HasPrefix(line, "Finished") ||
			strings.HasPrefix(line, "Running") {
			continue
		}
		if strings.HasPrefix(line, "error") {
			return line, true
		}
		if !found {
			fallback, found = line, true
		}
	}
	return fallback, found
}
