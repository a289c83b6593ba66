package scrape

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	localMaxBody = 512 << 10
	localMinBody = 100
	localAgent   = "Mozilla/5.0 (compatible; DirectoryBot/1.0; +https://directory.sells-group.com/bot)"
)

// LocalScraper fetches a page directly and renders it to text. Blocked or
// empty pages fail so the chain can move to a rendering service.
type LocalScraper struct {
	client *http.Client
}

func NewLocalScraper() *LocalScraper {
	return &LocalScraper{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (l *LocalScraper) Name() string        { return "local_http" }
func (l *LocalScraper) Supports(string) bool { return true }

func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: build request")
	}
	req.Header.Set("User-Agent", localAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, localMaxBody))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if bt := DetectBlock(resp, body); bt != BlockNone {
		return nil, eris.Errorf("local_http: blocked (%s)", bt)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}
	if len(body) < localMinBody {
		return nil, eris.New("local_http: empty page")
	}

	doc, err := parsePage(body)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse html")
	}
	if doc.text == "" {
		return nil, eris.New("local_http: empty page")
	}
	return &Result{
		Page: Page{
			URL:        targetURL,
			Title:      doc.title,
			Markdown:   doc.text,
			Image:      doc.image,
			StatusCode: resp.StatusCode,
		},
		Source: l.Name(),
	}, nil
}

// htmlPage is what the scraper keeps from a document.
type htmlPage struct {
	title string
	image string
	text  string
}

// Chrome and scripts carry no venue facts.
var skipElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Nav: true, atom.Footer: true, atom.Svg: true, atom.Iframe: true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Header: true,
	atom.Main: true, atom.Aside: true, atom.Br: true, atom.Tr: true, atom.Table: true,
	atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Blockquote: true, atom.Address: true,
}

var headingPrefix = map[atom.Atom]string{
	atom.H1: "# ", atom.H2: "## ", atom.H3: "### ", atom.H4: "#### ", atom.H5: "##### ", atom.H6: "###### ",
}

// parsePage extracts the title, og:image and readable body text. Headings
// and list items keep a light markdown shape.
func parsePage(body []byte) (htmlPage, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return htmlPage{}, err
	}

	var (
		p   htmlPage
		out strings.Builder
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			out.WriteString(n.Data)
			return
		case html.ElementNode:
			switch {
			case n.DataAtom == atom.Title:
				if p.title == "" && n.FirstChild != nil {
					p.title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case n.DataAtom == atom.Meta:
				if p.image == "" && attr(n, "property") == "og:image" {
					p.image = strings.TrimSpace(attr(n, "content"))
				}
				return
			case skipElements[n.DataAtom]:
				return
			}
			if prefix, ok := headingPrefix[n.DataAtom]; ok {
				out.WriteString("\n\n" + prefix)
				defer out.WriteString("\n\n")
			} else if n.DataAtom == atom.Li {
				out.WriteString("\n- ")
			} else if blockElements[n.DataAtom] {
				out.WriteString("\n")
				defer out.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	p.text = tidyText(out.String())
	return p, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// tidyText collapses runs of whitespace inside lines and allows at most one
// blank line between paragraphs.
func tidyText(s string) string {
	var b strings.Builder
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" || line == "-" || strings.Trim(line, "# ") == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
			if blank {
				b.WriteString("\n")
			}
		}
		b.WriteString(line)
		blank = false
	}
	return b.String()
}
