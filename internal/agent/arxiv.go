package agent

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Tool and API constants for the arXiv paper search.
const (
	ArxivToolName = "search_arxiv"

	arxivAPIURL = "http://export.arxiv.org/api/query"

	// arXiv asks clients to keep result sets small and paced.
	defaultMaxResults = 5
	maxAllowedResults = 20

	arxivRequestTimeout = 30 * time.Second
	maxResponseSize     = 4 << 20 // 4 MiB
)

// ArxivSearchInput is the model-facing input schema for the tool.
type ArxivSearchInput struct {
	Query      string `json:"query" jsonschema_description:"Search terms, e.g. a topic, paper title, or author name"`
	MaxResults int    `json:"max_results,omitempty" jsonschema_description:"Number of papers to return (default 5, max 20)"`
}

// ArxivPaper is one search hit.
type ArxivPaper struct {
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Summary   string   `json:"summary"`
	Published string   `json:"published"`
	URL       string   `json:"url"`
}

// ArxivSearchOutput is returned to the model as the tool result.
type ArxivSearchOutput struct {
	Query  string       `json:"query"`
	Papers []ArxivPaper `json:"papers"`
}

// ArxivClient searches the arXiv Atom API.
//
// ArxivClient is safe for concurrent use.
type ArxivClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewArxivClient creates a client against the public arXiv API.
// baseURL overrides the API endpoint; empty uses the default.
func NewArxivClient(baseURL string, logger *slog.Logger) *ArxivClient {
	if baseURL == "" {
		baseURL = arxivAPIURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArxivClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: arxivRequestTimeout},
		logger:  logger,
	}
}

// RegisterArxivTool defines the paper-search tool with Genkit and
// returns it for attachment to generate calls.
func RegisterArxivTool(g *genkit.Genkit, client *ArxivClient) ai.Tool {
	return genkit.DefineTool(g, ArxivToolName,
		"Search arXiv for academic papers. "+
			"Returns title, authors, abstract, publication date, and link for each match. "+
			"Use this whenever the user asks about research papers, publications, or the state of a research topic.",
		func(ctx *ai.ToolContext, input ArxivSearchInput) (ArxivSearchOutput, error) {
			return client.Search(ctx.Context, input)
		})
}

// Search queries the arXiv API and returns matching papers.
func (c *ArxivClient) Search(ctx context.Context, input ArxivSearchInput) (ArxivSearchOutput, error) {
	out := ArxivSearchOutput{Query: input.Query}
	if strings.TrimSpace(input.Query) == "" {
		return out, fmt.Errorf("query must not be empty")
	}

	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxAllowedResults {
		maxResults = maxAllowedResults
	}

	params := url.Values{}
	params.Set("search_query", "all:"+input.Query)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprintf("%d", maxResults))
	params.Set("sortBy", "relevance")

	reqURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return out, fmt.Errorf("building arxiv request: %w", err)
	}

	c.logger.Debug("searching arxiv", "query", input.Query, "max_results", maxResults)

	resp, err := c.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("querying arxiv: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("closing arxiv response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("arxiv returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return out, fmt.Errorf("reading arxiv response: %w", err)
	}

	papers, err := parseAtomFeed(body)
	if err != nil {
		return out, err
	}

	c.logger.Debug("arxiv search complete", "query", input.Query, "hits", len(papers))
	out.Papers = papers
	return out, nil
}

// Atom feed structures for the arXiv API response.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	ID        string       `xml:"id"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// parseAtomFeed extracts papers from an arXiv Atom response.
func parseAtomFeed(data []byte) ([]ArxivPaper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parsing arxiv feed: %w", err)
	}

	papers := make([]ArxivPaper, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		paper := ArxivPaper{
			Title:     collapseWhitespace(entry.Title),
			Summary:   collapseWhitespace(entry.Summary),
			Published: entry.Published,
			URL:       entry.ID,
		}
		for _, author := range entry.Authors {
			paper.Authors = append(paper.Authors, author.Name)
		}
		// Prefer the alternate link over the feed entry ID.
		for _, link := range entry.Links {
			if link.Rel == "alternate" && link.Href != "" {
				paper.URL = link.Href
				break
			}
		}
		papers = append(papers, paper)
	}
	return papers, nil
}

// collapseWhitespace normalizes the newline-wrapped text arXiv returns.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
