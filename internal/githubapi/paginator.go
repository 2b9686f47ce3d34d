package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const maxErrorBodyBytes = 2048

// Page is one page of a paginated GitHub list response.
type Page struct {
	Items []json.RawMessage
	// TotalCount is populated for search-style envelope responses.
	TotalCount int
	Stats      CallStats
}

// Paginator lazily walks a paginated GitHub list endpoint.
//
// Link-header pagination follows the rel="next" URL verbatim, so the
// original query parameters are dropped once GitHub supplies a cursor.
// Endpoints without Link headers fall back to incrementing the page
// parameter until a short or empty page is returned.
type Paginator struct {
	client  *Client
	perPage int
}

// NewPaginator creates a paginator over the retrying request client.
func NewPaginator(client *Client, perPage int) *Paginator {
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}
	return &Paginator{client: client, perPage: perPage}
}

// Pages returns a lazy sequence of pages starting from startURL.
// Fetching stops as soon as the consumer stops ranging, so abandoned
// iterations cost no further API calls.
func (p *Paginator) Pages(ctx context.Context, startURL *url.URL) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		next := cloneURL(startURL)
		query := next.Query()
		query.Set("per_page", strconv.Itoa(p.perPage))
		if query.Get("page") == "" {
			query.Set("page", "1")
		}
		next.RawQuery = query.Encode()

		for {
			page, linkNext, err := p.fetchPage(ctx, next)
			if err != nil {
				yield(Page{}, err)
				return
			}
			if !yield(page, nil) {
				return
			}

			switch {
			case linkNext != "":
				parsed, parseErr := url.Parse(linkNext)
				if parseErr != nil {
					yield(Page{}, fmt.Errorf("parse next page link: %w", parseErr))
					return
				}
				next = parsed
			case len(page.Items) == 0 || len(page.Items) < p.perPage:
				return
			default:
				query := next.Query()
				pageNum, _ := strconv.Atoi(query.Get("page"))
				if pageNum <= 0 {
					pageNum = 1
				}
				query.Set("page", strconv.Itoa(pageNum+1))
				next.RawQuery = query.Encode()
			}
		}
	}
}

func (p *Paginator) fetchPage(ctx context.Context, pageURL *url.URL) (Page, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return Page{}, "", fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, stats, err := p.client.Do(req)
	if err != nil {
		return Page{}, "", err
	}
	if resp == nil {
		return Page{}, "", fmt.Errorf("page request failed: nil response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := readTruncatedBody(resp)
		return Page{}, "", &UpstreamError{Status: resp.StatusCode, Body: body}
	}

	page := Page{Stats: stats}
	if err := decodePageBody(resp, &page); err != nil {
		return Page{}, "", fmt.Errorf("decode page response: %w", err)
	}
	return page, parseLinkNext(resp.Header.Get("Link")), nil
}

func decodePageBody(resp *http.Response, page *Page) error {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	trimmed := strings.TrimLeftFunc(string(raw), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(raw, &page.Items)
	}

	var envelope struct {
		TotalCount int               `json:"total_count"`
		Items      []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	page.TotalCount = envelope.TotalCount
	page.Items = envelope.Items
	return nil
}

// parseLinkNext extracts the rel="next" URL from a Link header, or
// returns "" when there is no next page.
func parseLinkNext(linkHeader string) string {
	if strings.TrimSpace(linkHeader) == "" {
		return ""
	}
	for _, part := range strings.Split(linkHeader, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end < 0 || end <= start {
			continue
		}
		return part[start+1 : end]
	}
	return ""
}

func readTruncatedBody(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func cloneURL(source *url.URL) *url.URL {
	cloned := *source
	return &cloned
}
