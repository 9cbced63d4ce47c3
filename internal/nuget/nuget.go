// Package nuget provides a source connector for the NuGet v3 search API.
package nuget

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/stackscout/stackscout/client"
	"github.com/stackscout/stackscout/internal/core"
)

const (
	DefaultURL = "https://azuresearch-usnc.nuget.org"
	source     = core.SourceNuGet

	pageSize = 50
)

func init() {
	core.Register(source, DefaultURL, func(baseURL string, c *client.Client) core.Connector {
		return New(baseURL, c)
	})
}

type Connector struct {
	baseURL string
	client  *client.Client
	urls    *URLs
}

func New(baseURL string, c *client.Client) *Connector {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	conn := &Connector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  c,
	}
	conn.urls = &URLs{}
	return conn
}

func (c *Connector) Source() core.Source {
	return source
}

func (c *Connector) URLs() client.URLBuilder {
	return c.urls
}

type searchResponse struct {
	TotalHits int          `json:"totalHits"`
	Data      []searchItem `json:"data"`
}

type searchItem struct {
	ID             string   `json:"id"`
	Version        string   `json:"version"`
	Description    string   `json:"description"`
	Authors        any      `json:"authors"` // string or []string
	LicenseURL     string   `json:"licenseUrl"`
	ProjectURL     string   `json:"projectUrl"`
	TotalDownloads int64    `json:"totalDownloads"`
	Verified       bool     `json:"verified"`
	Versions       []struct {
		Version string `json:"version"`
	} `json:"versions"`
}

// FetchPage walks the search service. Cursor is the skip offset. The search
// response exposes no publish dates or license expressions; recency,
// frequency, and license come back defaulted.
func (c *Connector) FetchPage(ctx context.Context, cursor string) ([]core.RawRecord, string, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", &core.FatalSourceError{Source: source, Reason: fmt.Sprintf("bad cursor %q", cursor)}
		}
		offset = n
	}

	searchURL := fmt.Sprintf("%s/query?q=&skip=%d&take=%d&prerelease=false",
		c.baseURL, offset, pageSize)

	var resp searchResponse
	if err := c.client.GetJSON(ctx, searchURL, &resp); err != nil {
		return nil, "", core.ClassifyFetchError(source, err)
	}

	records := make([]core.RawRecord, 0, len(resp.Data))
	for _, item := range resp.Data {
		records = append(records, itemToRaw(item))
	}

	next := ""
	if offset+len(resp.Data) < resp.TotalHits && len(resp.Data) > 0 {
		next = strconv.Itoa(offset + len(resp.Data))
	}
	return records, next, nil
}

// FetchOne retrieves a single package through the exact-id query form.
func (c *Connector) FetchOne(ctx context.Context, name string) (*core.RawRecord, error) {
	searchURL := fmt.Sprintf("%s/query?q=%s&take=1&prerelease=false",
		c.baseURL, url.QueryEscape("packageid:"+name))

	var resp searchResponse
	if err := c.client.GetJSON(ctx, searchURL, &resp); err != nil {
		return nil, core.ClassifyFetchError(source, err)
	}
	if len(resp.Data) == 0 {
		return nil, core.ErrNotFound
	}

	raw := itemToRaw(resp.Data[0])
	return &raw, nil
}

func itemToRaw(item searchItem) core.RawRecord {
	raw := core.RawRecord{
		Name:        item.ID,
		Version:     item.Version,
		Description: item.Description,
		Homepage:    item.ProjectURL,
		Repository:  repoFromProjectURL(item.ProjectURL),
	}
	if n := len(authorList(item.Authors)); n > 0 {
		raw.Contributors = &n
	}
	return raw
}

// authorList handles both author field shapes the API serves.
func authorList(v any) []string {
	switch a := v.(type) {
	case string:
		if a == "" {
			return nil
		}
		parts := strings.Split(a, ",")
		authors := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				authors = append(authors, p)
			}
		}
		return authors
	case []any:
		authors := make([]string, 0, len(a))
		for _, e := range a {
			if s, ok := e.(string); ok && s != "" {
				authors = append(authors, s)
			}
		}
		return authors
	}
	return nil
}

func repoFromProjectURL(projectURL string) string {
	if strings.Contains(projectURL, "github.com") ||
		strings.Contains(projectURL, "gitlab.com") ||
		strings.Contains(projectURL, "bitbucket.org") {
		return projectURL
	}
	return ""
}

type URLs struct{}

func (u *URLs) Registry(name, version string) string {
	if version != "" {
		return fmt.Sprintf("https://www.nuget.org/packages/%s/%s", name, version)
	}
	return fmt.Sprintf("https://www.nuget.org/packages/%s", name)
}

func (u *URLs) Documentation(name, version string) string {
	return fmt.Sprintf("https://www.nuget.org/packages/%s", name)
}

func (u *URLs) PURL(name, version string) string {
	if version != "" {
		return fmt.Sprintf("pkg:nuget/%s@%s", name, version)
	}
	return fmt.Sprintf("pkg:nuget/%s", name)
}
