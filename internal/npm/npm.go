// Package npm provides a source connector for registry.npmjs.org.
package npm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stackscout/stackscout/client"
	"github.com/stackscout/stackscout/internal/core"
)

const (
	DefaultURL = "https://registry.npmjs.org"
	source     = core.SourceNPM

	pageSize = 50
	// The search endpoint requires a text parameter; this form matches the
	// whole catalog without boosting exact hits.
	catalogQuery = "boost-exact:false"
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
	conn.urls = &URLs{baseURL: conn.baseURL}
	return conn
}

func (c *Connector) Source() core.Source {
	return source
}

func (c *Connector) URLs() client.URLBuilder {
	return c.urls
}

type searchResponse struct {
	Objects []struct {
		Package searchPackage `json:"package"`
	} `json:"objects"`
	Total int `json:"total"`
}

type searchPackage struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Date        string            `json:"date"`
	Links       map[string]string `json:"links"`
	Maintainers []maintainerInfo  `json:"maintainers"`
}

type maintainerInfo struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

type packageResponse struct {
	ID          string                 `json:"_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Homepage    any                    `json:"homepage"`
	Repository  any                    `json:"repository"`
	Versions    map[string]versionInfo `json:"versions"`
	Time        map[string]string      `json:"time"`
	Maintainers []maintainerInfo       `json:"maintainers"`
	DistTags    map[string]string      `json:"dist-tags"`
}

type versionInfo struct {
	Version     string `json:"version"`
	Description string `json:"description"`
	License     any    `json:"license"`
	Homepage    any    `json:"homepage"`
	Repository  any    `json:"repository"`
}

// FetchPage walks the search endpoint. Cursor is a decimal offset into the
// result set; the endpoint itself guarantees stable paging for a fixed
// query, which keeps re-fetches of one cursor idempotent.
//
// Search results omit license and release history; those signals come back
// defaulted and the scorer de-weights them. FetchOne retrieves the full
// document when a single package is collected on demand.
func (c *Connector) FetchPage(ctx context.Context, cursor string) ([]core.RawRecord, string, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", &core.FatalSourceError{Source: source, Reason: fmt.Sprintf("bad cursor %q", cursor)}
		}
		offset = n
	}

	searchURL := fmt.Sprintf("%s/-/v1/search?text=%s&size=%d&from=%d",
		c.baseURL, url.QueryEscape(catalogQuery), pageSize, offset)

	var resp searchResponse
	if err := c.client.GetJSON(ctx, searchURL, &resp); err != nil {
		return nil, "", core.ClassifyFetchError(source, err)
	}

	records := make([]core.RawRecord, 0, len(resp.Objects))
	for _, obj := range resp.Objects {
		pkg := obj.Package
		raw := core.RawRecord{
			Name:        pkg.Name,
			Version:     pkg.Version,
			Description: pkg.Description,
			Homepage:    pkg.Links["homepage"],
			Repository:  pkg.Links["repository"],
		}
		if t, err := time.Parse(time.RFC3339, pkg.Date); err == nil {
			raw.LastReleaseAt = &t
		}
		if n := len(pkg.Maintainers); n > 0 {
			raw.Contributors = &n
		}
		records = append(records, raw)
	}

	next := ""
	if offset+len(resp.Objects) < resp.Total && len(resp.Objects) > 0 {
		next = strconv.Itoa(offset + len(resp.Objects))
	}
	return records, next, nil
}

// FetchOne retrieves the full registry document for one package, which
// carries the license and the complete publish history the search endpoint
// leaves out.
func (c *Connector) FetchOne(ctx context.Context, name string) (*core.RawRecord, error) {
	docURL := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(name))

	var resp packageResponse
	if err := c.client.GetJSON(ctx, docURL, &resp); err != nil {
		return nil, core.ClassifyFetchError(source, err)
	}

	latestVersion := resp.DistTags["latest"]
	var latest versionInfo
	if latestVersion != "" {
		latest = resp.Versions[latestVersion]
	}

	raw := core.RawRecord{
		Name:        coalesce(resp.Name, resp.ID),
		Version:     latestVersion,
		Description: coalesce(latest.Description, resp.Description),
		License:     extractLicense(latest.License),
		Homepage:    extractString(coalesceAny(latest.Homepage, resp.Homepage)),
		Repository:  extractRepoURL(coalesceAny(latest.Repository, resp.Repository)),
	}

	if latestVersion != "" {
		if t, err := time.Parse(time.RFC3339, resp.Time[latestVersion]); err == nil {
			raw.LastReleaseAt = &t
		}
	}
	if n, ok := publishesSince(resp.Time, time.Now().AddDate(-1, 0, 0)); ok {
		raw.ReleasesLastYear = &n
	}
	if n := len(resp.Maintainers); n > 0 {
		raw.Contributors = &n
	}

	return &raw, nil
}

// publishesSince counts version publishes after cutoff. The time map also
// carries "created" and "modified" pseudo-entries, which are not releases.
func publishesSince(times map[string]string, cutoff time.Time) (int, bool) {
	count := 0
	sawTimestamp := false
	for version, stamp := range times {
		if version == "created" || version == "modified" {
			continue
		}
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			continue
		}
		sawTimestamp = true
		if t.After(cutoff) {
			count++
		}
	}
	return count, sawTimestamp
}

// extractLicense handles the two shapes npm documents use: a plain SPDX
// string or a {"type": ...} object from older publishes.
func extractLicense(v any) string {
	switch l := v.(type) {
	case string:
		return l
	case map[string]any:
		if t, ok := l["type"].(string); ok {
			return t
		}
	}
	return ""
}

// extractRepoURL handles string and {"url": ...} repository shapes, and
// strips the git+ prefix convention.
func extractRepoURL(v any) string {
	repo := ""
	switch r := v.(type) {
	case string:
		repo = r
	case map[string]any:
		if u, ok := r["url"].(string); ok {
			repo = u
		}
	}
	repo = strings.TrimPrefix(repo, "git+")
	repo = strings.TrimSuffix(repo, ".git")
	return repo
}

func extractString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func coalesceAny(a, b any) any {
	if a != nil {
		return a
	}
	return b
}

type URLs struct {
	baseURL string
}

func (u *URLs) Registry(name, version string) string {
	if version != "" {
		return fmt.Sprintf("https://www.npmjs.com/package/%s/v/%s", name, version)
	}
	return fmt.Sprintf("https://www.npmjs.com/package/%s", name)
}

func (u *URLs) Documentation(name, version string) string {
	return fmt.Sprintf("https://www.npmjs.com/package/%s", name)
}

func (u *URLs) PURL(name, version string) string {
	if version != "" {
		return fmt.Sprintf("pkg:npm/%s@%s", name, version)
	}
	return fmt.Sprintf("pkg:npm/%s", name)
}
