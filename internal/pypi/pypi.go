// Package pypi provides a source connector for pypi.org.
//
// PyPI has no paged listing API, so a page here is a window over the simple
// index (PEP 691 JSON form) with one metadata fetch per project in the
// window. The index is cached between pages of the same cycle.
package pypi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stackscout/stackscout/client"
	"github.com/stackscout/stackscout/internal/core"
)

const (
	DefaultURL = "https://pypi.org"
	source     = core.SourcePyPI

	simpleIndexAccept = "application/vnd.pypi.simple.v1+json"
	pageSize          = 25
	indexTTL          = time.Hour
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

	mu           sync.Mutex
	indexNames   []string
	indexFetched time.Time
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

type simpleIndexResponse struct {
	Projects []struct {
		Name string `json:"name"`
	} `json:"projects"`
}

type packageResponse struct {
	Info            infoBlock                `json:"info"`
	Releases        map[string][]releaseFile `json:"releases"`
	Vulnerabilities []vulnerability          `json:"vulnerabilities"`
}

type infoBlock struct {
	Name              string            `json:"name"`
	Summary           string            `json:"summary"`
	HomePage          string            `json:"home_page"`
	License           string            `json:"license"`
	LicenseExpression string            `json:"license_expression"`
	Version           string            `json:"version"`
	Classifiers       []string          `json:"classifiers"`
	ProjectURLs       map[string]string `json:"project_urls"`
}

type releaseFile struct {
	UploadTime string `json:"upload_time"`
	Yanked     bool   `json:"yanked"`
}

type vulnerability struct {
	ID        string   `json:"id"`
	Aliases   []string `json:"aliases"`
	Withdrawn *string  `json:"withdrawn"`
}

// FetchPage returns one window of the simple index, fetching full metadata
// per project. Cursor is a decimal offset; empty means the first window.
// Projects that vanish between the index fetch and the detail fetch are
// skipped, not errors.
func (c *Connector) FetchPage(ctx context.Context, cursor string) ([]core.RawRecord, string, error) {
	offset, err := parseCursor(cursor)
	if err != nil {
		return nil, "", &core.FatalSourceError{Source: source, Reason: fmt.Sprintf("bad cursor %q", cursor)}
	}

	names, err := c.indexSlice(ctx, offset, pageSize)
	if err != nil {
		return nil, "", err
	}

	records := make([]core.RawRecord, 0, len(names))
	for _, name := range names {
		raw, err := c.FetchOne(ctx, name)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		records = append(records, *raw)
	}

	next := ""
	if c.indexLen() > offset+pageSize {
		next = strconv.Itoa(offset + pageSize)
	}
	return records, next, nil
}

// FetchOne retrieves a single project's metadata.
func (c *Connector) FetchOne(ctx context.Context, name string) (*core.RawRecord, error) {
	url := fmt.Sprintf("%s/pypi/%s/json", c.baseURL, name)

	var resp packageResponse
	if err := c.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, core.ClassifyFetchError(source, err)
	}

	raw := core.RawRecord{
		Name:        resp.Info.Name,
		Version:     resp.Info.Version,
		Description: resp.Info.Summary,
		License:     extractLicense(resp.Info),
		Homepage:    extractHomepage(resp.Info.ProjectURLs, resp.Info.HomePage),
		Repository:  extractRepoURL(resp.Info.ProjectURLs, resp.Info.HomePage),
	}

	if t, ok := latestUpload(resp.Releases); ok {
		raw.LastReleaseAt = &t
	}
	if n, ok := releasesSince(resp.Releases, time.Now().AddDate(-1, 0, 0)); ok {
		raw.ReleasesLastYear = &n
	}

	vulns := 0
	for _, v := range resp.Vulnerabilities {
		if v.Withdrawn == nil {
			vulns++
		}
	}
	raw.Vulnerabilities = &vulns

	return &raw, nil
}

// indexSlice returns names[offset:offset+n] of the cached simple index,
// refetching when the cache has aged out.
func (c *Connector) indexSlice(ctx context.Context, offset, n int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexNames == nil || time.Since(c.indexFetched) > indexTTL {
		var resp simpleIndexResponse
		url := c.baseURL + "/simple/"
		if err := c.client.GetJSONAs(ctx, url, simpleIndexAccept, &resp); err != nil {
			return nil, core.ClassifyFetchError(source, err)
		}
		names := make([]string, 0, len(resp.Projects))
		for _, p := range resp.Projects {
			if p.Name != "" {
				names = append(names, p.Name)
			}
		}
		// The index is served in an arbitrary order; sort so cursors stay
		// stable across re-fetches within a cycle.
		sort.Strings(names)
		c.indexNames = names
		c.indexFetched = time.Now()
	}

	if offset >= len(c.indexNames) {
		return nil, nil
	}
	end := offset + n
	if end > len(c.indexNames) {
		end = len(c.indexNames)
	}
	return c.indexNames[offset:end], nil
}

func (c *Connector) indexLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.indexNames)
}

func parseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad cursor")
	}
	return n, nil
}

// latestUpload finds the newest non-yanked file upload across all releases.
func latestUpload(releases map[string][]releaseFile) (time.Time, bool) {
	var latest time.Time
	for _, files := range releases {
		for _, f := range files {
			if f.Yanked || f.UploadTime == "" {
				continue
			}
			t, err := time.Parse("2006-01-02T15:04:05", f.UploadTime)
			if err != nil {
				continue
			}
			if t.After(latest) {
				latest = t
			}
		}
	}
	return latest, !latest.IsZero()
}

// releasesSince counts release versions whose first file upload is after
// cutoff. Returns ok=false when no release carries a usable timestamp.
func releasesSince(releases map[string][]releaseFile, cutoff time.Time) (int, bool) {
	count := 0
	sawTimestamp := false
	for _, files := range releases {
		for _, f := range files {
			if f.UploadTime == "" {
				continue
			}
			t, err := time.Parse("2006-01-02T15:04:05", f.UploadTime)
			if err != nil {
				continue
			}
			sawTimestamp = true
			if t.After(cutoff) {
				count++
			}
			break
		}
	}
	return count, sawTimestamp
}

func extractLicense(info infoBlock) string {
	if info.LicenseExpression != "" {
		return info.LicenseExpression
	}
	if info.License != "" {
		return info.License
	}

	for _, classifier := range info.Classifiers {
		if strings.HasPrefix(classifier, "License :: ") {
			parts := strings.Split(classifier, " :: ")
			if len(parts) > 0 {
				return parts[len(parts)-1]
			}
		}
	}

	return ""
}

func extractHomepage(projectURLs map[string]string, homePage string) string {
	if homePage != "" {
		return homePage
	}
	if url, ok := projectURLs["Homepage"]; ok {
		return url
	}
	if url, ok := projectURLs["Home"]; ok {
		return url
	}
	return ""
}

func extractRepoURL(projectURLs map[string]string, homePage string) string {
	priorityKeys := []string{"Repository", "Source", "Source Code", "Code"}
	for _, key := range priorityKeys {
		if url, ok := projectURLs[key]; ok && url != "" {
			if isRepoURL(url) {
				return url
			}
		}
	}

	for _, url := range projectURLs {
		if isRepoURL(url) && !strings.Contains(url, "github.com/sponsors") {
			return url
		}
	}

	if isRepoURL(homePage) {
		return homePage
	}

	return ""
}

func isRepoURL(url string) bool {
	return strings.Contains(url, "github.com") ||
		strings.Contains(url, "gitlab.com") ||
		strings.Contains(url, "bitbucket.org") ||
		strings.Contains(url, "codeberg.org")
}

type URLs struct {
	baseURL string
}

func (u *URLs) Registry(name, version string) string {
	if version != "" {
		return fmt.Sprintf("%s/project/%s/%s/", u.baseURL, name, version)
	}
	return fmt.Sprintf("%s/project/%s/", u.baseURL, name)
}

func (u *URLs) Documentation(name, version string) string {
	return fmt.Sprintf("https://%s.readthedocs.io/", name)
}

func (u *URLs) PURL(name, version string) string {
	if version != "" {
		return fmt.Sprintf("pkg:pypi/%s@%s", name, version)
	}
	return fmt.Sprintf("pkg:pypi/%s", name)
}
