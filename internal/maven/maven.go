// Package maven provides a source connector for Maven Central via the
// search.maven.org Solr API.
package maven

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
	DefaultURL = "https://search.maven.org"
	source     = core.SourceMaven

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

type solrResponse struct {
	Response struct {
		NumFound int       `json:"numFound"`
		Docs     []solrDoc `json:"docs"`
	} `json:"response"`
}

type solrDoc struct {
	ID            string `json:"id"` // "groupId:artifactId"
	Group         string `json:"g"`
	Artifact      string `json:"a"`
	LatestVersion string `json:"latestVersion"`
	Timestamp     int64  `json:"timestamp"` // ms since epoch, last release
	VersionCount  int    `json:"versionCount"`
}

// FetchPage walks the Solr index. Cursor is the Solr start offset. The Solr
// API exposes no license, description, or issue data, so those signals come
// back defaulted.
func (c *Connector) FetchPage(ctx context.Context, cursor string) ([]core.RawRecord, string, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", &core.FatalSourceError{Source: source, Reason: fmt.Sprintf("bad cursor %q", cursor)}
		}
		offset = n
	}

	searchURL := fmt.Sprintf("%s/solrsearch/select?q=*:*&rows=%d&start=%d&wt=json",
		c.baseURL, pageSize, offset)

	var resp solrResponse
	if err := c.client.GetJSON(ctx, searchURL, &resp); err != nil {
		return nil, "", core.ClassifyFetchError(source, err)
	}

	records := make([]core.RawRecord, 0, len(resp.Response.Docs))
	for _, doc := range resp.Response.Docs {
		records = append(records, docToRaw(doc))
	}

	next := ""
	if offset+len(resp.Response.Docs) < resp.Response.NumFound && len(resp.Response.Docs) > 0 {
		next = strconv.Itoa(offset + len(resp.Response.Docs))
	}
	return records, next, nil
}

// FetchOne retrieves one artifact by its "groupId:artifactId" coordinates.
func (c *Connector) FetchOne(ctx context.Context, name string) (*core.RawRecord, error) {
	group, artifact, ok := strings.Cut(name, ":")
	if !ok {
		return nil, &core.MalformedRecordError{Source: source, Reason: fmt.Sprintf("maven names are groupId:artifactId, got %q", name)}
	}

	query := fmt.Sprintf(`g:"%s" AND a:"%s"`, group, artifact)
	searchURL := fmt.Sprintf("%s/solrsearch/select?q=%s&rows=1&wt=json",
		c.baseURL, url.QueryEscape(query))

	var resp solrResponse
	if err := c.client.GetJSON(ctx, searchURL, &resp); err != nil {
		return nil, core.ClassifyFetchError(source, err)
	}
	if len(resp.Response.Docs) == 0 {
		return nil, core.ErrNotFound
	}

	raw := docToRaw(resp.Response.Docs[0])
	return &raw, nil
}

func docToRaw(doc solrDoc) core.RawRecord {
	name := doc.ID
	if name == "" && doc.Group != "" {
		name = doc.Group + ":" + doc.Artifact
	}

	raw := core.RawRecord{
		Name:    name,
		Version: doc.LatestVersion,
	}
	if doc.Timestamp > 0 {
		t := time.UnixMilli(doc.Timestamp).UTC()
		raw.LastReleaseAt = &t
	}
	return raw
}

type URLs struct{}

func (u *URLs) Registry(name, version string) string {
	group, artifact, ok := strings.Cut(name, ":")
	if !ok {
		return ""
	}
	if version != "" {
		return fmt.Sprintf("https://central.sonatype.com/artifact/%s/%s/%s", group, artifact, version)
	}
	return fmt.Sprintf("https://central.sonatype.com/artifact/%s/%s", group, artifact)
}

func (u *URLs) Documentation(name, version string) string {
	group, artifact, ok := strings.Cut(name, ":")
	if !ok {
		return ""
	}
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("https://javadoc.io/doc/%s/%s/%s", group, artifact, version)
}

func (u *URLs) PURL(name, version string) string {
	group, artifact, ok := strings.Cut(name, ":")
	if !ok {
		return fmt.Sprintf("pkg:maven/%s", name)
	}
	if version != "" {
		return fmt.Sprintf("pkg:maven/%s/%s@%s", group, artifact, version)
	}
	return fmt.Sprintf("pkg:maven/%s/%s", group, artifact)
}
