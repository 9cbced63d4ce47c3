package nuget

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stackscout/stackscout/client"
	"github.com/stackscout/stackscout/internal/core"
)

func TestFetchPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(404)
			return
		}
		if got := r.URL.Query().Get("prerelease"); got != "false" {
			t.Errorf("expected prerelease=false, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"totalHits": 100,
			"data": [
				{
					"id": "Newtonsoft.Json",
					"version": "13.0.3",
					"description": "Json.NET is a popular JSON framework",
					"authors": "James Newton-King",
					"projectUrl": "https://github.com/JamesNK/Newtonsoft.Json",
					"totalDownloads": 3000000000
				},
				{
					"id": "Serilog",
					"version": "3.1.1",
					"authors": ["Serilog Contributors", "Nicholas Blumhardt"],
					"projectUrl": "https://serilog.net"
				}
			]
		}`))
	}))
	defer server.Close()

	conn := New(server.URL, client.DefaultClient())
	records, next, err := conn.FetchPage(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.Name != "Newtonsoft.Json" || first.Version != "13.0.3" {
		t.Errorf("unexpected record: %+v", first)
	}
	// A GitHub project URL doubles as the repository.
	if first.Repository != "https://github.com/JamesNK/Newtonsoft.Json" {
		t.Errorf("unexpected repository: %q", first.Repository)
	}
	if first.Contributors == nil || *first.Contributors != 1 {
		t.Errorf("expected 1 author, got %v", first.Contributors)
	}

	second := records[1]
	if second.Contributors == nil || *second.Contributors != 2 {
		t.Errorf("expected 2 authors from list shape, got %v", second.Contributors)
	}
	if second.Repository != "" {
		t.Errorf("non-forge project URL must not become a repository, got %q", second.Repository)
	}

	if next != "2" {
		t.Errorf("expected next cursor 2, got %q", next)
	}
}

func TestFetchPageBadCursor(t *testing.T) {
	conn := New("http://127.0.0.1:0", client.DefaultClient())
	_, _, err := conn.FetchPage(context.Background(), "oops")

	var fatal *core.FatalSourceError
	if !errors.As(err, &fatal) {
		t.Errorf("expected FatalSourceError, got %v", err)
	}
}

func TestFetchOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "packageid:Newtonsoft.Json" {
			t.Errorf("unexpected query: %q", got)
		}
		_, _ = w.Write([]byte(`{"totalHits": 1, "data": [{"id": "Newtonsoft.Json", "version": "13.0.3"}]}`))
	}))
	defer server.Close()

	conn := New(server.URL, client.DefaultClient())
	raw, err := conn.FetchOne(context.Background(), "Newtonsoft.Json")
	if err != nil {
		t.Fatalf("FetchOne failed: %v", err)
	}
	if raw.Name != "Newtonsoft.Json" {
		t.Errorf("unexpected name: %q", raw.Name)
	}
}

func TestFetchOneNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalHits": 0, "data": []}`))
	}))
	defer server.Close()

	conn := New(server.URL, client.DefaultClient())
	_, err := conn.FetchOne(context.Background(), "Missing.Package")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthorListShapes(t *testing.T) {
	if got := authorList("a, b , ,c"); len(got) != 3 {
		t.Errorf("expected 3 authors, got %v", got)
	}
	if got := authorList([]any{"a", "", "b"}); len(got) != 2 {
		t.Errorf("expected 2 authors, got %v", got)
	}
	if got := authorList(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestURLs(t *testing.T) {
	conn := New("", client.DefaultClient())
	urls := conn.URLs()

	if got := urls.Registry("Newtonsoft.Json", "13.0.3"); got != "https://www.nuget.org/packages/Newtonsoft.Json/13.0.3" {
		t.Errorf("unexpected registry URL: %q", got)
	}
	if got := urls.PURL("Newtonsoft.Json", ""); got != "pkg:nuget/Newtonsoft.Json" {
		t.Errorf("unexpected PURL: %q", got)
	}
}
