// Package huggingface implements objstore.Bucket on a Hugging Face dataset
// repository through the Hub HTTP API. Every write is one commit.
package huggingface

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/couchcryptid/nwp-consumer/internal/adapter/httpclient"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
)

// Bucket is one dataset repository at one revision.
type Bucket struct {
	client   *httpclient.Client
	endpoint string
	repo     string
	revision string
	token    string
}

// New creates a Bucket for the repository in cfg.
func New(cfg config.HuggingFace, client *httpclient.Client) *Bucket {
	return &Bucket{
		client:   client,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		repo:     cfg.RepoID,
		revision: cfg.Revision,
		token:    cfg.Token,
	}
}

func (b *Bucket) Name() string { return "hf://datasets/" + b.repo }

type commitOp struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type commitHeader struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type commitFile struct {
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return b.commit(ctx, "Upload "+key, commitOp{Key: "file", Value: commitFile{
		Path:     key,
		Content:  base64.StdEncoding.EncodeToString(data),
		Encoding: "base64",
	}})
}

func (b *Bucket) Get(ctx context.Context, key string, w io.Writer) error {
	resp, err := b.client.Do(ctx, b.request(http.MethodGet, b.resolveURL(key), "", nil))
	if err != nil {
		if errors.Is(err, domain.ErrNotPublished) {
			return fmt.Errorf("%s: %w", key, domain.ErrNotExist)
		}
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func (b *Bucket) Stat(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	resp, err := b.client.Do(ctx, b.request(http.MethodHead, b.resolveURL(key), "", nil))
	if err != nil {
		if errors.Is(err, domain.ErrNotPublished) {
			return false, nil
		}
		return false, err
	}
	resp.Body.Close()
	return true, nil
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

var nextLink = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// List walks the repository tree below the folder containing prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	dir := strings.TrimSuffix(prefix, "/")
	if !strings.HasSuffix(prefix, "/") {
		dir = path.Dir(prefix)
	}
	if dir == "." {
		dir = ""
	}
	u := fmt.Sprintf("%s/api/datasets/%s/tree/%s/%s?recursive=true",
		b.endpoint, b.repo, url.PathEscape(b.revision), escapePath(dir))

	var keys []string
	for u != "" {
		resp, err := b.client.Do(ctx, b.request(http.MethodGet, u, "", nil))
		if err != nil {
			if errors.Is(err, domain.ErrNotPublished) {
				return keys, nil
			}
			return nil, err
		}
		var entries []treeEntry
		err = json.NewDecoder(resp.Body).Decode(&entries)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode tree: %w", err)
		}
		for _, e := range entries {
			if e.Type == "file" && strings.HasPrefix(e.Path, prefix) {
				keys = append(keys, e.Path)
			}
		}
		u = ""
		if m := nextLink.FindStringSubmatch(resp.Header.Get("Link")); m != nil {
			u = m[1]
		}
	}
	return keys, nil
}

func (b *Bucket) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ops := make([]commitOp, len(keys))
	for i, k := range keys {
		ops[i] = commitOp{Key: "deletedFile", Value: commitFile{Path: k}}
	}
	return b.commit(ctx, fmt.Sprintf("Delete %d files", len(keys)), ops...)
}

func (b *Bucket) Ping(ctx context.Context) error {
	resp, err := b.client.Do(ctx, b.request(http.MethodGet, fmt.Sprintf("%s/api/datasets/%s", b.endpoint, b.repo), "", nil))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (b *Bucket) commit(ctx context.Context, summary string, ops ...commitOp) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	if err := enc.Encode(commitOp{Key: "header", Value: commitHeader{Summary: summary}}); err != nil {
		return err
	}
	for _, op := range ops {
		if err := enc.Encode(op); err != nil {
			return err
		}
	}
	u := fmt.Sprintf("%s/api/datasets/%s/commit/%s", b.endpoint, b.repo, url.PathEscape(b.revision))
	resp, err := b.client.Do(ctx, b.request(http.MethodPost, u, "application/x-ndjson", body.Bytes()))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (b *Bucket) resolveURL(key string) string {
	return fmt.Sprintf("%s/datasets/%s/resolve/%s/%s", b.endpoint, b.repo, url.PathEscape(b.revision), escapePath(key))
}

func (b *Bucket) request(method, u, contentType string, body []byte) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+b.token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return req, nil
	}
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
