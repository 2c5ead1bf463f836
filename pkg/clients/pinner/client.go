package pinner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
)

// Client publishes blobs to a local IPFS pinning node and reads published
// content back through a gateway.
type Client interface {
	AddFile(ctx context.Context, name string, data []byte) (string, error)
	AddDirectory(ctx context.Context, files map[string][]byte) (string, error)
	Fetch(ctx context.Context, gatewayURL, contentID, path string) ([]byte, error)
}

type client struct {
	nodeURL string
	client  http.Client
}

var ErrNotFound = errors.New("not found")

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// AddFile pins a single blob and returns its content identifier.
func (c *client) AddFile(ctx context.Context, name string, data []byte) (string, error) {
	entries, err := c.add(ctx, false, map[string][]byte{name: data})
	if err != nil {
		return "", err
	}

	last := entries[len(entries)-1]
	if err := ValidateCID(last.Hash); err != nil {
		return "", fmt.Errorf("node returned invalid content id %q: %w", last.Hash, err)
	}

	return last.Hash, nil
}

// AddDirectory pins the named blobs wrapped in one directory, so each file
// resolves under the directory's content identifier by name.
func (c *client) AddDirectory(ctx context.Context, files map[string][]byte) (string, error) {
	entries, err := c.add(ctx, true, files)
	if err != nil {
		return "", err
	}

	// The wrapping directory is reported with an empty name, last.
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Name == "" {
			if err := ValidateCID(entries[i].Hash); err != nil {
				return "", fmt.Errorf("node returned invalid directory id %q: %w", entries[i].Hash, err)
			}
			return entries[i].Hash, nil
		}
	}

	return "", errors.New("no directory entry in node response")
}

func (c *client) add(ctx context.Context, wrap bool, files map[string][]byte) ([]addResponse, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
		if _, err := part.Write(files[name]); err != nil {
			return nil, fmt.Errorf("failed to write form part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	url := c.nodeURL + "/api/v0/add?pin=true&cid-version=1"
	if wrap {
		url += "&wrap-with-directory=true"
	}

	r, err := http.NewRequestWithContext(ctx, "POST", url, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	r.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.client.Do(r)
	if err != nil {
		return nil, fmt.Errorf("failed to reach pinning node: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("pinning node status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	// The node streams one JSON object per added entry.
	var entries []addResponse
	dec := json.NewDecoder(res.Body)
	for {
		var entry addResponse
		if err := dec.Decode(&entry); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to decode node response: %w", err)
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, errors.New("empty response from pinning node")
	}

	return entries, nil
}

// Fetch reads a published file through the configured content gateway.
func (c *client) Fetch(ctx context.Context, gatewayURL, contentID, path string) ([]byte, error) {
	url := strings.TrimSuffix(gatewayURL, "/") + "/" + contentID + "/" + path

	r, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	res, err := c.client.Do(r)
	if err != nil {
		return nil, fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, ErrNotFound
	}
	if res.StatusCode != 200 {
		return nil, fmt.Errorf("gateway status %d for %s", res.StatusCode, url)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	return data, nil
}

// ValidateCID rejects strings that do not parse as a content identifier.
// Used on node responses and on operator-pasted ids alike.
func ValidateCID(s string) error {
	if s == "" {
		return errors.New("empty content id")
	}
	if _, err := cid.Decode(s); err != nil {
		return fmt.Errorf("invalid content id: %w", err)
	}
	return nil
}

func NewClient(nodeURL string) Client {
	return &client{
		nodeURL: strings.TrimSuffix(nodeURL, "/"),
		client: http.Client{
			Timeout: 60 * time.Second,
		},
	}
}
