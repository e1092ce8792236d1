// taguette is a client for the JSON API of a Taguette server.
package taguette

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.taguette")

var (
	// ErrNotFound indicates that the project, document or highlight does not
	// exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates that the session is not allowed to access the
	// resource, usually because the login cookie expired.
	ErrForbidden = errors.New("forbidden")
)

// APIError is any other non-success response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to one project on a Taguette server.
type Client struct {
	base    *url.URL
	project int

	// Cookie is the value of the server's "user" login cookie.
	Cookie string
	// XSRFToken is sent both as the "_xsrf" cookie and the X-XSRFToken
	// header on requests that change state.
	XSRFToken string
	// Version is sent with event polls; a server running another version
	// answers with a reload request.
	Version string

	HTTPClient *http.Client
}

// NewClient returns a client for project on the server at serverURL.
func NewClient(serverURL string, project int) (*Client, error) {
	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", base.Scheme)
	}
	return &Client{
		base:       base,
		project:    project,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Project returns the project id the client is bound to.
func (c *Client) Project() int {
	return c.project
}

// BaseURL returns the server url the client was created with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(query url.Values, elems ...string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/project/" + strconv.Itoa(c.project)
	for _, e := range elems {
		u.Path += "/" + e
	}
	u.RawPath = ""
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) request(ctx context.Context, method, target string, body, resp any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authenticate(req)

	log.Debugf("%s %s", method, target)
	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return responseError(httpResp)
	}
	if resp == nil || httpResp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", target, err)
	}
	return nil
}

func (c *Client) authenticate(req *http.Request) {
	if c.Cookie != "" {
		req.AddCookie(&http.Cookie{Name: "user", Value: c.Cookie})
	}
	if c.XSRFToken != "" {
		req.AddCookie(&http.Cookie{Name: "_xsrf", Value: c.XSRFToken})
		req.Header.Set("X-XSRFToken", c.XSRFToken)
	}
}

func responseError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		return ErrForbidden
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// Chunk is a piece of a document's HTML starting at a byte offset.
type Chunk struct {
	Offset   int    `json:"offset"`
	Contents string `json:"contents"`
}

// Highlight is a highlight as stored on the server.
type Highlight struct {
	ID    int   `json:"id"`
	Start int   `json:"start_offset"`
	End   int   `json:"end_offset"`
	Tags  []int `json:"tags"`
}

// Document is the highlight information of a document.
type Document struct {
	TextDirection string      `json:"text_direction"`
	Highlights    []Highlight `json:"highlights"`
}

// TagHighlight is a highlight listed for a tag, with its text.
type TagHighlight struct {
	ID            int    `json:"id"`
	DocumentID    int    `json:"document_id"`
	Content       string `json:"content"`
	Tags          []int  `json:"tags"`
	TextDirection string `json:"text_direction"`
}

// HighlightPage is one page of a tag's highlights.
type HighlightPage struct {
	Highlights []TagHighlight `json:"highlights"`
	Pages      int            `json:"pages"`
}

// DocumentContents returns the chunks of a document's HTML.
func (c *Client) DocumentContents(ctx context.Context, document int) ([]Chunk, error) {
	var resp struct {
		Contents []Chunk `json:"contents"`
	}
	target := c.endpoint(nil, "document", strconv.Itoa(document), "content")
	if err := c.request(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get contents of document %d: %w", document, err)
	}
	return resp.Contents, nil
}

// Document returns a document's text direction and highlights.
func (c *Client) Document(ctx context.Context, document int) (Document, error) {
	var doc Document
	target := c.endpoint(nil, "document", strconv.Itoa(document))
	if err := c.request(ctx, http.MethodGet, target, nil, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to get document %d: %w", document, err)
	}
	return doc, nil
}

// TagHighlights returns a page of the highlights tagged with tagPath or one
// of its children. Pages count from 1. An empty path lists every highlight.
func (c *Client) TagHighlights(ctx context.Context, tagPath string, page int) (HighlightPage, error) {
	var resp HighlightPage
	query := url.Values{"page": {strconv.Itoa(page)}}
	target := c.endpoint(query, "highlights", tagPath)
	if err := c.request(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return HighlightPage{}, fmt.Errorf("failed to list highlights for %q: %w", tagPath, err)
	}
	return resp, nil
}

type highlightBody struct {
	Start int   `json:"start_offset"`
	End   int   `json:"end_offset"`
	Tags  []int `json:"tags"`
}

type idResponse struct {
	ID int `json:"id"`
}

// CreateHighlight creates a highlight and returns its id.
func (c *Client) CreateHighlight(ctx context.Context, document, start, end int, tags []int) (int, error) {
	if tags == nil {
		tags = []int{}
	}
	var resp idResponse
	target := c.endpoint(nil, "document", strconv.Itoa(document), "highlight", "new")
	body := highlightBody{Start: start, End: end, Tags: tags}
	if err := c.request(ctx, http.MethodPost, target, body, &resp); err != nil {
		return 0, fmt.Errorf("failed to create highlight: %w", err)
	}
	return resp.ID, nil
}

// UpdateHighlight replaces the range and tags of a highlight.
func (c *Client) UpdateHighlight(ctx context.Context, document int, h Highlight) error {
	tags := h.Tags
	if tags == nil {
		tags = []int{}
	}
	target := c.endpoint(nil, "document", strconv.Itoa(document), "highlight", strconv.Itoa(h.ID))
	body := highlightBody{Start: h.Start, End: h.End, Tags: tags}
	if err := c.request(ctx, http.MethodPost, target, body, &idResponse{}); err != nil {
		return fmt.Errorf("failed to update highlight %d: %w", h.ID, err)
	}
	return nil
}

// DeleteHighlight deletes a highlight.
func (c *Client) DeleteHighlight(ctx context.Context, document, id int) error {
	target := c.endpoint(nil, "document", strconv.Itoa(document), "highlight", strconv.Itoa(id))
	if err := c.request(ctx, http.MethodDelete, target, nil, nil); err != nil {
		return fmt.Errorf("failed to delete highlight %d: %w", id, err)
	}
	return nil
}

// Events long-polls for the project events after the event id from. The
// call blocks until an event happens, the server asks for a reload, or ctx
// is done.
func (c *Client) Events(ctx context.Context, from int) (Batch, error) {
	var batch Batch
	query := url.Values{"from": {strconv.Itoa(from)}}
	if c.Version != "" {
		query.Set("version", c.Version)
	}
	target := c.endpoint(query, "events")
	if err := c.request(ctx, http.MethodGet, target, nil, &batch); err != nil {
		return Batch{}, fmt.Errorf("failed to poll events: %w", err)
	}
	return batch, nil
}
