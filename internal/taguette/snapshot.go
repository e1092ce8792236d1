package taguette

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoSnapshot is returned when the project page carries no project state,
// usually because the request was redirected to the login page.
var ErrNoSnapshot = errors.New("no project state in page")

type DocumentInfo struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type TagInfo struct {
	ID          int    `json:"id"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

type Member struct {
	Privileges string `json:"privileges"`
}

// Snapshot is the project state the server embeds in the project page. It
// is the only way to learn the current tags and the id of the last event.
type Snapshot struct {
	LastEvent int
	UserLogin string
	// Version is the server version from the Server header, suitable for
	// Client.Version.
	Version   string
	Documents map[int]DocumentInfo
	Tags      map[int]TagInfo
	Members   map[string]Member
}

var scriptVar = regexp.MustCompile(`(?m)^\s*var\s+(\w+)\s*=\s*(.+?);?\s*$`)

// Snapshot fetches the project page and extracts its state.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/project/" + strconv.Itoa(c.project)
	u.RawQuery = ""
	target := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Snapshot{}, err
	}
	c.authenticate(req)

	log.Debugf("GET %s", target)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to get project page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Snapshot{}, fmt.Errorf("failed to get project page: %w", responseError(resp))
	}

	snap, err := parseSnapshot(resp.Body)
	if err != nil {
		return Snapshot{}, err
	}
	if server := resp.Header.Get("Server"); strings.HasPrefix(server, "Taguette/") {
		snap.Version = strings.TrimPrefix(server, "Taguette/")
	}
	return snap, nil
}

func parseSnapshot(r io.Reader) (Snapshot, error) {
	vars := map[string]string{}
	z := html.NewTokenizer(r)
	inScript := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return Snapshot{}, fmt.Errorf("failed to read project page: %w", err)
			}
			return snapshotFromVars(vars)
		case html.StartTagToken:
			name, _ := z.TagName()
			inScript = atom.Lookup(name) == atom.Script
		case html.EndTagToken:
			inScript = false
		case html.TextToken:
			if !inScript {
				continue
			}
			for _, m := range scriptVar.FindAllStringSubmatch(string(z.Text()), -1) {
				vars[m[1]] = m[2]
			}
		}
	}
}

func snapshotFromVars(vars map[string]string) (Snapshot, error) {
	raw, ok := vars["last_event"]
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	var snap Snapshot
	var err error
	if snap.LastEvent, err = strconv.Atoi(strings.TrimSpace(raw)); err != nil {
		return Snapshot{}, fmt.Errorf("invalid last_event %q: %w", raw, err)
	}

	var docs map[string]DocumentInfo
	var tags map[string]TagInfo
	fields := []struct {
		name string
		dst  any
	}{
		{"user_login", &snap.UserLogin},
		{"documents", &docs},
		{"tags", &tags},
		{"members", &snap.Members},
	}
	for _, f := range fields {
		raw, ok := vars[f.name]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), f.dst); err != nil {
			return Snapshot{}, fmt.Errorf("invalid %s in project page: %w", f.name, err)
		}
	}

	snap.Documents = make(map[int]DocumentInfo, len(docs))
	for _, d := range docs {
		snap.Documents[d.ID] = d
	}
	snap.Tags = make(map[int]TagInfo, len(tags))
	for _, t := range tags {
		snap.Tags[t.ID] = t
	}
	return snap, nil
}
