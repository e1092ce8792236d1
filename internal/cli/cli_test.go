package cli_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/remram44/taguette/internal/cli"
	"github.com/remram44/taguette/internal/session"

	"github.com/gorilla/mux"
)

const projectPage = `<html><body><script>
  var user_login = "admin";
  var last_event = 7;
  var documents = {"3": {"description": "", "id": 3, "name": "interview"}, "4": {"description": "", "id": 4, "name": "notes"}};
  var tags = {"1": {"description": "", "id": 1, "path": "people"}, "2": {"description": "kids", "id": 2, "path": "people.children"}};
  var members = {"admin": {"privileges": "ADMIN"}};
</script></body></html>`

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func fakeTaguette(t *testing.T) string {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/project/{project}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "Taguette/1.4.1")
		w.Write([]byte(projectPage))
	})
	api := r.PathPrefix("/api/project/{project}").Subrouter()
	api.HandleFunc("/document/{doc}/content", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"contents": []map[string]any{
			{"offset": 0, "contents": "Hello "},
			{"offset": 6, "contents": "<b>world</b>"},
		}})
	}).Methods(http.MethodGet)
	api.HandleFunc("/document/{doc}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"text_direction": "LEFT_TO_RIGHT",
			"highlights": []map[string]any{
				{"id": 1, "start_offset": 0, "end_offset": 5, "tags": []int{1}},
			},
		})
	}).Methods(http.MethodGet)
	api.HandleFunc("/highlights/{path:.*}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"highlights": []map[string]any{{
				"id": 5, "document_id": 3, "content": "<p>quote</p>",
				"tags": []int{2}, "text_direction": "LEFT_TO_RIGHT",
			}},
			"pages": 2,
		})
	}).Methods(http.MethodGet)
	api.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Not logged in"})
	}).Methods(http.MethodGet)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

// run executes the command line against a fresh fake server and state
// directory.
func run(t *testing.T, url string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := cli.NewRootCmd("test")
	cmd.SetArgs(append([]string{"--server", url, "--project", "1"}, args...))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func setup(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	return fakeTaguette(t)
}

func TestShow(t *testing.T) {
	url := setup(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"by id", []string{"show", "3"}, "Hello world\n\n#1 [0, 5) people\n"},
		{"by name", []string{"show", "interview"}, "Hello world\n\n#1 [0, 5) people\n"},
		{"no legend", []string{"show", "--legend=false", "3"}, "Hello world\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := run(t, url, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}

	t.Run("html", func(t *testing.T) {
		out, _, err := run(t, url, "show", "--html", "3")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, `id="doc-offset-0"`) || !strings.Contains(out, `data-highlight-id="1"`) {
			t.Errorf("unexpected HTML: %q", out)
		}
	})

	t.Run("unknown document", func(t *testing.T) {
		if _, _, err := run(t, url, "show", "missing"); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestTag(t *testing.T) {
	url := setup(t)

	out, errOut, err := run(t, url, "tag", "people")
	if err != nil {
		t.Fatal(err)
	}
	if want := "interview (people.children)\nquote\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
	if want := "page 1 of 2\n"; errOut != want {
		t.Errorf("stderr = %q, want %q", errOut, want)
	}
}

func TestTags(t *testing.T) {
	url := setup(t)

	out, _, err := run(t, url, "tags")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), out)
	}
	if f := strings.Fields(lines[0]); f[0] != "1" || f[1] != "people" {
		t.Errorf("first line = %q", lines[0])
	}
	if f := strings.Fields(lines[1]); f[1] != "people.children" || f[len(f)-1] != "kids" {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestFetchAndDump(t *testing.T) {
	url := setup(t)
	workspace := t.TempDir()

	if _, _, err := run(t, url, "fetch"); err == nil {
		t.Error("fetch without documents should fail")
	}

	out, _, err := run(t, url, "fetch", "--all", "--workspace", workspace)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join("project-1", "document-3.txt") + "\n" + filepath.Join("project-1", "document-4.txt") + "\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
	data, err := os.ReadFile(filepath.Join(workspace, "project-1", "document-3.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Hello world" {
		t.Errorf("document text = %q", data)
	}

	out, _, err = run(t, url, "dump", "--workspace", workspace)
	if err != nil {
		t.Fatal(err)
	}
	var d struct {
		Project   int `json:"project"`
		Cursor    int `json:"cursor"`
		Documents []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"documents"`
		Tags      []json.RawMessage `json:"tags"`
		Workspace []struct {
			Document int `json:"document"`
			Bytes    int `json:"bytes"`
		} `json:"workspace"`
	}
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("invalid dump %q: %v", out, err)
	}
	if d.Project != 1 || d.Cursor != 7 {
		t.Errorf("project %d cursor %d", d.Project, d.Cursor)
	}
	if len(d.Documents) != 2 || len(d.Tags) != 2 {
		t.Errorf("%d documents and %d tags in cache", len(d.Documents), len(d.Tags))
	}
	if len(d.Workspace) != 2 || d.Workspace[0].Document != 3 || d.Workspace[0].Bytes != 11 {
		t.Errorf("workspace = %+v", d.Workspace)
	}
}

func TestWatchStopsWhenPollingIsRefused(t *testing.T) {
	url := setup(t)

	out, _, err := run(t, url, "watch", "3")
	if !errors.Is(err, session.ErrPaused) {
		t.Fatalf("err = %v, want %v", err, session.ErrPaused)
	}
	if !strings.HasPrefix(out, "== interview ==\nHello world\n") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigFile(t *testing.T) {
	url := setup(t)
	path := filepath.Join(t.TempDir(), "taglight.toml")
	conf := "server = \"" + url + "\"\nproject = 1\nclient_version = \"1.4.1\"\n"
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	cmd := cli.NewRootCmd("test")
	cmd.SetArgs([]string{"--config", path, "show", "--legend=false", "4"})
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if stdout.String() != "Hello world\n" {
		t.Errorf("output = %q", stdout.String())
	}
}
