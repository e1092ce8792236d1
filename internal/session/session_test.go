package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/remram44/taguette/internal/dom"
	"github.com/remram44/taguette/internal/overlay"
	"github.com/remram44/taguette/internal/session"
	"github.com/remram44/taguette/internal/store"
	"github.com/remram44/taguette/internal/taguette"
	"github.com/remram44/taguette/internal/view"

	"github.com/gorilla/mux"
)

// plain parses markup as a single text node.
type plain struct{}

func (plain) Parse(ctx context.Context, src []byte) ([]*dom.Node, error) {
	return []*dom.Node{dom.NewText(string(src))}, nil
}

const page = `<html><body><script>
  var user_login = "admin";
  var last_event = 42;
  var documents = {"3": {"description": "", "id": 3, "name": "interview"}, "4": {"description": "", "id": 4, "name": "notes"}};
  var tags = {"1": {"description": "", "id": 1, "path": "people"}, "2": {"description": "", "id": 2, "path": "people.children"}};
  var members = {"admin": {"privileges": "ADMIN"}};
</script></body></html>`

type fakeServer struct {
	mu           sync.Mutex
	contentsHits int
	created      []map[string]any
	deleted      []string
	polls        []func(w http.ResponseWriter)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/project/{project}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "Taguette/1.4.1")
		w.Write([]byte(page))
	})
	api := r.PathPrefix("/api/project/{project}").Subrouter()
	api.HandleFunc("/document/{doc}/content", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.contentsHits++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"contents": []map[string]any{
			{"offset": 0, "contents": "Hello "},
			{"offset": 6, "contents": "world"},
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
	api.HandleFunc("/document/{doc}/highlight/new", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.created = append(f.created, body)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]int{"id": 50})
	}).Methods(http.MethodPost)
	api.HandleFunc("/document/{doc}/highlight/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, mux.Vars(r)["id"])
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
	api.HandleFunc("/highlights/{path:.*}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"highlights": []map[string]any{
				{"id": 1, "document_id": 3, "content": "Hello", "tags": []int{1}},
			},
			"pages": 3,
		})
	}).Methods(http.MethodGet)
	api.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		var next func(http.ResponseWriter)
		if len(f.polls) > 0 {
			next, f.polls = f.polls[0], f.polls[1:]
		}
		f.mu.Unlock()
		if next == nil {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Not logged in"})
			return
		}
		next(w)
	}).Methods(http.MethodGet)
	return r
}

func newSession(t *testing.T) (*session.Session, *fakeServer, *store.SQLiteDB) {
	t.Helper()
	f := &fakeServer{}
	srv := httptest.NewServer(f.routes())
	t.Cleanup(srv.Close)

	client, err := taguette.NewClient(srv.URL, 1)
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := session.New(session.Options{
		Client:    client,
		Store:     db,
		Parser:    plain{},
		PollRetry: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, f, db
}

func highlight(t *testing.T, s *session.Session, id int) (tags []int, label string, ok bool) {
	t.Helper()
	err := s.Do(context.Background(), func(v *view.View) error {
		if v == nil {
			return nil
		}
		var h overlay.Highlight
		h, ok = v.Highlight(id)
		tags, label = h.Tags, v.Label(id)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return tags, label, ok
}

func TestBootstrap(t *testing.T) {
	s, _, db := newSession(t)

	if s.Cursor() != 42 {
		t.Errorf("Cursor() = %d, want 42", s.Cursor())
	}
	if tag, ok := s.TagByPath("people.children"); !ok || tag.ID != 2 {
		t.Errorf("TagByPath() = %+v, %v", tag, ok)
	}
	meta := s.Meta()
	if meta.Documents[4] != "notes" || meta.Members["admin"] != "ADMIN" || meta.UserLogin != "admin" {
		t.Errorf("meta = %+v", meta)
	}
	if got := s.Label([]int{2, 1, 9}); got != "9, people, people.children" {
		t.Errorf("Label() = %q", got)
	}
	if last, _ := db.Cursor(1); last != 42 {
		t.Errorf("stored cursor = %d", last)
	}
	if tags, _ := db.Tags(1); len(tags) != 2 {
		t.Errorf("stored tags = %+v", tags)
	}
}

func TestOpenDocument(t *testing.T) {
	s, f, _ := newSession(t)
	ctx := context.Background()

	changes := s.Subscribe(ctx)
	if err := s.OpenDocument(ctx, 3); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if c.Kind != session.ViewLoaded || c.Document != 3 {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no change notified")
	}

	var text string
	s.Do(ctx, func(v *view.View) error {
		text = v.Text()
		return nil
	})
	if text != "Hello world" {
		t.Errorf("Text() = %q", text)
	}
	if _, label, ok := highlight(t, s, 1); !ok || label != "people" {
		t.Errorf("highlight 1: label %q, applied %v", label, ok)
	}

	// contents come from the cache the second time
	if err := s.OpenDocument(ctx, 3); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contentsHits != 1 {
		t.Errorf("contents fetched %d times", f.contentsHits)
	}
}

func TestOpenTag(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()

	if err := s.OpenTag(ctx, "people", 0); err != nil {
		t.Fatal(err)
	}
	cur, err := s.Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cur.Open || cur.Document != 0 || cur.TagPath != "people" || cur.Page != 1 || cur.Pages != 3 {
		t.Errorf("current = %+v", cur)
	}
	var entries []view.Entry
	s.Do(ctx, func(v *view.View) error {
		entries = v.Entries()
		return nil
	})
	if len(entries) != 1 || entries[0].DocumentName != "interview" {
		t.Errorf("entries = %+v", entries)
	}

	if _, err := s.CreateHighlight(ctx, 0, 3, nil); !errors.Is(err, session.ErrNoDocument) {
		t.Errorf("highlighting a tag listing: err = %v", err)
	}
}

func TestHighlightEdits(t *testing.T) {
	s, f, _ := newSession(t)
	ctx := context.Background()

	if _, err := s.CreateHighlight(ctx, 0, 3, nil); !errors.Is(err, session.ErrNoDocument) {
		t.Errorf("err = %v, want ErrNoDocument", err)
	}
	if err := s.OpenDocument(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateHighlight(ctx, 4, 4, nil); err == nil {
		t.Errorf("empty range accepted")
	}

	if _, err := s.HighlightSelection(ctx, []int{2}); !errors.Is(err, session.ErrNoSelection) {
		t.Errorf("err = %v, want ErrNoSelection", err)
	}
	err := s.Do(ctx, func(v *view.View) error {
		return v.RestoreSelection(&[2]int{6, 11})
	})
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.HighlightSelection(ctx, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	if id != 50 || len(f.created) != 1 || f.created[0]["start_offset"] != 6.0 || f.created[0]["end_offset"] != 11.0 {
		t.Errorf("id = %d, created = %v", id, f.created)
	}
	if tags, label, ok := highlight(t, s, 50); !ok || !reflect.DeepEqual(tags, []int{2}) || label != "people.children" {
		t.Errorf("highlight 50 = %v %q %v", tags, label, ok)
	}

	if err := s.DeleteHighlight(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := highlight(t, s, 1); ok {
		t.Errorf("highlight 1 still shown")
	}
	if !reflect.DeepEqual(f.deleted, []string{"1"}) {
		t.Errorf("deleted = %v", f.deleted)
	}
}

func TestHandle(t *testing.T) {
	s, _, db := newSession(t)
	ctx := context.Background()
	if err := s.OpenDocument(ctx, 3); err != nil {
		t.Fatal(err)
	}

	reload, err := s.Handle(ctx,
		taguette.Event{ID: 43, Type: taguette.HighlightAdd, DocumentID: 3, HighlightID: 12,
			StartOffset: 6, EndOffset: 11, Tags: []int{2}, TagCountChanges: map[string]int{"2": 1}},
		taguette.Event{ID: 44, Type: taguette.HighlightAdd, DocumentID: 4, HighlightID: 13,
			StartOffset: 0, EndOffset: 2, Tags: []int{1}},
		taguette.Event{ID: 45, Type: taguette.TagMerge, SrcTagID: 1, DestTagID: 2},
	)
	if err != nil || reload {
		t.Fatalf("Handle() = %v, %v", reload, err)
	}

	if _, _, ok := highlight(t, s, 13); ok {
		t.Errorf("highlight of another document applied")
	}
	if tags, label, ok := highlight(t, s, 1); !ok || !reflect.DeepEqual(tags, []int{2}) || label != "people.children" {
		t.Errorf("merged highlight 1 = %v %q %v", tags, label, ok)
	}
	if _, ok := s.Tag(1); ok {
		t.Errorf("merged tag still known")
	}
	if tag, _ := s.Tag(2); tag.Count != 1 {
		t.Errorf("tag 2 count = %d", tag.Count)
	}
	if s.Cursor() != 45 {
		t.Errorf("Cursor() = %d", s.Cursor())
	}
	if last, _ := db.Cursor(1); last != 45 {
		t.Errorf("stored cursor = %d", last)
	}

	_, err = s.Handle(ctx,
		taguette.Event{ID: 46, Type: taguette.TagAdd, TagID: 5, TagPath: "places"},
		taguette.Event{ID: 47, Type: taguette.TagDelete, TagID: 2},
		taguette.Event{ID: 48, Type: taguette.MemberAdd, Member: "bob", Privileges: "TAG"},
		taguette.Event{ID: 49, Type: taguette.ProjectMeta, ProjectName: "Study", Description: "d"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if tags, label, ok := highlight(t, s, 12); !ok || len(tags) != 0 || label != "" {
		t.Errorf("highlight 12 after tag delete = %v %q %v", tags, label, ok)
	}
	tags := s.Tags()
	if len(tags) != 1 || tags[0].Path != "places" {
		t.Errorf("tags = %+v", tags)
	}
	meta := s.Meta()
	if meta.Name != "Study" || meta.Members["bob"] != "TAG" {
		t.Errorf("meta = %+v", meta)
	}

	reload, err = s.Handle(ctx,
		taguette.Event{ID: 50, Type: taguette.DocumentDelete, DocumentID: 3},
		taguette.Event{ID: 51, Type: taguette.ProjectImport},
	)
	if err != nil || !reload {
		t.Errorf("Handle() = %v, %v, want reload", reload, err)
	}
	cur, _ := s.Current(ctx)
	if cur.Open {
		t.Errorf("view of deleted document still open: %+v", cur)
	}
	if _, ok := s.Meta().Documents[3]; ok {
		t.Errorf("deleted document still listed")
	}
}

func TestPoll(t *testing.T) {
	s, f, _ := newSession(t)
	ctx := context.Background()
	if err := s.OpenDocument(ctx, 3); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	f.polls = []func(http.ResponseWriter){
		func(w http.ResponseWriter) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "oops"})
		},
		func(w http.ResponseWriter) {
			writeJSON(w, http.StatusOK, map[string]any{"events": []map[string]any{
				{"id": 43, "type": "highlight_delete", "document_id": 3, "highlight_id": 1},
			}})
		},
	}
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Poll(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, session.ErrPaused) || !errors.Is(err, taguette.ErrForbidden) {
			t.Errorf("Poll() = %v, want paused on forbidden", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Poll() did not stop")
	}

	if s.Cursor() != 43 {
		t.Errorf("Cursor() = %d", s.Cursor())
	}
	if _, _, ok := highlight(t, s, 1); ok {
		t.Errorf("highlight 1 not removed by event")
	}
}

func TestPollCancel(t *testing.T) {
	s, f, _ := newSession(t)
	f.mu.Lock()
	for i := 0; i < 100; i++ {
		f.polls = append(f.polls, func(w http.ResponseWriter) {
			writeJSON(w, http.StatusBadGateway, nil)
		})
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Poll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Poll() = %v, want deadline exceeded", err)
	}
}
