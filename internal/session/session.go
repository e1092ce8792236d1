// session ties a Taguette project to the local document view. It owns the
// API client, the cache, the tag index and the current view. All view
// mutations run on one scheduler loop, so highlight edits coming from the
// user and from the event stream never interleave.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/remram44/taguette/internal/overlay"
	"github.com/remram44/taguette/internal/scheduler"
	"github.com/remram44/taguette/internal/store"
	"github.com/remram44/taguette/internal/taguette"
	"github.com/remram44/taguette/internal/view"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.session")

var (
	// ErrNoDocument is returned by highlight operations when no document is
	// open.
	ErrNoDocument = errors.New("no document open")

	// ErrNoSelection is returned when highlighting without a usable
	// selection.
	ErrNoSelection = errors.New("no selection in the document")

	// ErrPaused is returned by Poll when the server refuses access. Polling
	// does not resume on its own.
	ErrPaused = errors.New("event polling paused")
)

type ChangeKind int

const (
	// ViewLoaded means a new document or tag listing replaced the view.
	ViewLoaded ChangeKind = iota
	// ViewChanged means highlights or labels of the current view changed.
	ViewChanged
	// ViewClosed means the current document was deleted.
	ViewClosed
	TagsChanged
	ProjectChanged
	PollPaused
)

func (k ChangeKind) String() string {
	switch k {
	case ViewLoaded:
		return "view-loaded"
	case ViewChanged:
		return "view-changed"
	case ViewClosed:
		return "view-closed"
	case TagsChanged:
		return "tags-changed"
	case ProjectChanged:
		return "project-changed"
	case PollPaused:
		return "poll-paused"
	}
	return "unknown"
}

type Change struct {
	Kind     ChangeKind
	Document int
}

// Meta is the project information learned from the server.
type Meta struct {
	Name        string
	Description string
	UserLogin   string
	// Members maps logins to privileges.
	Members map[string]string
	// Documents maps document ids to names.
	Documents map[int]string
}

type Options struct {
	Client *taguette.Client
	// Store caches documents, tags and the event cursor. May be nil.
	Store  *store.SQLiteDB
	Parser view.Parser
	// PollRetry is the minimum delay between two failing polls.
	PollRetry time.Duration
	// OnActivate runs on the loop when a highlight is activated.
	OnActivate func(id int)
}

type Session struct {
	client     *taguette.Client
	db         *store.SQLiteDB
	parser     view.Parser
	sched      *scheduler.Scheduler
	project    int
	retry      time.Duration
	onActivate func(id int)

	mu     sync.RWMutex
	tags   map[int]store.Tag
	meta   Meta
	cursor int

	// owned by the loop
	view     *view.View
	document int
	tagPath  string
	page     int
	pages    int
	stale    bool

	subMu sync.Mutex
	subs  map[chan Change]struct{}
}

func New(opts Options) (*Session, error) {
	if opts.Client == nil || opts.Parser == nil {
		return nil, errors.New("session needs a client and a parser")
	}
	if opts.PollRetry <= 0 {
		opts.PollRetry = 5 * time.Second
	}
	s := &Session{
		client:     opts.Client,
		db:         opts.Store,
		parser:     opts.Parser,
		sched:      scheduler.NewScheduler(64),
		project:    opts.Client.Project(),
		retry:      opts.PollRetry,
		onActivate: opts.OnActivate,
		tags:       map[int]store.Tag{},
		meta:       Meta{Members: map[string]string{}, Documents: map[int]string{}},
		subs:       map[chan Change]struct{}{},
	}

	if s.db != nil {
		tags, err := s.db.Tags(s.project)
		if err != nil {
			return nil, err
		}
		for _, t := range tags {
			s.tags[t.ID] = t
		}
		docs, err := s.db.Documents(s.project)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			s.meta.Documents[d.ID] = d.Name
		}
		if s.cursor, err = s.db.Cursor(s.project); err != nil {
			return nil, err
		}
	}

	s.sched.RunScheduler()
	return s, nil
}

// Close discards the view and stops the loop.
func (s *Session) Close() {
	s.sched.ScheduleHighPriorityTask(scheduler.Task{Name: "close view", Execute: func() error {
		s.closeView()
		return nil
	}})
	s.sched.StopScheduler()

	s.subMu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
}

// Do runs fn on the loop with the current view, nil when nothing is open.
func (s *Session) Do(ctx context.Context, fn func(v *view.View) error) error {
	return s.sched.Do(ctx, scheduler.Task{Name: "do", Execute: func() error {
		return fn(s.view)
	}})
}

func (s *Session) run(ctx context.Context, name string, fn func() error) error {
	return s.sched.Do(ctx, scheduler.Task{Name: name, Execute: fn})
}

// Subscribe returns a channel of view and project changes, closed when ctx
// is done. Changes are dropped for subscribers that do not keep up.
func (s *Session) Subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, 16)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}()
	return ch
}

func (s *Session) notify(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
			log.Debugf("dropping %s change for a slow subscriber", c.Kind)
		}
	}
}

// Project returns the project id.
func (s *Session) Project() int {
	return s.project
}

// Cursor returns the id of the last applied event.
func (s *Session) Cursor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Meta returns a copy of the project information.
func (s *Session) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.meta
	m.Members = make(map[string]string, len(s.meta.Members))
	for k, v := range s.meta.Members {
		m.Members[k] = v
	}
	m.Documents = make(map[int]string, len(s.meta.Documents))
	for k, v := range s.meta.Documents {
		m.Documents[k] = v
	}
	return m
}

// Tags returns the known tags ordered by path.
func (s *Session) Tags() []store.Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]store.Tag, 0, len(s.tags))
	for _, t := range s.tags {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Path != tags[j].Path {
			return tags[i].Path < tags[j].Path
		}
		return tags[i].ID < tags[j].ID
	})
	return tags
}

func (s *Session) Tag(id int) (store.Tag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[id]
	return t, ok
}

// TagByPath finds a tag by its exact path.
func (s *Session) TagByPath(path string) (store.Tag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tags {
		if t.Path == path {
			return t, true
		}
	}
	return store.Tag{}, false
}

// Label names a highlight by the sorted paths of its tags. Unknown tags
// show as their id.
func (s *Session) Label(tags []int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(tags))
	for _, id := range tags {
		if t, ok := s.tags[id]; ok {
			names = append(names, t.Path)
		} else {
			names = append(names, strconv.Itoa(id))
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (s *Session) viewOptions(direction string) view.Options {
	return view.Options{
		Labeler:    s.Label,
		Direction:  direction,
		OnActivate: s.onActivate,
	}
}

func (s *Session) closeView() {
	if s.view != nil {
		s.view.Close()
	}
	s.view = nil
	s.document = 0
	s.tagPath = ""
	s.page, s.pages = 0, 0
}

// Bootstrap replaces the tag index, the project information and the event
// cursor with the state of the project page.
func (s *Session) Bootstrap(ctx context.Context) error {
	snap, err := s.client.Snapshot(ctx)
	if err != nil {
		return err
	}
	// the events endpoint only answers clients of its exact version
	if snap.Version != "" {
		s.client.Version = snap.Version
	}

	s.mu.Lock()
	old := s.tags
	s.tags = make(map[int]store.Tag, len(snap.Tags))
	for id, t := range snap.Tags {
		tag := store.Tag{ID: id, Path: t.Path, Description: t.Description}
		if prev, ok := old[id]; ok {
			tag.Count = prev.Count
		}
		s.tags[id] = tag
	}
	s.meta.UserLogin = snap.UserLogin
	s.meta.Members = make(map[string]string, len(snap.Members))
	for login, m := range snap.Members {
		s.meta.Members[login] = m.Privileges
	}
	s.meta.Documents = make(map[int]string, len(snap.Documents))
	for id, d := range snap.Documents {
		s.meta.Documents[id] = d.Name
	}
	s.cursor = snap.LastEvent
	tags := s.tags
	s.mu.Unlock()

	if s.db != nil {
		for id := range old {
			if _, ok := tags[id]; !ok {
				s.persist(s.db.DeleteTag(s.project, id))
			}
		}
		for _, t := range tags {
			s.persist(s.db.SaveTag(s.project, t))
		}
		for id, d := range snap.Documents {
			s.persist(s.db.TouchDocument(s.project, id, d.Name, ""))
		}
		s.persist(s.db.SetCursor(s.project, snap.LastEvent))
	}

	log.Infof("project %d: %d tags, %d documents, last event %d",
		s.project, len(snap.Tags), len(snap.Documents), snap.LastEvent)
	s.notify(Change{Kind: TagsChanged})
	s.notify(Change{Kind: ProjectChanged})
	return nil
}

// persist logs cache failures. The cache is an optimization; the session
// keeps working from memory.
func (s *Session) persist(err error) {
	if err != nil {
		log.Warningf("cache: %s", err.Error())
	}
}

func (s *Session) contents(ctx context.Context, document int, direction string) ([]view.Chunk, error) {
	if s.db != nil {
		doc, err := s.db.LoadDocument(s.project, document)
		if err == nil {
			log.Debugf("document %d from cache", document)
			return viewChunks(doc.Chunks), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.Warningf("cache: %s", err.Error())
		}
	}

	chunks, err := s.client.DocumentContents(ctx, document)
	if err != nil {
		return nil, err
	}
	out := make([]view.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = view.Chunk{Offset: c.Offset, Contents: c.Contents}
	}

	if s.db != nil {
		s.mu.RLock()
		name := s.meta.Documents[document]
		s.mu.RUnlock()
		cached := make([]store.Chunk, len(chunks))
		for i, c := range chunks {
			cached[i] = store.Chunk{Offset: c.Offset, Contents: c.Contents}
		}
		s.persist(s.db.SaveDocument(store.Document{
			Project: s.project, ID: document, Name: name,
			TextDirection: direction, Chunks: cached,
		}))
	}
	return out, nil
}

func viewChunks(chunks []store.Chunk) []view.Chunk {
	out := make([]view.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = view.Chunk{Offset: c.Offset, Contents: c.Contents}
	}
	return out
}

// OpenDocument loads a document with its highlights and makes it the
// current view.
func (s *Session) OpenDocument(ctx context.Context, document int) error {
	info, err := s.client.Document(ctx, document)
	if err != nil {
		return err
	}
	chunks, err := s.contents(ctx, document, info.TextDirection)
	if err != nil {
		return err
	}
	highlights := make([]overlay.Highlight, len(info.Highlights))
	for i, h := range info.Highlights {
		highlights[i] = overlay.Highlight{ID: h.ID, Start: h.Start, End: h.End, Tags: h.Tags}
	}

	return s.run(ctx, "open document", func() error {
		v, err := view.Load(ctx, s.parser, chunks, highlights, s.viewOptions(info.TextDirection))
		if err != nil {
			return fmt.Errorf("failed to load document %d: %w", document, err)
		}
		s.closeView()
		s.view = v
		s.document = document
		s.notify(Change{Kind: ViewLoaded, Document: document})
		return nil
	})
}

// OpenTag lists the highlights of a tag and its children, one page at a
// time. Pages count from 1; an empty path lists every highlight.
func (s *Session) OpenTag(ctx context.Context, path string, page int) error {
	if page < 1 {
		page = 1
	}
	resp, err := s.client.TagHighlights(ctx, path, page)
	if err != nil {
		return err
	}

	s.mu.RLock()
	entries := make([]view.Entry, len(resp.Highlights))
	for i, h := range resp.Highlights {
		entries[i] = view.Entry{
			ID:           h.ID,
			DocumentID:   h.DocumentID,
			DocumentName: s.meta.Documents[h.DocumentID],
			Content:      h.Content,
			Tags:         h.Tags,
		}
	}
	s.mu.RUnlock()

	return s.run(ctx, "open tag", func() error {
		v, err := view.LoadEntries(ctx, s.parser, entries, s.viewOptions(""))
		if err != nil {
			return fmt.Errorf("failed to list highlights of %q: %w", path, err)
		}
		s.closeView()
		s.view = v
		s.tagPath = path
		s.page, s.pages = page, resp.Pages
		s.notify(Change{Kind: ViewLoaded})
		return nil
	})
}

// Current describes the view: the open document, or the listed tag path
// with the page shown and the page count.
type Current struct {
	Document int
	TagPath  string
	Page     int
	Pages    int
	Open     bool
}

func (s *Session) Current(ctx context.Context) (Current, error) {
	var cur Current
	err := s.run(ctx, "current", func() error {
		cur = Current{
			Document: s.document,
			TagPath:  s.tagPath,
			Page:     s.page,
			Pages:    s.pages,
			Open:     s.view != nil,
		}
		return nil
	})
	return cur, err
}

// Reload refreshes the project state and reopens the current view.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}
	cur, err := s.Current(ctx)
	if err != nil {
		return err
	}
	switch {
	case !cur.Open:
		return nil
	case cur.Document != 0:
		return s.OpenDocument(ctx, cur.Document)
	default:
		return s.OpenTag(ctx, cur.TagPath, cur.Page)
	}
}

func (s *Session) currentDocument(ctx context.Context) (int, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return 0, err
	}
	if cur.Document == 0 {
		return 0, ErrNoDocument
	}
	return cur.Document, nil
}

// CreateHighlight creates a highlight on the current document and shows it.
func (s *Session) CreateHighlight(ctx context.Context, start, end int, tags []int) (int, error) {
	if start >= end {
		return 0, fmt.Errorf("%w: [%d, %d)", overlay.ErrInvalidRange, start, end)
	}
	document, err := s.currentDocument(ctx)
	if err != nil {
		return 0, err
	}
	id, err := s.client.CreateHighlight(ctx, document, start, end, tags)
	if err != nil {
		return 0, err
	}
	err = s.show(ctx, document, overlay.Highlight{ID: id, Start: start, End: end, Tags: tags})
	return id, err
}

// HighlightSelection creates a highlight over the current selection.
func (s *Session) HighlightSelection(ctx context.Context, tags []int) (int, error) {
	var start, end int
	err := s.run(ctx, "describe selection", func() error {
		if s.view == nil || s.document == 0 {
			return ErrNoDocument
		}
		var ok bool
		if start, end, ok = s.view.DescribeSelection(); !ok || start >= end {
			return ErrNoSelection
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return s.CreateHighlight(ctx, start, end, tags)
}

// UpdateHighlight changes the range or tags of a highlight of the current
// document.
func (s *Session) UpdateHighlight(ctx context.Context, h overlay.Highlight) error {
	if h.Start >= h.End {
		return fmt.Errorf("%w: [%d, %d)", overlay.ErrInvalidRange, h.Start, h.End)
	}
	document, err := s.currentDocument(ctx)
	if err != nil {
		return err
	}
	err = s.client.UpdateHighlight(ctx, document, taguette.Highlight{
		ID: h.ID, Start: h.Start, End: h.End, Tags: h.Tags,
	})
	if err != nil {
		return err
	}
	return s.show(ctx, document, h)
}

func (s *Session) show(ctx context.Context, document int, h overlay.Highlight) error {
	return s.run(ctx, "show highlight", func() error {
		if s.document != document || s.view == nil {
			return nil
		}
		if err := s.view.SetHighlight(h); err != nil {
			return err
		}
		s.notify(Change{Kind: ViewChanged, Document: document})
		return nil
	})
}

// DeleteHighlight deletes a highlight of the current document.
func (s *Session) DeleteHighlight(ctx context.Context, id int) error {
	document, err := s.currentDocument(ctx)
	if err != nil {
		return err
	}
	if err := s.client.DeleteHighlight(ctx, document, id); err != nil {
		return err
	}
	return s.run(ctx, "remove highlight", func() error {
		if s.document == document && s.view != nil && s.view.RemoveHighlight(id) {
			s.notify(Change{Kind: ViewChanged, Document: document})
		}
		return nil
	})
}
