package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/remram44/taguette/internal/overlay"
	"github.com/remram44/taguette/internal/scheduler"
	"github.com/remram44/taguette/internal/taguette"
)

type handlerFunc func(s *Session, ev taguette.Event)

var handlers = map[taguette.EventType]handlerFunc{
	taguette.ProjectMeta:     (*Session).onProjectMeta,
	taguette.DocumentAdd:     (*Session).onDocumentAdd,
	taguette.DocumentDelete:  (*Session).onDocumentDelete,
	taguette.HighlightAdd:    (*Session).onHighlightAdd,
	taguette.HighlightDelete: (*Session).onHighlightDelete,
	taguette.TagAdd:          (*Session).onTagAdd,
	taguette.TagDelete:       (*Session).onTagDelete,
	taguette.TagMerge:        (*Session).onTagMerge,
	taguette.MemberAdd:       (*Session).onMemberAdd,
	taguette.MemberRemove:    (*Session).onMemberRemove,
	taguette.ProjectImport:   (*Session).onProjectImport,
}

// Handle applies events on the loop and advances the cursor past them.
// It reports whether the project needs a full reload.
func (s *Session) Handle(ctx context.Context, events ...taguette.Event) (reload bool, err error) {
	err = s.run(ctx, "handle events", func() error {
		last := s.Cursor()
		for _, ev := range events {
			s.handle(ev)
			if ev.ID > last {
				last = ev.ID
			}
		}
		s.mu.Lock()
		s.cursor = last
		s.mu.Unlock()
		if s.db != nil {
			s.persist(s.db.SetCursor(s.project, last))
		}
		reload, s.stale = s.stale, false
		return nil
	})
	return reload, err
}

func (s *Session) handle(ev taguette.Event) {
	log.Debugf("event %d: %s by %s", ev.ID, ev.Type, ev.UserLogin)
	if h, ok := handlers[ev.Type]; ok {
		h(s, ev)
	} else {
		log.Warningf("ignoring event %d of unknown type %q", ev.ID, ev.Type)
	}
	if changes := ev.CountChanges(); len(changes) > 0 {
		s.adjustCounts(changes)
	}
}

func (s *Session) onProjectMeta(ev taguette.Event) {
	s.mu.Lock()
	s.meta.Name = ev.ProjectName
	s.meta.Description = ev.Description
	s.mu.Unlock()
	s.notify(Change{Kind: ProjectChanged})
}

func (s *Session) onDocumentAdd(ev taguette.Event) {
	s.mu.Lock()
	s.meta.Documents[ev.DocumentID] = ev.DocumentName
	s.mu.Unlock()
	if s.db != nil {
		s.persist(s.db.TouchDocument(s.project, ev.DocumentID, ev.DocumentName, ev.TextDirection))
	}
	s.notify(Change{Kind: ProjectChanged, Document: ev.DocumentID})
}

func (s *Session) onDocumentDelete(ev taguette.Event) {
	s.mu.Lock()
	delete(s.meta.Documents, ev.DocumentID)
	s.mu.Unlock()
	if s.db != nil {
		s.persist(s.db.DeleteDocument(s.project, ev.DocumentID))
	}
	if s.document == ev.DocumentID && s.view != nil {
		s.closeView()
		s.notify(Change{Kind: ViewClosed, Document: ev.DocumentID})
	}
	s.notify(Change{Kind: ProjectChanged, Document: ev.DocumentID})
}

func (s *Session) onHighlightAdd(ev taguette.Event) {
	if s.view == nil || s.document == 0 || ev.DocumentID != s.document {
		return
	}
	h := overlay.Highlight{ID: ev.HighlightID, Start: ev.StartOffset, End: ev.EndOffset, Tags: ev.Tags}
	if err := s.view.SetHighlight(h); err != nil {
		log.Warningf("event %d: %s", ev.ID, err.Error())
		return
	}
	s.notify(Change{Kind: ViewChanged, Document: s.document})
}

func (s *Session) onHighlightDelete(ev taguette.Event) {
	if s.view == nil || s.document == 0 || ev.DocumentID != s.document {
		return
	}
	if s.view.RemoveHighlight(ev.HighlightID) {
		s.notify(Change{Kind: ViewChanged, Document: s.document})
	}
}

func (s *Session) onTagAdd(ev taguette.Event) {
	s.mu.Lock()
	tag := s.tags[ev.TagID]
	tag.ID, tag.Path, tag.Description = ev.TagID, ev.TagPath, ev.Description
	s.tags[ev.TagID] = tag
	s.mu.Unlock()
	if s.db != nil {
		s.persist(s.db.SaveTag(s.project, tag))
	}
	s.relabel()
}

func (s *Session) onTagDelete(ev taguette.Event) {
	s.dropTag(ev.TagID)
	s.rewriteTags(func(id int) (int, bool) { return id, id != ev.TagID })
	s.relabel()
}

func (s *Session) onTagMerge(ev taguette.Event) {
	s.dropTag(ev.SrcTagID)
	s.rewriteTags(func(id int) (int, bool) {
		if id == ev.SrcTagID {
			return ev.DestTagID, true
		}
		return id, true
	})
	s.relabel()
}

func (s *Session) dropTag(id int) {
	s.mu.Lock()
	delete(s.tags, id)
	s.mu.Unlock()
	if s.db != nil {
		s.persist(s.db.DeleteTag(s.project, id))
	}
}

// rewriteTags maps the tags of every highlight in the view, dropping those
// for which fn returns false and duplicates.
func (s *Session) rewriteTags(fn func(id int) (int, bool)) {
	if s.view == nil {
		return
	}
	for _, h := range s.view.Highlights() {
		seen := make(map[int]bool, len(h.Tags))
		tags := make([]int, 0, len(h.Tags))
		changed := false
		for _, id := range h.Tags {
			out, keep := fn(id)
			if !keep || seen[out] {
				changed = true
				continue
			}
			if out != id {
				changed = true
			}
			seen[out] = true
			tags = append(tags, out)
		}
		if changed {
			s.view.SetHighlightTags(h.ID, tags)
		}
	}
}

func (s *Session) relabel() {
	if s.view != nil {
		s.view.Relabel()
		s.notify(Change{Kind: ViewChanged, Document: s.document})
	}
	s.notify(Change{Kind: TagsChanged})
}

func (s *Session) adjustCounts(changes map[int]int) {
	s.mu.Lock()
	for id, delta := range changes {
		if t, ok := s.tags[id]; ok {
			t.Count += delta
			if t.Count < 0 {
				t.Count = 0
			}
			s.tags[id] = t
		}
	}
	s.mu.Unlock()
	if s.db != nil {
		s.persist(s.db.AdjustTagCounts(s.project, changes))
	}
	s.notify(Change{Kind: TagsChanged})
}

func (s *Session) onMemberAdd(ev taguette.Event) {
	s.mu.Lock()
	s.meta.Members[ev.Member] = ev.Privileges
	s.mu.Unlock()
	s.notify(Change{Kind: ProjectChanged})
}

func (s *Session) onMemberRemove(ev taguette.Event) {
	s.mu.Lock()
	delete(s.meta.Members, ev.Member)
	s.mu.Unlock()
	s.notify(Change{Kind: ProjectChanged})
}

// onProjectImport marks the session stale; imported documents and tags
// only show up in a fresh snapshot.
func (s *Session) onProjectImport(ev taguette.Event) {
	s.stale = true
}

// Poll long-polls the server for events until ctx is done or the server
// refuses access. Failed polls are retried, never sooner than the retry
// delay after the previous attempt started.
func (s *Session) Poll(ctx context.Context) error {
	for {
		started := time.Now()
		err := s.pollOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}
		if errors.Is(err, scheduler.ErrStopped) {
			return err
		}
		if errors.Is(err, taguette.ErrForbidden) || errors.Is(err, taguette.ErrNotFound) {
			log.Errorf("stopping event polling: %s", err.Error())
			s.notify(Change{Kind: PollPaused})
			return fmt.Errorf("%w: %w", ErrPaused, err)
		}

		wait := s.retry - time.Since(started)
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		log.Warningf("event poll failed, retrying in %s: %s", wait, err.Error())
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) pollOnce(ctx context.Context) error {
	if s.Cursor() == 0 {
		if err := s.Bootstrap(ctx); err != nil {
			return err
		}
	}
	batch, err := s.client.Events(ctx, s.Cursor())
	if err != nil {
		return err
	}
	if batch.Reload {
		log.Info("server asked for a reload")
		return s.Reload(ctx)
	}
	reload, err := s.Handle(ctx, batch.Events...)
	if err != nil {
		return err
	}
	if reload {
		return s.Reload(ctx)
	}
	return nil
}
