package server

import (
	"fmt"

	"github.com/remram44/taguette/internal/textmetric"
	"github.com/remram44/taguette/internal/view"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const (
	CommandHighlight       = "taglight.highlight"
	CommandDeleteHighlight = "taglight.deleteHighlight"
	CommandPreview         = "taglight.preview"
	CommandReload          = "taglight.reload"
)

func commandNames() []string {
	return []string{CommandHighlight, CommandDeleteHighlight, CommandPreview, CommandReload}
}

func (s *Server) workspaceExecuteCommand(
	context *glsp.Context,
	params *protocol.ExecuteCommandParams,
) (any, error) {
	log.Infof("command %s", params.Command)
	switch params.Command {
	case CommandHighlight:
		var args highlightArgs
		if err := decodeArgs(params, &args); err != nil {
			return nil, err
		}
		return s.highlight(args)
	case CommandDeleteHighlight:
		var args deleteArgs
		if err := decodeArgs(params, &args); err != nil {
			return nil, err
		}
		return nil, s.deleteHighlight(args)
	case CommandPreview:
		return s.showPreview(context)
	case CommandReload:
		return nil, s.reload()
	}
	return nil, fmt.Errorf("unknown command %q", params.Command)
}

// highlight selects the requested range in the view, as a reader would
// with the mouse, and creates a highlight from that selection. It returns
// the new highlight id.
func (s *Server) highlight(args highlightArgs) (int, error) {
	sess, _ := s.state()
	if sess == nil {
		return 0, errNotOpen
	}
	tags := make([]int, 0, len(args.Tags))
	for _, path := range args.Tags {
		t, ok := sess.TagByPath(path)
		if !ok {
			return 0, fmt.Errorf("unknown tag %q", path)
		}
		tags = append(tags, t.ID)
	}

	if err := s.activate(args.URI); err != nil {
		return 0, err
	}
	ctx := s.baseContext()
	err := sess.Do(ctx, func(v *view.View) error {
		if v == nil {
			return errNotOpen
		}
		var start, end int
		switch {
		case args.Range != nil:
			text := v.Text()
			start = textmetric.OffsetAt(text, args.Range.Start)
			end = textmetric.OffsetAt(text, args.Range.End)
		case args.Start != nil && args.End != nil:
			start, end = *args.Start, *args.End
		default:
			return fmt.Errorf("%s: needs a range or start and end offsets", CommandHighlight)
		}
		return v.RestoreSelection(&[2]int{start, end})
	})
	if err != nil {
		return 0, err
	}

	id, err := sess.HighlightSelection(ctx, tags)
	if err != nil {
		return 0, err
	}
	return id, s.publish(args.URI)
}

func (s *Server) deleteHighlight(args deleteArgs) error {
	sess, _ := s.state()
	if sess == nil {
		return errNotOpen
	}
	if err := s.activate(args.URI); err != nil {
		return err
	}
	if err := sess.DeleteHighlight(s.baseContext(), args.ID); err != nil {
		return err
	}
	return s.publish(args.URI)
}

// reload refreshes the project state and the open document, and resumes
// event polling if the server had refused it.
func (s *Server) reload() error {
	sess, _ := s.state()
	if sess == nil {
		return errNotOpen
	}
	ctx := s.baseContext()
	if err := sess.Reload(ctx); err != nil {
		return err
	}
	s.startPolling(ctx)

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != "" {
		return s.publish(active)
	}
	return nil
}
