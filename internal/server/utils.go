package server

import (
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/remram44/taguette/internal/resolver"
	"github.com/remram44/taguette/internal/scanner"
	"github.com/remram44/taguette/internal/utils"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

func isSubsequence(query, s string) bool {
	return utils.IsSubsequence(query, s)
}

// fetchedDocuments returns the documents of the project known locally:
// cached in the store, or written to the workspace.
func (s *Server) fetchedDocuments() map[int]string {
	sess, res := s.state()
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	names := map[int]string{}
	if db != nil {
		docs, err := db.Documents(sess.Project())
		if err != nil {
			log.Warningf("cache: %s", err.Error())
		}
		for _, d := range docs {
			names[d.ID] = d.Name
		}
	}

	skip := func(doc resolver.Doc, info fs.FileInfo) bool {
		if doc.Project != sess.Project() {
			return true
		}
		if _, ok := names[doc.Document]; !ok {
			names[doc.Document] = ""
		}
		return true
	}
	scanner.Scan(res, skip, nil)
	return names
}

// highlightArgs are the arguments of taglight.highlight. The range is
// either an editor range or byte offsets into the document text. Tags are
// tag paths.
type highlightArgs struct {
	URI   protocol.DocumentUri `json:"uri"`
	Range *protocol.Range      `json:"range,omitempty"`
	Start *int                 `json:"start,omitempty"`
	End   *int                 `json:"end,omitempty"`
	Tags  []string             `json:"tags"`
}

type deleteArgs struct {
	URI protocol.DocumentUri `json:"uri"`
	ID  int                  `json:"id"`
}

// decodeArgs reads the first command argument into v.
func decodeArgs(params *protocol.ExecuteCommandParams, v any) error {
	if len(params.Arguments) == 0 {
		return fmt.Errorf("%s: missing arguments", params.Command)
	}
	data, err := json.Marshal(params.Arguments[0])
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: invalid arguments: %w", params.Command, err)
	}
	return nil
}
