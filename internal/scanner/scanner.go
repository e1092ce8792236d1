// scanner finds the document files written to a workspace.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/remram44/taguette/internal/resolver"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.scanner")

// Scan walks the workspace and calls callback with every document file for
// which skip returns false, along with its contents. Hidden directories
// are not entered. Scan returns once all callbacks have completed.
func Scan(
	r *resolver.Resolver,
	skip func(doc resolver.Doc, info fs.FileInfo) bool,
	callback func(doc resolver.Doc, text []byte),
) {
	fileCh := make(chan resolver.Doc, 100)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for doc := range fileCh {
			data, err := os.ReadFile(doc.AbsolutePath)
			if err != nil {
				log.Warningf("read error: %s: %s", doc.AbsolutePath, err.Error())
				continue
			}
			callback(doc, data)
		}
	}()

	root := r.Root()
	log.Debugf("starting WalkDir at %q", root)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warningf("walk error: %s", err.Error())
			return nil
		}

		if d.IsDir() {
			if path != root && resolver.IgnoreDir(path) {
				return fs.SkipDir
			}
			return nil
		}

		doc, err := r.Resolve(path)
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if skip != nil && skip(doc, info) {
			return nil
		}

		fileCh <- doc
		return nil
	})
	if err != nil {
		log.Warningf("WalkDir finished with error: %s", err.Error())
	}

	close(fileCh)
	wg.Wait()
}
