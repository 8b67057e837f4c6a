package coord

import (
	"os"
	"path/filepath"
)

// checkLayout refuses to run while a directory of the previous layout is
// present in the workspace.
func (e *Engine) checkLayout() error {
	if e.workspace == "" {
		return nil
	}
	for _, dir := range e.legacyDirs {
		path := dir
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.workspace, dir)
		}
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		return errorf(CodeLegacyLayout,
			"legacy layout detected at %s; move its artifacts under %s and remove it",
			path, e.renderer.Dir(""))
	}
	return nil
}
