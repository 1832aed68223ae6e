package store

import (
	"fmt"
	"path/filepath"
)

// layout centralizes the on-disk tree under a workspace root (§6):
//
//	<root>/dialogs/<status>/<rootId>/metadata.yaml
//	<root>/dialogs/<status>/<rootId>/latest.yaml
//	<root>/dialogs/<status>/<rootId>/q4h.yaml
//	<root>/dialogs/<status>/<rootId>/pending-subdialogs.json
//	<root>/dialogs/<status>/<rootId>/courses/c<N>/events.log
//	<root>/dialogs/<status>/<rootId>/artifacts/<path>
//	<root>/dialogs/<status>/<rootId>/subdialogs/<selfId>/...  (same shape, recursive)
type layout struct {
	root string
}

func newLayout(workspaceRoot string) *layout {
	return &layout{root: workspaceRoot}
}

func (l *layout) dialogsDir() string {
	return filepath.Join(l.root, "dialogs")
}

// rootDir returns the directory for a root dialog under the given status.
func (l *layout) rootDir(status Status, rootID string) string {
	return filepath.Join(l.dialogsDir(), string(status), rootID)
}

// dialogDir returns the directory for any dialog (root or nested subdialog)
// given its full ancestor chain of selfIds from root to self (inclusive).
// chain == []string{rootId} for a root dialog itself.
func (l *layout) dialogDir(status Status, chain []string) string {
	dir := l.rootDir(status, chain[0])
	for _, selfID := range chain[1:] {
		dir = filepath.Join(dir, "subdialogs", selfID)
	}
	return dir
}

func (l *layout) metadataPath(status Status, chain []string) string {
	return filepath.Join(l.dialogDir(status, chain), "metadata.yaml")
}

func (l *layout) latestPath(status Status, chain []string) string {
	return filepath.Join(l.dialogDir(status, chain), "latest.yaml")
}

func (l *layout) q4hPath(status Status, chain []string) string {
	return filepath.Join(l.dialogDir(status, chain), "q4h.yaml")
}

func (l *layout) pendingSubdialogsPath(status Status, chain []string) string {
	return filepath.Join(l.dialogDir(status, chain), "pending-subdialogs.json")
}

func (l *layout) courseDir(status Status, chain []string, course int) string {
	return filepath.Join(l.dialogDir(status, chain), "courses", fmt.Sprintf("c%d", course))
}

func (l *layout) eventsLogPath(status Status, chain []string, course int) string {
	return filepath.Join(l.courseDir(status, chain, course), "events.log")
}

func (l *layout) artifactsDir(status Status, chain []string) string {
	return filepath.Join(l.dialogDir(status, chain), "artifacts")
}

func (l *layout) subdialogsDir(status Status, chain []string) string {
	return filepath.Join(l.dialogDir(status, chain), "subdialogs")
}
