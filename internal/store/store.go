// Package store implements the Event Store: the file-based, append-only
// per-course event log plus atomic mutable pointers that back every dialog
// (§4.1). It replaces a database with a directory tree so that the entire
// runtime's durable state is inspectable with ordinary file tools and
// survives a crash without a WAL or external process.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// location records where a dialog currently lives on disk: which status
// directory its root is under, and the chain of selfIds from root to self.
type location struct {
	status Status
	chain  []string
}

// Store is the single entry point for all durable dialog state under a
// workspace root. It is safe for concurrent use by many dialog goroutines;
// callers rely on per-dialog and per-root locks held internally rather than
// coordinating locking themselves.
type Store struct {
	layout *layout

	mu   sync.RWMutex // guards locations
	locs map[string]location

	fileLocks sync.Map // selfID -> *sync.Mutex, guards that dialog's latest/metadata files
	txnLocks  sync.Map // rootID -> *sync.Mutex, the "subdialog-txn lock" (§4.1, §4.6)
}

// New returns a Store rooted at workspaceRoot. It does not scan disk; callers
// that need to rehydrate existing dialogs should call Rehydrate.
func New(workspaceRoot string) *Store {
	return &Store{
		layout: newLayout(workspaceRoot),
		locs:   make(map[string]location),
	}
}

func (s *Store) fileLock(selfID string) *sync.Mutex {
	v, _ := s.fileLocks.LoadOrStore(selfID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) txnLock(rootID string) *sync.Mutex {
	v, _ := s.txnLocks.LoadOrStore(rootID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) setLocation(selfID string, loc location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locs[selfID] = loc
}

func (s *Store) getLocation(selfID string) (location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locs[selfID]
	return loc, ok
}

// locate resolves a DialogID to its on-disk location, consulting the
// in-memory index first and falling back to a status-directory probe for
// root dialogs that haven't been indexed yet (e.g. right after process
// start, before Rehydrate runs for that root).
func (s *Store) locate(id DialogID) (location, error) {
	if loc, ok := s.getLocation(id.SelfID); ok {
		return loc, nil
	}
	if !id.IsRoot() {
		return location{}, ErrNotFound
	}
	for _, st := range []Status{StatusRunning, StatusCompleted, StatusArchived} {
		dir := s.layout.rootDir(st, id.RootID)
		ok, err := pathExists(dir)
		if err != nil {
			return location{}, err
		}
		if ok {
			loc := location{status: st, chain: []string{id.RootID}}
			s.setLocation(id.RootID, loc)
			return loc, nil
		}
	}
	return location{}, ErrNotFound
}

// CreateRootDialog initializes a brand-new root dialog's on-disk footprint:
// metadata.yaml (written once) and an initial latest.yaml in idle_waiting_user.
func (s *Store) CreateRootDialog(meta Metadata) error {
	if !meta.ID.IsRoot() {
		return fmt.Errorf("store: CreateRootDialog given non-root id %+v", meta.ID)
	}
	chain := []string{meta.ID.RootID}
	loc := location{status: StatusRunning, chain: chain}

	if err := writeYAMLAtomic(s.layout.metadataPath(loc.status, chain), &meta); err != nil {
		return err
	}
	initial := Latest{
		CurrentCourse: 1,
		LastModified:  meta.CreatedAt,
		Status:        StatusRunning,
		RunState:      RunState{Kind: RunIdleWaitingUser},
	}
	if err := writeYAMLAtomic(s.layout.latestPath(loc.status, chain), &initial); err != nil {
		return err
	}
	s.setLocation(meta.ID.SelfID, loc)
	return nil
}

// CreateSubDialog initializes a subdialog nested under its parent's chain.
// parentChain is the parent's own chain (root-to-parent inclusive).
func (s *Store) CreateSubDialog(meta Metadata, parentChain []string) error {
	if meta.ID.IsRoot() {
		return fmt.Errorf("store: CreateSubDialog given root id %+v", meta.ID)
	}
	parentLoc, err := s.locate(DialogID{SelfID: parentChain[len(parentChain)-1], RootID: meta.ID.RootID})
	if err != nil {
		return err
	}
	chain := append(append([]string{}, parentChain...), meta.ID.SelfID)
	loc := location{status: parentLoc.status, chain: chain}

	if err := writeYAMLAtomic(s.layout.metadataPath(loc.status, chain), &meta); err != nil {
		return err
	}
	initial := Latest{
		CurrentCourse: 1,
		LastModified:  meta.CreatedAt,
		Status:        loc.status,
		RunState:      RunState{Kind: RunIdleWaitingUser},
	}
	if err := writeYAMLAtomic(s.layout.latestPath(loc.status, chain), &initial); err != nil {
		return err
	}
	s.setLocation(meta.ID.SelfID, loc)
	return nil
}

// LoadMetadata returns the one-shot metadata record for id, or ErrNotFound.
func (s *Store) LoadMetadata(id DialogID) (*Metadata, error) {
	loc, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := readYAML(s.layout.metadataPath(loc.status, loc.chain), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateSubdialogAssignment rewrites the AssignmentFromSup field of an
// existing subdialog's metadata, used when a Type-B tellask resumes a
// session with a new call (§3: "mutable only via an atomic reassignment").
func (s *Store) UpdateSubdialogAssignment(id DialogID, assignment AssignmentFromSup) error {
	lock := s.fileLock(id.SelfID)
	lock.Lock()
	defer lock.Unlock()

	loc, err := s.locate(id)
	if err != nil {
		return err
	}
	path := s.layout.metadataPath(loc.status, loc.chain)
	var m Metadata
	if err := readYAML(path, &m); err != nil {
		return err
	}
	m.AssignmentFromSup = &assignment
	return writeYAMLAtomic(path, &m)
}

// LoadLatest returns the mutable latest pointer for id, or ErrNotFound.
func (s *Store) LoadLatest(id DialogID) (*Latest, error) {
	loc, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	var l Latest
	if err := readYAML(s.layout.latestPath(loc.status, loc.chain), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// MutateLatest loads the latest pointer for id, applies fn, and writes the
// result back atomically, all while holding id's per-dialog file lock. fn
// returning an error aborts the write. A dead run-state rejects every
// mutation except one that leaves it at dead (ErrDeadImmutable otherwise).
func (s *Store) MutateLatest(id DialogID, fn func(*Latest) error) error {
	lock := s.fileLock(id.SelfID)
	lock.Lock()
	defer lock.Unlock()

	loc, err := s.locate(id)
	if err != nil {
		return err
	}
	path := s.layout.latestPath(loc.status, loc.chain)
	var l Latest
	if err := readYAML(path, &l); err != nil {
		return err
	}

	wasDead := l.RunState.IsDead()
	if err := fn(&l); err != nil {
		return err
	}
	if wasDead && !l.RunState.IsDead() {
		return ErrDeadImmutable
	}
	l.LastModified = time.Now()
	return writeYAMLAtomic(path, &l)
}

// LoadPendingSubdialogs returns id's persisted pending-subdialog list.
// A missing file means no pending subdialogs yet, so this returns an empty
// slice rather than ErrNotFound.
func (s *Store) LoadPendingSubdialogs(id DialogID) ([]PendingSubdialogRecord, error) {
	loc, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	return s.readPendingList(s.layout.pendingSubdialogsPath(loc.status, loc.chain))
}

func (s *Store) readPendingList(path string) ([]PendingSubdialogRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var list []PendingSubdialogRecord
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// MutatePendingSubdialogs runs fn against id's pending-subdialog list and
// persists the result, all under id's root's subdialog-txn lock — the same
// lock that guards registry mutation, so a caller never observes the
// pending list and the registry's needsDrive flag disagree (§4.1, §4.6).
func (s *Store) MutatePendingSubdialogs(id DialogID, fn func([]PendingSubdialogRecord) ([]PendingSubdialogRecord, error)) error {
	lock := s.txnLock(id.RootID)
	lock.Lock()
	defer lock.Unlock()

	loc, err := s.locate(id)
	if err != nil {
		return err
	}
	path := s.layout.pendingSubdialogsPath(loc.status, loc.chain)
	list, err := s.readPendingList(path)
	if err != nil {
		return err
	}
	next, err := fn(list)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data, 0o644)
}

// WithTxnLock runs fn while holding rootID's subdialog-txn lock, for callers
// that need to coordinate pending-list mutation with registry state outside
// this package (e.g. marking needsDrive) without a second, racing lock.
func (s *Store) WithTxnLock(rootID string, fn func() error) error {
	lock := s.txnLock(rootID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// CurrentCourseNumber returns id's current course number from its latest
// pointer.
func (s *Store) CurrentCourseNumber(id DialogID) (int, error) {
	l, err := s.LoadLatest(id)
	if err != nil {
		return 0, err
	}
	return l.CurrentCourse, nil
}

// AppendEvent appends ev to id's course event log. ev.Course must equal id's
// current course (from latest.yaml); appending to a lower course number
// returns ErrCourseClosed. GenSeq is assigned by the store, overwriting
// whatever the caller set, so ordering is always the append order.
func (s *Store) AppendEvent(id DialogID, ev Event) error {
	lock := s.fileLock(id.SelfID)
	lock.Lock()
	defer lock.Unlock()

	loc, err := s.locate(id)
	if err != nil {
		return err
	}
	var l Latest
	if err := readYAML(s.layout.latestPath(loc.status, loc.chain), &l); err != nil {
		return err
	}
	if ev.Course < l.CurrentCourse {
		return ErrCourseClosed
	}
	logPath := s.layout.eventsLogPath(loc.status, loc.chain, ev.Course)

	nextSeq, err := s.nextGenSeq(logPath)
	if err != nil {
		return err
	}
	ev.GenSeq = nextSeq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := json.Marshal(&ev)
	if err != nil {
		return err
	}
	return appendLine(logPath, data)
}

// nextGenSeq scans logPath's existing line count to compute the next
// monotonic sequence number for that course. Courses are expected to be
// short-lived enough that an O(n) scan on each append is acceptable; a
// busier deployment would cache this per (dialog, course) in memory.
func (s *Store) nextGenSeq(logPath string) (int64, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	lines := strings.Count(strings.TrimRight(string(data), "\n"), "\n")
	if len(data) > 0 {
		lines++
	}
	return int64(lines + 1), nil
}

// LoadEvents returns all events recorded for id's given course, in append
// (genSeq) order.
func (s *Store) LoadEvents(id DialogID, course int) ([]Event, error) {
	loc, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	path := s.layout.eventsLogPath(loc.status, loc.chain, course)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []Event
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// LoadAllEvents returns every event across every course 1..CurrentCourse for
// id, in course then genSeq order — the full replay a late subscriber needs.
func (s *Store) LoadAllEvents(id DialogID) ([]Event, error) {
	l, err := s.LoadLatest(id)
	if err != nil {
		return nil, err
	}
	var all []Event
	for c := 1; c <= l.CurrentCourse; c++ {
		events, err := s.LoadEvents(id, c)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	return all, nil
}

// AppendQuestion persists a new pending Q4H question under id's dialog.
func (s *Store) AppendQuestion(id DialogID, q HumanQuestion) error {
	lock := s.fileLock(id.SelfID)
	lock.Lock()
	defer lock.Unlock()

	loc, err := s.locate(id)
	if err != nil {
		return err
	}
	path := s.layout.q4hPath(loc.status, loc.chain)
	questions, err := s.readQuestions(path)
	if err != nil {
		return err
	}
	questions = append(questions, q)
	return writeYAMLAtomic(path, questionFile{Questions: questions})
}

// RemoveQuestion deletes the question with the given id from dialog id's
// pending list and returns the removed record, or ErrNotFound if no such
// question is pending (§4.9 removeQuestion4HumanState).
func (s *Store) RemoveQuestion(id DialogID, questionID string) (*HumanQuestion, error) {
	lock := s.fileLock(id.SelfID)
	lock.Lock()
	defer lock.Unlock()

	loc, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	path := s.layout.q4hPath(loc.status, loc.chain)
	questions, err := s.readQuestions(path)
	if err != nil {
		return nil, err
	}
	var removed *HumanQuestion
	remaining := make([]HumanQuestion, 0, len(questions))
	for i := range questions {
		if questions[i].ID == questionID {
			q := questions[i]
			removed = &q
			continue
		}
		remaining = append(remaining, questions[i])
	}
	if removed == nil {
		return nil, ErrNotFound
	}
	if err := writeYAMLAtomic(path, questionFile{Questions: remaining}); err != nil {
		return nil, err
	}
	return removed, nil
}

type questionFile struct {
	Questions []HumanQuestion `yaml:"questions"`
}

func (s *Store) readQuestions(path string) ([]HumanQuestion, error) {
	var qf questionFile
	if err := readYAML(path, &qf); err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return qf.Questions, nil
}

// LoadAllQuestions returns every pending Q4H question across every running
// root dialog in the workspace — the global view the Q4H Queue reads from
// (§4.9: "read globally across running roots").
func (s *Store) LoadAllQuestions() ([]HumanQuestion, error) {
	rootIDs, err := s.ListDialogs(StatusRunning)
	if err != nil {
		return nil, err
	}
	var all []HumanQuestion
	for _, rootID := range rootIDs {
		if err := s.walkQuestions(StatusRunning, []string{rootID}, &all); err != nil {
			return nil, err
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AskedAt.Before(all[j].AskedAt) })
	return all, nil
}

func (s *Store) walkQuestions(status Status, chain []string, out *[]HumanQuestion) error {
	qs, err := s.readQuestions(s.layout.q4hPath(status, chain))
	if err != nil {
		return err
	}
	*out = append(*out, qs...)

	subDir := s.layout.subdialogsDir(status, chain)
	entries, err := os.ReadDir(subDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		childChain := append(append([]string{}, chain...), e.Name())
		if err := s.walkQuestions(status, childChain, out); err != nil {
			return err
		}
	}
	return nil
}

// MoveDialogStatus moves a root dialog (and its entire subdialog subtree, in
// one directory rename) from one persistence status to another.
func (s *Store) MoveDialogStatus(rootID string, from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return ErrInvalidStatus
	}
	lock := s.txnLock(rootID)
	lock.Lock()
	defer lock.Unlock()

	fromDir := s.layout.rootDir(from, rootID)
	toDir := s.layout.rootDir(to, rootID)
	if err := os.MkdirAll(filepath.Dir(toDir), 0o755); err != nil {
		return err
	}
	if err := os.Rename(fromDir, toDir); err != nil {
		return err
	}

	s.mu.Lock()
	for selfID, loc := range s.locs {
		if loc.chain[0] == rootID && loc.status == from {
			loc.status = to
			s.locs[selfID] = loc
		}
	}
	s.mu.Unlock()
	return nil
}

// DeleteRootDialog permanently removes a root dialog and its entire
// subdialog subtree from disk.
func (s *Store) DeleteRootDialog(status Status, rootID string) error {
	lock := s.txnLock(rootID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.layout.rootDir(status, rootID)); err != nil {
		return err
	}

	s.mu.Lock()
	for selfID, loc := range s.locs {
		if loc.chain[0] == rootID {
			delete(s.locs, selfID)
		}
	}
	s.mu.Unlock()
	return nil
}

// ListDialogs returns the root dialog ids currently under the given status.
func (s *Store) ListDialogs(status Status) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.layout.dialogsDir(), string(status)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Rehydrate scans status's root dialogs on disk and populates the in-memory
// location index for each root and every nested subdialog, so that locate
// can resolve any DialogID without a fresh disk probe. Called once at
// startup per status directory, before crash-recovery reconciliation runs.
func (s *Store) Rehydrate(status Status) error {
	rootIDs, err := s.ListDialogs(status)
	if err != nil {
		return err
	}
	for _, rootID := range rootIDs {
		if err := s.rehydrateChain(status, []string{rootID}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) rehydrateChain(status Status, chain []string) error {
	s.setLocation(chain[len(chain)-1], location{status: status, chain: append([]string{}, chain...)})

	subDir := s.layout.subdialogsDir(status, chain)
	entries, err := os.ReadDir(subDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		childChain := append(append([]string{}, chain...), e.Name())
		if err := s.rehydrateChain(status, childChain); err != nil {
			return err
		}
	}
	return nil
}

// ListDialogIDs returns every dialog (each root plus every subdialog nested
// under it) in status, for callers that need to sweep the whole tree —
// crash-recovery reconciliation (internal/runstate.ReconcileCrashRecovery)
// chief among them.
func (s *Store) ListDialogIDs(status Status) ([]DialogID, error) {
	rootIDs, err := s.ListDialogs(status)
	if err != nil {
		return nil, err
	}
	var out []DialogID
	for _, rootID := range rootIDs {
		if err := s.walkDialogChain(status, []string{rootID}, rootID, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) walkDialogChain(status Status, chain []string, rootID string, out *[]DialogID) error {
	*out = append(*out, DialogID{SelfID: chain[len(chain)-1], RootID: rootID})

	subDir := s.layout.subdialogsDir(status, chain)
	entries, err := os.ReadDir(subDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		childChain := append(append([]string{}, chain...), e.Name())
		if err := s.walkDialogChain(status, childChain, rootID, out); err != nil {
			return err
		}
	}
	return nil
}

// SetNeedsDrive persists the registry's needsDrive flag onto id's latest
// pointer, so a crash can be reconciled against the last known value even
// though the authoritative copy lives in the in-memory Dialog Registry.
func (s *Store) SetNeedsDrive(id DialogID, needsDrive bool) error {
	return s.MutateLatest(id, func(l *Latest) error {
		l.NeedsDrive = needsDrive
		return nil
	})
}

// ArtifactPath returns the absolute path for a named artifact under id's
// dialog directory. relPath is not validated against path traversal here;
// callers supply it from trusted internal call sites, not directly from a
// model-controlled string.
func (s *Store) ArtifactPath(id DialogID, relPath string) (string, error) {
	loc, err := s.locate(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.layout.artifactsDir(loc.status, loc.chain), relPath), nil
}

// WriteArtifact atomically writes data to the named artifact under id.
func (s *Store) WriteArtifact(id DialogID, relPath string, data []byte) error {
	path, err := s.ArtifactPath(id, relPath)
	if err != nil {
		return err
	}
	return writeAtomic(path, data, 0o644)
}
