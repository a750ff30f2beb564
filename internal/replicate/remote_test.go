package replicate

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Drive's checksum, not security
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
)

// fakeNode is one item in the in-memory Drive.
type fakeNode struct {
	item    gdrive.Item
	content []byte
}

type fakeSession struct {
	parentID string
	mimeType string
	buf      []byte
}

// fakeRemote is an in-memory Remote. Errors are injected per operation and
// key with failNext; every method call is counted by operation name.
type fakeRemote struct {
	mu       sync.Mutex
	nodes    map[string]*fakeNode
	children map[string][]string
	sessions map[string]*fakeSession
	failures map[string][]error
	calls    map[string]int
	seq      int
	pageSize int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nodes:    make(map[string]*fakeNode),
		children: make(map[string][]string),
		sessions: make(map[string]*fakeSession),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// addFolder adds a source folder with a fixed ID.
func (f *fakeRemote) addFolder(parentID, id, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.put(parentID, gdrive.Item{ID: id, Name: name, MimeType: gdrive.FolderMimeType}, nil)

	return id
}

// addFile adds a source file with a fixed ID.
func (f *fakeRemote) addFile(parentID, id, name string, content []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.put(parentID, gdrive.Item{ID: id, Name: name, MimeType: "text/plain", Size: int64(len(content))}, content)

	return id
}

func (f *fakeRemote) addItem(parentID string, item gdrive.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.put(parentID, item, nil)
}

func (f *fakeRemote) put(parentID string, item gdrive.Item, content []byte) {
	item.ParentID = parentID

	if content != nil && item.MD5 == "" {
		sum := md5.Sum(content) //nolint:gosec // Drive's checksum, not security
		item.MD5 = hex.EncodeToString(sum[:])
	}
	f.nodes[item.ID] = &fakeNode{item: item, content: content}

	if parentID != "" {
		f.children[parentID] = append(f.children[parentID], item.ID)
	}
}

// failNext queues errors returned by the next calls of op for key. Keys are
// the folder ID for list, the file ID for get/copy/download, and the name
// for create/session/upload.
func (f *fakeRemote) failNext(op, key string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[op+":"+key] = append(f.failures[op+":"+key], errs...)
}

// failAlways makes every call of op for key fail with err.
func (f *fakeRemote) failAlways(op, key string, err error) {
	errs := make([]error, 100)
	for i := range errs {
		errs[i] = err
	}

	f.failNext(op, key, errs...)
}

func (f *fakeRemote) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *fakeRemote) mutations() int {
	return f.count("create") + f.count("copy") + f.count("session") + f.count("upload")
}

// enter counts the call and pops an injected error. Caller holds mu.
func (f *fakeRemote) enter(op, key string) error {
	f.calls[op]++

	queue := f.failures[op+":"+key]
	if len(queue) == 0 {
		return nil
	}

	f.failures[op+":"+key] = queue[1:]

	return queue[0]
}

func (f *fakeRemote) newID() string {
	f.seq++

	return "dst-" + strconv.Itoa(f.seq)
}

func (f *fakeRemote) ListChildrenPage(_ context.Context, folderID, pageToken string) (*gdrive.ChildrenPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("list", folderID); err != nil {
		return nil, err
	}

	if _, ok := f.nodes[folderID]; !ok {
		return nil, notFound(folderID)
	}

	ids := f.children[folderID]

	start := 0
	if pageToken != "" {
		start, _ = strconv.Atoi(pageToken)
	}

	end := len(ids)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	page := &gdrive.ChildrenPage{}
	for _, id := range ids[start:end] {
		page.Items = append(page.Items, f.nodes[id].item)
	}

	if end < len(ids) {
		page.NextPageToken = strconv.Itoa(end)
	}

	return page, nil
}

func (f *fakeRemote) GetItem(_ context.Context, itemID string) (*gdrive.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("get", itemID); err != nil {
		return nil, err
	}

	n, ok := f.nodes[itemID]
	if !ok {
		return nil, notFound(itemID)
	}

	item := n.item

	return &item, nil
}

func (f *fakeRemote) CreateFolder(_ context.Context, parentID, name string) (*gdrive.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("create", name); err != nil {
		return nil, err
	}

	item := gdrive.Item{ID: f.newID(), Name: name, MimeType: gdrive.FolderMimeType}
	f.put(parentID, item, nil)

	return &item, nil
}

func (f *fakeRemote) CopyFile(_ context.Context, fileID, parentID, name string) (*gdrive.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("copy", fileID); err != nil {
		return nil, err
	}

	src, ok := f.nodes[fileID]
	if !ok {
		return nil, notFound(fileID)
	}

	item := src.item
	item.ID = f.newID()
	item.Name = name
	f.put(parentID, item, bytes.Clone(src.content))

	return &item, nil
}

func (f *fakeRemote) DownloadRange(_ context.Context, fileID string, offset, length int64, w io.Writer) (int64, error) {
	f.mu.Lock()

	if err := f.enter("download", fileID); err != nil {
		f.mu.Unlock()
		return 0, err
	}

	n, ok := f.nodes[fileID]
	if !ok {
		f.mu.Unlock()
		return 0, notFound(fileID)
	}

	end := min(offset+length, int64(len(n.content)))
	data := append([]byte(nil), n.content[offset:end]...)
	f.mu.Unlock()

	written, err := w.Write(data)

	return int64(written), err
}

func (f *fakeRemote) CreateUploadSession(_ context.Context, parentID, name, mimeType string, size int64) (*gdrive.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("session", name); err != nil {
		return nil, err
	}

	url := "https://upload.test/" + f.newID()
	f.sessions[url] = &fakeSession{parentID: parentID, mimeType: mimeType}

	return &gdrive.UploadSession{URL: url, Name: name, Size: size}, nil
}

func (f *fakeRemote) UploadChunk(_ context.Context, s *gdrive.UploadSession, data []byte, offset int64) (*gdrive.ChunkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("upload", s.Name); err != nil {
		return nil, err
	}

	sess, ok := f.sessions[s.URL]
	if !ok {
		return nil, gdrive.ErrSessionExpired
	}

	sess.buf = append(sess.buf[:offset], data...)

	if int64(len(sess.buf)) < s.Size {
		return &gdrive.ChunkResult{Committed: int64(len(sess.buf))}, nil
	}

	delete(f.sessions, s.URL)

	item := gdrive.Item{ID: f.newID(), Name: s.Name, MimeType: sess.mimeType, Size: int64(len(sess.buf))}
	f.put(sess.parentID, item, sess.buf)

	return &gdrive.ChunkResult{Item: &item, Committed: s.Size}, nil
}

// childrenOf returns the items under folderID by name.
func (f *fakeRemote) childrenOf(t *testing.T, folderID string) map[string]fakeNode {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]fakeNode)

	for _, id := range f.children[folderID] {
		n := f.nodes[id]
		_, dup := out[n.item.Name]
		require.False(t, dup, "duplicate name %q under %s", n.item.Name, folderID)
		out[n.item.Name] = *n
	}

	return out
}

func notFound(id string) error {
	return &gdrive.APIError{StatusCode: http.StatusNotFound, Message: "not found: " + id, Err: gdrive.ErrNotFound}
}

func rateLimited() error {
	return &gdrive.APIError{StatusCode: http.StatusForbidden, Reason: "userRateLimitExceeded", Err: gdrive.ErrRateLimited}
}

func copyRestricted() error {
	return &gdrive.APIError{StatusCode: http.StatusForbidden, Reason: "cannotCopyFile", Err: gdrive.ErrCopyRestricted}
}

func accessDenied() error {
	return &gdrive.APIError{StatusCode: http.StatusForbidden, Reason: "insufficientFilePermissions", Err: gdrive.ErrAccessDenied}
}

func serverError() error {
	return &gdrive.APIError{StatusCode: http.StatusInternalServerError, Err: gdrive.ErrServerError}
}

func unauthorized() error {
	return &gdrive.APIError{StatusCode: http.StatusUnauthorized, Err: gdrive.ErrUnauthorized}
}
