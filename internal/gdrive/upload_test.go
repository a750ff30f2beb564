package gdrive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUploadSession(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload/files", r.URL.Path)
		assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
		assert.Equal(t, "image/png", r.Header.Get("X-Upload-Content-Type"))
		assert.Equal(t, "1234", r.Header.Get("X-Upload-Content-Length"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body createFileRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pic.png", body.Name)
		assert.Equal(t, "image/png", body.MimeType)
		assert.Equal(t, []string{"dest"}, body.Parents)

		w.Header().Set("Location", srv.URL+"/session/abc")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess, err := newTestClient(t, srv).CreateUploadSession(context.Background(), "dest", "pic.png", "image/png", 1234)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/session/abc", sess.URL)
	assert.Equal(t, int64(1234), sess.Size)
	assert.Equal(t, "pic.png", sess.Name)
}

func TestCreateUploadSession_MissingLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).CreateUploadSession(context.Background(), "d", "n", "text/plain", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Location")
}

// resumableServer emulates the Drive resumable protocol, committing at most
// maxCommit bytes per PUT.
type resumableServer struct {
	mu        sync.Mutex
	data      []byte
	size      int64
	maxCommit int
	ranges    []string
	authSeen  bool
}

func (s *resumableServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ranges = append(s.ranges, r.Header.Get("Content-Range"))
	if r.Header.Get("Authorization") != "" {
		s.authSeen = true
	}

	body, _ := io.ReadAll(r.Body)
	if len(body) > s.maxCommit && s.maxCommit > 0 {
		body = body[:s.maxCommit]
	}

	s.data = append(s.data, body...)

	if int64(len(s.data)) >= s.size {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"uploaded-1","name":"f.bin","mimeType":"application/octet-stream"}`)

		return
	}

	if len(s.data) > 0 {
		w.Header().Set("Range", "bytes=0-"+strconv.Itoa(len(s.data)-1))
	}

	w.WriteHeader(http.StatusPermanentRedirect)
}

func TestUploadChunk_IntermediateAndFinal(t *testing.T) {
	rs := &resumableServer{size: 10}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	c := newTestClient(t, srv)
	sess := &UploadSession{URL: srv.URL + "/session/1", Size: 10}

	res, err := c.UploadChunk(context.Background(), sess, []byte("01234"), 0)
	require.NoError(t, err)
	assert.False(t, res.Done())
	assert.Equal(t, int64(5), res.Committed)

	res, err = c.UploadChunk(context.Background(), sess, []byte("56789"), 5)
	require.NoError(t, err)
	require.True(t, res.Done())
	assert.Equal(t, "uploaded-1", res.Item.ID)

	assert.Equal(t, []string{"bytes 0-4/10", "bytes 5-9/10"}, rs.ranges)
	assert.Equal(t, "0123456789", string(rs.data))
	assert.False(t, rs.authSeen, "session URL is pre-authorized")
}

func TestUploadChunk_PartialCommitReported(t *testing.T) {
	rs := &resumableServer{size: 10, maxCommit: 3}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	sess := &UploadSession{URL: srv.URL + "/s", Size: 10}

	res, err := newTestClient(t, srv).UploadChunk(context.Background(), sess, []byte("01234"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Committed)
}

func TestUploadChunk_EmptyFile(t *testing.T) {
	rs := &resumableServer{size: 0}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	sess := &UploadSession{URL: srv.URL + "/s", Size: 0}

	res, err := newTestClient(t, srv).UploadChunk(context.Background(), sess, nil, 0)
	require.NoError(t, err)
	require.True(t, res.Done())
	assert.Equal(t, []string{"bytes */0"}, rs.ranges)
}

func TestUploadChunk_SessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sess := &UploadSession{URL: srv.URL + "/s", Size: 4}

	_, err := newTestClient(t, srv).UploadChunk(context.Background(), sess, []byte("abcd"), 0)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadChunk_ServerErrorKeepsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sess := &UploadSession{URL: srv.URL + "/s", Size: 4}

	_, err := newTestClient(t, srv).UploadChunk(context.Background(), sess, []byte("abcd"), 0)
	require.ErrorIs(t, err, ErrServerError)
}

func TestParseCommitted(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"bytes=0-0", 1, false},
		{"bytes=0-262143", 262144, false},
		{"0-10", 0, true},
		{"bytes=0", 0, true},
		{"bytes=0-x", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := parseCommitted(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
