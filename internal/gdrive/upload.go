package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ChunkAlignment is the granularity Drive requires for every upload chunk
// except the last.
const ChunkAlignment = 256 * 1024

// statusResumeIncomplete is the 308 Drive sends for an accepted
// intermediate chunk.
const statusResumeIncomplete = http.StatusPermanentRedirect

// UploadSession is an open resumable upload. URL is a bearer capability and
// must not be logged.
type UploadSession struct {
	URL  string
	Name string
	Size int64
}

// ChunkResult reports the state of a session after a chunk PUT. Item is set
// once the upload is complete; otherwise Committed is the number of bytes
// the server holds, which is where the next chunk must start.
type ChunkResult struct {
	Item      *Item
	Committed int64
}

// Done reports whether the upload finished.
func (r *ChunkResult) Done() bool {
	return r.Item != nil
}

// CreateUploadSession opens a resumable upload for a new file named name in
// parentID. size is the exact total byte count; mimeType is preserved on
// the new file.
func (c *Client) CreateUploadSession(
	ctx context.Context, parentID, name, mimeType string, size int64,
) (*UploadSession, error) {
	c.logger.Debug("creating upload session",
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.Int64("size", size),
	)

	body, err := json.Marshal(createFileRequest{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentID},
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: marshaling upload session request: %w", err)
	}

	q := url.Values{}
	q.Set("uploadType", "resumable")
	q.Set("fields", itemFields)

	h := jsonHeader()
	if mimeType != "" {
		h.Set("X-Upload-Content-Type", mimeType)
	}

	h.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	const op = "create upload session"

	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		url:    c.uploadAPIURL("/files", q),
		header: h,
		body:   bytes.NewReader(body),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return nil, readFailure(ctx, op, err)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("gdrive: %s: response has no Location header", op)
	}

	return &UploadSession{URL: location, Name: name, Size: size}, nil
}

// UploadChunk sends data as the bytes starting at offset. An empty data
// slice at offset == Size finalizes the upload; for a zero-byte file that
// is the only chunk.
func (c *Client) UploadChunk(
	ctx context.Context, session *UploadSession, data []byte, offset int64,
) (*ChunkResult, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/octet-stream")

	if len(data) == 0 {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", session.Size))
	} else {
		end := offset + int64(len(data)) - 1
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, session.Size))
	}

	const op = "upload chunk"

	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodPut,
		url:    session.URL,
		header: h,
		body:   bytes.NewReader(data),
		noAuth: true,
	})
	if err != nil {
		if apiErr, ok := asNotFound(err); ok {
			return nil, fmt.Errorf("%w: %w", ErrSessionExpired, apiErr)
		}

		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var fr fileResponse
		if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
			return nil, readFailure(ctx, op, err)
		}

		item := fr.toItem(c.logger)

		c.logger.Debug("upload complete",
			slog.String("item_id", item.ID),
			slog.String("name", item.Name),
		)

		return &ChunkResult{Item: &item, Committed: session.Size}, nil

	case statusResumeIncomplete:
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return nil, readFailure(ctx, op, err)
		}

		committed, err := parseCommitted(resp.Header.Get("Range"))
		if err != nil {
			return nil, fmt.Errorf("gdrive: %s: %w", op, err)
		}

		return &ChunkResult{Committed: committed}, nil

	default:
		return nil, fmt.Errorf("gdrive: %s: unexpected status %d", op, resp.StatusCode)
	}
}

// parseCommitted turns a 308 Range header ("bytes=0-N") into the committed
// byte count N+1. A missing header means nothing is committed yet.
func parseCommitted(header string) (int64, error) {
	if header == "" {
		return 0, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, fmt.Errorf("malformed Range header %q", header)
	}

	_, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, fmt.Errorf("malformed Range header %q", header)
	}

	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Range header %q: %w", header, err)
	}

	return n + 1, nil
}

func asNotFound(err error) (*APIError, bool) {
	apiErr, ok := err.(*APIError) //nolint:errorlint // do returns *APIError unwrapped
	if !ok || apiErr.StatusCode != http.StatusNotFound {
		return nil, false
	}

	return apiErr, true
}
