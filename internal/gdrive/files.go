package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// listPageSize is the maximum page size Drive accepts for files.list.
const listPageSize = 1000

// ListChildrenPage returns one page of the non-trashed children of folderID.
// Pass the previous page's NextPageToken to continue; "" starts at the top.
func (c *Client) ListChildrenPage(ctx context.Context, folderID, pageToken string) (*ChildrenPage, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID)))
	q.Set("fields", "nextPageToken,files("+itemFields+")")
	q.Set("pageSize", strconv.Itoa(listPageSize))
	q.Set("orderBy", "folder,name")
	q.Set("includeItemsFromAllDrives", "true")

	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	const op = "list children"

	resp, err := c.do(ctx, request{op: op, method: http.MethodGet, url: c.apiURL("/files", q)})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, readFailure(ctx, op, err)
	}

	page := &ChildrenPage{
		Items:         make([]Item, 0, len(lr.Files)),
		NextPageToken: lr.NextPageToken,
	}

	for i := range lr.Files {
		page.Items = append(page.Items, lr.Files[i].toItem(c.logger))
	}

	c.logger.Debug("listed children page",
		slog.String("folder_id", folderID),
		slog.Int("count", len(page.Items)),
		slog.Bool("more", page.NextPageToken != ""),
	)

	return page, nil
}

// GetItem fetches the metadata of a single file or folder.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	q := url.Values{}
	q.Set("fields", itemFields)

	const op = "get item"

	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		url:    c.apiURL("/files/"+url.PathEscape(itemID), q),
	})
	if err != nil {
		return nil, err
	}

	return c.decodeItem(ctx, op, resp)
}

type createFileRequest struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

// CreateFolder creates a folder named name under parentID. Drive allows
// duplicate names, so calling it twice creates two folders.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	body, err := json.Marshal(createFileRequest{
		Name:     name,
		MimeType: FolderMimeType,
		Parents:  []string{parentID},
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: marshaling folder request: %w", err)
	}

	q := url.Values{}
	q.Set("fields", itemFields)

	const op = "create folder"

	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		url:    c.apiURL("/files", q),
		header: jsonHeader(),
		body:   bytes.NewReader(body),
	})
	if err != nil {
		return nil, err
	}

	return c.decodeItem(ctx, op, resp)
}

// CopyFile asks Drive to duplicate fileID server-side into parentID under
// name. Fails with ErrCopyRestricted or ErrAccessDenied when the owner
// disallows copying.
func (c *Client) CopyFile(ctx context.Context, fileID, parentID, name string) (*Item, error) {
	c.logger.Debug("server-side copy",
		slog.String("item_id", fileID),
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	body, err := json.Marshal(createFileRequest{
		Name:    name,
		Parents: []string{parentID},
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: marshaling copy request: %w", err)
	}

	q := url.Values{}
	q.Set("fields", itemFields)

	const op = "copy file"

	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		url:    c.apiURL("/files/"+url.PathEscape(fileID)+"/copy", q),
		header: jsonHeader(),
		body:   bytes.NewReader(body),
	})
	if err != nil {
		return nil, err
	}

	return c.decodeItem(ctx, op, resp)
}

// decodeItem decodes a single file resource and closes the body.
func (c *Client) decodeItem(ctx context.Context, op string, resp *http.Response) (*Item, error) {
	defer resp.Body.Close()

	var fr fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, readFailure(ctx, op, err)
	}

	item := fr.toItem(c.logger)

	return &item, nil
}

func jsonHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=UTF-8")

	return h
}

// escapeQuery escapes a value for use inside a single-quoted Drive query
// string literal.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
