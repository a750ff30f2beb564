package gdrive

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Drive MIME types with special meaning.
const (
	FolderMimeType   = "application/vnd.google-apps.folder"
	ShortcutMimeType = "application/vnd.google-apps.shortcut"
	nativePrefix     = "application/vnd.google-apps."
)

// itemFields is the partial-response field mask for a single file resource.
const itemFields = "id,name,mimeType,size,md5Checksum,modifiedTime,parents,shortcutDetails"

// Item is a file or folder as returned by Drive.
type Item struct {
	ID               string
	Name             string
	MimeType         string
	ParentID         string
	Size             int64
	MD5              string // hex; empty for folders and native documents
	ModifiedAt       time.Time
	ShortcutTargetID string
}

// IsFolder reports whether the item is a Drive folder.
func (i *Item) IsFolder() bool {
	return i.MimeType == FolderMimeType
}

// IsShortcut reports whether the item is a Drive shortcut.
func (i *Item) IsShortcut() bool {
	return i.MimeType == ShortcutMimeType
}

// IsNative reports whether the item is a Google-native document (Docs,
// Sheets, ...) whose bytes cannot be downloaded as-is.
func (i *Item) IsNative() bool {
	return strings.HasPrefix(i.MimeType, nativePrefix) && !i.IsFolder() && !i.IsShortcut()
}

// ChildrenPage is one page of a folder listing.
type ChildrenPage struct {
	Items         []Item
	NextPageToken string
}

type fileResponse struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	MimeType        string            `json:"mimeType"`
	Size            string            `json:"size"`
	MD5Checksum     string            `json:"md5Checksum"`
	ModifiedTime    string            `json:"modifiedTime"`
	Parents         []string          `json:"parents"`
	ShortcutDetails *shortcutResponse `json:"shortcutDetails,omitempty"`
}

type shortcutResponse struct {
	TargetID string `json:"targetId"`
}

type listResponse struct {
	NextPageToken string         `json:"nextPageToken"`
	Files         []fileResponse `json:"files"`
}

// toItem converts the wire shape. Drive encodes int64 fields as strings;
// a malformed size or timestamp is logged and left zero.
func (f *fileResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:       f.ID,
		Name:     f.Name,
		MimeType: f.MimeType,
		MD5:      f.MD5Checksum,
	}

	if len(f.Parents) > 0 {
		item.ParentID = f.Parents[0]
	}

	if f.ShortcutDetails != nil {
		item.ShortcutTargetID = f.ShortcutDetails.TargetID
	}

	if f.Size != "" {
		size, err := strconv.ParseInt(f.Size, 10, 64)
		if err != nil {
			logger.Warn("unparseable item size",
				slog.String("item_id", f.ID),
				slog.String("size", f.Size),
			)
		} else {
			item.Size = size
		}
	}

	if f.ModifiedTime != "" {
		t, err := time.Parse(time.RFC3339Nano, f.ModifiedTime)
		if err != nil {
			logger.Warn("unparseable modifiedTime",
				slog.String("item_id", f.ID),
				slog.String("modified_time", f.ModifiedTime),
			)
		} else {
			item.ModifiedAt = t.UTC()
		}
	}

	return item
}
