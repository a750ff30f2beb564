package replicate

import (
	"context"
	"io"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
)

// Remote is the authenticated client handle the engine drives.
// *gdrive.Client satisfies it; it must be safe for concurrent use.
type Remote interface {
	ListChildrenPage(ctx context.Context, folderID, pageToken string) (*gdrive.ChildrenPage, error)
	GetItem(ctx context.Context, itemID string) (*gdrive.Item, error)
	CreateFolder(ctx context.Context, parentID, name string) (*gdrive.Item, error)
	CopyFile(ctx context.Context, fileID, parentID, name string) (*gdrive.Item, error)
	DownloadRange(ctx context.Context, fileID string, offset, length int64, w io.Writer) (int64, error)
	CreateUploadSession(ctx context.Context, parentID, name, mimeType string, size int64) (*gdrive.UploadSession, error)
	UploadChunk(ctx context.Context, session *gdrive.UploadSession, data []byte, offset int64) (*gdrive.ChunkResult, error)
}

var _ Remote = (*gdrive.Client)(nil)
