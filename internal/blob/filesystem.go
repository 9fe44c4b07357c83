package blob

import (
	"reportsdb/internal/infra/blob/fs"
)

// NewFilesystem constructs a blob.Store that writes into the output directory root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}
