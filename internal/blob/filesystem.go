package blob

import (
	"runmgr/internal/infra/blob/fs"
)

// NewFilesystem returns a Store over the sheet directory at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}
