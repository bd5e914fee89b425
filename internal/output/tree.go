// Package output renders the mounted namespace for the terminal.
package output

import (
	"context"
	"fmt"
	"syscall"

	"github.com/disiqueira/gotree/v3"

	"biblfs/internal/biblfs"
)

// Lister lists a directory inode. *biblfs.Handler implements it.
type Lister interface {
	ReadDir(ctx context.Context, ino uint64, offset uint64) ([]biblfs.DirEntry, syscall.Errno)
}

// RenderTree walks the namespace from the root the way a readdir(3) loop
// over the mount would and renders it under rootLabel.
func RenderTree(ctx context.Context, l Lister, rootLabel string) (string, error) {
	tree := gotree.New(rootLabel)
	if err := addDir(ctx, l, tree, biblfs.RootIno, ""); err != nil {
		return "", err
	}
	return tree.Print(), nil
}

func addDir(ctx context.Context, l Lister, parent gotree.Tree, ino uint64, path string) error {
	entries, errno := l.ReadDir(ctx, ino, 0)
	if errno != 0 {
		return fmt.Errorf("listing /%s: %w", path, errno)
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if e.Mode != syscall.S_IFDIR {
			parent.Add(e.Name)
			continue
		}
		if err := addDir(ctx, l, parent.Add(e.Name+"/"), e.Ino, path+e.Name+"/"); err != nil {
			return err
		}
	}
	return nil
}
