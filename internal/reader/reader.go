// Package reader turns files on disk into entries and byte blocks.
package reader

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
)

// Item is one file read from disk.
type Item struct {
	Path  string
	Entry models.Entry
	Block *models.Bytes
}

// AddPath reads path into items. A file yields one item; a directory is
// walked recursively in lexical order. Each item's key is the hash of its
// path, keyed by scope when scope is set.
func AddPath(path string, scope *hash.Hash) ([]Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s: not a regular file", path)
		}
		item, err := readFile(path, scope)
		if err != nil {
			return nil, err
		}
		return []Item{item}, nil
	}

	var items []Item
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Follow links to regular files; skip devices, sockets and dangling links.
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		item, err := readFile(p, scope)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func readFile(path string, scope *hash.Hash) (Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return Item{}, err
	}
	defer f.Close()

	block, err := models.ReadBytes(bufio.NewReader(f))
	if err != nil {
		return Item{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	key := hash.New([]byte(path), &hash.Opts{Key: scope})
	return Item{
		Path:  path,
		Entry: models.NewEntry(key, block),
		Block: block,
	}, nil
}
