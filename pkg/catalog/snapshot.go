package catalog

import (
	"sort"
	"strings"
	"time"
)

// point-in-time view of one volume's tree, built once from the catalog and
// then queried in memory. this is the interface an offline browser (or a
// read-only filesystem gateway) consumes to answer stat/listing queries
// without mounting the medium.
type Snapshot struct {
	Volume   string
	nodes    map[string]Node // key: canonical path ("" = root directory)
	children map[string][]string
}

// a path is either a directory or a file, never both
type Node struct {
	Directory *DirectoryNode
	File      *FileNode
}

type DirectoryNode struct{}

type FileNode struct {
	Size       int64
	ModifiedAt *time.Time
}

func (n Node) IsDirectory() bool {
	return n.Directory != nil
}

func (s *Store) Snapshot(volumeName string) (*Snapshot, error) {
	entries, err := s.queryEntries(`
		SELECT volume_name, path, size, mtime, digest, archived_at
		FROM files
		WHERE volume_name = ?
		ORDER BY path
	`, volumeName)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		Volume:   volumeName,
		nodes:    map[string]Node{"": {Directory: &DirectoryNode{}}},
		children: map[string][]string{},
	}

	addChild := func(parent string, name string) {
		for _, existing := range snapshot.children[parent] {
			if existing == name {
				return
			}
		}
		snapshot.children[parent] = append(snapshot.children[parent], name)
	}

	for _, entry := range entries {
		segments := strings.Split(entry.Path, "/")

		// intermediate directories are implied by the file paths
		for i := 1; i < len(segments); i++ {
			dirPath := strings.Join(segments[0:i], "/")

			if _, exists := snapshot.nodes[dirPath]; !exists {
				snapshot.nodes[dirPath] = Node{Directory: &DirectoryNode{}}
			}

			addChild(strings.Join(segments[0:i-1], "/"), segments[i-1])
		}

		snapshot.nodes[entry.Path] = Node{File: &FileNode{
			Size:       entry.Size,
			ModifiedAt: entry.ModifiedAt,
		}}

		addChild(strings.Join(segments[0:len(segments)-1], "/"), segments[len(segments)-1])
	}

	for parent := range snapshot.children {
		sort.Strings(snapshot.children[parent])
	}

	return snapshot, nil
}

func (s *Snapshot) Stat(path string) (Node, bool) {
	node, found := s.nodes[path]
	return node, found
}

// child names of a directory, sorted. nil if path is not a directory.
func (s *Snapshot) List(dirPath string) []string {
	node, found := s.nodes[dirPath]
	if !found || !node.IsDirectory() {
		return nil
	}

	return s.children[dirPath]
}

func (s *Snapshot) FileCount() int {
	count := 0
	for _, node := range s.nodes {
		if node.File != nil {
			count++
		}
	}
	return count
}
