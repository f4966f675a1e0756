package util

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

type treeNode struct {
	name     string
	dir      bool
	children map[string]*treeNode
}

// Tree renders slash-separated relative paths as a directory tree, folders
// first. A trailing slash marks a directory. Levels below maxDepth collapse
// into "...".
func Tree(paths []string, maxDepth int) []string {
	root := &treeNode{dir: true, children: map[string]*treeNode{}}

	for _, p := range paths {
		var parts []string
		for part := range strings.SplitSeq(p, "/") {
			if part != "" && part != "." {
				parts = append(parts, part)
			}
		}

		node := root
		for i, part := range parts {
			child, ok := node.children[part]
			if !ok {
				child = &treeNode{name: part, children: map[string]*treeNode{}}
				node.children[part] = child
			}
			if i < len(parts)-1 || strings.HasSuffix(p, "/") {
				child.dir = true
			}
			node = child
		}
	}

	var lines []string
	renderTree(root, "", 0, maxDepth, &lines)
	return lines
}

func renderTree(node *treeNode, prefix string, depth, maxDepth int, lines *[]string) {
	if depth > maxDepth {
		*lines = append(*lines, prefix+"...")
		return
	}

	children := make([]*treeNode, 0, len(node.children))
	for _, child := range node.children {
		children = append(children, child)
	}
	slices.SortFunc(children, func(a, b *treeNode) int {
		if a.dir != b.dir {
			if a.dir {
				return -1
			}
			return 1
		}
		return strings.Compare(a.name, b.name)
	})

	for i, child := range children {
		branch, indent := "├── ", "│   "
		if i == len(children)-1 {
			branch, indent = "└── ", "    "
		}

		name := child.name
		if child.dir {
			name += "/"
		}
		*lines = append(*lines, prefix+branch+name)

		if len(child.children) > 0 {
			renderTree(child, prefix+indent, depth+1, maxDepth, lines)
		}
	}
}

// ListDir walks root one level deeper than Tree will show for maxDepth and
// returns slash-separated paths relative to root.
func ListDir(root string, maxDepth int) ([]string, error) {
	limit := maxDepth + 2

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		level := strings.Count(rel, "/") + 1

		if d.IsDir() {
			paths = append(paths, rel+"/")
			if level >= limit {
				return filepath.SkipDir
			}
			return nil
		}

		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return paths, nil
}
