package mdadapter

import (
	"github.com/yuin/goldmark/ast"
)

var KindFileNode = ast.NewNodeKind("FileNode")

// FileNode is a `{{ file: <stable id> }}` directive resolved at parse time.
type FileNode struct {
	ast.BaseInline
	StableID string
	HTML     []byte
	Error    error
}

func (n *FileNode) Kind() ast.NodeKind {
	return KindFileNode
}

func (n *FileNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"StableID": n.StableID,
	}, nil)
}
