package mdadapter

import (
	"fmt"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

type FileNodeRenderer struct{}

func NewFileNodeRenderer() renderer.NodeRenderer {
	return &FileNodeRenderer{}
}

func (r *FileNodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindFileNode, r.renderFileNode)
}

func (r *FileNodeRenderer) renderFileNode(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	fileNode, ok := n.(*FileNode)
	if !ok {
		return ast.WalkStop, fmt.Errorf("unexpected node %T, expected *FileNode", n)
	}

	if fileNode.Error != nil {
		return ast.WalkStop, fmt.Errorf("cannot render file %s: %w", fileNode.StableID, fileNode.Error)
	}

	if _, err := w.Write(fileNode.HTML); err != nil {
		return ast.WalkStop, err
	}

	return ast.WalkContinue, nil
}
