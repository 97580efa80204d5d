// Package mdadapter adds the file directive to goldmark.
package mdadapter

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

type FilesExtension struct{}

func NewFilesExtension() goldmark.Extender {
	return &FilesExtension{}
}

func (e *FilesExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithInlineParsers(
			util.Prioritized(NewFileDirectiveParser(), 500),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(NewFileNodeRenderer(), 500),
		),
	)
}
