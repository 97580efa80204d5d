package mdadapter

import (
	"fmt"
	"html"
	"net/url"
	"regexp"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/jgivc/recfetch/internal/util"
)

var (
	FileResolverKey = parser.NewContextKey()

	fileDirectiveRe = regexp.MustCompile(`^{{\s*file:\s*([^\s}]+)\s*}}`)
)

// Link is what a directive renders to.
type Link struct {
	Href  string
	Title string
	Size  int64
}

type FileResolver interface {
	ResolveFile(stableID string) (Link, error)
}

type fileDirectiveParser struct{}

func NewFileDirectiveParser() parser.InlineParser {
	return &fileDirectiveParser{}
}

func (s *fileDirectiveParser) Trigger() []byte {
	return []byte{'{'}
}

func (s *fileDirectiveParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()

	matches := fileDirectiveRe.FindSubmatch(line)
	if matches == nil {
		return nil
	}
	block.Advance(len(matches[0]))

	node := &FileNode{StableID: string(matches[1])}

	resolver, ok := pc.Get(FileResolverKey).(FileResolver)
	if !ok {
		node.Error = fmt.Errorf("no file resolver in parser context")

		return node
	}

	link, err := resolver.ResolveFile(node.StableID)
	if err != nil {
		node.Error = err

		return node
	}

	node.HTML = []byte(fmt.Sprintf(`<a class="recording-file" href="%s">%s</a> <small>%s</small>`,
		html.EscapeString((&url.URL{Path: link.Href}).String()),
		html.EscapeString(link.Title),
		util.HumanSize(link.Size),
	))

	return node
}
