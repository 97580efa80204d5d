// Package fsadapter keeps an index page next to the files of every downloaded meeting.
package fsadapter

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "embed"

	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/frontmatter"
	"gopkg.in/yaml.v2"

	"github.com/jgivc/recfetch/internal/adapter/fsadapter/mdadapter"
	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/util"
)

const (
	IndexMarkdownName = "index.md"
	IndexHTMLName     = "index.html"

	frontmatterDelimiter = "---\n"
	startTimeLayout      = time.RFC3339
	fileMode             = 0o644
	dirMode              = 0o755
)

//go:embed templates/index.html
var defaultIndexContent string

var headingEscaper = strings.NewReplacer("{", `\{`, "}", `\}`, "\\", `\\`)

// Frontmatter is the YAML header of index.md.
type Frontmatter struct {
	UUID      string      `yaml:"uuid"`
	Topic     string      `yaml:"topic"`
	StartTime string      `yaml:"start_time"`
	Files     []IndexFile `yaml:"files"`
}

type IndexFile struct {
	StableID string `yaml:"stable_id"`
	Type     string `yaml:"type"`
	Name     string `yaml:"name"`
	Size     int64  `yaml:"size"`
}

func (fm *Frontmatter) Has(stableID string) bool {
	return slices.ContainsFunc(fm.Files, func(f IndexFile) bool {
		return f.StableID == stableID
	})
}

type PageContext struct {
	Title       string
	StartTime   string
	ContentHTML template.HTML
	Frontmatter *Frontmatter
}

type fsAdapter struct {
	fs   afero.Fs
	root string
	md   goldmark.Markdown
	tmpl *template.Template

	log *slog.Logger
}

func NewFSAdapter(root string, log *slog.Logger) (*fsAdapter, error) {
	return NewFSAdapterWithFS(afero.NewOsFs(), root, log)
}

func NewFSAdapterWithFS(fs afero.Fs, root string, log *slog.Logger) (*fsAdapter, error) {
	tmpl, err := template.New(IndexHTMLName).Parse(defaultIndexContent)
	if err != nil {
		return nil, fmt.Errorf("cannot parse index template: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			&frontmatter.Extender{},
			mdadapter.NewFilesExtension(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &fsAdapter{
		fs:   fs,
		root: root,
		md:   md,
		tmpl: tmpl,
		log:  log.With(slog.String("item", "FSAdapter")),
	}, nil
}

// Dir is the folder of a meeting under the download root.
func (a *fsAdapter) Dir(m *entity.Meeting) string {
	return filepath.Join(a.root, util.MeetingDir(m))
}

// WriteIndex records the given files of m in index.md and renders index.html.
// Files missing on disk are left out; files indexed by an earlier batch are kept.
func (a *fsAdapter) WriteIndex(m *entity.Meeting, files []*entity.RecordingFile) error {
	dir := a.Dir(m)

	fm, err := a.ReadIndex(dir)
	if err != nil {
		a.log.Warn("Index is unreadable, rebuilding", slog.String("dir", dir), slog.Any("error", err))
		fm = nil
	}

	if fm == nil {
		fm = &Frontmatter{}
	}

	fm.UUID = m.UUID
	fm.Topic = m.Topic
	fm.StartTime = m.StartTime.UTC().Format(startTimeLayout)

	for _, f := range files {
		name := filepath.Base(util.FileName(m, f))

		stat, err := a.fs.Stat(filepath.Join(dir, name))
		if err != nil {
			a.log.Debug("Skip file", slog.String("name", name), slog.Any("error", err))

			continue
		}

		entry := IndexFile{StableID: f.StableID, Type: string(f.FileType), Name: name, Size: stat.Size()}
		if i := slices.IndexFunc(fm.Files, func(e IndexFile) bool { return e.StableID == f.StableID }); i >= 0 {
			fm.Files[i] = entry
		} else {
			fm.Files = append(fm.Files, entry)
		}
	}

	if len(fm.Files) == 0 {
		return nil
	}

	source, err := buildMarkdown(fm)
	if err != nil {
		return err
	}

	page, err := a.render(source, fm)
	if err != nil {
		return fmt.Errorf("cannot render index page: %w", err)
	}

	if err := a.fs.MkdirAll(dir, dirMode); err != nil {
		return common.FileSystem("create meeting folder", err)
	}

	if err := afero.WriteFile(a.fs, filepath.Join(dir, IndexMarkdownName), source, fileMode); err != nil {
		return common.FileSystem("write index markdown", err)
	}

	if err := afero.WriteFile(a.fs, filepath.Join(dir, IndexHTMLName), page, fileMode); err != nil {
		return common.FileSystem("write index page", err)
	}

	a.log.Info("Index written", slog.String("dir", dir), slog.Int("files", len(fm.Files)))

	return nil
}

// ReadIndex parses the frontmatter of dir/index.md. A missing index yields nil, nil.
func (a *fsAdapter) ReadIndex(dir string) (*Frontmatter, error) {
	content, err := afero.ReadFile(a.fs, filepath.Join(dir, IndexMarkdownName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, common.FileSystem("read index markdown", err)
	}

	pc := parser.NewContext()
	a.md.Parser().Parse(text.NewReader(content), parser.WithContext(pc))

	data := frontmatter.Get(pc)
	if data == nil {
		return nil, common.Validation("%s has no frontmatter", filepath.Join(dir, IndexMarkdownName))
	}

	var fm Frontmatter
	if err := data.Decode(&fm); err != nil {
		return nil, common.Validation("cannot decode frontmatter: %v", err)
	}

	return &fm, nil
}

// Indexed reports the stable ids already recorded for m.
func (a *fsAdapter) Indexed(m *entity.Meeting) (map[string]struct{}, error) {
	fm, err := a.ReadIndex(a.Dir(m))
	if err != nil || fm == nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(fm.Files))
	for _, f := range fm.Files {
		ids[f.StableID] = struct{}{}
	}

	return ids, nil
}

func (a *fsAdapter) render(source []byte, fm *Frontmatter) ([]byte, error) {
	pc := parser.NewContext()
	pc.Set(mdadapter.FileResolverKey, newFileResolver(fm.Files))

	var content bytes.Buffer
	if err := a.md.Convert(source, &content, parser.WithContext(pc)); err != nil {
		return nil, fmt.Errorf("cannot convert markdown: %w", err)
	}

	var page bytes.Buffer
	err := a.tmpl.Execute(&page, &PageContext{
		Title:       fm.Topic,
		StartTime:   fm.StartTime,
		ContentHTML: template.HTML(content.String()),
		Frontmatter: fm,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot execute template: %w", err)
	}

	return page.Bytes(), nil
}

func buildMarkdown(fm *Frontmatter) ([]byte, error) {
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString(frontmatterDelimiter)
	b.Write(header)
	b.WriteString(frontmatterDelimiter)
	b.WriteString("\n# ")
	b.WriteString(headingEscaper.Replace(title(fm.Topic)))
	b.WriteString("\n\n")
	for _, f := range fm.Files {
		fmt.Fprintf(&b, "- {{ file: %s }}\n", f.StableID)
	}

	return b.Bytes(), nil
}

func title(topic string) string {
	if t := strings.TrimSpace(topic); t != "" {
		return t
	}

	return "untitled"
}
