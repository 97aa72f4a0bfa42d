// Package webui provides the embedded browser client and the standalone
// token visualization page.
package webui

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFS embed.FS

//go:embed templates/page.html.tmpl
var pageSource string

var pageTmpl = template.Must(template.New("page").Parse(pageSource))

// DefaultTitle is the heading used when PageData.Title is empty.
const DefaultTitle = "Token Visualization"

// StaticFS returns an http.FileSystem for the embedded static files.
func StaticFS() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// IndexHTML returns the browser client served at "/".
func IndexHTML() []byte {
	b, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		panic(err)
	}
	return b
}

// Stylesheet returns the CSS shared by the client and rendered pages.
func Stylesheet() string {
	b, err := staticFS.ReadFile("static/tokens.css")
	if err != nil {
		panic(err)
	}
	return string(b)
}

// PageData fills the standalone page. Fragments must be colorizer output;
// it is inserted without escaping.
type PageData struct {
	Title      string
	Mode       string
	TokenCount int
	Fragments  string
}

// WritePage writes a self-contained HTML document showing the fragments.
func WritePage(w io.Writer, d PageData) error {
	title := d.Title
	if title == "" {
		title = DefaultTitle
	}

	return pageTmpl.Execute(w, struct {
		Title      string
		Mode       string
		TokenCount int
		CSS        template.CSS
		Fragments  template.HTML
	}{
		Title:      title,
		Mode:       d.Mode,
		TokenCount: d.TokenCount,
		CSS:        template.CSS(Stylesheet()),
		Fragments:  template.HTML(d.Fragments), //nolint:gosec // colorizer output is escaped per token
	})
}
