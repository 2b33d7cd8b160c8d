package mssqlgrid

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateFuncs are the helpers available to the panel page.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },
		"pathEscape": url.PathEscape,
		"seconds": func(s float64) string {
			return fmt.Sprintf("%.3f", s)
		},
		"selected": func(name string, set []string) bool {
			for _, s := range set {
				if s == name {
					return true
				}
			}
			return false
		},
		"upper":     strings.ToUpper,
		"pageSizes": func() []int { return PageSizes },
	}
}

type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() (*pageRenderer, error) {
	tmpl, err := template.New("panel.html").Funcs(TemplateFuncs()).ParseFS(templateFS, "templates/panel.html")
	if err != nil {
		return nil, fmt.Errorf("parsing panel template: %w", err)
	}
	return &pageRenderer{tmpl: tmpl}, nil
}

func (pr *pageRenderer) render(w io.Writer, p *Panel) error {
	return pr.tmpl.ExecuteTemplate(w, "panel.html", p)
}
