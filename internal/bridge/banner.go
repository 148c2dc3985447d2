package bridge

import (
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/charmbracelet/lipgloss"
)

var bannerTmpl = template.Must(template.New("banner").Parse(`
{{ .Header }}
{{ range .Paths }}  {{ . }}
{{ end }}{{ if .MoreCount }}  ...and {{ .MoreCount }} more
{{ end }}{{ .Footer }}
`))

type bannerData struct {
	Header    string
	Paths     []string
	MoreCount int
	Footer    string
}

const bannerMaxPaths = 5

// RenderBanner writes a conflict warning to w. Colors are dropped when w is
// not a terminal. Nothing is written for an empty list.
func RenderBanner(conflicts []ConflictInfo, w io.Writer) {
	if len(conflicts) == 0 {
		return
	}

	renderer := lipgloss.NewRenderer(w)
	yellow := renderer.NewStyle().Foreground(lipgloss.Color("3"))

	noun := "conflict"
	if len(conflicts) != 1 {
		noun = "conflicts"
	}
	header := yellow.Render(fmt.Sprintf("⚠ %d settings %s need attention:", len(conflicts), noun))

	shown := min(len(conflicts), bannerMaxPaths)
	var paths []string
	for _, c := range conflicts[:shown] {
		paths = append(paths, fmt.Sprintf("%-30s (%s)", c.Path, ConflictDescription(c)))
	}

	data := bannerData{
		Header:    header,
		Paths:     paths,
		MoreCount: len(conflicts) - shown,
		Footer:    yellow.Render("Run 'settingsync resolve' to resolve."),
	}

	var buf strings.Builder
	_ = bannerTmpl.Execute(&buf, data)
	_, _ = io.WriteString(w, buf.String())
}

// ConflictDescription describes both sides of a conflict.
func ConflictDescription(c ConflictInfo) string {
	if c.Local == c.Cloud {
		return c.Local + " on both sides"
	}
	return c.Local + " locally, " + c.Cloud + " on the server"
}
