// Package subtitle renders narration as burned-in drawtext captions.
package subtitle

import (
	"math"
	"os"
	"strings"

	fg "github.com/nextconvert/assembler/internal/modules/filtergraph"
)

// Settings controls caption appearance.
type Settings struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Position     string  `json:"position" yaml:"position"` // bottom, center, top
	FontSize     int     `json:"fontSize" yaml:"fontSize"` // 0 = derived from frame height
	FontColor    string  `json:"fontColor" yaml:"fontColor"`
	BoxColor     string  `json:"boxColor" yaml:"boxColor"`
	BoxOpacity   float64 `json:"boxOpacity" yaml:"boxOpacity"`
	MaxLineChars int     `json:"maxLineChars" yaml:"maxLineChars"` // 0 = derived from orientation
	LinesPerPage int     `json:"linesPerPage" yaml:"linesPerPage"`
}

// Params is everything needed to caption one scene.
type Params struct {
	Narration          string
	Settings           Settings
	Width              int
	Height             int
	Duration           float64
	SceneIndex         int
	TransitionsEnabled bool
	TransitionDuration float64
	Orientation        string
}

// Generator builds drawtext chains.
type Generator struct {
	fontFile string
}

// NewGenerator creates a generator. A font file that does not exist is
// ignored so drawtext falls back to its fontconfig default.
func NewGenerator(fontFile string) *Generator {
	if fontFile != "" {
		if _, err := os.Stat(fontFile); err != nil {
			fontFile = ""
		}
	}
	return &Generator{fontFile: fontFile}
}

// Page is one caption shown for a time window within the scene.
type Page struct {
	Lines []string
	Start float64
	End   float64
}

// Filter returns the caption chain for a scene, or nil when there is nothing to show.
func (g *Generator) Filter(p Params) fg.Chain {
	if !p.Settings.Enabled || strings.TrimSpace(p.Narration) == "" || p.Duration <= 0 {
		return nil
	}

	pages := Paginate(p)
	if len(pages) == 0 {
		return nil
	}

	s := withDefaults(p.Settings, p.Height, p.Orientation)
	chain := make(fg.Chain, 0, len(pages))
	for _, page := range pages {
		chain = append(chain, g.drawtext(page, s, p.Height))
	}
	return chain
}

func (g *Generator) drawtext(page Page, s Settings, height int) fg.Filter {
	margin := fg.Num(math.Round(float64(height) * 0.08))
	h, th := fg.Var("h"), fg.Var("th")

	var y fg.Expr
	switch s.Position {
	case "top":
		y = margin
	case "center":
		y = fg.Div(fg.Sub(h, th), fg.Two)
	default:
		y = fg.Sub(fg.Sub(h, th), margin)
	}

	f := fg.New("drawtext")
	if g.fontFile != "" {
		f = f.Set("fontfile", fg.Text(g.fontFile))
	}
	return f.
		Set("text", fg.Text(strings.Join(page.Lines, "\n"))).
		Set("expansion", "none").
		Set("fontsize", s.FontSize).
		Set("fontcolor", s.FontColor).
		Set("line_spacing", s.FontSize/4).
		Set("box", 1).
		Set("boxcolor", s.BoxColor+"@"+trimFloat(s.BoxOpacity)).
		Set("boxborderw", s.FontSize/3).
		Set("x", fg.Div(fg.Sub(fg.Var("w"), fg.Var("tw")), fg.Two)).
		Set("y", y).
		Set("enable", fg.Call("between", fg.T, fg.Num(round3(page.Start)), fg.Num(round3(page.End))))
}

// Paginate wraps the narration and spreads the pages over the visible part
// of the scene, proportionally to their word counts. With transitions, the
// overlapped edges of the scene are left free of captions.
func Paginate(p Params) []Page {
	s := withDefaults(p.Settings, p.Height, p.Orientation)
	lines := wrap(p.Narration, s.MaxLineChars)
	if len(lines) == 0 {
		return nil
	}

	start, end := 0.0, p.Duration
	if p.TransitionsEnabled && p.TransitionDuration > 0 {
		half := p.TransitionDuration / 2
		if p.SceneIndex > 0 {
			start += half
		}
		end -= half
		if end-start < p.Duration/2 {
			start, end = 0, p.Duration
		}
	}

	var pages []Page
	for i := 0; i < len(lines); i += s.LinesPerPage {
		j := min(i+s.LinesPerPage, len(lines))
		pages = append(pages, Page{Lines: lines[i:j]})
	}

	total := 0
	weights := make([]int, len(pages))
	for i, page := range pages {
		for _, l := range page.Lines {
			weights[i] += len(strings.Fields(l))
		}
		total += weights[i]
	}

	cursor := start
	span := end - start
	for i := range pages {
		pages[i].Start = cursor
		cursor += span * float64(weights[i]) / float64(total)
		pages[i].End = cursor
	}
	pages[len(pages)-1].End = end
	return pages
}

func withDefaults(s Settings, height int, orientation string) Settings {
	if s.FontSize <= 0 {
		s.FontSize = max(height/18, 12)
	}
	if s.FontColor == "" {
		s.FontColor = "white"
	}
	if s.BoxColor == "" {
		s.BoxColor = "black"
	}
	if s.BoxOpacity <= 0 || s.BoxOpacity > 1 {
		s.BoxOpacity = 0.5
	}
	if s.LinesPerPage <= 0 {
		s.LinesPerPage = 2
	}
	if s.MaxLineChars <= 0 {
		switch orientation {
		case "portrait":
			s.MaxLineChars = 24
		case "square":
			s.MaxLineChars = 32
		default:
			s.MaxLineChars = 42
		}
	}
	return s
}

// wrap greedily breaks text into lines of at most width characters. Words
// longer than width get a line of their own.
func wrap(text string, width int) []string {
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len([]rune(word)) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func trimFloat(v float64) string {
	return fg.Num(round3(v)).String()
}
