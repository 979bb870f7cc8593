package table

import (
	"strings"

	"github.com/tinytelemetry/runmerge/internal/model"
)

// CommentPrefix starts every metadata line written above the table.
const CommentPrefix = "# "

// ConfigLabel names the flattened configuration comment line.
const ConfigLabel = "gnb_config"

// Header holds the run metadata rendered as comment lines before the
// column header row.
type Header struct {
	ToolCommand     string
	Characteristics string
	Config          []model.Pair
}

// HeaderFromMetadata builds a header from extracted run metadata.
func HeaderFromMetadata(m model.Metadata) Header {
	return Header{
		ToolCommand:     m.ToolCommand,
		Characteristics: m.Characteristics,
		Config:          m.Config,
	}
}

// Lines returns the comment lines in output order: tool invocation, device
// characteristics, then the flattened configuration.
func (h Header) Lines() []string {
	var lines []string
	if h.ToolCommand != "" {
		lines = append(lines, CommentPrefix+h.ToolCommand)
	}
	if h.Characteristics != "" {
		lines = append(lines, CommentPrefix+h.Characteristics)
	}
	if len(h.Config) > 0 {
		var b strings.Builder
		b.WriteString(CommentPrefix)
		b.WriteString(ConfigLabel)
		for _, p := range h.Config {
			b.WriteByte(',')
			b.WriteString(p.Key)
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
		lines = append(lines, b.String())
	}
	return lines
}
