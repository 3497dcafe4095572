package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/fatih/color"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

const defaultStyle = "github-dark"

// highlightDiff writes a unified diff with colored markers and the code of
// each line highlighted for the language of the file it belongs to.
func highlightDiff(w io.Writer, text string, sections []tracker.FileSection, styleName string) error {
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	starts := make(map[int]string, len(sections))
	for _, s := range sections {
		starts[s.Line] = s.Path
	}

	var (
		header  = color.New(color.Bold)
		hunk    = color.New(color.FgCyan)
		added   = color.New(color.FgGreen)
		removed = color.New(color.FgRed)
		lexer   chroma.Lexer
	)
	bw := bufio.NewWriter(w)
	for i, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		if path, ok := starts[i+1]; ok {
			lexer = lexerForPath(path)
			header.Fprintln(bw, line)
			continue
		}
		switch {
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "),
			strings.HasPrefix(line, "old mode "), strings.HasPrefix(line, "new mode "):
			header.Fprintln(bw, line)
			continue
		case strings.HasPrefix(line, "@@"):
			hunk.Fprintln(bw, line)
			continue
		}
		code, ok := diffLineCode(line)
		if !ok || lexer == nil {
			fmt.Fprintln(bw, line)
			continue
		}
		switch line[0] {
		case '+':
			added.Fprint(bw, "+")
		case '-':
			removed.Fprint(bw, "-")
		default:
			fmt.Fprint(bw, " ")
		}
		if err := highlightCode(bw, lexer, style, formatter, code+"\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func highlightCode(w io.Writer, lexer chroma.Lexer, style *chroma.Style, formatter chroma.Formatter, code string) error {
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		_, err = io.WriteString(w, code)
		return err
	}
	return formatter.Format(w, style, iterator)
}

// diffLineCode returns the code of a context, added or removed line.
func diffLineCode(line string) (string, bool) {
	if line == "" {
		return "", false
	}
	switch line[0] {
	case '+', '-', ' ':
		return line[1:], true
	default:
		return "", false
	}
}

func lexerForPath(path string) chroma.Lexer {
	if path == "" {
		return nil
	}
	lexer := lexers.Match(path)
	if lexer == nil {
		// Dotfiles rarely carry an extension; try the name without its dot.
		name := path[strings.LastIndex(path, "/")+1:]
		lexer = lexers.Match(strings.TrimPrefix(name, "."))
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}
