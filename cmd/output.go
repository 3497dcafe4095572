package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

func splitRecap(msg string) []string {
	return strings.Split(strings.TrimRight(msg, "\n"), "\n")
}

// printChangeLine colors one recap line by change kind.
func printChangeLine(a *app, line string) {
	var c *color.Color
	switch {
	case strings.HasPrefix(line, "- new"):
		c = color.New(color.FgGreen)
	case strings.HasPrefix(line, "- deleted"):
		c = color.New(color.FgRed)
	case strings.HasPrefix(line, "- modified"):
		c = color.New(color.FgYellow)
	case line == "":
		fmt.Fprintln(a.stdout)
		return
	default:
		c = color.New(color.Bold)
	}
	c.Fprintln(a.stdout, line)
}
