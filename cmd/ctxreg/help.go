package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/ctxreg/internal/ui"
	"github.com/spf13/cobra"
)

var (
	// "Registry:", "Flags:", "Global Flags:".
	reSection = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// "  create      Create a record".
	reSubcommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// "--operator int64", "--interval duration".
	reFlagKind = regexp.MustCompile(`(--?\S+\s+)(string|int|int64|duration|strings|stringSlice)`)

	reFlagDefault = regexp.MustCompile(`\(default "?[^)"]*"?\)`)
)

// colorizedHelpFunc renders cobra's usage text and paints it when stdout
// is a color terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	s = reSection.ReplaceAllStringFunc(s, func(m string) string {
		return ui.RenderAccent(strings.TrimSpace(m))
	})
	s = reSubcommand.ReplaceAllStringFunc(s, func(m string) string {
		p := reSubcommand.FindStringSubmatch(m)
		return p[1] + ui.RenderCommand(p[2]) + p[3]
	})
	s = reFlagKind.ReplaceAllStringFunc(s, func(m string) string {
		p := reFlagKind.FindStringSubmatch(m)
		return p[1] + ui.RenderMuted(p[2])
	})
	return reFlagDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
