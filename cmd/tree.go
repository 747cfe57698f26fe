package cmd

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/k6frames/common"
)

func getTreeCmd(root *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the frame tree of a new tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := root.openPage(ctx)
			if err != nil {
				return err
			}
			defer p.close(ctx)

			printFrameTree(root.stdout, p.fm.MainFrame())
			return nil
		},
	}
}

// printFrameTree writes f and its descendants, one frame per line,
// each indented below its parent.
func printFrameTree(w io.Writer, f *common.Frame) {
	if f == nil {
		return
	}
	printFrame(w, f, 0)
}

func printFrame(w io.Writer, f *common.Frame, depth int) {
	name := ""
	if n := f.Name(); n != "" {
		name = " " + BannerColor.Sprintf("(%s)", n)
	}
	fprintf(w, "%s%s %s%s\n", strings.Repeat("  ", depth), f.ID(), f.URL(), name)
	for _, child := range f.ChildFrames() {
		printFrame(w, child, depth+1)
	}
}
