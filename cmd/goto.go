package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/k6frames/api"
	"github.com/liuxd6825/k6frames/common"
)

var errNoMainFrame = errors.New("page has no main frame")

type gotoCmd struct {
	root      *rootCommand
	frame     string
	referer   string
	waitUntil []string
	timeout   time.Duration
}

func (c *gotoCmd) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := c.root.openPage(ctx)
	if err != nil {
		return err
	}
	defer p.close(ctx)

	f, err := p.frame(c.frame)
	if err != nil {
		return err
	}
	if f == nil {
		return errNoMainFrame
	}

	opts := common.NewFrameGotoOptions(c.referer, p.cfg.NavigationWaitTimeout())
	if cmd.Flags().Changed("timeout") {
		opts.Timeout = c.timeout
	}
	if opts.WaitUntil, err = common.NormalizeWaitUntil(c.waitUntil); err != nil {
		return err
	}

	resp, err := f.Goto(ctx, args[0], opts)
	if err != nil {
		return err
	}
	printResponse(c.root.stdout, f.URL(), resp)

	return nil
}

func printResponse(w io.Writer, url string, resp api.Response) {
	if resp == nil {
		fprintf(w, "navigated within the document to %s\n", BannerColor.Sprint(url))
		return
	}
	status := fmt.Sprintf("%d %s", resp.Status(), resp.StatusText())
	if !resp.Ok() {
		status = errorColor.Sprint(status)
	}
	fprintf(w, "navigated to %s: %s\n", BannerColor.Sprint(resp.URL()), status)
}

func getGotoCmd(root *rootCommand) *cobra.Command {
	c := &gotoCmd{root: root}

	cmd := &cobra.Command{
		Use:   "goto <url>",
		Short: "Navigate a frame",
		Long: `Navigate a frame of a new tab and wait for the navigation to reach
the given lifecycle events.`,
		Example: `
  # Navigate the main frame and wait for DOMContentLoaded.
  k6frames goto --wait-until domcontentloaded https://test.k6.io/`[1:],
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.StringVar(&c.frame, "frame", "", "name or ID of the frame to navigate, the main frame if empty")
	flags.StringVar(&c.referer, "referer", "", "referer of the navigation")
	flags.StringSliceVar(&c.waitUntil, "wait-until", []string{"load"},
		"lifecycle events to wait for, possible values are load,domcontentloaded")
	flags.DurationVar(&c.timeout, "timeout", 0, "navigation timeout, 0 waits forever (default from config)")

	return cmd
}
