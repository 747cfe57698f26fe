package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/k6frames/common"
)

var errorColor = color.New(color.FgRed)

type waitCmd struct {
	root     *rootCommand
	frame    string
	function bool
	visible  bool
	hidden   bool
	polling  string
	timeout  time.Duration
	gotoURL  string
}

// parseWaitTarget reads a target given on the command line: a
// predicate when isFunction is set, a delay when arg is a number
// of milliseconds or a duration, and a selector or XPath otherwise.
func parseWaitTarget(arg string, isFunction bool) (common.WaitTarget, error) {
	if isFunction {
		return common.NewWaitTarget(common.PageFunction(arg))
	}
	if ms, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return common.NewWaitTarget(ms)
	}
	if d, err := time.ParseDuration(arg); err == nil {
		return common.NewWaitTarget(d)
	}
	return common.NewWaitTarget(arg)
}

func (c *waitCmd) options(cmd *cobra.Command, cfg common.Config) (*common.FrameWaitForOptions, error) {
	polling, err := cfg.DefaultPolling()
	if err != nil {
		return nil, err
	}
	opts := common.NewFrameWaitForOptions(polling, cfg.WaitTimeout())
	opts.Visible, opts.Hidden = c.visible, c.hidden
	if cmd.Flags().Changed("polling") {
		if opts.Polling, err = common.ParsePolling(c.polling); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("timeout") {
		if c.timeout < 0 {
			return nil, fmt.Errorf("%w: %s", common.ErrInvalidTimeout, c.timeout)
		}
		opts.Timeout = c.timeout
	}
	if opts.Visible && opts.Hidden {
		return nil, common.ErrWaitForVisibleAndHidden
	}
	return opts, nil
}

func (c *waitCmd) run(cmd *cobra.Command, args []string) error {
	target, err := parseWaitTarget(args[0], c.function)
	if err != nil {
		return err
	}
	fnArgs := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		fnArgs = append(fnArgs, a)
	}

	ctx := cmd.Context()
	p, err := c.root.openPage(ctx)
	if err != nil {
		return err
	}
	defer p.close(ctx)

	opts, err := c.options(cmd, p.cfg)
	if err != nil {
		return err
	}
	if c.gotoURL != "" {
		mf := p.fm.MainFrame()
		if mf == nil {
			return errNoMainFrame
		}
		if _, err := mf.Goto(ctx, c.gotoURL, nil); err != nil {
			return err
		}
	}
	f, err := p.frame(c.frame)
	if err != nil {
		return err
	}
	if f == nil {
		return errNoMainFrame
	}

	start := time.Now()
	h, err := f.WaitFor(ctx, target, opts, fnArgs...)
	if err != nil {
		return err
	}
	took := time.Since(start).Round(time.Millisecond)
	if h == nil {
		fprintf(c.root.stdout, "%s done in %s\n", target.Kind(), BannerColor.Sprint(took))
		return nil
	}
	defer func() { _ = h.Dispose(ctx) }()

	v, err := h.JSONValue(ctx)
	if err != nil {
		return err
	}
	fprintf(c.root.stdout, "%s done in %s: %s\n", target.Kind(), BannerColor.Sprint(took), v)

	return nil
}

func getWaitCmd(root *rootCommand) *cobra.Command {
	_, cmd := newWaitCmd(root)
	return cmd
}

func newWaitCmd(root *rootCommand) (*waitCmd, *cobra.Command) {
	c := &waitCmd{root: root}

	cmd := &cobra.Command{
		Use:   "wait <target> [args...]",
		Short: "Wait for a selector, an XPath, a delay or a predicate",
		Long: `Wait in a frame of a new tab for a CSS selector or an XPath expression
(starting with //) to match, for a delay (milliseconds or a duration) to pass,
or, with --function, for a JS function to return a truthy value. The remaining
arguments are passed to the function as strings.`,
		Example: `
  # Wait for a visible login button.
  k6frames wait --goto https://test.k6.io/my_messages.php --visible 'input[type="submit"]'

  # Wait for a predicate, polling every 100ms.
  k6frames wait --function --polling 100ms '(title) => document.title === title' 'Welcome'`[1:],
		Args: cobra.MinimumNArgs(1),
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.StringVar(&c.frame, "frame", "", "name or ID of the frame to wait in, the main frame if empty")
	flags.StringVar(&c.gotoURL, "goto", "", "navigate the main frame to this URL before waiting")
	flags.BoolVar(&c.function, "function", false, "treat the target as the source of a JS function")
	flags.BoolVar(&c.visible, "visible", false, "wait for the element to be visible")
	flags.BoolVar(&c.hidden, "hidden", false, "wait for the element to be hidden or missing")
	flags.StringVar(&c.polling, "polling", "", "predicate polling, possible values are raf,mutation or an interval (default from config)")
	flags.DurationVar(&c.timeout, "timeout", 0, "wait timeout, 0 waits forever (default from config)")

	return c, cmd
}
