package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/chromedp/chromedp"

	"github.com/liuxd6825/k6frames/common"
	"github.com/liuxd6825/k6frames/trace"
)

var errNoBrowserURL = errors.New("no browser to attach to, set --browser-url or K6_BROWSER_WS_URL")

// pageSession is a frame manager attached to a new tab of a running browser.
type pageSession struct {
	cfg     common.Config
	fm      *common.FrameManager
	session *common.ChromedpSession
	tp      *trace.TracerProvider
	cancel  context.CancelFunc
}

func (c *rootCommand) loadConfig() (common.Config, error) {
	var raw []byte
	if c.configPath != "" {
		var err error
		if raw, err = os.ReadFile(c.configPath); err != nil {
			return common.Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return common.GetConsolidatedConfig(raw, c.env)
}

// openPage opens a tab in the browser at --browser-url and builds the
// frame tree of its page.
func (c *rootCommand) openPage(ctx context.Context) (_ *pageSession, err error) {
	if c.browserURL == "" {
		return nil, errNoBrowserURL
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger(c.logger)
	if err != nil {
		return nil, err
	}
	polling, err := cfg.DefaultPolling()
	if err != nil {
		return nil, err
	}
	tp, err := trace.TracerProviderFromConfigLine(ctx, c.tracesOutput)
	if err != nil {
		return nil, err
	}

	actx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, c.browserURL)
	tctx, cancelTab := chromedp.NewContext(actx)
	p := &pageSession{
		cfg: cfg,
		tp:  tp,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}
	defer func() {
		if err != nil {
			p.close(ctx)
		}
	}()

	if err := chromedp.Run(tctx); err != nil {
		return nil, fmt.Errorf("attaching to browser at %q: %w", c.browserURL, err)
	}
	if p.session, err = common.NewChromedpSession(tctx, logger); err != nil {
		return nil, err
	}
	p.fm = common.NewFrameManager(p.session,
		common.WithLogger(logger),
		common.WithTimeoutSettings(cfg.TimeoutSettings()),
		common.WithPolling(polling),
		common.WithTracer(trace.NewTracer(tp, map[string]string{"browser.url": c.browserURL})),
	)
	if err := p.fm.Initialize(tctx); err != nil {
		return nil, err
	}

	return p, nil
}

// frame returns the frame whose name or ID is nameOrID, or the main
// frame if nameOrID is empty.
func (p *pageSession) frame(nameOrID string) (*common.Frame, error) {
	if nameOrID == "" {
		return p.fm.MainFrame(), nil
	}
	for _, f := range p.fm.Frames() {
		if f.Name() == nameOrID || string(f.ID()) == nameOrID {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no frame named %q", nameOrID)
}

func (p *pageSession) close(ctx context.Context) {
	if p.fm != nil {
		p.fm.Dispose()
	}
	if p.session != nil {
		p.session.Close()
	}
	_ = p.tp.Shutdown(ctx)
	p.cancel()
}
