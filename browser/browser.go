package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/flanksource/commons/logger"
	"github.com/flanksource/harness/config"
)

// Browser is a running Chrome instance. It outlives the provider call that
// launched it and is closed through Close.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
}

// AllocatorOptions translates the browser config into chromedp flags.
func AllocatorOptions(cfg config.Browser) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.IsHeadless()))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// Launch starts a browser. ctx bounds the launch only; the browser itself is
// detached from its cancellation.
func Launch(ctx context.Context, cfg config.Browser) (*Browser, error) {
	base := context.WithoutCancel(ctx)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(base, AllocatorOptions(cfg)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.V(4).Infof))

	if err := start(ctx, browserCtx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	logger.Debugf("Launched browser (headless=%v)", cfg.IsHeadless())
	return &Browser{ctx: browserCtx, cancel: cancel, cancelAlloc: cancelAlloc}, nil
}

// NewPage opens a new tab.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	if err := start(ctx, tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &Page{ctx: tabCtx, cancel: cancel}, nil
}

func (b *Browser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.cancelAlloc()
	return err
}

// Page is a single browser tab.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Run executes actions on the tab, giving up when ctx is done.
func (p *Page) Run(ctx context.Context, actions ...chromedp.Action) error {
	return runWithin(ctx, p.ctx, actions...)
}

// URL returns the address the tab currently shows.
func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	err := p.Run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *Page) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}

// start performs the first Run on a chromedp context, which creates its
// target. It must run on target itself: cancelling a context derived from
// target during the first Run would close the target.
func start(ctx context.Context, target context.Context) error {
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(target) }()
	select {
	case err := <-started:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runWithin runs actions on target (a chromedp context) while honouring the
// deadline and cancellation of ctx.
func runWithin(ctx context.Context, target context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}
