package browser

import (
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

const pageTextScript = `() => {
	const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT, {
		acceptNode(node) {
			const parent = node.parentElement;
			if (!parent) return NodeFilter.FILTER_REJECT;
			const style = window.getComputedStyle(parent);
			if (style.display === 'none' || style.visibility === 'hidden') return NodeFilter.FILTER_REJECT;
			return NodeFilter.FILTER_ACCEPT;
		}
	});
	const texts = [];
	let node;
	while ((node = walker.nextNode())) {
		const text = node.textContent.trim();
		if (text.length > 0) texts.push(text);
	}
	return texts.join(' ');
}`

type playwrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	timeout float64 // milliseconds
}

func launchPlaywright(cfg Config) (driver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		SlowMo:   playwright.Float(float64(cfg.SlowMo.Milliseconds())),
		Args:     []string{"--disable-blink-features=AutomationControlled", "--disable-dev-shm-usage"},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1280, Height: 720},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &playwrightDriver{
		pw:      pw,
		browser: browser,
		page:    page,
		timeout: float64(cfg.ActionTimeout.Milliseconds()),
	}, nil
}

func (d *playwrightDriver) Navigate(url string) error {
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(d.timeout * 3),
	})
	return err
}

func (d *playwrightDriver) visible(selector string, timeout float64) (playwright.Locator, error) {
	locator := d.page.Locator(selector).First()
	err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("element %s not found or not visible: %w", selector, err)
	}
	return locator, nil
}

func (d *playwrightDriver) settle() {
	d.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(d.timeout / 2),
	})
}

func (d *playwrightDriver) Click(selector string) error {
	locator, err := d.visible(selector, d.timeout)
	if err != nil {
		return err
	}
	if err := locator.Click(); err != nil {
		return err
	}
	d.settle()
	return nil
}

func (d *playwrightDriver) Fill(selector, text string, submit bool) error {
	locator, err := d.visible(selector, d.timeout)
	if err != nil {
		return err
	}
	if err := locator.Fill(text); err != nil {
		return err
	}
	if submit {
		if err := locator.Press("Enter"); err != nil {
			return err
		}
		d.settle()
	}
	return nil
}

func (d *playwrightDriver) PageText(selector string) (string, error) {
	if selector != "" {
		locator, err := d.visible(selector, d.timeout)
		if err != nil {
			return "", err
		}
		return locator.InnerText()
	}
	result, err := d.page.Evaluate(pageTextScript)
	if err != nil {
		return "", err
	}
	text, _ := result.(string)
	return text, nil
}

func (d *playwrightDriver) Title() string {
	title, _ := d.page.Title()
	return title
}

func (d *playwrightDriver) URL() string {
	return d.page.URL()
}

func (d *playwrightDriver) Screenshot(path string) error {
	_, err := d.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

func (d *playwrightDriver) WaitVisible(selector string, timeout time.Duration) error {
	_, err := d.visible(selector, float64(timeout.Milliseconds()))
	return err
}

func (d *playwrightDriver) Alive() bool {
	return d.browser.IsConnected() && !d.page.IsClosed()
}

func (d *playwrightDriver) Close() error {
	var errs []error
	if err := d.browser.Close(); err != nil && !isClosedError(err.Error()) {
		errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
	}
	if err := d.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
	}
	return errors.Join(errs...)
}
