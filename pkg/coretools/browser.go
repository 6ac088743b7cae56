package coretools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/tool"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxPageBytes        = 50_000
)

// browserRunner owns a lazily launched headless Chrome. The browser
// starts on the first browse call and is reused until close.
type browserRunner struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	log      zerolog.Logger
}

func newBrowserRunner(log zerolog.Logger) *browserRunner {
	return &browserRunner{log: log}
}

func (b *browserRunner) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	b.launcher = l
	b.browser = browser
	b.log.Info().Msg("Headless browser launched")
	return browser, nil
}

func (b *browserRunner) fetch(ctx context.Context, pageURL, selector string, timeout time.Duration) (title, text string, err error) {
	browser, err := b.ensure()
	if err != nil {
		return "", "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx).Timeout(timeout)

	if err := page.Navigate(pageURL); err != nil {
		return "", "", fmt.Errorf("navigate to %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", "", fmt.Errorf("wait for page load: %w", err)
	}

	titleResult, err := page.Eval(`() => document.title`)
	if err == nil {
		title = titleResult.Value.String()
	}

	if selector != "" {
		elem, err := page.Element(selector)
		if err != nil {
			return title, "", fmt.Errorf("element not found: %s", selector)
		}
		text, err = elem.Text()
		if err != nil {
			return title, "", fmt.Errorf("extract element text: %w", err)
		}
		return title, text, nil
	}

	result, err := page.Eval(`() => document.body.innerText`)
	if err != nil {
		return title, "", fmt.Errorf("extract page text: %w", err)
	}
	return title, result.Value.String(), nil
}

func (b *browserRunner) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.launcher.Kill()
	b.browser = nil
	b.launcher = nil
	return err
}

func browseTool(runner *browserRunner) tool.Tool {
	def := tool.Definition{
		Name:        "browse",
		Description: "Fetch a web page in a headless browser and return its visible text. Use a CSS selector to narrow the extraction.",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"url":      tool.StringProp("The http or https URL to fetch"),
			"selector": tool.StringProp("Optional CSS selector to extract instead of the full page"),
			"timeout":  tool.NumberProp("Timeout in seconds (default 30)"),
		}, "url"),
	}
	return tool.NewFunc(def, func(ctx context.Context, args map[string]interface{}) (string, error) {
		var params struct {
			URL      string  `json:"url"`
			Selector string  `json:"selector"`
			Timeout  float64 `json:"timeout"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return "", err
		}
		if err := validateFetchURL(params.URL); err != nil {
			return "", err
		}

		timeout := defaultFetchTimeout
		if params.Timeout > 0 {
			timeout = time.Duration(params.Timeout * float64(time.Second))
		}

		title, text, err := runner.fetch(ctx, params.URL, params.Selector, timeout)
		if err != nil {
			return "", err
		}

		clipped, truncated := clip(text, maxPageBytes)
		return encodeResult(map[string]interface{}{
			"url":       params.URL,
			"title":     title,
			"text":      clipped,
			"truncated": truncated,
		})
	})
}

func validateFetchURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("url must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("url must include a host")
	}
	return nil
}
