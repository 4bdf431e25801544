package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
	"github.com/xkilldash9x/pagepilot/internal/browser/htmldoc"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/observability"
)

func newSnapshotCmd() *cobra.Command {
	var fromFile bool

	cmd := &cobra.Command{
		Use:   "snapshot <url|file>",
		Short: "Print the visible interactive elements of a page as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}

			var snap *schemas.DOMSnapshot
			if fromFile {
				snap, err = snapshotFile(ctx, args[0], cfg.Browser())
			} else {
				comps := newComponents(cfg, observability.GetLogger())
				defer comps.Shutdown()

				page, openErr := comps.Browser().OpenPage(ctx, normalizeURL(args[0]))
				if openErr != nil {
					return openErr
				}
				defer page.Close()
				snap, err = dom.Capture(ctx, page)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}

	cmd.Flags().BoolVar(&fromFile, "html", false, "Treat the argument as a local HTML file instead of a URL")
	return cmd
}

// snapshotFile captures a local HTML file without a browser.
func snapshotFile(ctx context.Context, path string, cfg config.BrowserConfig) (*schemas.DOMSnapshot, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	opts := []htmldoc.Option{htmldoc.WithURL("file://" + filepath.ToSlash(abs))}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, htmldoc.WithViewport(w, h))
	}
	doc, err := htmldoc.Parse(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return dom.Capture(ctx, doc)
}
