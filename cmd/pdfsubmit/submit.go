package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/paper-press/internal/locale"
	"github.com/yourusername/paper-press/internal/logging"
	"github.com/yourusername/paper-press/internal/staging"
)

const defaultEndpoint = "http://localhost:8080" + staging.DefaultEndpoint

type options struct {
	endpoint string
	exclude  []string
	fields   []string
	lang     string
	timeout  time.Duration
	verbose  bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "pdfsubmit [flags] FILE...",
		Short: "Stage PDF files and upload them for compression",
		Long: `pdfsubmit stages the given files, prints the preview list and
uploads them in one multipart request, reporting progress while sending.

Files are submitted in the order given. --exclude removes staged files whose
name matches a glob pattern before submitting.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.endpoint, "endpoint", "e", defaultEndpoint, "Upload endpoint URL")
	cmd.Flags().StringSliceVarP(&opts.exclude, "exclude", "x", nil, "Remove staged files matching this glob before submitting")
	cmd.Flags().StringArrayVarP(&opts.fields, "field", "f", nil, "Extra form field as key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "", "Display language: en, zh_hk or zh_cn (default from $LANG)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Request timeout")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func run(ctx context.Context, out, errOut io.Writer, opts options, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lang := resolveLocale(opts.lang)
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.NewWithWriter(errOut, level)

	fields, err := parseFields(opts.fields)
	if err != nil {
		return err
	}
	entries := make([]staging.Entry, 0, len(paths))
	for _, path := range paths {
		entry, err := staging.EntryFromPath(path)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	queue := staging.NewQueue()
	renderer := staging.NewRenderer(queue, staging.WithLocale(lang))
	controller := staging.NewController(queue,
		staging.NewHTTPTransport(&http.Client{Timeout: opts.timeout}),
		staging.WithEndpoint(http.MethodPost, opts.endpoint),
		staging.WithControllerLogger(logger),
	)
	for _, f := range fields {
		controller.SetField(f.Name, f.Value)
	}
	form := staging.NewForm(queue, renderer, controller)
	defer form.Close()

	for _, f := range form.Select(entries...) {
		if excluded(f.Name, opts.exclude) {
			logger.Debugf("excluding %s", f.Name)
			form.Remove(f.Seq)
		}
	}

	view := renderer.View()
	printPreview(out, view)
	if !controller.Enabled() {
		return errors.New(view.Labels.Empty)
	}

	progress := &progressPrinter{w: errOut, label: view.Labels.Uploading, last: -1}
	controller.OnProgress(progress.print)

	resp, err := form.Submit(ctx)
	progress.finish()
	if err != nil {
		var transportErr *staging.TransportError
		if errors.As(err, &transportErr) && len(transportErr.Body) > 0 {
			fmt.Fprintln(out, strings.TrimSpace(string(transportErr.Body)))
		}
		return err
	}
	fmt.Fprintln(out, strings.TrimSpace(string(resp.Body)))
	return nil
}

func resolveLocale(flag string) locale.Locale {
	if flag != "" {
		return locale.Match(flag)
	}
	// LANG=zh_HK.UTF-8 のような形式
	lang := os.Getenv("LANG")
	if i := strings.IndexByte(lang, '.'); i >= 0 {
		lang = lang[:i]
	}
	return locale.Match(lang)
}

func parseFields(raw []string) ([]staging.Field, error) {
	fields := make([]staging.Field, 0, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --field %q: expected key=value", kv)
		}
		fields = append(fields, staging.Field{Name: strings.TrimSpace(name), Value: value})
	}
	return fields, nil
}

func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func printPreview(w io.Writer, view staging.View) {
	if view.Hidden {
		fmt.Fprintln(w, view.Labels.Empty)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "#\t%s\t%s\n", view.Labels.File, view.Labels.Size)
	for i, row := range view.Rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, row.Name, row.Size)
	}
	tw.Flush()
}

// progressPrinter は整数パーセントが変わったときだけ進捗を1行で上書き表示します。
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	last    int
	printed bool
}

func (p *progressPrinter) print(pr staging.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !pr.LengthComputable {
		if !p.printed {
			fmt.Fprintf(p.w, "%s...", p.label)
			p.printed = true
		}
		return
	}
	percent := int(pr.Percent * 100)
	if percent == p.last {
		return
	}
	p.last = percent
	p.printed = true
	fmt.Fprintf(p.w, "\r%s %3d%%", p.label, percent)
}

func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed {
		fmt.Fprintln(p.w)
	}
}
