package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bunchhieng/vview/internal/app"
	vcli "github.com/bunchhieng/vview/internal/cli"
	"github.com/bunchhieng/vview/internal/datasource"
	"github.com/bunchhieng/vview/internal/extracache"
	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/telemetry"
	"github.com/bunchhieng/vview/internal/tui"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	cliApp := cli.App{
		Name:    "vview",
		Usage:   "browse, inspect and download pixiv works and local media",
		Version: version,
	}

	cliApp.Flags = []cli.Flag{
		telemetry.CLIFlagDebug,
		telemetry.CLIFlagLogFormat,
		telemetry.CLIFlagMetricsListenAddress,
		&cli.StringFlag{
			Name:    "db-path",
			Usage:   "path to database file (default: platform config directory)",
			EnvVars: []string{"VVIEW_DB_PATH"},
		},
		&cli.StringFlag{
			Name:    "cookie-file",
			Usage:   "file holding the pixiv session cookie",
			EnvVars: []string{"VVIEW_COOKIE_FILE"},
		},
		&cli.StringFlag{
			Name:    "api-host",
			Usage:   "pixiv host",
			Value:   datasource.DefaultAPIHost,
			EnvVars: []string{"VVIEW_API_HOST"},
		},
		&cli.StringFlag{
			Name:    "local-host",
			Usage:   "local file server, for folder: and file: ids",
			Value:   datasource.DefaultLocalHost,
			EnvVars: []string{"VVIEW_LOCAL_HOST"},
		},
		&cli.Float64Flag{
			Name:    "rate-limit",
			Usage:   "pixiv requests per second",
			Value:   datasource.DefaultRateLimit,
			EnvVars: []string{"VVIEW_RATE_LIMIT"},
		},
		&cli.IntFlag{
			Name:    "max-recent",
			Usage:   "how many recently viewed works to remember",
			Value:   extracache.DefaultMaxRecent,
			EnvVars: []string{"VVIEW_MAX_RECENT"},
		},
	}

	pagesFlag := &cli.IntFlag{
		Name:  "pages",
		Usage: "number of result pages to load",
		Value: 1,
	}
	outputFlag := &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output file or directory (default: named after the work)",
	}

	cliApp.Commands = []*cli.Command{
		{
			Name:      "search",
			Usage:     "search works by tag",
			ArgsUsage: "<word>",
			Flags: []cli.Flag{
				pagesFlag,
				&cli.StringFlag{Name: "order", Usage: "sort order (date_d, date, popular_d)", Value: "date_d"},
			},
			Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
				word, err := requireArg(cctx, "word")
				if err != nil {
					return err
				}
				return c.Search(ctx, word, cctx.String("order"), cctx.Int("pages"))
			}),
		},
		{
			Name:      "bookmarks",
			Usage:     "list a user's bookmarks",
			ArgsUsage: "<user-id>",
			Flags: []cli.Flag{
				pagesFlag,
				&cli.BoolFlag{Name: "private", Usage: "list private bookmarks"},
			},
			Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
				userID, err := requireArg(cctx, "user-id")
				if err != nil {
					return err
				}
				return c.Bookmarks(ctx, userID, cctx.Bool("private"), cctx.Int("pages"))
			}),
		},
		{
			Name:      "local",
			Usage:     "list a folder on the local file server",
			ArgsUsage: "<folder>",
			Flags:     []cli.Flag{pagesFlag},
			Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
				folder, err := requireArg(cctx, "folder")
				if err != nil {
					return err
				}
				return c.Local(ctx, folder, cctx.Int("pages"))
			}),
		},
		{
			Name:      "info",
			Usage:     "show the full record of a work",
			ArgsUsage: "<media-id>",
			Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
				id, err := requireArg(cctx, "media-id")
				if err != nil {
					return err
				}
				return c.Info(ctx, id)
			}),
		},
		{
			Name:      "download-manga",
			Usage:     "download every page of a work as a ZIP",
			ArgsUsage: "<media-id>",
			Flags:     []cli.Flag{outputFlag},
			Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
				id, err := requireArg(cctx, "media-id")
				if err != nil {
					return err
				}
				return c.DownloadManga(ctx, id, cctx.String("output"))
			}),
		},
		{
			Name:      "download-ugoira",
			Usage:     "download an animation as an MKV video",
			ArgsUsage: "<media-id>",
			Flags:     []cli.Flag{outputFlag},
			Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
				id, err := requireArg(cctx, "media-id")
				if err != nil {
					return err
				}
				return c.DownloadUgoira(ctx, id, cctx.String("output"))
			}),
		},
		{
			Name:  "browse",
			Usage: "step through a listing interactively",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "search", Usage: "browse search results for a word"},
				&cli.StringFlag{Name: "bookmarks", Usage: "browse a user's bookmarks"},
				&cli.BoolFlag{Name: "private", Usage: "with --bookmarks, browse private bookmarks"},
				&cli.StringFlag{Name: "local", Usage: "browse a local folder"},
			},
			Action: withCommands(func(ctx context.Context, cctx *cli.Context, _ *vcli.Commands, s *app.Session) error {
				var listing *datasource.Session
				switch {
				case cctx.String("search") != "":
					listing = s.Search(cctx.String("search"), "")
				case cctx.String("bookmarks") != "":
					listing = s.Bookmarks(cctx.String("bookmarks"), cctx.Bool("private"))
				case cctx.String("local") != "":
					var err error
					listing, err = s.LocalFolder(mediaid.New(mediaid.TypeFolder, cctx.String("local"), 0))
					if err != nil {
						return err
					}
				default:
					return fmt.Errorf("one of --search, --bookmarks or --local is required")
				}
				return tui.Run(s, listing)
			}),
		},
		{
			Name:  "recent",
			Usage: "list recently viewed works",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Usage: "limit number of results", Value: 20},
			},
			Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
				return c.Recent(ctx, cctx.Int("limit"))
			}),
		},
		{
			Name:  "edits",
			Usage: "export or import image edits",
			Subcommands: []*cli.Command{
				{
					Name:  "export",
					Usage: "write all image edits as JSON to stdout",
					Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
						return c.ExportEdits(ctx, os.Stdout)
					}),
				},
				{
					Name:      "import",
					Usage:     "read image edits from a JSON export",
					ArgsUsage: "<file.json>",
					Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
						file, err := requireArg(cctx, "file.json")
						if err != nil {
							return err
						}
						return c.ImportEdits(ctx, file)
					}),
				},
			},
		},
		{
			Name:      "translate-tags",
			Usage:     "show known translations of tags",
			ArgsUsage: "<tag> [tag...]",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "lang", Usage: "target language", Value: "en"},
			},
			Action: withCommands(func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, _ *app.Session) error {
				return c.TranslateTags(ctx, cctx.Args().Slice(), cctx.String("lang"))
			}),
		},
		{
			Name:  "version",
			Usage: "show version",
			Action: func(cctx *cli.Context) error {
				vcli.NewCommands(nil, cctx.App.Writer, cctx.App.ErrWriter).Version(version)
				return nil
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		vcli.ReportError(os.Stderr, err)
		os.Exit(1)
	}
}

type action func(ctx context.Context, cctx *cli.Context, c *vcli.Commands, s *app.Session) error

// withCommands opens a session from the global flags for the duration of one
// command.
func withCommands(fn action) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := telemetry.StartLogger(cctx)
		telemetry.StartMetrics(cctx)

		cookie, err := app.ReadCookieFile(cctx.String("cookie-file"))
		if err != nil {
			return err
		}

		s, err := app.NewSession(ctx, app.Config{
			DBPath:    cctx.String("db-path"),
			APIHost:   cctx.String("api-host"),
			LocalHost: cctx.String("local-host"),
			Cookie:    cookie,
			RateLimit: cctx.Float64("rate-limit"),
			MaxRecent: cctx.Int("max-recent"),
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		defer s.Close()

		return fn(ctx, cctx, vcli.NewCommands(s, cctx.App.Writer, cctx.App.ErrWriter), s)
	}
}

func requireArg(cctx *cli.Context, name string) (string, error) {
	if cctx.NArg() == 0 {
		return "", fmt.Errorf("usage: vview %s <%s>", cctx.Command.Name, name)
	}
	return cctx.Args().First(), nil
}
