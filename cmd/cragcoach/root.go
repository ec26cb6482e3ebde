package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cragcoach/internal/climbing"
	"cragcoach/internal/config"
	"cragcoach/internal/orchestrator"
	"cragcoach/internal/server/bootstrap"
)

const version = "0.3.0"

type cli struct {
	configFile string
	overrides  []string
	out        io.Writer
	errOut     io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "cragcoach",
		Short: "Climbing coach context pipeline and chat backend",
		Long: fmt.Sprintf(`%s

Builds per-user climbing context documents, caches them and streams coaching
chat responses over server-sent events.

%s
  cragcoach serve                      # Run the HTTP/SSE server
  cragcoach context get 42             # Print the context document for user 42
  cragcoach bulk-refresh 1 2 3         # Regenerate cached documents
  cragcoach upload parse ticks.csv     # Validate a tick log without storing it
  cragcoach config print               # Show the effective configuration`,
			bold("cragcoach "+version), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "Config file (default ./cragcoach.yaml)")
	root.PersistentFlags().StringArrayVar(&c.overrides, "set", nil, "Override a config key, e.g. --set cache.backend=redis")

	root.AddCommand(c.newServeCommand())
	root.AddCommand(c.newContextCommand())
	root.AddCommand(c.newBulkRefreshCommand())
	root.AddCommand(c.newUploadCommand())
	root.AddCommand(c.newConfigCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func (c *cli) loadConfig() (config.Config, config.Metadata, error) {
	var opts []config.Option
	if c.configFile != "" {
		opts = append(opts, config.WithFile(c.configFile))
	}
	if len(c.overrides) > 0 {
		values, err := parseOverrides(c.overrides)
		if err != nil {
			return config.Config{}, config.Metadata{}, err
		}
		opts = append(opts, config.WithOverrides(values))
	}
	return config.Load(opts...)
}

func parseOverrides(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", pair)
		}
		values[strings.ToLower(key)] = value
	}
	return values, nil
}

// withContainer runs fn against a freshly built container and shuts it down.
func (c *cli) withContainer(cmd *cobra.Command, fn func(context.Context, *bootstrap.Container) error) error {
	cfg, _, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	container, err := bootstrap.BuildContainer(ctx, cfg, bootstrap.BuildOptions{LogOutput: c.errOut})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintln(c.errOut, errorText("shutdown: "+err.Error()))
		}
	}()
	return fn(ctx, container)
}

func (c *cli) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and SSE server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, meta, err := c.loadConfig()
			if err != nil {
				return err
			}
			if meta.File != "" {
				fmt.Fprintf(c.errOut, "%s %s\n", gray("config:"), meta.File)
			}
			return bootstrap.RunServer(cmd.Context(), cfg)
		},
	}
}

func (c *cli) newContextCommand() *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect and manage cached context documents",
	}

	var query string
	var refresh, pretty bool
	get := &cobra.Command{
		Use:   "get <user-id>",
		Short: "Print a user's context document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := climbing.NormalizeUserID(args[0]); err != nil {
				return err
			}
			return c.withContainer(cmd, func(ctx context.Context, ctn *bootstrap.Container) error {
				doc, ok := ctn.Orchestrator.GetContext(ctx, args[0], orchestrator.GetOptions{
					ConversationID: conversationID,
					Query:          query,
					ForceRefresh:   refresh,
				})
				if !ok {
					return fmt.Errorf("no context available for user %s", args[0])
				}
				data, err := encodeDocument(doc, pretty || isTerminal(c.out))
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, string(data))
				return nil
			})
		},
	}
	get.Flags().StringVarP(&query, "query", "q", "", "Score relevance against this query")
	get.Flags().BoolVar(&refresh, "refresh", false, "Regenerate instead of reading the cache")
	get.Flags().BoolVar(&pretty, "pretty", false, "Indent JSON even when stdout is not a terminal")

	refreshCmd := &cobra.Command{
		Use:   "refresh <user-id>",
		Short: "Regenerate and cache a user's context document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ctn *bootstrap.Container) error {
				if !ctn.Orchestrator.RefreshContext(ctx, args[0], conversationID) {
					return fmt.Errorf("refresh failed for user %s", args[0])
				}
				fmt.Fprintln(c.out, okText("refreshed "+args[0]))
				return nil
			})
		},
	}

	invalidate := &cobra.Command{
		Use:   "invalidate <user-id>",
		Short: "Drop cached context documents for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := climbing.NormalizeUserID(args[0])
			if err != nil {
				return err
			}
			return c.withContainer(cmd, func(ctx context.Context, ctn *bootstrap.Container) error {
				if ctn.Cache.Invalidate(ctx, uid.String(), conversationID) {
					fmt.Fprintln(c.out, okText("invalidated "+uid.String()))
				} else {
					fmt.Fprintln(c.out, gray("nothing cached for "+uid.String()))
				}
				return nil
			})
		},
	}

	cmd.PersistentFlags().StringVar(&conversationID, "conversation", "", "Conversation id")
	cmd.AddCommand(get, refreshCmd, invalidate)
	return cmd
}

func (c *cli) newBulkRefreshCommand() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "bulk-refresh <user-id>...",
		Short: "Regenerate cached documents for many users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]any, len(args))
			for i, arg := range args {
				ids[i] = arg
			}
			return c.withContainer(cmd, func(ctx context.Context, ctn *bootstrap.Container) error {
				results := ctn.Orchestrator.BulkRefresh(ctx, ids, batchSize)
				printResults(c.out, results)
				for _, ok := range results {
					if !ok {
						return fmt.Errorf("some refreshes failed")
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 0, "Users refreshed concurrently (default context.bulk_batch_size)")
	return cmd
}

func (c *cli) newUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Work with tick log files",
	}
	var format string
	parse := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse and deduplicate a tick log without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var f climbing.Format
			if format != "" {
				f, err = climbing.ParseFormat(format)
			} else {
				f, err = climbing.DetectFormat(args[0])
			}
			if err != nil {
				return err
			}
			ticks, err := climbing.ParseUpload(content, f)
			if err != nil {
				return err
			}
			merged := ticks
			if len(ticks) > 1 {
				merged = climbing.Deduplicate(ticks[:1], ticks[1:])
			}
			fmt.Fprintf(c.out, "%s %s (%s, %s)\n", bold("parsed"), args[0], f, humanize.Bytes(uint64(len(content))))
			printTicks(c.out, merged)
			fmt.Fprintf(c.out, "%d records, %d unique routes\n", len(ticks), len(merged))
			return nil
		},
	}
	parse.Flags().StringVar(&format, "format", "", "csv, json or txt (default from extension)")
	cmd.AddCommand(parse)
	return cmd
}

func (c *cli) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, meta, err := c.loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Render(cfg)
			if err != nil {
				return err
			}
			if meta.File != "" {
				fmt.Fprintf(c.out, "# %s\n", meta.File)
			}
			_, err = c.out.Write(data)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, _, err := c.loadConfig(); err != nil {
				return err
			}
			fmt.Fprintln(c.out, okText("configuration is valid"))
			return nil
		},
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cragcoach %s\n", version)
		},
	}
}
