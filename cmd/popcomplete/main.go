// Copyright 2025 The popcomplete Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main runs the popcomplete helper, the process behind the editor side
popup completion plugin.

The helper speaks msgpack frames on stdin/stdout (see package server). The
editor reports autocommands and buffer changes; the helper runs completion
sessions over the registered sources and tells the editor which popup to show.

# Usage

Start the helper, normally spawned by the editor plugin:

	popcomplete

Use a custom config and dictionary directory with debug logging:

	popcomplete --config ~/popcomplete.toml --dict ~/dicts -d

Query the dictionary source from a terminal:

	popcomplete query --limit 10

# Configuration

The TOML config is created with defaults on first start and reloaded on save:

	[complete]
	auto_trigger = "always"
	min_trigger_input_length = 1
	accept_on_commit_character = false
	enable_preview = false
	timeout_ms = 500

	[sources]
	disabled = []
	dictionary_page_size = 200
	word_chars = { css = "-" }
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bastiangx/popcomplete/internal/cli"
	"github.com/bastiangx/popcomplete/internal/logger"
	"github.com/bastiangx/popcomplete/internal/utils"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/config"
	"github.com/bastiangx/popcomplete/pkg/controller"
	"github.com/bastiangx/popcomplete/pkg/dictionary"
	"github.com/bastiangx/popcomplete/pkg/preview"
	"github.com/bastiangx/popcomplete/pkg/server"
	"github.com/bastiangx/popcomplete/pkg/sources"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0-beta"
	AppName = "popcomplete"
	gh      = "https://github.com/bastiangx/popcomplete"
)

var (
	configPath  string
	dictDir     string
	debugMode   bool
	showVersion bool
)

// sigHandler cancels ctx on SIGINT or SIGTERM so the server can stop the
// session and restore editor options before exiting.
func sigHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
		cancel()
	}()
}

var rootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Popup completion helper for editors",
	Long: `popcomplete runs completion sessions for an editor plugin.

It reads editor events as msgpack frames on stdin and writes popup commands
to stdout. Logs go to stderr.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			printVersion()
			return nil
		}
		return serve(cmd.Context())
	},
}

var queryLimit int
var queryMinLength int

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Complete words typed on stdin -- useful for testing and debugging",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.LoadConfigWithPriority(configPath)
		if err != nil {
			return err
		}
		dict, err := loadDictionary(cfg)
		if err != nil {
			return err
		}
		log.Debug("Input info:", "words", dict.Len(), "limit", queryLimit, "minLength", queryMinLength)

		srcs := []complete.Source{
			sources.NewDictionary(dict, cfg.Sources.DictionaryPriority, cfg.Sources.DictionaryPageSize),
		}
		h := cli.NewInputHandler(srcs, complete.Config{
			MaxItems:         queryLimit,
			Timeout:          cfg.Complete.Timeout(),
			SnippetIndicator: cfg.Complete.SnippetIndicator,
		}, queryMinLength, os.Stdin, os.Stdout)
		return h.Start(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a custom config.toml")
	rootCmd.PersistentFlags().StringVar(&dictDir, "dict", "", "Directory containing dictionary files")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "Toggle debug mode")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show current version")

	queryCmd.Flags().IntVar(&queryLimit, "limit", 20, "Number of items to show")
	queryCmd.Flags().IntVar(&queryMinLength, "prmin", 1, "Minimum input length")
	rootCmd.AddCommand(queryCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigHandler(cancel)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}

func setupLogging() {
	logger.SetOutput(os.Stderr)
	if debugMode {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
	} else {
		log.SetLevel(log.WarnLevel)
	}
}

func printVersion() {
	banner := logger.NewWithConfig("", log.InfoLevel, false, false, log.TextFormatter)

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"}).
		Background(lipgloss.AdaptiveColor{Light: "#f2e9e1", Dark: "#26233a"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	banner.SetStyles(styles)

	banner.Print("")
	banner.Print("[ popcomplete ] Popup completion for your editor")
	banner.Print("", "version", Version)
	banner.Print("")
	banner.Print("use -h or --help to see available options")
	banner.Print("Github Repo", "gh", gh)
}

// loadDictionary resolves the dictionary directory from --dict or the config.
func loadDictionary(cfg *config.Config) (*dictionary.Dictionary, error) {
	pr, err := utils.NewPathResolver()
	if err != nil {
		return nil, errors.Wrap(err, "init path resolver")
	}
	dir := dictDir
	if dir == "" {
		dir = cfg.Sources.DictionaryDir
	}
	dir = pr.DataDir(dir)
	log.Debugf("Using dictionary dir at: %s", dir)

	dict := dictionary.New()
	if err := dict.LoadDir(dir); err != nil {
		return nil, errors.WithHint(err, "pass --dict or set sources.dictionary_dir")
	}
	log.Debugf("Loaded %d words from %d files", dict.Len(), len(dict.Files()))
	return dict, nil
}

func serve(ctx context.Context) error {
	cfg, activePath, err := config.LoadConfigWithPriority(configPath)
	if err != nil {
		return err
	}

	codec := server.NewCodec(os.Stdin, os.Stdout)
	bridge := server.NewBridge(codec)
	docs := server.NewWorkspace(bridge, cfg.Sources.WordChars)

	registry := sources.NewRegistry()
	registry.Register(sources.NewAround(docs, cfg.Sources.AroundPriority))
	var dictSrc *sources.Dictionary
	if dict, err := loadDictionary(cfg); err != nil {
		log.Warnf("Dictionary source disabled: %v", err)
	} else {
		dictSrc = sources.NewDictionary(dict, cfg.Sources.DictionaryPriority, cfg.Sources.DictionaryPageSize)
		registry.Register(dictSrc)
	}
	registry.SetDisabled(cfg.Sources.Disabled)

	prev := preview.New(bridge, cfg.Complete.MaxPreviewWidth, cfg.Complete.PreviewSettle())
	ctl := controller.New(cfg.Complete, bridge, docs, registry, prev, complete.NewRecencyTable())

	if activePath != "" {
		go func() {
			err := config.Watch(ctx, activePath, func(next *config.Config) {
				log.Debugf("Config reloaded from %s", activePath)
				ctl.SetConfig(next.Complete)
				prev.Configure(next.Complete.MaxPreviewWidth, next.Complete.PreviewSettle())
				registry.SetDisabled(next.Sources.Disabled)
				docs.SetWordChars(next.Sources.WordChars)
				if dictSrc != nil {
					dictSrc.SetPageSize(next.Sources.DictionaryPageSize)
				}
			})
			if err != nil {
				log.Warnf("Config watch stopped: %v", err)
			}
		}()
	}

	showStartupInfo(activePath, registry.Names())
	return server.NewServer(bridge, ctl, docs, registry, Version).Start(ctx)
}

// showStartupInfo logs what the helper runs with. It goes to stderr; stdout
// belongs to the protocol.
func showStartupInfo(cfgPath string, names []string) {
	log.Debugf("Version: %s", Version)
	log.Debugf("Process ID: [ %d ]", os.Getpid())
	log.Debugf("config: ( %s )", config.GetActiveConfigPath(cfgPath))
	log.Debugf("sources: [ %s ]", strings.Join(names, ", "))
	log.Debug("status: ready")
}
