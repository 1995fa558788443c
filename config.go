package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	archiveCheckMinutes int
	archiveDelayMinutes int
	archivesDir         string
	botSocket           string
	dbURI               string
	directory           string
	ip                  string
	port                int
	printStore          bool
	profile             bool
	verbose             bool
	version             bool

	// derived in validate()
	archiveCheck time.Duration
	archiveDelay time.Duration
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.archiveDelayMinutes < 1 {
		return fmt.Errorf("invalid archive delay (must be at least 1 minute): %d", c.archiveDelayMinutes)
	}
	if c.archiveCheckMinutes < 1 {
		return fmt.Errorf("invalid archive check period (must be at least 1 minute): %d", c.archiveCheckMinutes)
	}

	c.archiveDelay = time.Duration(c.archiveDelayMinutes) * time.Minute
	c.archiveCheck = time.Duration(c.archiveCheckMinutes) * time.Minute

	return nil
}

func newCmd(cfg *Config, hooks GameHooks) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("WEBGAME")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "webgame",
		Short:         "A generic real-time multiplayer game server, speaking JSON over WebSockets.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, hooks)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.IntVar(&cfg.archiveCheckMinutes, "archive-check", 120, "archiver wakeup period, in minutes (env: WEBGAME_ARCHIVE_CHECK)")
	fs.IntVar(&cfg.archiveDelayMinutes, "archive-delay", 24, "retention period before an idle game is archived, in minutes (env: WEBGAME_ARCHIVE_DELAY)")
	fs.StringVar(&cfg.archivesDir, "archives-directory", "webgame_archives", "directory game archives are written to (env: WEBGAME_ARCHIVES_DIRECTORY)")
	fs.StringVar(&cfg.botSocket, "bot", "/tmp/webgame-bots.sock", "unix socket of the bot server (env: WEBGAME_BOT)")
	fs.StringVar(&cfg.dbURI, "db-uri", "webgame_db", "path of the database storing game states (env: WEBGAME_DB_URI)")
	fs.StringVarP(&cfg.directory, "directory", "d", "./public", "directory of the static files (env: WEBGAME_DIRECTORY)")
	fs.StringVar(&cfg.ip, "ip", "127.0.0.1", "address to bind to (env: WEBGAME_IP)")
	fs.IntVarP(&cfg.port, "port", "p", 8002, "port to listen on (env: WEBGAME_PORT)")
	fs.BoolVar(&cfg.printStore, "print-store", false, "log saves instead of persisting them (env: WEBGAME_PRINT_STORE)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: WEBGAME_PROFILE)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: WEBGAME_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: WEBGAME_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("webgame v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
