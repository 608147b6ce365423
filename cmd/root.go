package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"db-snap/internal/dialect"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	quiet   bool

	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	source     *connFlags
	SourceDB   *sql.DB
	SourceConn *ConnConfig
	SchemaName string
	Dialect    dialect.Dialect
)

// connectAnnotation marks commands that need the source connection.
const connectAnnotation = "connect"

var RootCmd = &cobra.Command{
	Use:   "db-snap",
	Short: "MySQL database and table snapshots as replayable SQL scripts",
	Long: `
     _ _
  __| | |__        ___ _ __   __ _ _ __
 / _' | '_ \ _____/ __| '_ \ / _' | '_ \
| (_| | |_) |_____\__ \ | | | (_| | |_) |
 \__,_|_.__/      |___/_| |_|\__,_| .__/
                                  |_|
DB SNAP - MySQL export & table transfer
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()

		if cmd.Annotations[connectAnnotation] != "source" {
			return nil
		}

		var err error
		Dialect, err = dialect.GetDialect(viper.GetString("driver"))
		if err != nil {
			return err
		}

		active, err := GetActiveConnection()
		if err != nil {
			return err
		}
		SourceConn, err = source.resolve(active)
		if err != nil {
			return err
		}

		SourceDB, SchemaName, err = openDB(SourceConn)
		if err != nil {
			return fmt.Errorf("failed to connect to source: %w", err)
		}
		logger.Debug().Str("source", SourceConn.Identity()).Str("database", SchemaName).Msg("connected")
		return nil
	},
}

func Execute() {
	err := RootCmd.Execute()
	if SourceDB != nil {
		SourceDB.Close()
	}
	if err != nil {
		logger.Error().Msg(err.Error())
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./db-snap.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	RootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	source = registerConnFlags(RootCmd.PersistentFlags(), "source")

	viper.SetDefault("driver", "mysql")
	viper.SetDefault("settings.batch_size", 1000)
}

func setupLogger() {
	level := zerolog.InfoLevel
	switch {
	case verbose:
		level = zerolog.DebugLevel
	case quiet:
		level = zerolog.WarnLevel
	}
	if viper.IsSet("settings.log_level") && !verbose && !quiet {
		if l, err := zerolog.ParseLevel(viper.GetString("settings.log_level")); err == nil {
			level = l
		}
	}
	logger = logger.Level(level)

	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug().Str("file", used).Msg("using config file")
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 1. Executable Directory (Priority 1)
		ex, err := os.Executable()
		if err == nil {
			viper.AddConfigPath(filepath.Dir(ex))
		}

		// 2. Current Directory (Priority 2)
		viper.AddConfigPath(".")

		viper.SetConfigName("db-snap")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DBSNAP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "failed to read config:", err)
		}
	}
}

// elapsedSince formats durations for the summaries.
func elapsedSince(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
