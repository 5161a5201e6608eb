package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Shimmur/loggenerator/cache"
	"github.com/Shimmur/loggenerator/reporter"
	"github.com/kelseyhightower/envconfig"
	director "github.com/relistan/go-director"
	"github.com/relistan/rubberneck"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"dev"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	BaseDir      string `envconfig:"BASE_DIR" default:"apache_servers"`
	ServerPrefix string `envconfig:"SERVER_PREFIX" default:"apache_server"`
	NumServers   int    `envconfig:"NUM_SERVERS" default:"5"`
	LinesPerFile int    `envconfig:"LINES_PER_FILE" default:"10000"`
	Seed         int64  `envconfig:"SEED" default:"0"`

	Rounds         int           `envconfig:"ROUNDS" default:"1"`
	RoundInterval  time.Duration `envconfig:"ROUND_INTERVAL" default:"0s"`
	LinesPerSecond int           `envconfig:"LINES_PER_SECOND" default:"0"`
	SyslogAddress  string        `envconfig:"SYSLOG_ADDRESS"`

	NewRelicURL       string        `envconfig:"NEW_RELIC_URL" default:"https://insights-collector.newrelic.com/v1/accounts"`
	NewRelicAccountID string        `envconfig:"NEW_RELIC_ACCOUNT_ID"`
	NewRelicInsertKey string        `envconfig:"NEW_RELIC_INSERT_KEY"`
	ReportInterval    time.Duration `envconfig:"REPORT_INTERVAL" default:"1m"`
	DebugHTTP         bool          `envconfig:"DEBUG_HTTP" default:"false"`
}

// Validate catches settings that would make no sense at run time
func (c *Config) Validate() error {
	switch {
	case c.NumServers < 0:
		return errors.New("number of servers can't be negative")
	case c.LinesPerFile < 0:
		return errors.New("lines per file can't be negative")
	case c.ServerPrefix == "":
		return errors.New("server prefix can't be empty")
	case c.Rounds == 0 || c.Rounds < director.FOREVER:
		return fmt.Errorf("rounds must be positive, or %d to run forever", director.FOREVER)
	case c.LinesPerSecond < 0:
		return errors.New("lines per second can't be negative")
	case c.RoundInterval < 0:
		return errors.New("round interval can't be negative")
	case c.NewRelicInsertKey != "" && c.ReportInterval <= 0:
		return errors.New("report interval must be positive when reporting to New Relic")
	}

	return nil
}

// newLooper returns the looper that paces the rounds of generation
func newLooper(config *Config) director.Looper {
	if config.RoundInterval > 0 {
		return director.NewImmediateTimedLooper(config.Rounds, config.RoundInterval, make(chan error))
	}
	return director.NewFreeLooper(config.Rounds, make(chan error))
}

// newOutputFactory builds the output chain for each log file: the file
// itself, optionally mirrored to syslog, optionally rate limited.
func newOutputFactory(config *Config) OutputFactory {
	mirrors := make(map[string]*UDPSyslogMirror, config.NumServers*len(logKinds))

	return func(serverName string, kind LogKind, path string) (LogOutput, error) {
		var output LogOutput = NewFileAppender(path)

		if config.SyslogAddress != "" {
			mirror, ok := mirrors[path]
			if !ok {
				var err error
				mirror, err = NewUDPSyslogMirror(map[string]string{
					"ServerName":  serverName,
					"LogFile":     kind.Filename(),
					"Environment": config.Environment,
				}, config.SyslogAddress)
				if err != nil {
					return nil, err
				}
				mirrors[path] = mirror
			}

			output = TeeOutput{output, mirror}
		}

		if config.LinesPerSecond > 0 {
			return NewRateLimitingOutput(config.LinesPerSecond, path, output)
		}

		return output, nil
	}
}

// printConfig logs the config at startup, without the New Relic key
func printConfig(config *Config) {
	mask := "********"
	printer := rubberneck.NewPrinterWithKeyMasking(log.Infof, func(key string) *string {
		if key == "NewRelicInsertKey" && config.NewRelicInsertKey != "" {
			return &mask
		}
		return nil
	}, rubberneck.NoAddLineFeed)

	printer.Print(config)
}

// runGenerator wires everything up from the config and runs all the rounds.
// The summary for each round goes to out.
func runGenerator(config *Config, out io.Writer) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", config.LogLevel, err)
	}
	log.SetLevel(level)

	printConfig(config)

	resolver := NewCachingResolver(NewTailResolver(), cache.NewCache(config.NumServers*len(logKinds)))

	fanout := NewServerFanout(config, NewSeededSynthesizer(config.Seed), resolver, newOutputFactory(config))

	if config.NewRelicInsertKey != "" {
		batchReporter := reporter.NewBatchReporter(
			config.NewRelicURL, config.NewRelicInsertKey, config.NewRelicAccountID, config.ReportInterval,
		)
		if config.DebugHTTP {
			batchReporter.EnableHTTPDebug()
		}

		fanout.OnBatch = func(_ string, _ LogKind, lines int) { batchReporter.Add(lines) }

		if config.Rounds != 1 {
			batchReporter.Run()
		}
		defer batchReporter.Flush()
	}

	looper := newLooper(config)
	go fanout.Run(looper, func(summary *BatchSummary) {
		fmt.Fprintln(out, summary.String())
	})

	return looper.Wait()
}

func newRootCommand(config *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loggenerator",
		Short: "Append fake Apache access and error logs for a set of servers",
		Long: `loggenerator synthesizes Apache-style access and error log lines and appends
them to <base-dir>/<prefix>_<n>/access.log and error.log for each server.
Timestamps carry on one second after the last line already in each file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerator(config, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&config.NumServers, "servers", "n", config.NumServers, "number of servers to generate logs for")
	flags.IntVarP(&config.LinesPerFile, "lines", "l", config.LinesPerFile, "lines appended to each log file per round")
	flags.StringVarP(&config.BaseDir, "base-dir", "d", config.BaseDir, "directory holding the server directories")
	flags.StringVar(&config.ServerPrefix, "prefix", config.ServerPrefix, "server directory name prefix")
	flags.Int64Var(&config.Seed, "seed", config.Seed, "random seed, 0 seeds from the clock")
	flags.IntVar(&config.Rounds, "rounds", config.Rounds, "rounds of generation, -1 runs forever")
	flags.DurationVar(&config.RoundInterval, "interval", config.RoundInterval, "pause between rounds")
	flags.IntVar(&config.LinesPerSecond, "rate", config.LinesPerSecond, "max lines per second per file, 0 is unlimited")

	return cmd
}

func main() {
	var config Config
	err := envconfig.Process("loggen", &config)
	if err != nil {
		log.Fatal(err.Error())
	}

	if err := newRootCommand(&config).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
