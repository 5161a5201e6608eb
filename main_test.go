package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	director "github.com/relistan/go-director"
	. "github.com/smartystreets/goconvey/convey"
)

func defaultConfig() *Config {
	var config Config
	err := envconfig.Process("loggen_test_unset", &config)
	if err != nil {
		panic(err)
	}
	return &config
}

func Test_Config(t *testing.T) {
	Convey("Config", t, func() {
		config := defaultConfig()

		Convey("has the expected defaults", func() {
			So(config.BaseDir, ShouldEqual, "apache_servers")
			So(config.ServerPrefix, ShouldEqual, "apache_server")
			So(config.NumServers, ShouldEqual, 5)
			So(config.LinesPerFile, ShouldEqual, 10000)
			So(config.Rounds, ShouldEqual, 1)
			So(config.RoundInterval, ShouldEqual, time.Duration(0))
			So(config.ReportInterval, ShouldEqual, time.Minute)
			So(config.Validate(), ShouldBeNil)
		})

		Convey("rejects negative counts", func() {
			config.NumServers = -1
			So(config.Validate(), ShouldNotBeNil)

			config.NumServers = 1
			config.LinesPerFile = -1
			So(config.Validate(), ShouldNotBeNil)
		})

		Convey("rejects zero rounds but allows running forever", func() {
			config.Rounds = 0
			So(config.Validate(), ShouldNotBeNil)

			config.Rounds = director.FOREVER
			So(config.Validate(), ShouldBeNil)
		})

		Convey("requires a report interval only when reporting", func() {
			config.ReportInterval = 0
			So(config.Validate(), ShouldBeNil)

			config.NewRelicInsertKey = "insert-key"
			So(config.Validate(), ShouldNotBeNil)

			config.ReportInterval = -time.Second
			So(config.Validate(), ShouldNotBeNil)

			config.ReportInterval = time.Second
			So(config.Validate(), ShouldBeNil)
		})

		Convey("rejects an empty server prefix", func() {
			config.ServerPrefix = ""
			So(config.Validate(), ShouldNotBeNil)
		})
	})
}

func Test_printConfig(t *testing.T) {
	Convey("printConfig()", t, func() {
		config := defaultConfig()
		config.NewRelicInsertKey = "super-secret-insert-key"

		output := LogCapture(func() { printConfig(config) })

		Convey("logs the config", func() {
			So(output, ShouldContainSubstring, "apache_servers")
		})

		Convey("masks the insert key", func() {
			So(output, ShouldNotContainSubstring, "super-secret-insert-key")
			So(output, ShouldContainSubstring, "********")
		})

		Convey("leaves the caller's config alone", func() {
			So(config.NewRelicInsertKey, ShouldEqual, "super-secret-insert-key")
		})
	})
}

func Test_newOutputFactory(t *testing.T) {
	Convey("newOutputFactory()", t, func() {
		config := defaultConfig()
		path := filepath.Join(t.TempDir(), "access.log")

		Convey("appends to the file by default", func() {
			output, err := newOutputFactory(config)("apache_server_1", AccessLog, path)
			So(err, ShouldBeNil)
			So(output, ShouldHaveSameTypeAs, &FileAppender{})
		})

		Convey("wraps the output in a rate limiter when asked", func() {
			config.LinesPerSecond = 100

			output, err := newOutputFactory(config)("apache_server_1", AccessLog, path)
			So(err, ShouldBeNil)
			So(output, ShouldHaveSameTypeAs, &RateLimitingOutput{})
			output.Stop()
		})

		Convey("mirrors to syslog when an address is set", func() {
			config.SyslogAddress = "127.0.0.1:9714"
			factory := newOutputFactory(config)

			output, err := factory("apache_server_1", AccessLog, path)
			So(err, ShouldBeNil)
			So(output, ShouldHaveSameTypeAs, TeeOutput{})

			again, err := factory("apache_server_1", AccessLog, path)
			So(err, ShouldBeNil)
			So(again.(TeeOutput)[1], ShouldEqual, output.(TeeOutput)[1])
		})
	})
}

func Test_RootCommand(t *testing.T) {
	Convey("The root command", t, func() {
		config := defaultConfig()
		baseDir := filepath.Join(t.TempDir(), "apache_servers")

		Convey("generates logs for every server from flags", func() {
			cmd := newRootCommand(config)
			cmd.SetArgs([]string{"--servers", "2", "--lines", "3", "--base-dir", baseDir, "--seed", "5"})

			var err error
			_ = LogCapture(func() {
				err = cmd.Execute()
			})
			So(err, ShouldBeNil)

			for _, server := range []string{"apache_server_1", "apache_server_2"} {
				for _, file := range []string{"access.log", "error.log"} {
					lines, err := readLines(filepath.Join(baseDir, server, file))
					So(err, ShouldBeNil)
					So(len(lines), ShouldEqual, 3)
				}
			}

			_, err = os.Stat(filepath.Join(baseDir, "apache_server_3"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("prints only the summary line to stdout with no arguments", func() {
			config.NumServers = 2
			config.LinesPerFile = 3
			config.BaseDir = baseDir

			cmd := newRootCommand(config)
			cmd.SetArgs([]string{})
			stdout := &bytes.Buffer{}
			cmd.SetOut(stdout)

			var err error
			_ = LogCapture(func() {
				err = cmd.Execute()
			})
			So(err, ShouldBeNil)
			So(stdout.String(), ShouldEqual, "3 new log lines appended for 2 servers.\n")
		})

		Convey("only grows the files when run again", func() {
			args := []string{"-n", "1", "-l", "4", "-d", baseDir}
			path := filepath.Join(baseDir, "apache_server_1", "error.log")

			_ = LogCapture(func() {
				cmd := newRootCommand(config)
				cmd.SetArgs(args)
				So(cmd.Execute(), ShouldBeNil)
			})
			first, err := readLines(path)
			So(err, ShouldBeNil)

			_ = LogCapture(func() {
				cmd := newRootCommand(config)
				cmd.SetArgs(args)
				So(cmd.Execute(), ShouldBeNil)
			})
			second, err := readLines(path)
			So(err, ShouldBeNil)

			So(len(second), ShouldEqual, 8)
			So(second[:4], ShouldResemble, first)
		})

		Convey("refuses positional arguments", func() {
			cmd := newRootCommand(config)
			cmd.SetArgs([]string{"extra"})

			So(cmd.Execute(), ShouldNotBeNil)
		})

		Convey("refuses an invalid config", func() {
			cmd := newRootCommand(config)
			cmd.SetArgs([]string{"--servers=-3", "--base-dir", baseDir})

			err := cmd.Execute()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "invalid config")
		})
	})
}
