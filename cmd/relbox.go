package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/hcl"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	relboxCmd = &cobra.Command{
		Use:               "relbox",
		Short:             "An embedded transactional tuple store",
		Long:              "Relbox stores tuples in relations and accesses them with transactions.",
		PersistentPreRunE: relboxPreRun,
		PersistentPostRun: relboxPostRun,
		SilenceUsage:      true,
	}

	logFile   = "relbox.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "relbox.hcl"
	noConfig   = false

	cfgVars   = map[string]*pflag.Flag{}
	cfg       = map[string]interface{}{}
	usedFlags = map[string]struct{}{}
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := relboxCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	cfgVars["log-file"] = fs.Lookup("log-file")

	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = fs.Lookup("log-level")

	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	initStoreFlags(fs)
}

func Execute() error {
	return relboxCmd.Execute()
}

func relboxPreRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(
		func(flg *pflag.Flag) {
			usedFlags[flg.Name] = struct{}{}
		})

	if configFile != "" && !noConfig {
		err := loadConfig()
		if err != nil && !(os.IsNotExist(err) && !cmd.Flags().Changed("config-file")) {
			return fmt.Errorf("relbox: %s", err)
		}
	}

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("relbox: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("relbox: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("relbox starting")
	return nil
}

func relboxPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("relbox done")

	if logWriter != nil {
		logWriter.Close()
	}
}

// loadConfig sets each flag named in the config file, unless it was given on the command
// line.
func loadConfig() error {
	b, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}

	err = hcl.Decode(&cfg, string(b))
	if err != nil {
		return err
	}

	for name, val := range cfg {
		flg, ok := cfgVars[name]
		if !ok || flg == nil {
			return fmt.Errorf("%s is not a config variable", name)
		}
		if _, ok := usedFlags[flg.Name]; ok {
			continue
		}
		err := flg.Value.Set(fmt.Sprintf("%v", val))
		if err != nil {
			return fmt.Errorf("%s: %s", name, err)
		}
	}

	return nil
}
