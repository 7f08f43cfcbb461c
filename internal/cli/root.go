package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/robots-gate/internal/config"
	"github.com/rohmanhakim/robots-gate/internal/robots"
)

// Exit statuses of the robots-gate binary.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitReachedLimit = 3
	ExitProxyError   = 4
)

var (
	cfgFile    string
	userAgent  string
	timeout    time.Duration
	maxAttempt int
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "robots-gate",
	Short: "Decide whether crawling a URL is permitted by robots.txt.",
	Long: `robots-gate checks candidate URLs of a crawl target against the site's
robots.txt. Lookups are retried on transient network failures and a URL is
denied once retries run out.

A "reached limit" answer from an archiving proxy (HTTP 420 with a
Warcprox-Meta header) stops the check immediately, as does an unreachable proxy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(ExitCode(err))
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var limitErr *robots.ReachedLimitError
	if errors.As(err, &limitErr) {
		return ExitReachedLimit
	}
	var proxyErr *robots.ProxyError
	if errors.As(err, &proxyErr) {
		return ExitProxyError
	}
	return ExitFailure
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringVar(&userAgent, "default-user-agent", "", "identity used for sites without a user agent")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "timeout for robots.txt requests")
	rootCmd.PersistentFlags().IntVar(&maxAttempt, "max-attempt", 0, "lookup attempts before a url is denied")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level: debug, info, warn, error")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// InitConfigWithError reads the config file when one is given, otherwise
// builds the config from defaults and flag overrides.
func InitConfigWithError() (config.Config, error) {
	if cfgFile != "" {
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	configBuilder := config.WithDefault()

	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}
	if timeout > 0 {
		configBuilder = configBuilder.WithTimeout(timeout)
	}
	if maxAttempt > 0 {
		configBuilder = configBuilder.WithMaxAttempt(maxAttempt)
	}
	if logLevel != "" {
		configBuilder = configBuilder.WithLogLevel(logLevel)
	}

	return configBuilder.Build()
}

func ResetFlags() {
	cfgFile = ""
	userAgent = ""
	timeout = 0
	maxAttempt = 0
	logLevel = ""
	resetCheckFlags()
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetUserAgentForTest(agent string) {
	userAgent = agent
}

func SetTimeoutForTest(t time.Duration) {
	timeout = t
}

func SetMaxAttemptForTest(attempts int) {
	maxAttempt = attempts
}
