package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rohmanhakim/robots-gate/internal/config"
	"github.com/rohmanhakim/robots-gate/internal/logging"
	"github.com/rohmanhakim/robots-gate/internal/metadata"
	"github.com/rohmanhakim/robots-gate/internal/metrics"
	"github.com/rohmanhakim/robots-gate/internal/robots"
	"github.com/rohmanhakim/robots-gate/internal/robots/cache"
)

var (
	siteID        string
	targetURLs    []string
	proxy         string
	siteUserAgent string
	headers       []string
	ignoreRobots  bool
	printMetrics  bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether urls of a site may be crawled.",
	Example: `  robots-gate check --site-id docs --url https://example.com/guide
  robots-gate check --site-id docs --url https://example.com/a --url https://example.com/b \
      --proxy localhost:8000 --user-agent "ExampleBot/1.0" --header "X-Crawl: job-7"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := InitConfigWithError()
		if err != nil {
			return err
		}
		site, err := siteFromFlags()
		if err != nil {
			return err
		}

		logCfg := cfg.Logging()
		logCfg.Output = os.Stderr
		logger := logging.New(logCfg)

		return runCheck(cmd.Context(), cfg, logger, site, targetURLs, proxy, cmd.OutOrStdout())
	},
}

func init() {
	checkCmd.Flags().StringVar(&siteID, "site-id", "", "stable identity of the crawl target (required)")
	checkCmd.Flags().StringArrayVar(&targetURLs, "url", []string{}, "candidate url (can be repeated)")
	checkCmd.Flags().StringVar(&proxy, "proxy", "", "proxy host:port used for robots.txt requests")
	checkCmd.Flags().StringVar(&siteUserAgent, "user-agent", "", "user agent of the site")
	checkCmd.Flags().StringArrayVar(&headers, "header", []string{}, `extra request header "Name: value" (can be repeated)`)
	checkCmd.Flags().BoolVar(&ignoreRobots, "ignore-robots", false, "permit every url without consulting robots.txt")
	checkCmd.Flags().BoolVar(&printMetrics, "metrics", false, "print collected metrics to stderr after the check")
}

func resetCheckFlags() {
	siteID = ""
	targetURLs = []string{}
	proxy = ""
	siteUserAgent = ""
	headers = []string{}
	ignoreRobots = false
	printMetrics = false
}

func siteFromFlags() (robots.Site, error) {
	if siteID == "" {
		return robots.Site{}, fmt.Errorf("--site-id is required")
	}
	if len(targetURLs) == 0 {
		return robots.Site{}, fmt.Errorf("at least one --url is required")
	}
	extra, err := parseHeaders(headers)
	if err != nil {
		return robots.Site{}, err
	}
	return robots.Site{
		ID:           siteID,
		IgnoreRobots: ignoreRobots,
		UserAgent:    siteUserAgent,
		ExtraHeaders: extra,
	}, nil
}

// parseHeaders converts "Name: value" pairs into a header map.
func parseHeaders(raw []string) (map[string]string, error) {
	parsed := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, found := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		parsed[name] = strings.TrimSpace(value)
	}
	return parsed, nil
}

// newStore opens the robots.txt store selected by cfg. The returned close
// function is never nil.
func newStore(ctx context.Context, cfg config.Config) (cache.Cache, func(), error) {
	switch cfg.Store() {
	case config.StoreMemory:
		return cache.NewMemoryCache(), func() {}, nil
	case config.StoreRedis:
		store, err := cache.NewRedisCacheFromURL(cfg.RedisURL(), cache.WithRedisPrefix(cfg.RedisKeyPrefix()))
		if err != nil {
			return nil, func() {}, fmt.Errorf("invalid redis url: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, func() {}, fmt.Errorf("redis unavailable: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

// NewChecker wires a Checker from cfg. Metrics are registered on reg.
func NewChecker(ctx context.Context, cfg config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*robots.Checker, func(), error) {
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	m := metrics.New(reg)
	recorder := metadata.NewRecorder("robots-gate", logger)
	registry := robots.NewRegistry(
		robots.NewSessionFactory(cfg.UserAgent(), cfg.Timeout()),
		func(s *robots.Session) *robots.DirectiveCache {
			return robots.NewDirectiveCache(s, robots.SubstringAgentResolver{}, store, &recorder, m)
		},
	)
	return robots.NewChecker(registry, cfg.RetryParam(), logger, &recorder, m), closeStore, nil
}

func runCheck(
	ctx context.Context,
	cfg config.Config,
	logger zerolog.Logger,
	site robots.Site,
	urls []string,
	proxy string,
	out io.Writer,
) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reg := prometheus.NewRegistry()
	checker, closeStore, err := NewChecker(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer closeStore()
	if printMetrics {
		defer writeMetrics(reg, os.Stderr)
	}

	for _, u := range urls {
		allowed, err := checker.IsPermitted(ctx, site, u, proxy)
		if err != nil {
			return err
		}
		verdict := "disallowed"
		if allowed {
			verdict = "allowed"
		}
		fmt.Fprintf(out, "%s\t%s\n", verdict, u)
	}
	return nil
}

func writeMetrics(gatherer prometheus.Gatherer, w io.Writer) {
	families, err := gatherer.Gather()
	if err != nil {
		return
	}
	for _, mf := range families {
		_, _ = expfmt.MetricFamilyToText(w, mf)
	}
}
