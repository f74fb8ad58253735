package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

// DefaultTopics are the source topics subscribed to when none are configured.
const DefaultTopics = "gcn.classic.voevent.LVC_PRELIMINARY,gcn.classic.voevent.LVC_INITIAL," +
	"gcn.classic.voevent.LVC_UPDATE,gcn.classic.voevent.LVC_RETRACTION," +
	"gcn.classic.voevent.FERMI_GBM_FIN_POS,gcn.classic.voevent.SWIFT_BAT_GRB_POS_ACK," +
	"gcn.classic.voevent.GECAM_GND,gcn.classic.voevent.AMON_ICECUBE_GOLD," +
	"gcn.classic.voevent.AMON_ICECUBE_BRONZE,gcn.classic.voevent.AMON_ICECUBE_CASCADE," +
	"igwn.gwalert,gcn.notices.einstein_probe.wxt.alert"

// Config holds the daemon settings that are not owned by a go-core package.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	RedisURL              string
	StrategyFile          string
	ProcessTestNotices    bool
	Topics                string
	ArchiveURL            string
	ArchiveDir            string
	SkyMapTimeoutSeconds  int
	SkyMapCacheTTLSeconds int
	PromptTimeoutSeconds  int
	BuildAttempts         int
	BuildBackoffMS        int
	GridFOV               float64
	GridOverlap           float64
	SkyMapLevel           int
	SlackWebhookURL       string
	StartPaused           bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 10, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 60, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "control API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the sky map cache (empty = no cache)")
	fs.StringVar(&c.StrategyFile, "strategy-file", "", "strategy table in YAML (empty = built-in table)")
	fs.BoolVar(&c.ProcessTestNotices, "process-test-notices", false, "process notices with role=test")
	fs.StringVar(&c.Topics, "topics", DefaultTopics, "comma-separated source topics to subscribe to")
	fs.StringVar(&c.ArchiveURL, "archive-url", "https://voeventdb.4pisky.org/apiv1", "notice archive base URL for manual ingest (empty = disabled)")
	fs.StringVar(&c.ArchiveDir, "archive-dir", "", "directory for accepted and rejected payloads (empty = not retained)")
	fs.IntVar(&c.SkyMapTimeoutSeconds, "skymap-timeout-seconds", 60, "timeout for one sky map download including retries (1..600)")
	fs.IntVar(&c.SkyMapCacheTTLSeconds, "skymap-cache-ttl-seconds", 3600, "lifetime of cached sky maps in Redis (1..604800)")
	fs.IntVar(&c.PromptTimeoutSeconds, "prompt-timeout-seconds", 0, "seconds to wait for an operator to supply a sky map (0 = no prompts)")
	fs.IntVar(&c.BuildAttempts, "build-attempts", 3, "target build attempts per notice (1..10)")
	fs.IntVar(&c.BuildBackoffMS, "build-backoff-ms", 500, "initial backoff between target build attempts in milliseconds")
	fs.Float64Var(&c.GridFOV, "grid-fov", 3.0, "telescope field of view in degrees for sky map tiling (0..90]")
	fs.Float64Var(&c.GridOverlap, "grid-overlap", 0.1, "fractional overlap between adjacent tiles [0..1)")
	fs.IntVar(&c.SkyMapLevel, "skymap-level", 5, "S2 cell level sky maps are regraded to before tiling (0..30)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.BoolVar(&c.StartPaused, "start-paused", false, "queue notices but wait for a start command before processing")
}

// TopicList splits Topics into trimmed, non-empty names.
func (c *Config) TopicList() []string {
	var out []string
	for _, t := range strings.Split(c.Topics, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ArchiveURL != "" {
		if u, err := url.Parse(c.ArchiveURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid ARCHIVE_URL %q (must be an absolute http(s) URL)", c.ArchiveURL))
		}
	}

	if c.SkyMapTimeoutSeconds <= 0 || c.SkyMapTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid SKYMAP_TIMEOUT_SECONDS %d (must be 1..600)", c.SkyMapTimeoutSeconds))
	}
	if c.SkyMapCacheTTLSeconds <= 0 || c.SkyMapCacheTTLSeconds > 604800 {
		errs = append(errs, fmt.Errorf("invalid SKYMAP_CACHE_TTL_SECONDS %d (must be 1..604800)", c.SkyMapCacheTTLSeconds))
	}
	if c.PromptTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid PROMPT_TIMEOUT_SECONDS %d (must be >= 0)", c.PromptTimeoutSeconds))
	}
	if c.BuildAttempts < 1 || c.BuildAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid BUILD_ATTEMPTS %d (must be 1..10)", c.BuildAttempts))
	}
	if c.BuildBackoffMS < 0 {
		errs = append(errs, fmt.Errorf("invalid BUILD_BACKOFF_MS %d (must be >= 0)", c.BuildBackoffMS))
	}

	// Tiling geometry
	if !(c.GridFOV > 0 && c.GridFOV <= 90) {
		errs = append(errs, fmt.Errorf("invalid GRID_FOV %v (must be in (0, 90])", c.GridFOV))
	}
	if !(c.GridOverlap >= 0 && c.GridOverlap < 1) {
		errs = append(errs, fmt.Errorf("invalid GRID_OVERLAP %v (must be in [0, 1))", c.GridOverlap))
	}
	if c.SkyMapLevel < 0 || c.SkyMapLevel > 30 {
		errs = append(errs, fmt.Errorf("invalid SKYMAP_LEVEL %d (must be 0..30)", c.SkyMapLevel))
	}

	if len(c.TopicList()) == 0 {
		errs = append(errs, errors.New("TOPICS must name at least one topic"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
