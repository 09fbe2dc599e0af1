// Package config parses the command-line surface of spec.md §6 into a
// Config value, the same way huaban-periodic's cmd/periodic/main.go
// builds its flag set with github.com/codegangsta/cli. One Config
// describes one slave child; for N>1 a supervisor config file describes
// several and config.LoadFile below reads it.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/codegangsta/cli"
	"github.com/distcomp/peerslave/internal/registry"
)

// Config is one slave's full configuration surface: the resource
// advertisements and access lists of spec.md §6 plus the additions of
// SPEC_FULL.md §4.7-4.11 for the audit log, HTTP API, policy-state
// store, and presence tuning.
type Config struct {
	MemAvail uint64
	CPUAvail uint64
	TimAvail uint64
	Timeout  time.Duration // engine-idle timeout (T_engine)
	Verbose  int
	Number   int

	Hostname string
	Group    string
	Matlab   string

	AllowHost  []string
	AllowUser  []string
	AllowGroup []string

	SmartMem   bool
	SmartCPU   bool
	SmartShare bool

	Port   uint16
	Socket string

	AnnounceAddr    string
	DiscoverAddr    string
	AnnounceInterval time.Duration
	SweepInterval    time.Duration
	Expiry           time.Duration
	ZombieTimeout    time.Duration

	AuditDriver string
	AuditRedis  string
	AuditDBPath string

	HTTPAddr string

	PolicystatePath string
}

// resource parses one of memavail/cpuavail/timavail: "inf" (or an empty
// string) means registry.Unbounded, matching the source's max-value
// encoding; anything else must be a base-10 unsigned integer.
func resource(s string) (uint64, error) {
	if s == "" || s == "inf" {
		return registry.Unbounded, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Flags is the shared []cli.Flag used by both a single-slave invocation
// (N==1) and the "seed" config that --number>1 expands via the
// supervisor, mirroring every flag name of spec.md §6 plus the
// SPEC_FULL.md additions.
func Flags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "memavail", Value: "inf", Usage: "advertised available memory, or inf"},
		cli.StringFlag{Name: "cpuavail", Value: "inf", Usage: "advertised available cpu shares, or inf"},
		cli.StringFlag{Name: "timavail", Value: "inf", Usage: "advertised available time budget, or inf"},
		cli.IntFlag{Name: "timeout", Value: 180, Usage: "engine-idle timeout in seconds"},
		cli.IntFlag{Name: "verbose", Value: 4, Usage: "log verbosity 0 (all) .. 7 (fatal only)"},
		cli.IntFlag{Name: "number", Value: 1, Usage: "number of slave children to supervise"},

		cli.StringFlag{Name: "hostname", Value: "", Usage: "this host's advertised name"},
		cli.StringFlag{Name: "group", Value: "", Usage: "this host's group"},
		cli.StringFlag{Name: "matlab", Value: "", Usage: "the engine start command"},

		cli.StringFlag{Name: "allowhost", Value: "", Usage: "comma-separated host allowlist, empty = allow all"},
		cli.StringFlag{Name: "allowuser", Value: "", Usage: "comma-separated user allowlist, empty = allow all"},
		cli.StringFlag{Name: "allowgroup", Value: "", Usage: "comma-separated group allowlist, empty = allow all"},

		cli.BoolFlag{Name: "smartmem", Usage: "enable adaptive memavail sampling"},
		cli.BoolFlag{Name: "smartcpu", Usage: "enable adaptive cpuavail sampling"},
		cli.BoolFlag{Name: "smartshare", Usage: "enable adaptive share-policy sampling"},

		cli.IntFlag{Name: "port", Value: 0, Usage: "TCP intake port, 0 = auto-assign"},
		cli.StringFlag{Name: "socket", Value: "", Usage: "UDS intake path, empty = disabled"},

		cli.StringFlag{Name: "announce-addr", Value: "255.255.255.255:8423", Usage: "presence announce destination"},
		cli.StringFlag{Name: "discover-addr", Value: "0.0.0.0:8423", Usage: "presence discover bind address"},
		cli.IntFlag{Name: "announce-interval", Value: 1, Usage: "seconds between announces"},
		cli.IntFlag{Name: "sweep-interval", Value: 1, Usage: "seconds between peer-table sweeps"},
		cli.IntFlag{Name: "expiry", Value: 60, Usage: "seconds before an unseen peer is evicted"},
		cli.IntFlag{Name: "zombie-timeout", Value: 900, Usage: "seconds a host stays ZOMBIE after an engine-start failure"},

		cli.StringFlag{Name: "audit-driver", Value: "memstore", Usage: "job audit log driver [memstore, redis, leveldb]"},
		cli.StringFlag{Name: "audit-redis", Value: "127.0.0.1:6379", Usage: "redis address, required for audit-driver redis"},
		cli.StringFlag{Name: "audit-dbpath", Value: "audit.leveldb", Usage: "leveldb path, required for audit-driver leveldb"},

		cli.StringFlag{Name: "http-addr", Value: "", Usage: "status/metrics HTTP listen address, empty = disabled"},

		cli.StringFlag{Name: "policystate-path", Value: "", Usage: "ledisdb path for policy-state persistence, empty = disabled"},

		cli.StringFlag{Name: "config", Value: "", Usage: "YAML file describing N>1 child peer configs, overrides --number"},
	}
}

// FromContext builds a Config from a parsed cli.Context, matching the
// flags returned by Flags.
func FromContext(c *cli.Context) (Config, error) {
	memavail, err := resource(c.String("memavail"))
	if err != nil {
		return Config{}, fmt.Errorf("config: memavail: %w", err)
	}
	cpuavail, err := resource(c.String("cpuavail"))
	if err != nil {
		return Config{}, fmt.Errorf("config: cpuavail: %w", err)
	}
	timavail, err := resource(c.String("timavail"))
	if err != nil {
		return Config{}, fmt.Errorf("config: timavail: %w", err)
	}

	return Config{
		MemAvail: memavail,
		CPUAvail: cpuavail,
		TimAvail: timavail,
		Timeout:  time.Duration(c.Int("timeout")) * time.Second,
		Verbose:  c.Int("verbose"),
		Number:   c.Int("number"),

		Hostname: c.String("hostname"),
		Group:    c.String("group"),
		Matlab:   c.String("matlab"),

		AllowHost:  splitList(c.String("allowhost")),
		AllowUser:  splitList(c.String("allowuser")),
		AllowGroup: splitList(c.String("allowgroup")),

		SmartMem:   c.Bool("smartmem"),
		SmartCPU:   c.Bool("smartcpu"),
		SmartShare: c.Bool("smartshare"),

		Port:   uint16(c.Int("port")),
		Socket: c.String("socket"),

		AnnounceAddr:     c.String("announce-addr"),
		DiscoverAddr:     c.String("discover-addr"),
		AnnounceInterval: time.Duration(c.Int("announce-interval")) * time.Second,
		SweepInterval:    time.Duration(c.Int("sweep-interval")) * time.Second,
		Expiry:           time.Duration(c.Int("expiry")) * time.Second,
		ZombieTimeout:    time.Duration(c.Int("zombie-timeout")) * time.Second,

		AuditDriver: c.String("audit-driver"),
		AuditRedis:  c.String("audit-redis"),
		AuditDBPath: c.String("audit-dbpath"),

		HTTPAddr: c.String("http-addr"),

		PolicystatePath: c.String("policystate-path"),
	}, nil
}

// Validate applies the config-error-is-fatal-at-startup rule of
// spec.md §7: a hostname is mandatory, and supervision of N>1 without
// fork (i.e. without os/exec re-invocation, which this rewrite always
// has available) is otherwise the only source's platform restriction —
// lifted here per SPEC_FULL.md §4.6.
func (c Config) Validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("config: hostname is required")
	}
	if c.Number < 1 {
		return fmt.Errorf("config: number must be >= 1")
	}
	switch c.AuditDriver {
	case "memstore", "redis", "leveldb":
	default:
		return fmt.Errorf("config: unknown audit-driver %q", c.AuditDriver)
	}
	return nil
}

// ConfigPath returns the --config flag, the YAML supervisor file path.
// Empty means "build from the rest of the flags instead".
func ConfigPath(c *cli.Context) string { return c.String("config") }
