package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlChild is the on-disk shape of one supervised child in the N>1
// config file. Keys match the CLI flags of Flags(), with the hyphen of
// multi-word flags written as an underscore (announce-addr becomes
// announce_addr).
type yamlChild struct {
	MemAvail string `yaml:"memavail"`
	CPUAvail string `yaml:"cpuavail"`
	TimAvail string `yaml:"timavail"`
	Timeout  int    `yaml:"timeout"`
	Verbose  int    `yaml:"verbose"`

	Hostname string `yaml:"hostname"`
	Group    string `yaml:"group"`
	Matlab   string `yaml:"matlab"`

	AllowHost  string `yaml:"allowhost"`
	AllowUser  string `yaml:"allowuser"`
	AllowGroup string `yaml:"allowgroup"`

	SmartMem   bool `yaml:"smartmem"`
	SmartCPU   bool `yaml:"smartcpu"`
	SmartShare bool `yaml:"smartshare"`

	Port   int    `yaml:"port"`
	Socket string `yaml:"socket"`

	AnnounceAddr     string `yaml:"announce_addr"`
	DiscoverAddr     string `yaml:"discover_addr"`
	AnnounceInterval int    `yaml:"announce_interval"`
	SweepInterval    int    `yaml:"sweep_interval"`
	Expiry           int    `yaml:"expiry"`
	ZombieTimeout    int    `yaml:"zombie_timeout"`

	AuditDriver string `yaml:"audit_driver"`
	AuditRedis  string `yaml:"audit_redis"`
	AuditDBPath string `yaml:"audit_dbpath"`

	HTTPAddr string `yaml:"http_addr"`

	PolicystatePath string `yaml:"policystate_path"`
}

// yamlDocument is the top-level config file shape: one entry per
// supervised child, read only when --config names the file. A
// --number>1 invocation without --config is expanded from the flags
// instead (cmd/peerslave's expand).
type yamlDocument struct {
	Children []yamlChild `yaml:"children"`
}

// LoadFile reads a supervisor config file describing N>1 peer configs.
func LoadFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(doc.Children) == 0 {
		return nil, fmt.Errorf("config: %s declares no children", path)
	}

	out := make([]Config, 0, len(doc.Children))
	for i, ch := range doc.Children {
		cfg, err := fromYAMLChild(ch)
		if err != nil {
			return nil, fmt.Errorf("config: child %d: %w", i, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config: child %d: %w", i, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func secondsToDuration(n int) time.Duration { return time.Duration(n) * time.Second }

func fromYAMLChild(ch yamlChild) (Config, error) {
	memavail, err := resource(ch.MemAvail)
	if err != nil {
		return Config{}, fmt.Errorf("memavail: %w", err)
	}
	cpuavail, err := resource(ch.CPUAvail)
	if err != nil {
		return Config{}, fmt.Errorf("cpuavail: %w", err)
	}
	timavail, err := resource(ch.TimAvail)
	if err != nil {
		return Config{}, fmt.Errorf("timavail: %w", err)
	}

	verbose := ch.Verbose
	if verbose == 0 {
		verbose = 4
	}
	auditDriver := ch.AuditDriver
	if auditDriver == "" {
		auditDriver = "memstore"
	}

	return Config{
		MemAvail: memavail,
		CPUAvail: cpuavail,
		TimAvail: timavail,
		Timeout:  secondsToDuration(ch.Timeout),
		Verbose:  verbose,
		Number:   1,

		Hostname: ch.Hostname,
		Group:    ch.Group,
		Matlab:   ch.Matlab,

		AllowHost:  splitList(ch.AllowHost),
		AllowUser:  splitList(ch.AllowUser),
		AllowGroup: splitList(ch.AllowGroup),

		SmartMem:   ch.SmartMem,
		SmartCPU:   ch.SmartCPU,
		SmartShare: ch.SmartShare,

		Port:   uint16(ch.Port),
		Socket: ch.Socket,

		AnnounceAddr:     orDefault(ch.AnnounceAddr, "255.255.255.255:8423"),
		DiscoverAddr:     orDefault(ch.DiscoverAddr, "0.0.0.0:8423"),
		AnnounceInterval: secondsToDuration(orDefaultInt(ch.AnnounceInterval, 1)),
		SweepInterval:    secondsToDuration(orDefaultInt(ch.SweepInterval, 1)),
		Expiry:           secondsToDuration(orDefaultInt(ch.Expiry, 60)),
		ZombieTimeout:    secondsToDuration(orDefaultInt(ch.ZombieTimeout, 900)),

		AuditDriver: auditDriver,
		AuditRedis:  ch.AuditRedis,
		AuditDBPath: ch.AuditDBPath,

		HTTPAddr: ch.HTTPAddr,

		PolicystatePath: ch.PolicystatePath,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(n, def int) int {
	if n == 0 {
		return def
	}
	return n
}
