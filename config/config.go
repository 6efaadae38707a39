// Package config loads the daemon's runtime configuration, merging CLI
// flags (spf13/pflag) over a config file and environment (spf13/viper),
// matching the teacher's Viper-based configuration layering. No
// equivalent package ships in the retrieved teacher sources, so this
// one is grounded on nabbar-golib's config/ conventions instead (see
// DESIGN.md).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved set of startup parameters for the
// daemon supervisor (spec.md §6 CLI table).
type Config struct {
	Home            string        `mapstructure:"home"`
	LogFile         string        `mapstructure:"log_file"`
	OutFile         string        `mapstructure:"out_file"`
	InstanceName    string        `mapstructure:"instance_name"`
	SchedulerPort   int           `mapstructure:"scheduler_port"`
	RMPort          int           `mapstructure:"rm_port"`
	Foreground      bool          `mapstructure:"foreground"`
	DisableRestart  bool          `mapstructure:"disable_restart"`
	ClientsFile     string        `mapstructure:"clients_file"`
	WorkerThreads   int           `mapstructure:"worker_threads"`
	LockPages       bool          `mapstructure:"lock_pages"`
	CycleAlarm      time.Duration `mapstructure:"cycle_alarm"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	VerifyAttrs     bool          `mapstructure:"verify_attrs"`
	PrimaryHost     string        `mapstructure:"primary_host"`
	SecondaryHost   string        `mapstructure:"secondary_host"`
	ServerEndpoints []string      `mapstructure:"server_endpoints"`
	AmqpURI         string        `mapstructure:"amqp_uri"`
	StatusAddr      string        `mapstructure:"status_addr"`
}

const (
	DefaultSchedulerPort = 15004
	DefaultRMPort        = 15003
	DefaultWorkerThreads = 1
	DefaultIdleTimeout   = 10 * time.Minute
	DefaultStatusAddr    = ":8927"
)

// PrivDir returns the instance's private directory, <home>/sched_priv
// or <home>/sched_priv_<name> for a named instance (spec.md §4.5 step 1).
func (c *Config) PrivDir() string {
	if c.InstanceName == "" || c.InstanceName == "default" {
		return filepath.Join(c.Home, "sched_priv")
	}
	return filepath.Join(c.Home, fmt.Sprintf("sched_priv_%s", c.InstanceName))
}

// Load parses CLI flags over defaults, an optional config file, and the
// environment, mirroring the teacher's Viper-first config bootstrap.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHED")
	v.AutomaticEnv()

	v.SetDefault("instance_name", "default")
	v.SetDefault("scheduler_port", DefaultSchedulerPort)
	v.SetDefault("rm_port", DefaultRMPort)
	v.SetDefault("worker_threads", DefaultWorkerThreads)
	v.SetDefault("idle_timeout", DefaultIdleTimeout)
	v.SetDefault("status_addr", DefaultStatusAddr)

	if home, err := os.UserHomeDir(); err == nil {
		v.SetDefault("home", home)
	}

	flags := pflag.NewFlagSet("sched-ctl", pflag.ContinueOnError)
	flags.String("home", "", "override home directory (-d)")
	flags.String("log-file", "", "log file path (-L)")
	flags.String("out-file", "", "stdout/stderr redirect path (-p)")
	flags.String("instance-name", "default", "instance name (-I)")
	flags.Int("scheduler-port", DefaultSchedulerPort, "scheduler service port (-S)")
	flags.Int("rm-port", DefaultRMPort, "resource-monitor port (-R)")
	flags.Bool("foreground", false, "run in foreground (-N)")
	flags.Bool("disable-restart", false, "disable segv-restart (-n)")
	flags.String("clients-file", "", "allow-list config file (-c)")
	flags.Int("worker-threads", DefaultWorkerThreads, "worker-thread count (-t)")
	flags.Bool("lock-pages", false, "lock pages in memory if supported (-l)")
	flags.Duration("cycle-alarm", 0, "deprecated: cycle alarm (-a)")
	flags.String("config-file", "", "path to a YAML/TOML config file")

	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if cf, _ := flags.GetString("config-file"); cf != "" {
		v.SetConfigFile(cf)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file %s: %w", cf, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.WorkerThreads < 1 {
		cfg.WorkerThreads = 1
	}
	return &cfg, nil
}
