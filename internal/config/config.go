package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ReportMode string

const (
	ReportModeLog  ReportMode = "log"
	ReportModeGRPC ReportMode = "grpc"
)

// Config carries every knob shared by the two daemons. The cycle
// interval itself is the single positional CLI argument and is parsed
// separately with ParseCycleArg.
type Config struct {
	Hostname   string
	LibvirtURI string

	// CPU loop thresholds, in utilization percent.
	CPUHighThreshold float64
	CPUTargetUtil    float64
	CPULowThreshold  float64

	// Memory loop thresholds, in percent of available memory.
	VMLowPercent      float64
	VMTargetPercent   float64
	VMHighPercent     float64
	HostLowPercent    float64
	HostTargetPercent float64

	// Balloon driver refresh period pushed to each domain at startup.
	MemStatsPeriod time.Duration

	ConnRetryWait   time.Duration
	ConnMaxJitter   time.Duration
	ConnAttempts    int
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration

	ReportMode          ReportMode
	ReportGRPCAddr      string
	ReportToken         string
	GRPCCPUReportMethod string
	GRPCMemReportMethod string

	TLSEnabled    bool
	TLSSkipVerify bool
	TLSCAPath     string
	TLSCertPath   string
	TLSKeyPath    string

	LogLevel string
}

func Load() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		Hostname:   hostname,
		LibvirtURI: env("HELIOS_LIBVIRT_URI", "qemu+unix:///system"),

		CPUHighThreshold: envFloat("HELIOS_PCPU_HIGH_THRESHOLD", 90),
		CPUTargetUtil:    envFloat("HELIOS_PCPU_TARGET_UTIL", 80),
		CPULowThreshold:  envFloat("HELIOS_PCPU_LOW_THRESHOLD", 70),

		VMLowPercent:      envFloat("HELIOS_VM_AVAIL_LOW_PERCENT", 25),
		VMTargetPercent:   envFloat("HELIOS_VM_AVAIL_TARGET_PERCENT", 30),
		VMHighPercent:     envFloat("HELIOS_VM_AVAIL_HIGH_PERCENT", 33),
		HostLowPercent:    envFloat("HELIOS_HOST_AVAIL_LOW_PERCENT", 10),
		HostTargetPercent: envFloat("HELIOS_HOST_AVAIL_TARGET_PERCENT", 15),

		MemStatsPeriod: envDuration("HELIOS_MEM_STATS_PERIOD", time.Second),

		ConnRetryWait:   envDuration("HELIOS_CONN_RETRY_WAIT", 3*time.Second),
		ConnMaxJitter:   envDuration("HELIOS_CONN_MAX_JITTER", 900*time.Millisecond),
		ConnAttempts:    envInt("HELIOS_CONN_ATTEMPTS", 3),
		HealthInterval:  envDuration("HELIOS_HEALTH_INTERVAL", 30*time.Second),
		ShutdownTimeout: envDuration("HELIOS_SHUTDOWN_TIMEOUT", 20*time.Second),

		ReportMode:          ReportMode(strings.ToLower(env("HELIOS_REPORT_MODE", string(ReportModeLog)))),
		ReportGRPCAddr:      env("HELIOS_REPORT_GRPC_ADDR", "127.0.0.1:3001"),
		ReportToken:         env("HELIOS_REPORT_TOKEN", ""),
		GRPCCPUReportMethod: env("HELIOS_GRPC_CPU_REPORT_METHOD", "/helios.balancer.v1.ReportService/StreamCPUCycles"),
		GRPCMemReportMethod: env("HELIOS_GRPC_MEM_REPORT_METHOD", "/helios.balancer.v1.ReportService/StreamMemoryCycles"),

		TLSEnabled:    envBool("HELIOS_TLS_ENABLED", false),
		TLSSkipVerify: envBool("HELIOS_TLS_SKIP_VERIFY", false),
		TLSCAPath:     env("HELIOS_TLS_CA_PATH", ""),
		TLSCertPath:   env("HELIOS_TLS_CERT_PATH", ""),
		TLSKeyPath:    env("HELIOS_TLS_KEY_PATH", ""),

		LogLevel: strings.ToLower(env("HELIOS_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.LibvirtURI == "" {
		return errors.New("HELIOS_LIBVIRT_URI is required")
	}
	if !(c.CPULowThreshold < c.CPUTargetUtil && c.CPUTargetUtil < c.CPUHighThreshold) {
		return fmt.Errorf("pcpu thresholds must satisfy low < target < high, got %v/%v/%v",
			c.CPULowThreshold, c.CPUTargetUtil, c.CPUHighThreshold)
	}
	if !(c.VMLowPercent < c.VMTargetPercent && c.VMTargetPercent < c.VMHighPercent) {
		return fmt.Errorf("vm memory thresholds must satisfy low < target < high, got %v/%v/%v",
			c.VMLowPercent, c.VMTargetPercent, c.VMHighPercent)
	}
	if c.HostLowPercent >= c.HostTargetPercent {
		return fmt.Errorf("host memory thresholds must satisfy low < target, got %v/%v",
			c.HostLowPercent, c.HostTargetPercent)
	}
	if c.MemStatsPeriod < time.Second {
		return errors.New("HELIOS_MEM_STATS_PERIOD must be at least 1s")
	}
	if c.ConnAttempts <= 0 {
		return errors.New("HELIOS_CONN_ATTEMPTS must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("HELIOS_SHUTDOWN_TIMEOUT must be > 0")
	}
	switch c.ReportMode {
	case ReportModeLog, ReportModeGRPC:
	default:
		return fmt.Errorf("unsupported report mode %q", c.ReportMode)
	}
	if c.ReportMode == ReportModeGRPC {
		if c.ReportGRPCAddr == "" {
			return errors.New("HELIOS_REPORT_GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCCPUReportMethod) == "" {
			return errors.New("HELIOS_GRPC_CPU_REPORT_METHOD is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCMemReportMethod) == "" {
			return errors.New("HELIOS_GRPC_MEM_REPORT_METHOD is required for grpc mode")
		}
	}
	return nil
}

// ParseCycleArg parses the single positional argument: the cycle
// interval in whole seconds, > 0.
func ParseCycleArg(args []string) (time.Duration, error) {
	if len(args) != 1 {
		return 0, errors.New("expected exactly one argument")
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid time interval %q", args[0])
	}
	return time.Duration(seconds) * time.Second, nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
