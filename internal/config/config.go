package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxOSRMRetries matches the cap of the OSRM client.
const maxOSRMRetries = 3

// Config is the service configuration resolved from the environment (and .env, when loaded).
type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string

	OSRMBaseURL string
	OSRMProfile string
	// OSRMTimeout bounds one edge lookup including its retries.
	OSRMTimeout      time.Duration
	OSRMRetries      int
	FallbackSpeedMPS float64

	ShiftLimit      time.Duration
	VehicleCount    int
	VehicleCapacity int
	MergeMaxPasses  int

	SolverBinary  string
	SolverRuntime time.Duration

	FridgeMaxC float64

	RedisURL        string
	KafkaBrokers    []string
	KafkaAlertTopic string

	SeedPath string
	// DefaultHospitalID is used by the hospital routing endpoint when no hospital_id is given.
	DefaultHospitalID string
}

// Load reads the configuration. Missing keys fall back to defaults;
// malformed values are reported as errors.
func Load() (Config, error) {
	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	cfg := Config{
		Port:            Get("PORT", "8080"),
		DatabaseURL:     Get("DATABASE_URL", ""),
		LogLevel:        Get("LOG_LEVEL", "info"),
		OSRMBaseURL:     strings.TrimRight(Get("OSRM_BASE_URL", "http://osrm:5000"), "/"),
		OSRMProfile:     Get("OSRM_PROFILE", "driving"),
		SolverBinary:    Get("SOLVER_BINARY", ""),
		RedisURL:        Get("REDIS_URL", ""),
		KafkaAlertTopic: Get("KAFKA_ALERT_TOPIC", "stability-alerts"),
		SeedPath:        Get("SEED_PATH", "data/seeds/med_delivery.json"),

		DefaultHospitalID: Get("DEFAULT_HOSPITAL_ID", ""),
	}

	var err error
	cfg.OSRMTimeout, err = GetDuration("OSRM_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.OSRMRetries, err = GetInt("OSRM_RETRIES", 1)
	collect(err)
	cfg.FallbackSpeedMPS, err = GetFloat("FALLBACK_SPEED_MPS", 16.67)
	collect(err)
	cfg.ShiftLimit, err = GetDuration("SHIFT_LIMIT", 8*time.Hour)
	collect(err)
	cfg.VehicleCount, err = GetInt("VEHICLE_COUNT", 20)
	collect(err)
	cfg.VehicleCapacity, err = GetInt("VEHICLE_CAPACITY", 15)
	collect(err)
	cfg.MergeMaxPasses, err = GetInt("MERGE_MAX_PASSES", 64)
	collect(err)
	cfg.SolverRuntime, err = GetDuration("SOLVER_RUNTIME", 20*time.Second)
	collect(err)
	cfg.FridgeMaxC, err = GetFloat("FRIDGE_MAX_C", 8.0)
	collect(err)

	if brokers := strings.TrimSpace(Get("KAFKA_BROKERS", "")); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.OSRMRetries < 0 || cfg.OSRMRetries > maxOSRMRetries {
		errs = append(errs, fmt.Sprintf("OSRM_RETRIES must be between 0 and %d", maxOSRMRetries))
	}
	if cfg.FallbackSpeedMPS <= 0 {
		errs = append(errs, "FALLBACK_SPEED_MPS must be > 0")
	}
	if cfg.VehicleCount < 1 || cfg.VehicleCapacity < 1 {
		errs = append(errs, "VEHICLE_COUNT and VEHICLE_CAPACITY must be >= 1")
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("load config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Get returns the trimmed environment value for key, or fallback when unset.
func Get(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func GetInt(key string, fallback int) (int, error) {
	v := Get(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func GetFloat(key string, fallback float64) (float64, error) {
	v := Get(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

func GetBool(key string, fallback bool) (bool, error) {
	v := Get(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

// GetDuration accepts Go durations ("30s", "8h") or a bare number of seconds.
func GetDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := Get(key, "")
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
