package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Reference tables
	MappingTables   []string
	BirthDateTables []string
	MinBirthYear    int
	MaxBirthYear    int

	// Transform
	AcquisitionFloor time.Time
	RulesPath        string
	LeakRulesPath    string

	// Pool
	Workers int
	TempDir string

	// Report store
	ReportDriver     string
	ReportDSN        string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Kafka
	KafkaBrokers      []string
	KafkaGroupID      string
	KafkaResultsTopic string
	KafkaWorkTopic    string

	MetricsTextfile string
}

func Load() *Config {
	return &Config{
		MappingTables:   getStringSliceEnv("DATABANK_MAPPING_TABLES", nil),
		BirthDateTables: getStringSliceEnv("DATABANK_DOB_TABLES", nil),
		MinBirthYear:    getIntEnv("DATABANK_MIN_BIRTH_YEAR", 1989),
		MaxBirthYear:    getIntEnv("DATABANK_MAX_BIRTH_YEAR", time.Now().Year()),

		AcquisitionFloor: getDate("DATABANK_ACQUISITION_FLOOR", time.Date(2007, time.January, 1, 0, 0, 0, 0, time.UTC)),
		RulesPath:        getEnv("DATABANK_RULES_PATH", ""),
		LeakRulesPath:    getEnv("DATABANK_LEAK_RULES", ""),

		Workers: getIntEnv("DATABANK_WORKERS", 24),
		TempDir: getEnv("DATABANK_TMPDIR", os.TempDir()),

		ReportDriver:     getEnv("REPORT_DRIVER", ""),
		ReportDSN:        getEnv("REPORT_DSN", ""),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "databank"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "databank"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "databank"),
		KafkaResultsTopic: getEnv("KAFKA_RESULTS_TOPIC", "databank-results"),
		KafkaWorkTopic:    getEnv("KAFKA_WORK_TOPIC", "databank-checks"),

		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
	}
}

// KafkaEnabled reports whether result events should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDate(key string, defaultValue time.Time) time.Time {
	if value := os.Getenv(key); value != "" {
		if t, err := time.Parse("2006-01-02", value); err == nil {
			return t
		}
	}
	return defaultValue
}
