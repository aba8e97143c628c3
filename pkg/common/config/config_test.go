package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABANK_WORKERS", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	assert.Equal(t, 24, cfg.Workers)
	assert.Equal(t, 1989, cfg.MinBirthYear)
	assert.Equal(t, time.Now().Year(), cfg.MaxBirthYear)
	assert.Equal(t, time.Date(2007, time.January, 1, 0, 0, 0, 0, time.UTC), cfg.AcquisitionFloor)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABANK_MAPPING_TABLES", "/data/psc2psc.txt, /data/psc2psc_sb.txt")
	t.Setenv("DATABANK_WORKERS", "4")
	t.Setenv("DATABANK_ACQUISITION_FLOOR", "2008-06-01")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg := Load()
	assert.Equal(t, []string{"/data/psc2psc.txt", "/data/psc2psc_sb.txt"}, cfg.MappingTables)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 2008, cfg.AcquisitionFloor.Year())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
}
