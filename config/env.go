package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given files into the environment
// without overriding values that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s=%q: %w", key, raw, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s=%q: %w", key, raw, err)
	}
	return value, true, nil
}

// ApplyEnv overlays FIGSCRAPE_* variables onto cfg.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("FIGSCRAPE_AMIAMI_URL"); ok {
		c.AmiAmi.BaseURL = v
	}
	if v, ok := EnvString("FIGSCRAPE_AMIAMI_KEY"); ok {
		c.AmiAmi.APIKey = v
	}
	if v, ok := EnvString("FIGSCRAPE_HLJ_URL"); ok {
		c.HLJ.BaseURL = v
	}
	if v, ok := EnvString("FIGSCRAPE_STORE"); ok {
		c.StoreBackend = strings.ToLower(v)
	}
	if v, ok := EnvString("FIGSCRAPE_STORE_DSN"); ok {
		c.StoreDSN = v
	}
	if v, ok := EnvString("FIGSCRAPE_HTTP_ADDR"); ok {
		c.HTTPAddr = v
	}
	if v, ok := EnvString("FIGSCRAPE_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("FIGSCRAPE_SCHEDULE"); ok {
		c.ScheduleFile = v
	}
	if v, ok, err := EnvInt("FIGSCRAPE_PAGES"); err != nil {
		return err
	} else if ok {
		c.MaxPages = v
	}
	if v, ok, err := EnvInt("FIGSCRAPE_PARALLEL"); err != nil {
		return err
	} else if ok {
		c.Parallelism = v
	}
	if v, ok, err := EnvDuration("FIGSCRAPE_RETRY_BACKOFF"); err != nil {
		return err
	} else if ok {
		c.RetryBackoff = v
	}
	return nil
}
