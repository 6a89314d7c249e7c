/*
Copyright 2024 ClearHold Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"CLEARHOLD_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CLEARHOLD_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"CLEARHOLD_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"CLEARHOLD_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"CLEARHOLD_REDIS_DNS"`
}

// ProcessorConfig points at the external payment processor's API. The engine
// only ever talks to it through the adapter interface.
type ProcessorConfig struct {
	BaseURL        string `json:"base_url" envconfig:"CLEARHOLD_PROCESSOR_BASE_URL"`
	APIKey         string `json:"api_key" envconfig:"CLEARHOLD_PROCESSOR_API_KEY"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"CLEARHOLD_PROCESSOR_TIMEOUT_SECONDS"`
	MaxRetries     int    `json:"max_retries" envconfig:"CLEARHOLD_PROCESSOR_MAX_RETRIES"`
}

// PayoutsConfig carries every tunable of the hold/eligibility/payout rules.
type PayoutsConfig struct {
	// Enabled is the global kill switch. When false no payout is ever
	// scheduled or executed, regardless of seller state.
	Enabled             bool             `json:"enabled" envconfig:"CLEARHOLD_PAYOUTS_ENABLED"`
	SupportedCurrencies []string         `json:"supported_currencies" envconfig:"CLEARHOLD_PAYOUTS_SUPPORTED_CURRENCIES"`
	MinThresholds       map[string]int64 `json:"min_thresholds"`
	CooldownHours       int              `json:"cooldown_hours" envconfig:"CLEARHOLD_PAYOUTS_COOLDOWN_HOURS"`
	FeeRate             float64          `json:"fee_rate" envconfig:"CLEARHOLD_PAYOUTS_FEE_RATE"`

	// Hold windows. Tier values are hours after the hold anchor; the
	// high-value floor applies to orders at or above HighValueThreshold
	// minor units.
	TierAHoldHours     int   `json:"tier_a_hold_hours" envconfig:"CLEARHOLD_PAYOUTS_TIER_A_HOLD_HOURS"`
	TierBHoldHours     int   `json:"tier_b_hold_hours" envconfig:"CLEARHOLD_PAYOUTS_TIER_B_HOLD_HOURS"`
	TierCHoldHours     int   `json:"tier_c_hold_hours" envconfig:"CLEARHOLD_PAYOUTS_TIER_C_HOLD_HOURS"`
	HighValueThreshold int64 `json:"high_value_threshold" envconfig:"CLEARHOLD_PAYOUTS_HIGH_VALUE_THRESHOLD"`
	HighValueHoldHours int   `json:"high_value_hold_hours" envconfig:"CLEARHOLD_PAYOUTS_HIGH_VALUE_HOLD_HOURS"`
}

type ReconciliationConfig struct {
	BalanceTolerance      int64 `json:"balance_tolerance" envconfig:"CLEARHOLD_RECON_BALANCE_TOLERANCE"`
	DefaultTimeRangeHours int   `json:"default_time_range_hours" envconfig:"CLEARHOLD_RECON_DEFAULT_TIME_RANGE_HOURS"`
	DefaultBatchSize      int   `json:"default_batch_size" envconfig:"CLEARHOLD_RECON_DEFAULT_BATCH_SIZE"`
	WebhookMaxAttempts    int   `json:"webhook_max_attempts" envconfig:"CLEARHOLD_RECON_WEBHOOK_MAX_ATTEMPTS"`
	WebhookRetryMinutes   int   `json:"webhook_retry_minutes" envconfig:"CLEARHOLD_RECON_WEBHOOK_RETRY_MINUTES"`
}

type QueueConfig struct {
	PayoutQueue         string `json:"payout_queue" envconfig:"CLEARHOLD_QUEUE_PAYOUT"`
	SchedulerQueue      string `json:"scheduler_queue" envconfig:"CLEARHOLD_QUEUE_SCHEDULER"`
	ReconciliationQueue string `json:"reconciliation_queue" envconfig:"CLEARHOLD_QUEUE_RECONCILIATION"`
	WebhookQueue        string `json:"webhook_queue" envconfig:"CLEARHOLD_QUEUE_WEBHOOK"`
	MaxRetryAttempts    int    `json:"max_retry_attempts" envconfig:"CLEARHOLD_QUEUE_MAX_RETRY_ATTEMPTS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"CLEARHOLD_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"CLEARHOLD_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"CLEARHOLD_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName    string               `json:"project_name" envconfig:"CLEARHOLD_PROJECT_NAME"`
	Server         ServerConfig         `json:"server"`
	DataSource     DataSourceConfig     `json:"data_source"`
	Redis          RedisConfig          `json:"redis"`
	Processor      ProcessorConfig      `json:"processor"`
	Payouts        PayoutsConfig        `json:"payouts"`
	Reconciliation ReconciliationConfig `json:"reconciliation"`
	Queue          QueueConfig          `json:"queue"`
	Notification   Notification         `json:"notification"`
	RateLimit      RateLimitConfig      `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("clearhold", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called clearhold.json with your config ❌")
	}
	return c, nil
}

// MockConfig stores a configuration with test defaults applied. Used by
// package tests to avoid touching the filesystem or environment.
func MockConfig(cnf *Configuration) {
	if err := cnf.validateAndAddDefaults(); err != nil {
		log.Println(err)
	}
	ConfigStore.Store(cnf)
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "ClearHold"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
	}

	if len(cnf.Payouts.SupportedCurrencies) == 0 {
		cnf.Payouts.SupportedCurrencies = []string{"USD"}
	}
	if cnf.Payouts.MinThresholds == nil {
		cnf.Payouts.MinThresholds = map[string]int64{}
	}
	for _, currency := range cnf.Payouts.SupportedCurrencies {
		if _, ok := cnf.Payouts.MinThresholds[currency]; !ok {
			cnf.Payouts.MinThresholds[currency] = 100
		}
	}
	if cnf.Payouts.CooldownHours == 0 {
		cnf.Payouts.CooldownHours = 24
	}
	if cnf.Payouts.TierAHoldHours == 0 {
		cnf.Payouts.TierAHoldHours = 24
	}
	if cnf.Payouts.TierBHoldHours == 0 {
		cnf.Payouts.TierBHoldHours = 3 * 24
	}
	if cnf.Payouts.TierCHoldHours == 0 {
		cnf.Payouts.TierCHoldHours = 14 * 24
	}
	if cnf.Payouts.HighValueThreshold == 0 {
		cnf.Payouts.HighValueThreshold = 50000
	}
	if cnf.Payouts.HighValueHoldHours == 0 {
		cnf.Payouts.HighValueHoldHours = 7 * 24
	}

	if cnf.Reconciliation.BalanceTolerance == 0 {
		cnf.Reconciliation.BalanceTolerance = 100
	}
	if cnf.Reconciliation.DefaultTimeRangeHours == 0 {
		cnf.Reconciliation.DefaultTimeRangeHours = 24
	}
	if cnf.Reconciliation.DefaultBatchSize == 0 {
		cnf.Reconciliation.DefaultBatchSize = 100
	}
	if cnf.Reconciliation.WebhookMaxAttempts == 0 {
		cnf.Reconciliation.WebhookMaxAttempts = 5
	}
	if cnf.Reconciliation.WebhookRetryMinutes == 0 {
		cnf.Reconciliation.WebhookRetryMinutes = 5
	}

	if cnf.Processor.TimeoutSeconds == 0 {
		cnf.Processor.TimeoutSeconds = 30
	}
	if cnf.Processor.MaxRetries == 0 {
		cnf.Processor.MaxRetries = 3
	}

	if cnf.Queue.PayoutQueue == "" {
		cnf.Queue.PayoutQueue = "new:payout"
	}
	if cnf.Queue.SchedulerQueue == "" {
		cnf.Queue.SchedulerQueue = "new:scheduler"
	}
	if cnf.Queue.ReconciliationQueue == "" {
		cnf.Queue.ReconciliationQueue = "new:reconciliation"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.MaxRetryAttempts == 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// CooldownDuration returns the failure cooldown as a duration.
func (cnf *Configuration) CooldownDuration() time.Duration {
	return time.Duration(cnf.Payouts.CooldownHours) * time.Hour
}

// CurrencySupported reports whether the engine moves money in currency.
func (cnf *Configuration) CurrencySupported(currency string) bool {
	for _, c := range cnf.Payouts.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// MinThreshold returns the per-currency minimum payout threshold in minor
// units, defaulting to 100 when the currency has no explicit entry.
func (cnf *Configuration) MinThreshold(currency string) int64 {
	if v, ok := cnf.Payouts.MinThresholds[currency]; ok {
		return v
	}
	return 100
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
