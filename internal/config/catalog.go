package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RewardType is the closed set of reward kinds a referral can grant.
type RewardType string

const (
	RewardTypeCredits RewardType = "credits"
	RewardTypeTime    RewardType = "time"
)

// PlanConfig binds an internal plan id to the billing provider's price id and
// the per-feature quota value applied on every activation.
type PlanConfig struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	PriceID      string `mapstructure:"price_id"`
	FeatureLimit int64  `mapstructure:"feature_limit"`
}

// TopUpConfig describes the one-time top-up product.
type TopUpConfig struct {
	PriceID string `mapstructure:"price_id"`
	Grant   int64  `mapstructure:"grant"`
}

// RewardRule describes one side of a referral reward.
type RewardRule struct {
	Type     RewardType    `mapstructure:"type"`
	Credits  int64         `mapstructure:"credits"`
	Duration time.Duration `mapstructure:"duration"`
}

type RewardTable struct {
	Inviter RewardRule `mapstructure:"inviter"`
	Invitee RewardRule `mapstructure:"invitee"`
}

// CatalogConfig is the static entitlement catalog: plans, top-up product and
// the referral reward table. Not mutated at runtime.
type CatalogConfig struct {
	Plans   []PlanConfig `mapstructure:"plans"`
	TopUp   TopUpConfig  `mapstructure:"topup"`
	Rewards RewardTable  `mapstructure:"rewards"`
}

func DefaultCatalog() CatalogConfig {
	return CatalogConfig{
		Plans: []PlanConfig{
			{ID: "premium_monthly", Name: "Premium Monthly", PriceID: "price_premium_monthly", FeatureLimit: 5},
			{ID: "premium_yearly", Name: "Premium Yearly", PriceID: "price_premium_yearly", FeatureLimit: 5},
		},
		TopUp: TopUpConfig{PriceID: "price_topup_single", Grant: 1},
		Rewards: RewardTable{
			Inviter: RewardRule{Type: RewardTypeCredits, Credits: 3},
			Invitee: RewardRule{Type: RewardTypeCredits, Credits: 6},
		},
	}
}

// PlanByID resolves a plan by its internal id.
func (c CatalogConfig) PlanByID(id string) (PlanConfig, bool) {
	for _, plan := range c.Plans {
		if plan.ID == id {
			return plan, true
		}
	}
	return PlanConfig{}, false
}

// PlanByPriceID resolves a plan by the billing provider's price id.
func (c CatalogConfig) PlanByPriceID(priceID string) (PlanConfig, bool) {
	for _, plan := range c.Plans {
		if plan.PriceID == priceID {
			return plan, true
		}
	}
	return PlanConfig{}, false
}

// CatalogHolder hands out the current catalog and hot-reloads it when the
// config file changes on disk.
type CatalogHolder struct {
	current atomic.Value // holds CatalogConfig
}

func NewCatalogHolder() (*CatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/entitled/config")
	v.AddConfigPath("/etc/entitled")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENTITLED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultCatalog()
		v.SetDefault("catalog.plans", defaults.Plans)
		v.SetDefault("catalog.topup", defaults.TopUp)
		v.SetDefault("catalog.rewards", defaults.Rewards)
	}

	var cfg CatalogConfig
	if err := v.UnmarshalKey("catalog", &cfg); err != nil {
		return nil, err
	}
	if err := validateCatalog(cfg); err != nil {
		return nil, err
	}

	holder := &CatalogHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CatalogConfig
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Printf("[catalog] reload failed: %v", err)
			return
		}
		if err := validateCatalog(updated); err != nil {
			log.Printf("[catalog] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[catalog] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticCatalogHolder wraps a fixed catalog, for tests.
func NewStaticCatalogHolder(cfg CatalogConfig) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *CatalogHolder) Get() CatalogConfig {
	return h.current.Load().(CatalogConfig)
}

func validateCatalog(cfg CatalogConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("catalog.plans cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Plans))
	for _, plan := range cfg.Plans {
		if plan.ID == "" || plan.PriceID == "" {
			return errors.New("catalog plan requires id and price_id")
		}
		if plan.FeatureLimit <= 0 {
			return errors.New("catalog plan feature_limit must be positive")
		}
		if _, dup := seen[plan.PriceID]; dup {
			return errors.New("catalog plans must have distinct price ids")
		}
		seen[plan.PriceID] = struct{}{}
	}
	if cfg.TopUp.PriceID == "" || cfg.TopUp.Grant <= 0 {
		return errors.New("catalog topup requires price_id and a positive grant")
	}
	for _, rule := range []RewardRule{cfg.Rewards.Inviter, cfg.Rewards.Invitee} {
		switch rule.Type {
		case RewardTypeCredits:
			if rule.Credits <= 0 {
				return errors.New("credits reward requires a positive amount")
			}
		case RewardTypeTime:
			if rule.Duration <= 0 {
				return errors.New("time reward requires a positive duration")
			}
		default:
			return errors.New("unknown reward type: " + string(rule.Type))
		}
	}
	return nil
}
