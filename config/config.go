package config

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"attribution/cache"
	"attribution/model"
	"attribution/simulator"

	"github.com/evalphobia/logrus_sentry"
	"github.com/imdario/mergo"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	DEVELOPMENT = "development"
	// EnvPrefix prefixes every environment variable overriding a flag.
	EnvPrefix = "ATTRIBUTION"
)

type Configuration struct {
	Env                  string  `envconfig:"ENV"`
	Port                 int     `envconfig:"PORT"`
	ChannelsFile         string  `envconfig:"CHANNELS_FILE"`
	ChannelWeights       string  `envconfig:"CHANNEL_WEIGHTS"`
	ScenarioMixFile      string  `envconfig:"SCENARIO_MIX_FILE"`
	MaxTouches           int     `envconfig:"MAX_TOUCHES"`
	WindowPolicy         string  `envconfig:"WINDOW_POLICY"`
	DefaultChannelWeight float64 `envconfig:"DEFAULT_CHANNEL_WEIGHT"`
	SimulationCacheSize  int     `envconfig:"SIMULATION_CACHE_SIZE"`
	MaxSimulationCount   int     `envconfig:"MAX_SIMULATION_COUNT"`
	GCPProjectID         string  `envconfig:"GCP_PROJECT_ID"`
	GCPProjectLocation   string  `envconfig:"GCP_PROJECT_LOCATION"`
	SentryDSN            string  `envconfig:"SENTRY_DSN"`
}

// Services holds the shared state handed to every request handler.
type Services struct {
	// Registry is the only mutable state shared between requests.
	Registry           *model.ChannelRegistry
	JourneyCache       *cache.JourneyCache
	BuilderOptions     model.BuilderOptions
	ScenarioMix        simulator.ScenarioMix
	MaxSimulationCount int
}

var configuration *Configuration = nil
var services *Services = nil
var initiated bool = false

// ChannelsFile is the YAML layout of --channels_file.
type ChannelsFile struct {
	DefaultWeight float64         `yaml:"default_weight"`
	Channels      []model.Channel `yaml:"channels"`
}

func initLogging(config *Configuration) error {
	// Log as JSON instead of the default ASCII formatter.
	log.SetFormatter(&log.JSONFormatter{})

	if config.Env == DEVELOPMENT {
		log.SetLevel(log.DebugLevel)
	}

	if config.SentryDSN == "" {
		return nil
	}
	hook, err := logrus_sentry.NewSentryHook(config.SentryDSN, []log.Level{
		log.PanicLevel, log.FatalLevel, log.ErrorLevel,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create sentry hook")
	}
	hook.Timeout = 5 * time.Second
	hook.StacktraceConfiguration.Enable = true
	log.AddHook(hook)
	return nil
}

// OverlayEnv overrides configuration values with ATTRIBUTION_* environment
// variables that are set.
func OverlayEnv(config *Configuration) error {
	return envconfig.Process(EnvPrefix, config)
}

// LoadChannels returns the channel table: built-in channels with the channels
// file merged on top. Channels of the file matching a built-in id override its
// non-empty fields, others are appended.
func LoadChannels(path string) ([]model.Channel, float64, error) {
	channels := model.DefaultChannels()
	if path == "" {
		return channels, 0, nil
	}

	absPath, _ := filepath.Abs(path)
	logCtx := log.WithField("file", absPath)

	raw, err := ioutil.ReadFile(absPath)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load channels file.")
		return nil, 0, errors.Wrapf(err, "failed to read channels file %s", absPath)
	}

	var file ChannelsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		logCtx.WithError(err).Error("Failed to parse channels file.")
		return nil, 0, errors.Wrap(err, "failed to parse channels file")
	}

	index := make(map[string]int, len(channels))
	for i, channel := range channels {
		index[channel.ID] = i
	}
	for _, channel := range file.Channels {
		channel.ID = model.NormalizeChannelToken(channel.ID)
		if channel.ID == "" {
			return nil, 0, model.ErrEmptyChannelID
		}
		if i, exists := index[channel.ID]; exists {
			if err := mergo.Merge(&channels[i], channel, mergo.WithOverride); err != nil {
				return nil, 0, errors.Wrapf(err, "failed to merge channel %s", channel.ID)
			}
			continue
		}
		index[channel.ID] = len(channels)
		channels = append(channels, channel)
	}

	logCtx.WithField("channels", len(channels)).Info("Loaded channels file.")
	return channels, file.DefaultWeight, nil
}

// ParseChannelWeights parses "push:3,sms:2.5" into a weight map.
func ParseChannelWeights(value string) (model.WeightMap, error) {
	weights := make(model.WeightMap)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid channel weight %q", pair)
		}
		channelID := model.NormalizeChannelToken(parts[0])
		if channelID == "" {
			return nil, model.ErrEmptyChannelID
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, errors.Wrapf(model.ErrInvalidWeight, "channel %s", channelID)
		}
		weights[channelID] = weight
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return weights, nil
}

// NewChannelRegistry builds the registry from the channels file and weight
// overrides of the configuration.
func NewChannelRegistry(config *Configuration) (*model.ChannelRegistry, error) {
	channels, fileDefaultWeight, err := LoadChannels(config.ChannelsFile)
	if err != nil {
		return nil, err
	}
	registry := model.NewChannelRegistry(channels)

	defaultWeight := config.DefaultChannelWeight
	if defaultWeight == 0 {
		defaultWeight = fileDefaultWeight
	}
	if defaultWeight != 0 {
		if err := registry.SetDefaultWeight(defaultWeight); err != nil {
			return nil, errors.Wrap(err, "invalid default channel weight")
		}
	}

	weights, err := ParseChannelWeights(config.ChannelWeights)
	if err != nil {
		return nil, err
	}
	for channelID, weight := range weights {
		if err := registry.SetWeight(channelID, weight); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewServices builds the services for a configuration without touching the
// process globals.
func NewServices(config *Configuration) (*Services, error) {
	registry, err := NewChannelRegistry(config)
	if err != nil {
		return nil, err
	}

	builderOptions := model.BuilderOptions{
		Policy:     model.WindowPolicy(config.WindowPolicy),
		MaxTouches: config.MaxTouches,
	}
	if _, err := model.NewJourneyBuilder(builderOptions); err != nil {
		return nil, errors.Wrapf(err, "window policy %q", config.WindowPolicy)
	}

	journeyCache, err := cache.NewJourneyCache(config.SimulationCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create simulation cache")
	}

	mix := simulator.DefaultScenarioMix()
	if config.ScenarioMixFile != "" {
		mix, err = simulator.LoadScenarioMixFile(config.ScenarioMixFile)
		if err != nil {
			return nil, err
		}
	}
	mix, err = mix.ResolveChannels(registry)
	if err != nil {
		return nil, err
	}

	return &Services{
		Registry:           registry,
		JourneyCache:       journeyCache,
		BuilderOptions:     builderOptions,
		ScenarioMix:        mix,
		MaxSimulationCount: config.MaxSimulationCount,
	}, nil
}

func Init(config *Configuration) error {
	if initiated {
		return fmt.Errorf("Config already initialized")
	}
	if err := OverlayEnv(config); err != nil {
		return errors.Wrap(err, "failed to read environment")
	}
	configuration = config

	if err := initLogging(config); err != nil {
		return err
	}

	var err error
	services, err = NewServices(config)
	if err != nil {
		log.WithError(err).Error("Failed to initialize services.")
		return err
	}

	initiated = true
	return nil
}

func GetConfig() *Configuration {
	return configuration
}

func GetServices() *Services {
	return services
}

func IsDevelopment() bool {
	return configuration != nil && configuration.Env == DEVELOPMENT
}
