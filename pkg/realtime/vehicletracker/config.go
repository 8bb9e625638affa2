package vehicletracker

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/realtime/estimates"
	"github.com/travigo/travigo-eta/pkg/realtime/matcher"
	"github.com/travigo/travigo-eta/pkg/realtime/passage"
	"github.com/travigo/travigo-eta/pkg/realtime/speeds"
	"github.com/travigo/travigo-eta/pkg/util"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Matcher   matcher.Config   `yaml:"matcher"`
	Speeds    speeds.Config    `yaml:"speeds"`
	Passage   passage.Config   `yaml:"passage"`
	Estimates estimates.Config `yaml:"estimates"`
	Tracker   TrackerConfig    `yaml:"tracker"`
}

type TrackerConfig struct {
	NumConsumers int    `yaml:"num_consumers" validate:"gt=0"`
	BatchSize    int    `yaml:"batch_size" validate:"gt=0"`
	QueueName    string `yaml:"queue_name" validate:"required"`

	// Zero disables the periodic re-evaluation of vehicles that have stopped reporting
	ReevaluateEvery      time.Duration `yaml:"reevaluate_every" validate:"gte=0"`
	ReferenceReloadEvery time.Duration `yaml:"reference_reload_every" validate:"gte=0"`
	SpeedFlushEvery      time.Duration `yaml:"speed_flush_every" validate:"gte=0"`
	VehicleExpiry        time.Duration `yaml:"vehicle_expiry" validate:"gt=0"`
}

var defaultConfig = Config{
	Matcher:   matcher.DefaultConfig,
	Speeds:    speeds.DefaultConfig,
	Passage:   passage.DefaultConfig,
	Estimates: estimates.DefaultConfig,
	Tracker: TrackerConfig{
		NumConsumers:         5,
		BatchSize:            200,
		QueueName:            "realtime-positions",
		ReevaluateEvery:      0,
		ReferenceReloadEvery: 15 * time.Minute,
		SpeedFlushEvery:      5 * time.Minute,
		VehicleExpiry:        2 * time.Hour,
	},
}

func DefaultConfig() Config {
	return defaultConfig
}

// GetConfig returns the engine configuration built from the defaults, then the
// TRAVIGO_ETA_* environment variables, then the optional YAML file
func GetConfig(configPath string) (Config, error) {
	config := defaultConfig

	if err := applyEnvironment(&config, util.GetEnvironmentVariables()); err != nil {
		return config, err
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return config, err
		}

		if err := applyYAML(&config, data); err != nil {
			return config, err
		}
	}

	if err := ValidateConfig(config); err != nil {
		return config, err
	}

	return config, nil
}

func ValidateConfig(config Config) error {
	return validator.New().Struct(config)
}

func applyYAML(config *Config, data []byte) error {
	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return err
	}
	if document.Kind == 0 {
		return nil
	}

	if err := normaliseDurations(&document); err != nil {
		return err
	}

	return document.Decode(config)
}

var isoDurationPattern = regexp.MustCompile(`^P(\d|T\d)`)

// normaliseDurations rewrites ISO-8601 durations into Go durations so yaml can decode them
func normaliseDurations(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && isoDurationPattern.MatchString(node.Value) {
		duration, err := util.ParseDuration(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		node.Value = duration.String()
		return nil
	}

	for _, child := range node.Content {
		if err := normaliseDurations(child); err != nil {
			return err
		}
	}

	return nil
}

type environmentSetting struct {
	name  string
	apply func(value string) error
}

func floatSetting(name string, target *float64) environmentSetting {
	return environmentSetting{name: name, apply: func(value string) error {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			*target = parsed
		}
		return err
	}}
}

func intSetting(name string, target *int) environmentSetting {
	return environmentSetting{name: name, apply: func(value string) error {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			*target = parsed
		}
		return err
	}}
}

func durationSetting(name string, target *time.Duration) environmentSetting {
	return environmentSetting{name: name, apply: func(value string) error {
		parsed, err := util.ParseDuration(value)
		if err == nil {
			*target = parsed
		}
		return err
	}}
}

func applyEnvironment(config *Config, env map[string]string) error {
	settings := []environmentSetting{
		floatSetting("TRAVIGO_ETA_MATCHER_MAX_SPEED", &config.Matcher.MaxSpeed),
		floatSetting("TRAVIGO_ETA_MATCHER_BACKWARD_TOLERANCE", &config.Matcher.BackwardTolerance),
		floatSetting("TRAVIGO_ETA_MATCHER_MAX_DEVIATION", &config.Matcher.MaxDeviation),
		floatSetting("TRAVIGO_ETA_MATCHER_MIN_SEARCH_DISTANCE", &config.Matcher.MinSearchDistance),
		floatSetting("TRAVIGO_ETA_MATCHER_TIE_TOLERANCE", &config.Matcher.TieTolerance),

		floatSetting("TRAVIGO_ETA_SPEEDS_DEFAULT_SPEED", &config.Speeds.DefaultSpeed),
		floatSetting("TRAVIGO_ETA_SPEEDS_ALPHA", &config.Speeds.Alpha),
		floatSetting("TRAVIGO_ETA_SPEEDS_MIN_SAMPLE_DISTANCE", &config.Speeds.MinSampleDistance),
		durationSetting("TRAVIGO_ETA_SPEEDS_MIN_SAMPLE_DURATION", &config.Speeds.MinSampleDuration),
		floatSetting("TRAVIGO_ETA_SPEEDS_MAX_SAMPLE_SPEED", &config.Speeds.MaxSampleSpeed),

		floatSetting("TRAVIGO_ETA_PASSAGE_ARRIVAL_RADIUS", &config.Passage.ArrivalRadius),
		floatSetting("TRAVIGO_ETA_PASSAGE_DEPARTURE_TOLERANCE", &config.Passage.DepartureTolerance),
		durationSetting("TRAVIGO_ETA_PASSAGE_MAX_DWELL", &config.Passage.MaxDwell),

		durationSetting("TRAVIGO_ETA_ESTIMATES_MIN_DWELL", &config.Estimates.MinDwell),
		floatSetting("TRAVIGO_ETA_ESTIMATES_LIVE_SPEED_BAND", &config.Estimates.LiveSpeedBand),
		floatSetting("TRAVIGO_ETA_ESTIMATES_MIN_LIVE_SPEED", &config.Estimates.MinLiveSpeed),
		durationSetting("TRAVIGO_ETA_ESTIMATES_LIVE_SPEED_MAX_AGE", &config.Estimates.LiveSpeedMaxAge),
		durationSetting("TRAVIGO_ETA_ESTIMATES_MAX_CORRECTION", &config.Estimates.MaxCorrection),

		intSetting("TRAVIGO_ETA_TRACKER_NUM_CONSUMERS", &config.Tracker.NumConsumers),
		intSetting("TRAVIGO_ETA_TRACKER_BATCH_SIZE", &config.Tracker.BatchSize),
		durationSetting("TRAVIGO_ETA_TRACKER_REEVALUATE_EVERY", &config.Tracker.ReevaluateEvery),
		durationSetting("TRAVIGO_ETA_TRACKER_REFERENCE_RELOAD_EVERY", &config.Tracker.ReferenceReloadEvery),
		durationSetting("TRAVIGO_ETA_TRACKER_SPEED_FLUSH_EVERY", &config.Tracker.SpeedFlushEvery),
		durationSetting("TRAVIGO_ETA_TRACKER_VEHICLE_EXPIRY", &config.Tracker.VehicleExpiry),
	}

	for _, setting := range settings {
		value := env[setting.name]
		if value == "" {
			continue
		}

		if err := setting.apply(value); err != nil {
			return fmt.Errorf("%s: %w", setting.name, err)
		}
		log.Debug().Str("setting", setting.name).Str("value", value).Msg("Config overridden from environment")
	}

	if env["TRAVIGO_ETA_TRACKER_QUEUE_NAME"] != "" {
		config.Tracker.QueueName = env["TRAVIGO_ETA_TRACKER_QUEUE_NAME"]
	}

	return nil
}
