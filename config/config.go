// Package config reads the labeling session configuration.
package config

import (
	"io"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/referenceframe"
)

// Defaults applied to unset fields.
const (
	DefaultMaxSnapshots       = 200
	DefaultMaxPendingFrames   = 16
	DefaultWorkers            = 4
	DefaultMaxTasks           = 256
	DefaultMinVisibleFraction = 0.1
	DefaultContourResolution  = 0.2
)

// Config is one labeling session.
type Config struct {
	ConfigFilePath string `json:"-"`

	Scenario   string                     `json:"scenario"`
	EgoGroup   string                     `json:"ego_group"`
	OutputDir  string                     `json:"output_dir"`
	ModelDir   string                     `json:"model_dir"`
	World      referenceframe.WorldConfig `json:"world"`
	Catalog    Catalog                    `json:"catalog"`
	Visibility Visibility                 `json:"visibility"`
	Queue      Queue                      `json:"queue"`
	WriteBack  WriteBack                  `json:"writeback"`
	Log        Log                        `json:"log"`
	Debug      bool                       `json:"debug"`
	Sensors    []Sensor                   `json:"sensors"`
}

// Sensor is a configured sensor. Attributes are decoded by the sensor model for its Type.
type Sensor struct {
	ID          int             `json:"id"`
	Type        data.SensorKind `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Attributes  AttributeMap    `json:"attributes"`
}

// Catalog configures contour synthesis.
type Catalog struct {
	Resolution float64 `json:"resolution"`
}

// Visibility configures the visibility thresholds. A non-positive MinArea or Completeness
// disables that check; a negative MinVisibleFraction disables the visible point check.
type Visibility struct {
	MaxDistance        float64 `json:"max_distance"`
	MinArea            float64 `json:"min_area"`
	Completeness       float64 `json:"completeness"`
	MinVisibleFraction float64 `json:"min_visible_fraction"`
	FullBox            bool    `json:"full_box"`
	Parallelism        int     `json:"parallelism"`
}

// Queue configures the frame/object queue. Unmatched frames are dropped unless HoldUnmatched is
// set.
type Queue struct {
	MaxSnapshots     int  `json:"max_snapshots"`
	MaxPendingFrames int  `json:"max_pending_frames"`
	HoldUnmatched    bool `json:"hold_unmatched"`
}

// WriteBack configures the write-back pool. An empty PollInterval makes enqueue block on a full
// queue; a duration makes it retry at that interval instead.
type WriteBack struct {
	Workers      int    `json:"workers"`
	MaxTasks     int    `json:"max_tasks"`
	PollInterval string `json:"poll_interval,omitempty"`

	pollInterval time.Duration
}

// PollIntervalDuration returns the parsed poll interval. Only valid after Validate.
func (wb WriteBack) PollIntervalDuration() time.Duration {
	return wb.pollInterval
}

// Log configures logging.
type Log struct {
	Level string              `json:"level"`
	File  *logging.FileConfig `json:"file,omitempty"`
}

// Read reads a config from the given file, expanding ${VAR} references from the environment.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", filePath)
	}
	return fromBytes(filePath, buf)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from. Comments and trailing commas are allowed.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	return fromBytes(originalPath, buf)
}

func fromBytes(originalPath string, buf []byte) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	if err := json5.Unmarshal(buf, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.MaxSnapshots == 0 {
		c.Queue.MaxSnapshots = DefaultMaxSnapshots
	}
	if c.Queue.MaxPendingFrames == 0 {
		c.Queue.MaxPendingFrames = DefaultMaxPendingFrames
	}
	if c.WriteBack.Workers == 0 {
		c.WriteBack.Workers = DefaultWorkers
	}
	if c.WriteBack.MaxTasks == 0 {
		c.WriteBack.MaxTasks = DefaultMaxTasks
	}
	if c.Visibility.MinVisibleFraction == 0 {
		c.Visibility.MinVisibleFraction = DefaultMinVisibleFraction
	}
	if c.Catalog.Resolution == 0 {
		c.Catalog.Resolution = DefaultContourResolution
	}
}

// Validate returns an error describing the first problem with the config.
func (c *Config) Validate() error {
	if c.Scenario == "" {
		return errors.New("scenario is required")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		return errors.Wrap(err, "log")
	}
	if c.Queue.MaxSnapshots < 2 {
		return errors.Errorf("queue.max_snapshots must be at least 2, got %d", c.Queue.MaxSnapshots)
	}
	if c.WriteBack.Workers < 1 || c.WriteBack.MaxTasks < 1 {
		return errors.Errorf("writeback needs at least one worker and one task slot, got %d and %d",
			c.WriteBack.Workers, c.WriteBack.MaxTasks)
	}
	if c.WriteBack.PollInterval != "" {
		d, err := time.ParseDuration(c.WriteBack.PollInterval)
		if err != nil {
			return errors.Wrap(err, "writeback.poll_interval")
		}
		if d <= 0 {
			return errors.Errorf("writeback.poll_interval must be positive, got %v", d)
		}
		c.WriteBack.pollInterval = d
	}
	if c.Catalog.Resolution < 0 {
		return errors.Errorf("catalog.resolution must be positive, got %v", c.Catalog.Resolution)
	}
	seen := map[int]struct{}{}
	for i, s := range c.Sensors {
		switch s.Type {
		case data.SensorCamera, data.SensorSemantic, data.SensorFisheye, data.SensorLidar:
		default:
			return errors.Errorf("sensors.%d: unknown type %q", i, s.Type)
		}
		if _, ok := seen[s.ID]; ok {
			return errors.Errorf("sensors.%d: duplicate id %d", i, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// HasSensorKind reports whether any sensor of the given kind is configured.
func (c *Config) HasSensorKind(kind data.SensorKind) bool {
	for _, s := range c.Sensors {
		if s.Type == kind {
			return true
		}
	}
	return false
}
