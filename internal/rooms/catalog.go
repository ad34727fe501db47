// Package rooms loads the fixed room catalog. Rooms are configuration, not
// runtime state: they are never created or destroyed while the scheduler is
// running.
package rooms

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

type fileConfig struct {
	Rooms []roomConfig `yaml:"rooms"`
}

type roomConfig struct {
	GameType  string `yaml:"game_type"`
	Durations []int  `yaml:"durations"`
}

// Catalog is the immutable set of rooms this deployment serves.
type Catalog struct {
	rooms []models.Room
	byKey map[string]models.Room
}

// Load reads a YAML room catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read room catalog: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse room catalog: %w", err)
	}
	return build(cfg)
}

// Default returns the built-in catalog used when no config file is given:
// four durations per game type.
func Default() *Catalog {
	c, _ := build(fileConfig{Rooms: []roomConfig{
		{GameType: string(models.GameTypeWingo), Durations: []int{30, 60, 180, 300}},
		{GameType: string(models.GameTypeTrxWin), Durations: []int{60, 180, 300, 600}},
		{GameType: string(models.GameTypeK3), Durations: []int{60, 180, 300, 600}},
		{GameType: string(models.GameTypeFiveD), Durations: []int{60, 180, 300, 600}},
	}})
	return c
}

func build(cfg fileConfig) (*Catalog, error) {
	if len(cfg.Rooms) == 0 {
		return nil, fmt.Errorf("room catalog is empty")
	}
	c := &Catalog{byKey: make(map[string]models.Room)}
	for _, rc := range cfg.Rooms {
		gt := models.GameType(rc.GameType)
		if !gt.Valid() {
			return nil, fmt.Errorf("unknown game type %q in room catalog", rc.GameType)
		}
		if len(rc.Durations) == 0 {
			return nil, fmt.Errorf("game type %q has no durations", rc.GameType)
		}
		for _, secs := range rc.Durations {
			if secs <= 0 {
				return nil, fmt.Errorf("game type %q has non-positive duration %d", rc.GameType, secs)
			}
			room := models.Room{GameType: gt, Duration: time.Duration(secs) * time.Second}
			if _, dup := c.byKey[room.Key()]; dup {
				return nil, fmt.Errorf("duplicate room %s in catalog", room.Key())
			}
			c.byKey[room.Key()] = room
			c.rooms = append(c.rooms, room)
		}
	}
	return c, nil
}

// Rooms returns the catalog in declaration order.
func (c *Catalog) Rooms() []models.Room {
	return c.rooms
}

// ByKey looks up a room by its canonical "gameType:seconds" key.
func (c *Catalog) ByKey(key string) (models.Room, bool) {
	r, ok := c.byKey[key]
	return r, ok
}

// MaxDuration returns the longest round duration in the catalog.
func (c *Catalog) MaxDuration() time.Duration {
	var max time.Duration
	for _, r := range c.rooms {
		if r.Duration > max {
			max = r.Duration
		}
	}
	return max
}

// Durations returns the distinct round durations in seconds, used to size
// per-duration proof pools.
func (c *Catalog) Durations() []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range c.rooms {
		if !seen[r.Seconds()] {
			seen[r.Seconds()] = true
			out = append(out, r.Seconds())
		}
	}
	return out
}
