// Package config is the JSON configuration of shingo-sim.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"nyiyui.ca/hato/shingo/interlock"
)

type Config struct {
	Interlock interlock.Config `json:"interlock"`
	Log       Log              `json:"log"`
	Store     Store            `json:"store"`
	Kujo      Kujo             `json:"kujo"`
	Sim       Sim              `json:"sim"`
	UI        UI               `json:"ui"`
}

type Log struct {
	Level string `json:"level"`
	// File, if set, receives JSON logs and is rotated.
	File       string `json:"file"`
	MaxSize    int    `json:"max-size"`
	MaxBackups int    `json:"max-backups"`
	MaxAge     int    `json:"max-age"`
}

type Store struct {
	// Path of the buntdb file; ":memory:" keeps saves in memory.
	Path string `json:"path"`
}

type Kujo struct {
	Listen         string   `json:"listen"`
	AllowedOrigins []string `json:"allowed-origins"`
}

type Sim struct {
	Tick   Duration `json:"tick"`
	Preset string   `json:"preset"`
	// Speed is the line speed of every train in m/s.
	Speed     float64 `json:"speed"`
	LookAhead float64 `json:"look-ahead"`
	Trains    []Train `json:"trains"`
}

// Train places a train at the end of section From, running in FromDirection, and routes it
// through Via to To. Sections are named by comment.
type Train struct {
	Number        int      `json:"number"`
	Name          string   `json:"name"`
	Length        float64  `json:"length"`
	From          string   `json:"from"`
	FromDirection int      `json:"from-direction"`
	Via           []string `json:"via"`
	To            string   `json:"to"`
	Node          bool     `json:"node"`
}

type UI struct {
	Enabled bool `json:"enabled"`
}

// Duration is a time.Duration written as a string, e.g. "200ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func Default() Config {
	return Config{
		Interlock: interlock.DefaultConfig(),
		Log: Log{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Store: Store{Path: "shingo.db"},
		Kujo:  Kujo{Listen: "0.0.0.0:8001"},
		Sim: Sim{
			Tick:      Duration(200 * time.Millisecond),
			Preset:    "passing-loop",
			Speed:     10,
			LookAhead: 400,
			Trains: []Train{
				{Number: 1, Name: "east", Length: 60, From: "W0", FromDirection: 0, Via: []string{"main"}, To: "E0"},
				{Number: 2, Name: "west", Length: 60, From: "E0", FromDirection: 1, Via: []string{"loop"}, To: "W0"},
			},
		},
	}
}

// Load reads the file at path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	c := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if err := c.Interlock.Validate(); err != nil {
		return fmt.Errorf("interlock: %w", err)
	}
	if c.Sim.Tick <= 0 {
		return fmt.Errorf("sim: tick must be positive")
	}
	if c.Sim.Speed <= 0 {
		return fmt.Errorf("sim: speed must be positive")
	}
	seen := map[int]bool{}
	for _, t := range c.Sim.Trains {
		if seen[t.Number] {
			return fmt.Errorf("sim: train %d listed twice", t.Number)
		}
		seen[t.Number] = true
		if t.Length <= 0 {
			return fmt.Errorf("sim: train %d: length must be positive", t.Number)
		}
	}
	return nil
}
