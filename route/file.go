package route

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// File is the YAML form of a route:
//
//	name: Alpe warmup
//	kind: slope
//	waypoints:
//	  - {distance_km: 0, elevation_m: 720, lat: 45.05, lon: 6.03}
//	  - {distance_km: 1.2, elevation_m: 790, lat: 45.06, lon: 6.04}
type File struct {
	Name      string     `yaml:"name"`
	Kind      string     `yaml:"kind"` // slope|profile
	Waypoints []Waypoint `yaml:"waypoints"`
}

// Decode parses YAML route data.
func Decode(data []byte) (*Route, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode route yaml: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(f.Kind)) {
	case "", "slope":
		return NewSlope(f.Name, f.Waypoints)
	case "profile":
		return NewProfile(f.Name, f.Waypoints)
	default:
		return nil, fmt.Errorf("unsupported route kind %q (expected slope|profile)", f.Kind)
	}
}

// Load reads a YAML route file.
func Load(path string) (*Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route file: %w", err)
	}
	return Decode(data)
}
