/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog reads observation programs from YAML catalog files.
//
// A catalog names its targets, constraint sets and observation blocks once and
// lets programs refer to them by name:
//
//	targets:
//	  - {name: M31, ra: 10.6847, dec: 41.2687}
//	constraints:
//	  - {name: dark, max_airmass: 1.8, max_moon_bright: 30, strategy: edf}
//	blocks:
//	  - name: m31-R
//	    actions:
//	      - {type: point}
//	      - {type: expose, exptime: 60, frames: 3, filter: R, image_type: OBJECT}
//	programs:
//	  - {name: m31-R, pi: ana, priority: 0, target: M31, constraints: dark, block: m31-R}
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/robobs/internal/models"
)

// Defaults applied to constraint sets that leave a bound out.
const (
	DefaultMinAirmass    = 1.0
	DefaultMaxAirmass    = 2.0
	DefaultMaxMoonBright = 100.0
	DefaultMaxSeeing     = 99.0
	DefaultStrategy      = "edf"
)

var (
	// ErrUnknownReference is returned when a program names a missing target, constraint set or block.
	ErrUnknownReference = errors.New("unknown catalog reference")
	// ErrInvalidCatalog is returned for structurally invalid entries.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// File is the on-disk layout of a catalog.
type File struct {
	Targets     []Target     `yaml:"targets"`
	Constraints []Constraint `yaml:"constraints"`
	Blocks      []Block      `yaml:"blocks"`
	Programs    []Program    `yaml:"programs"`
}

type Target struct {
	Name string  `yaml:"name"`
	RA   float64 `yaml:"ra"`
	Dec  float64 `yaml:"dec"`
}

type Constraint struct {
	Name          string   `yaml:"name"`
	MinAirmass    *float64 `yaml:"min_airmass"`
	MaxAirmass    *float64 `yaml:"max_airmass"`
	MinMoonBright float64  `yaml:"min_moon_bright"`
	MaxMoonBright *float64 `yaml:"max_moon_bright"`
	MinMoonDist   float64  `yaml:"min_moon_dist"`
	MaxSeeing     *float64 `yaml:"max_seeing"`
	Strategy      string   `yaml:"strategy"`
	Weight        float64  `yaml:"weight"`
}

type Block struct {
	Name    string   `yaml:"name"`
	Actions []Action `yaml:"actions"`
}

type Action struct {
	Type      string   `yaml:"type"`
	ExpTime   float64  `yaml:"exptime"`
	Frames    int      `yaml:"frames"`
	Filter    string   `yaml:"filter"`
	ImageType string   `yaml:"image_type"`
	Shutter   string   `yaml:"shutter"`
	Filename  string   `yaml:"filename"`
	RA        *float64 `yaml:"ra"`
	Dec       *float64 `yaml:"dec"`
	Alt       *float64 `yaml:"alt"`
	Az        *float64 `yaml:"az"`

	FocusStart float64 `yaml:"focus_start"`
	FocusEnd   float64 `yaml:"focus_end"`
	FocusStep  float64 `yaml:"focus_step"`
}

type Program struct {
	Name        string     `yaml:"name"`
	PI          string     `yaml:"pi"`
	Priority    int        `yaml:"priority"`
	Target      string     `yaml:"target"`
	Constraints string     `yaml:"constraints"`
	Block       string     `yaml:"block"`
	SlewAt      *time.Time `yaml:"slew_at"`
}

// Load reads and resolves the catalog at path.
func Load(path string) ([]models.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a catalog and resolves every program into a model with its
// target, constraint set and block attached.
func Parse(r io.Reader) ([]models.Program, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return file.Resolve()
}

// Resolve turns the named entries into programs.
func (f File) Resolve() ([]models.Program, error) {
	targets := make(map[string]models.Target, len(f.Targets))
	for _, t := range f.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: target without name", ErrInvalidCatalog)
		}
		if t.Dec < -90 || t.Dec > 90 {
			return nil, fmt.Errorf("%w: target %q dec %.3f out of range", ErrInvalidCatalog, t.Name, t.Dec)
		}
		targets[t.Name] = models.Target{Name: t.Name, RA: t.RA, Dec: t.Dec}
	}

	constraints := make(map[string]models.BlockPar, len(f.Constraints))
	for _, c := range f.Constraints {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: constraint set without name", ErrInvalidCatalog)
		}
		bp := c.toModel()
		if bp.MinAirmass > bp.MaxAirmass {
			return nil, fmt.Errorf("%w: constraint set %q has min airmass above max", ErrInvalidCatalog, c.Name)
		}
		constraints[c.Name] = bp
	}

	blocks := make(map[string]models.ObsBlock, len(f.Blocks))
	for _, b := range f.Blocks {
		block, err := b.toModel()
		if err != nil {
			return nil, err
		}
		blocks[b.Name] = block
	}

	programs := make([]models.Program, 0, len(f.Programs))
	for _, p := range f.Programs {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: program without name", ErrInvalidCatalog)
		}
		target, ok := targets[p.Target]
		if !ok {
			return nil, fmt.Errorf("program %q target %q: %w", p.Name, p.Target, ErrUnknownReference)
		}
		bp, ok := constraints[p.Constraints]
		if !ok {
			return nil, fmt.Errorf("program %q constraints %q: %w", p.Name, p.Constraints, ErrUnknownReference)
		}
		block, ok := blocks[p.Block]
		if !ok {
			return nil, fmt.Errorf("program %q block %q: %w", p.Name, p.Block, ErrUnknownReference)
		}
		// each program gets its own copy of the shared action slice
		block.Actions = append([]models.Action(nil), block.Actions...)

		programs = append(programs, models.Program{
			Name:     p.Name,
			PI:       p.PI,
			Priority: p.Priority,
			SlewAt:   p.SlewAt,
			Target:   target,
			BlockPar: bp,
			ObsBlock: block,
		})
	}
	return programs, nil
}

func (c Constraint) toModel() models.BlockPar {
	bp := models.BlockPar{
		Name:           c.Name,
		MinAirmass:     DefaultMinAirmass,
		MaxAirmass:     DefaultMaxAirmass,
		MinMoonBright:  c.MinMoonBright,
		MaxMoonBright:  DefaultMaxMoonBright,
		MinMoonDist:    c.MinMoonDist,
		MaxSeeing:      DefaultMaxSeeing,
		SchedAlgorithm: c.Strategy,
		Weight:         c.Weight,
	}
	if c.MinAirmass != nil {
		bp.MinAirmass = *c.MinAirmass
	}
	if c.MaxAirmass != nil {
		bp.MaxAirmass = *c.MaxAirmass
	}
	if c.MaxMoonBright != nil {
		bp.MaxMoonBright = *c.MaxMoonBright
	}
	if c.MaxSeeing != nil {
		bp.MaxSeeing = *c.MaxSeeing
	}
	if bp.SchedAlgorithm == "" {
		bp.SchedAlgorithm = DefaultStrategy
	}
	return bp
}

func (b Block) toModel() (models.ObsBlock, error) {
	if b.Name == "" {
		return models.ObsBlock{}, fmt.Errorf("%w: block without name", ErrInvalidCatalog)
	}
	block := models.ObsBlock{Name: b.Name}
	for i, a := range b.Actions {
		typ := models.ActionType(a.Type)
		switch typ {
		case models.ActionExpose:
			if a.ExpTime < 0 || a.Frames < 0 {
				return models.ObsBlock{}, fmt.Errorf("%w: block %q action %d has negative exposure", ErrInvalidCatalog, b.Name, i)
			}
			if a.Frames == 0 {
				a.Frames = 1
			}
		case models.ActionPoint, models.ActionAutoFocus, models.ActionAutoFlat, models.ActionVerify:
		default:
			return models.ObsBlock{}, fmt.Errorf("%w: block %q action %d has unknown type %q", ErrInvalidCatalog, b.Name, i, a.Type)
		}
		block.Actions = append(block.Actions, models.Action{
			Seq:        i,
			Type:       typ,
			ExpTime:    a.ExpTime,
			Frames:     a.Frames,
			Filter:     a.Filter,
			ImageType:  a.ImageType,
			Shutter:    a.Shutter,
			Filename:   a.Filename,
			RA:         a.RA,
			Dec:        a.Dec,
			Alt:        a.Alt,
			Az:         a.Az,
			FocusStart: a.FocusStart,
			FocusEnd:   a.FocusEnd,
			FocusStep:  a.FocusStep,
		})
	}
	return block, nil
}
