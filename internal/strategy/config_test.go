package strategy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimal = `
strategies:
  DEFAULT:
    rank: 300
    valid_hours: 24
    cadence: {num_todo: 1, wait_hours: 0, rank_change: 0}
    constraints: {min_alt: 30, max_sunalt: -15, max_moon: B, min_moonsep: 30}
    exposure_sets: [{num_exp: 4, exptime: 90, filt: L}]
    skymap_contour: 0.9
    min_tile_prob: 0
    max_tiles: 10
`

func TestDefaultTable(t *testing.T) {
	t.Parallel()

	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, name := range []string{DefaultName, "GW_RANK_1", "GRB_SWIFT", "NU_ICECUBE_GOLD", "EP_WXT"} {
		s, ok := c.Strategies[name]
		if !ok {
			t.Errorf("missing strategy %s", name)
			continue
		}
		if s.Name != name {
			t.Errorf("strategy %s has Name %q", name, s.Name)
		}
	}
	if len(c.Rules) == 0 {
		t.Fatal("no rules in default table")
	}
	swift := c.Strategies["GRB_SWIFT"]
	if len(swift.ExposureSets) != 4 || swift.ExposureSets[1].Filter != "R" {
		t.Errorf("GRB_SWIFT exposure sets = %+v", swift.ExposureSets)
	}
	fermi := c.Strategies["GRB_FERMI"]
	if got := fermi.Cadence.WaitHours.At(100); got != 12 {
		t.Errorf("GRB_FERMI last wait = %v, want 12", got)
	}
}

func TestParseMinimal(t *testing.T) {
	t.Parallel()

	c, err := Parse("minimal.yaml", []byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := c.Names(); len(got) != 1 || got[0] != DefaultName {
		t.Errorf("Names = %v", got)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing default",
			src:  strings.Replace(minimal, "DEFAULT:", "OTHER:", 1),
			want: "DEFAULT",
		},
		{
			name: "bad moon class",
			src:  strings.Replace(minimal, "max_moon: B", "max_moon: X", 1),
			want: "max_moon",
		},
		{
			name: "contour out of range",
			src:  strings.Replace(minimal, "skymap_contour: 0.9", "skymap_contour: 1.5", 1),
			want: "skymap_contour",
		},
		{
			name: "unknown field",
			src:  strings.Replace(minimal, "max_tiles: 10", "max_tiles: 10\n    tile_limit: 3", 1),
			want: "tile_limit",
		},
		{
			name: "rule with unknown strategy",
			src:  minimal + "rules:\n  - {name: r1, strategy: NOPE}\n",
			want: "unknown strategy",
		},
		{
			name: "duplicate rule",
			src:  minimal + "rules:\n  - {name: r1, strategy: DEFAULT}\n  - {name: r1, strategy: DEFAULT}\n",
			want: "duplicate rule",
		},
		{
			name: "comparison without value",
			src:  minimal + "rules:\n  - {name: r1, strategy: DEFAULT, conditions: [{attribute: x, op: \">=\"}]}\n",
			want: "needs a value",
		},
		{
			name: "bad operator",
			src:  minimal + "rules:\n  - {name: r1, strategy: DEFAULT, conditions: [{attribute: x, op: \"~\", value: 1}]}\n",
			want: "op",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse("test.yaml", []byte(tt.src))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Strategies[DefaultName].MaxTiles != 10 {
		t.Errorf("MaxTiles = %d", c.Strategies[DefaultName].MaxTiles)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if c, err := Load(""); err != nil || len(c.Rules) == 0 {
		t.Errorf("Load(\"\") = %v, %v; want built-in table", c, err)
	}
}
