package hyperstate

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type overrideConfig struct {
	Lr     float64
	Steps  int
	Ppo    ppoParams
	TaskID string
}

type toggleConfig struct {
	Fast bool `default:"false"`
}

type deviceConfig struct {
	Device *string `default:"cuda"`
}

type seedsConfig struct {
	Seeds []int `default:"[]"`
}

func TestOverridesFillRequiredFields(t *testing.T) {
	cfg, err := Load[overrideConfig]("",
		WithOverrides(
			"task_id=CherryPick",
			"lr=0.1",
			"steps=100",
			"ppo.cliprange=0.1",
			"ppo.inner.x=10",
		))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := overrideConfig{
		Lr:     0.1,
		Steps:  100,
		TaskID: "CherryPick",
		Ppo: ppoParams{
			Inner:          &deepInner{X: 10},
			Cliprange:      0.1,
			Gamma:          0.99,
			Lambd:          0.95,
			Entcoeff:       0.01,
			ValueLossCoeff: 1,
		},
	}
	if !reflect.DeepEqual(*cfg, want) {
		t.Fatalf("Load() = %#v, want %#v", *cfg, want)
	}
}

func TestOverridesBeatDocumentValues(t *testing.T) {
	doc := "lr: 0.5\nsteps: 10\ntask_id: base\n"
	cfg, err := Loads[overrideConfig](doc, WithOverrides("lr=0.9"))
	if err != nil {
		t.Fatalf("Loads() error: %v", err)
	}
	if cfg.Lr != 0.9 || cfg.Steps != 10 {
		t.Fatalf("Loads() = %#v, want overridden lr with document steps", *cfg)
	}
}

func TestOverrideBoolTokens(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"True", true},
		{"true", true},
		{"1", true},
		{"t", true},
		{"T", true},
		{"False", false},
		{"false", false},
		{"0", false},
		{"f", false},
		{"F", false},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			cfg, err := Load[toggleConfig]("", WithOverrides("fast="+tt.token))
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.Fast != tt.want {
				t.Fatalf("fast=%s decoded to %v, want %v", tt.token, cfg.Fast, tt.want)
			}
		})
	}
}

func TestOverrideRejectsBadBoolToken(t *testing.T) {
	_, err := Load[toggleConfig]("", WithOverrides("fast=yes"))
	if err == nil || !strings.Contains(err.Error(), "cannot parse \"yes\" as bool") {
		t.Fatalf("Load() error = %v, want bool parse complaint", err)
	}
}

func TestOverrideOptionFields(t *testing.T) {
	cfg, err := Load[deviceConfig]("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Device == nil || *cfg.Device != "cuda" {
		t.Fatalf("Device = %v, want default cuda", cfg.Device)
	}

	cfg, err = Load[deviceConfig]("", WithOverrides("device=mps"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Device == nil || *cfg.Device != "mps" {
		t.Fatalf("Device = %v, want mps", cfg.Device)
	}

	cfg, err = Load[deviceConfig]("", WithOverrides("device=null"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Device != nil {
		t.Fatalf("Device = %v, want nil", *cfg.Device)
	}
}

func TestOverrideListLiterals(t *testing.T) {
	cfg, err := Load[seedsConfig]("", WithOverrides("seeds=[1, 2, 3]"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reflect.DeepEqual(cfg.Seeds, []int{1, 2, 3}) {
		t.Fatalf("Seeds = %v, want [1 2 3]", cfg.Seeds)
	}
}

func TestOverrideUnknownField(t *testing.T) {
	_, err := Load[overrideConfig]("", WithOverrides("lr=0.1", "nope.x=1"))
	var notFound *FieldNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Load() error = %v, want FieldNotFoundError", err)
	}
	if notFound.Field != "nope.x" || notFound.Struct != "overrideConfig" {
		t.Fatalf("unexpected error details: %#v", notFound)
	}
	want := `hyperstate: unknown field "nope.x" for overrideConfig`
	if notFound.Error() != want {
		t.Fatalf("Error() = %q, want %q", notFound.Error(), want)
	}
}

func TestOverrideUnknownFieldsAggregate(t *testing.T) {
	_, err := Load[overrideConfig]("", WithOverrides("nope=1", "also.missing=2", "lr=0.1"))
	var multi *FieldsNotFoundError
	if !errors.As(err, &multi) {
		t.Fatalf("Load() error = %v, want FieldsNotFoundError", err)
	}
	if len(multi.Errors) != 2 {
		t.Fatalf("Errors = %#v, want 2 entries", multi.Errors)
	}
	var single *FieldNotFoundError
	if !errors.As(err, &single) {
		t.Fatalf("FieldsNotFoundError should unwrap to FieldNotFoundError, got %v", err)
	}
	if !strings.Contains(multi.Error(), `"nope"`) || !strings.Contains(multi.Error(), `"also.missing"`) {
		t.Fatalf("Error() = %q, want both paths listed", multi.Error())
	}
}

func TestOverrideMalformed(t *testing.T) {
	_, err := Load[overrideConfig]("", WithOverrides("lr0.1"))
	if err == nil || !strings.Contains(err.Error(), "expected field.name=value") {
		t.Fatalf("Load() error = %v, want format complaint", err)
	}
}
