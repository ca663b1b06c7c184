package draft

import (
	"errors"
	"testing"

	"github.com/hitoshi/calprov/internal/model"
)

func TestNewCreate_StartsEmpty(t *testing.T) {
	d := NewCreate("tenant-1")

	if d.ID() == "" {
		t.Error("ID should be generated")
	}
	if d.TenantID() != "tenant-1" {
		t.Errorf("TenantID = %q, want %q", d.TenantID(), "tenant-1")
	}
	if d.Mode().IsEdit() {
		t.Error("NewCreate should be in create mode")
	}
	if _, ok := d.Target(); ok {
		t.Error("create mode draft should not expose a target")
	}
	if d.ProviderKind() != model.ProviderKindUnset {
		t.Errorf("ProviderKind = %q, want unset", d.ProviderKind())
	}
	if d.IsReady() {
		t.Error("empty draft should not be ready")
	}
}

func TestNewEdit_ExposesTarget(t *testing.T) {
	target := model.CalendarRef{Number: 2, ResourceID: "cal-abc"}
	d := NewEdit("tenant-1", target)

	got, ok := d.Target()
	if !ok {
		t.Fatal("edit mode draft should expose a target")
	}
	if got != target {
		t.Errorf("Target = %+v, want %+v", got, target)
	}
	if d.Mode().String() != "edit" {
		t.Errorf("Mode = %q, want edit", d.Mode().String())
	}
}

func TestDraft_SetTimezone(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"IANA zone", "America/New_York", false},
		{"UTC", "UTC", false},
		{"Asia/Tokyo", "Asia/Tokyo", false},
		{"unknown zone", "Not/AZone", true},
		{"empty", "", true},
		{"Local", "Local", true},
		{"wrong case", "america/new_york", true},
		{"abbreviation", "EST5EDT-ish", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewCreate("tenant-1")
			err := d.SetTimezone(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SetTimezone(%q) expected error", tt.input)
				}
				if !errors.Is(err, model.ErrValidation) {
					t.Errorf("error should be ErrValidation, got %v", err)
				}
				if !errors.Is(err, model.ErrInvalidTimezone) {
					t.Errorf("error should be ErrInvalidTimezone, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetTimezone(%q) error = %v", tt.input, err)
			}
			if d.Timezone() != tt.input {
				t.Errorf("Timezone = %q, want %q", d.Timezone(), tt.input)
			}
		})
	}
}

// 不正なタイムゾーンを設定しても既存の値は保持される
func TestDraft_SetTimezone_FailureKeepsPreviousValue(t *testing.T) {
	d := NewCreate("tenant-1")
	if err := d.SetTimezone("Europe/Berlin"); err != nil {
		t.Fatalf("SetTimezone error = %v", err)
	}

	var vErr *model.ValidationError
	err := d.SetTimezone("Not/AZone")
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if vErr.Field != "timezone" {
		t.Errorf("Field = %q, want timezone", vErr.Field)
	}
	if d.Timezone() != "Europe/Berlin" {
		t.Errorf("Timezone = %q, want Europe/Berlin", d.Timezone())
	}

	// 未設定の場合も未設定のまま
	fresh := NewCreate("tenant-2")
	_ = fresh.SetTimezone("Not/AZone")
	if fresh.Timezone() != "" {
		t.Errorf("Timezone = %q, want empty", fresh.Timezone())
	}
}

func TestDraft_SetProviderKind_RejectsUnset(t *testing.T) {
	d := NewCreate("tenant-1")
	if err := d.SetProviderKind(model.ProviderKindUnset); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if err := d.SetProviderKind(model.ProviderKindGoogle); err != nil {
		t.Errorf("SetProviderKind error = %v", err)
	}
}

func TestDraft_IsReady_RequiresAllFields(t *testing.T) {
	d := NewCreate("tenant-1")

	d.SetName("Team Calendar")
	if d.IsReady() {
		t.Error("ready with only name")
	}
	if err := d.SetTimezone("America/New_York"); err != nil {
		t.Fatal(err)
	}
	if d.IsReady() {
		t.Error("ready without provider kind")
	}
	if err := d.SetProviderKind(model.ProviderKindGoogle); err != nil {
		t.Fatal(err)
	}
	if !d.IsReady() {
		t.Error("should be ready with name, timezone and provider")
	}

	d.SetName("   ")
	if d.IsReady() {
		t.Error("blank name should not be ready")
	}
}

func TestDraft_ToCreateSpec(t *testing.T) {
	d := NewCreate("tenant-1")
	if _, err := d.ToCreateSpec(); !errors.Is(err, model.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	d.SetName("Team Calendar")
	d.SetDescription("shared events")
	_ = d.SetTimezone("America/New_York")
	_ = d.SetProviderKind(model.ProviderKindGoogle)

	spec, err := d.ToCreateSpec()
	if err != nil {
		t.Fatalf("ToCreateSpec error = %v", err)
	}
	want := model.CreateSpec{
		Name:        "Team Calendar",
		Description: "shared events",
		Timezone:    "America/New_York",
		Provider:    model.ProviderKindGoogle,
	}
	if spec != want {
		t.Errorf("spec = %+v, want %+v", spec, want)
	}
}

func TestDraft_ToUpdateSpec(t *testing.T) {
	create := NewCreate("tenant-1")
	create.SetName("x")
	_ = create.SetTimezone("UTC")
	_ = create.SetProviderKind(model.ProviderKindGoogle)
	if _, err := create.ToUpdateSpec(); !errors.Is(err, model.ErrNotReady) {
		t.Errorf("create mode ToUpdateSpec should fail with ErrNotReady, got %v", err)
	}

	edit := NewEdit("tenant-1", model.CalendarRef{Number: 1, ResourceID: "cal-1"})
	if _, err := edit.ToUpdateSpec(); !errors.Is(err, model.ErrNotReady) {
		t.Errorf("unready edit ToUpdateSpec should fail with ErrNotReady, got %v", err)
	}
	edit.SetName("Renamed")
	_ = edit.SetTimezone("Asia/Tokyo")
	_ = edit.SetProviderKind(model.ProviderKindGoogle)

	spec, err := edit.ToUpdateSpec()
	if err != nil {
		t.Fatalf("ToUpdateSpec error = %v", err)
	}
	if spec.Name != "Renamed" || spec.Timezone != "Asia/Tokyo" {
		t.Errorf("unexpected spec: %+v", spec)
	}
}

func TestDraft_Clone_IsIndependent(t *testing.T) {
	d := NewCreate("tenant-1")
	d.SetName("original")

	c := d.Clone()
	c.SetName("changed")

	if d.Name() != "original" {
		t.Errorf("original draft mutated through clone: %q", d.Name())
	}
	if c.ID() != d.ID() {
		t.Error("clone should keep the draft ID")
	}
}
