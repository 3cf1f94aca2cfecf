package models

import (
	"testing"
)

func TestMetadataFloats(t *testing.T) {
	md := Metadata{
		"PixelSpacing":   []string{`0.5\0.25`},
		"SliceThickness": []string{" 2.0 "},
		"InstanceNumber": []int{7},
		"Position":       []float64{1, 2, 3},
		"Bad":            []string{"abc"},
		"Empty":          []string{""},
	}

	tests := []struct {
		name string
		want []float64
		ok   bool
	}{
		{"PixelSpacing", []float64{0.5, 0.25}, true},
		{"SliceThickness", []float64{2}, true},
		{"InstanceNumber", []float64{7}, true},
		{"Position", []float64{1, 2, 3}, true},
		{"Bad", nil, false},
		{"Empty", nil, false},
		{"Missing", nil, false},
	}
	for _, tc := range tests {
		got, ok := md.Floats(tc.name)
		if ok != tc.ok {
			t.Errorf("%s: expected ok=%v, got %v", tc.name, tc.ok, ok)
			continue
		}
		if len(got) != len(tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
			}
		}
	}
}

func TestMetadataString(t *testing.T) {
	md := Metadata{"PatientID": []string{"X "}, "InstanceNumber": []int{3}}

	if s, ok := md.String("PatientID"); !ok || s != "X" {
		t.Errorf("Expected X, got %q (%v)", s, ok)
	}
	if s, ok := md.String("InstanceNumber"); !ok || s != "3" {
		t.Errorf("Expected 3, got %q (%v)", s, ok)
	}
	if _, ok := md.String("Missing"); ok {
		t.Error("Expected a missing key to report false")
	}
}

func TestSeriesVolumeIndexing(t *testing.T) {
	vol := NewSeriesVolume(2, 3, 4)
	vol.Set(1, 2, 3, 42)

	if got := vol.At(1, 2, 3); got != 42 {
		t.Errorf("Expected 42, got %v", got)
	}
	if got := vol.Data[3*6+1*3+2]; got != 42 {
		t.Errorf("Expected plane-major layout, got %v at the computed index", got)
	}
	if plane := vol.Plane(3); len(plane) != 6 || plane[5] != 42 {
		t.Errorf("Unexpected plane: %v", plane)
	}
	if vol.Shape() != [3]int{2, 3, 4} {
		t.Errorf("Unexpected shape %v", vol.Shape())
	}
}

func TestMetadataHas(t *testing.T) {
	md := Metadata{
		"PixelSpacing":   []string{"0.5", "abc"},
		"SliceThickness": []string{" "},
		"SliceLocation":  []string{`\`},
		"InstanceNumber": []int{},
		"Rows":           []int{2},
	}
	cases := map[string]bool{
		"PixelSpacing":   true, // present even though it does not parse
		"SliceThickness": false,
		"SliceLocation":  false,
		"InstanceNumber": false,
		"Rows":           true,
		"Missing":        false,
	}
	for name, want := range cases {
		if got := md.Has(name); got != want {
			t.Errorf("Has(%s) = %v, want %v", name, got, want)
		}
	}
	if _, ok := md.Floats("PixelSpacing"); ok {
		t.Error("Expected an unparseable PixelSpacing to report no numeric values")
	}
}
