package capture

import (
	"errors"
	"testing"

	"github.com/jmorel/visio/internal/core"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"permission", "open /dev/video0: permission denied", core.ErrMediaPermissionDenied},
		{"not allowed", "capture not allowed by policy", core.ErrMediaPermissionDenied},
		{"busy", "open /dev/video0: device or resource busy", core.ErrMediaDeviceBusy},
		{"missing", "open /dev/video0: no such device", core.ErrMediaDeviceNotFound},
		{"no driver", "failed to find the best driver that fits the constraints", core.ErrMediaDeviceNotFound},
		{"no backend", "no capture backend on windows", core.ErrMediaDeviceNotFound},
		{"constraints", "unsupported frame format", core.ErrMediaConstraints},
		{"unknown", "something exploded", core.ErrMediaUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(errors.New(tc.raw))
			if !errors.Is(got, tc.want) {
				t.Fatalf("Classify(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}

	if Classify(nil) != nil {
		t.Fatal("Classify(nil) must be nil")
	}
}
