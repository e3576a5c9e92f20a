package media

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"huddle/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission errno", &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}, domain.ErrPermissionDenied},
		{"busy errno", fmt.Errorf("open camera: %w", syscall.EBUSY), domain.ErrDeviceBusy},
		{"missing device node", &os.PathError{Op: "open", Path: "/dev/video9", Err: syscall.ENOENT}, domain.ErrNoDeviceFound},
		{"overconstrained", errors.New("failed to find the best driver that fits the constraints"), domain.ErrConstraintsUnsupported},
		{"permission text", errors.New("Permission denied by system"), domain.ErrPermissionDenied},
		{"busy text", errors.New("device or resource busy"), domain.ErrDeviceBusy},
		{"unknown", errors.New("something odd happened"), domain.ErrDeviceBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("hd", tt.err)

			var acqErr *domain.MediaAcquisitionError
			if !errors.As(err, &acqErr) {
				t.Fatalf("Classify() = %T, want *domain.MediaAcquisitionError", err)
			}
			if acqErr.Profile != "hd" {
				t.Errorf("Profile = %q, want hd", acqErr.Profile)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Classify() kind = %v, want %v", acqErr.Kind, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Classify() lost the cause")
			}
		})
	}
}

func TestClassifyKeepsClassifiedErrors(t *testing.T) {
	orig := &domain.MediaAcquisitionError{Profile: "sd", Kind: domain.ErrNoDeviceFound}

	if got := Classify("hd", orig); got != orig {
		t.Errorf("Classify() = %v, want the original error", got)
	}
	if Classify("hd", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}
