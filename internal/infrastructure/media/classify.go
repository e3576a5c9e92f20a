package media

import (
	"errors"
	"os"
	"strings"
	"syscall"

	"huddle/internal/core/domain"
)

// Classify maps a capture error to one of the acquisition failure kinds.
// mediadevices reports most failures as plain strings, so matching falls back
// to the message text.
func Classify(profile string, err error) error {
	if err == nil {
		return nil
	}
	var acqErr *domain.MediaAcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr
	}
	return &domain.MediaAcquisitionError{Profile: profile, Kind: classifyKind(err), Cause: err}
}

func classifyKind(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return domain.ErrPermissionDenied
	case errors.Is(err, syscall.EBUSY):
		return domain.ErrDeviceBusy
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENOENT):
		return domain.ErrNoDeviceFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return domain.ErrPermissionDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return domain.ErrDeviceBusy
	case strings.Contains(msg, "no such device"), strings.Contains(msg, "no driver"), strings.Contains(msg, "not found"):
		return domain.ErrNoDeviceFound
	case strings.Contains(msg, "best driver"), strings.Contains(msg, "constraint"):
		return domain.ErrConstraintsUnsupported
	}
	return domain.ErrDeviceBusy
}
