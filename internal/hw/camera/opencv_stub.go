//go:build !opencv

package camera

import "errors"

// NewOpenCV reports that the binary was built without OpenCV support.
func NewOpenCV(deviceID string) (Device, error) {
	return nil, errors.New("opencv camera support not compiled in (rebuild with -tags opencv)")
}
