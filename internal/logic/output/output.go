// Package output decides where a run's frames go and what they are called.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
)

const (
	dateLayout = "2006-01-02"
	// Millisecond resolution, so two runs started in the same second differ.
	timeLayout = "15h04m05.000s"
)

// Resolve returns the run directory root/[name/]YYYY-MM-DD/HHhMMmSS.mmms.
func Resolve(root, name string, now time.Time) string {
	parts := []string{root}
	if name != "" {
		parts = append(parts, name)
	}
	parts = append(parts, now.Format(dateLayout), now.Format(timeLayout))
	return filepath.Join(parts...)
}

// EnsureExists creates dir and its parents. Calling it again is a no-op.
func EnsureExists(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return nil
}

// MinIndexWidth is the smallest zero-padded width of a frame index.
const MinIndexWidth = 4

// IndexWidth returns the index width that keeps the frames of a run with
// samples timepoints sorted by name.
func IndexWidth(samples int) int {
	if w := len(strconv.Itoa(samples)); w > MinIndexWidth {
		return w
	}
	return MinIndexWidth
}

// FrameName returns image_{tp:0{width}d}_at_{HHhMMmSS.mmms}.{ext}.
func FrameName(timepoint, width int, at time.Time, ext string) string {
	if width < MinIndexWidth {
		width = MinIndexWidth
	}
	return fmt.Sprintf("image_%0*d_at_%s.%s", width, timepoint, at.Format(timeLayout), strings.TrimPrefix(ext, "."))
}

// ErrInsufficientSpace is returned by CheckFreeSpace.
var ErrInsufficientSpace = errors.New("insufficient free space")

// usage is replaced in tests.
var usage = disk.Usage

// CheckFreeSpace fails when the filesystem that will hold dir has less than
// minBytes available. dir does not need to exist yet.
func CheckFreeSpace(dir string, minBytes uint64) error {
	if minBytes == 0 {
		return nil
	}
	probe := existingAncestor(dir)
	st, err := usage(probe)
	if err != nil {
		return fmt.Errorf("disk usage of %s: %w", probe, err)
	}
	if st.Free < minBytes {
		return fmt.Errorf("%w on %s: %s free, %s required", ErrInsufficientSpace,
			st.Path, humanize.IBytes(st.Free), humanize.IBytes(minBytes))
	}
	return nil
}

func existingAncestor(dir string) string {
	p, err := filepath.Abs(dir)
	if err != nil {
		p = dir
	}
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
