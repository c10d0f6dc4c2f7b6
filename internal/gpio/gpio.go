// Package gpio controls sysfs GPIO output pins on embedded Linux
// hosts.
package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const sysfsRoot = "/sys/class/gpio"

// Pin is a sysfs GPIO pin configured as an output.
type Pin struct {
	num       int
	valuePath string
}

// OpenPin exports the pin if needed and configures it as an output.
func OpenPin(num int) (*Pin, error) {
	base := filepath.Join(sysfsRoot, fmt.Sprintf("gpio%d", num))
	if _, err := os.Stat(base); os.IsNotExist(err) {
		export := filepath.Join(sysfsRoot, "export")
		if err := os.WriteFile(export, []byte(strconv.Itoa(num)), 0o200); err != nil {
			return nil, fmt.Errorf("export gpio%d: %w", num, err)
		}
		// The attribute files take a moment to appear after export.
		time.Sleep(50 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(base, "direction"), []byte("out"), 0o200); err != nil {
		return nil, fmt.Errorf("set gpio%d direction: %w", num, err)
	}
	return &Pin{num: num, valuePath: filepath.Join(base, "value")}, nil
}

// SetHigh drives the pin high.
func (p *Pin) SetHigh() error { return p.write("1") }

// SetLow drives the pin low.
func (p *Pin) SetLow() error { return p.write("0") }

func (p *Pin) write(v string) error {
	if err := os.WriteFile(p.valuePath, []byte(v), 0o200); err != nil {
		return fmt.Errorf("gpio%d: %w", p.num, err)
	}
	return nil
}
