package sensor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultThermalZonePath is the kernel thermal zone for the Pi SoC.
const DefaultThermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// ThermalZone reads the temperature from a sysfs thermal zone file,
// which reports millidegrees Celsius as a bare integer.
type ThermalZone struct {
	Path string
}

func (z ThermalZone) Read(_ context.Context) (float64, error) {
	path := z.Path
	if path == "" {
		path = DefaultThermalZonePath
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read thermal zone: %w", err)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("unparsable thermal zone value %q: %w", strings.TrimSpace(string(b)), err)
	}
	return float64(milli) / 1000.0, nil
}

func (z ThermalZone) Describe() string { return "thermal_zone" }
