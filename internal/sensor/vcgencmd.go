package sensor

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// vcgencmd measure_temp prints a single line like "temp=54.0'C".
const vcgencmdTimeout = 5 * time.Second

// VCGenCmd reads the SoC temperature via the Broadcom vcgencmd tool.
// Binary may be an absolute path; empty means look up "vcgencmd" in PATH.
type VCGenCmd struct {
	Binary string
}

func (v VCGenCmd) Read(ctx context.Context) (float64, error) {
	bin := v.Binary
	if bin == "" {
		bin = "vcgencmd"
	}
	cctx, cancel := context.WithTimeout(ctx, vcgencmdTimeout)
	defer cancel()
	// #nosec G204 -- fixed tool name plus fixed argument
	out, err := exec.CommandContext(cctx, bin, "measure_temp").Output()
	if err != nil {
		return 0, fmt.Errorf("vcgencmd measure_temp: %w", err)
	}
	return parseVCGenCmd(string(out))
}

func (v VCGenCmd) Describe() string { return "vcgencmd" }

func parseVCGenCmd(out string) (float64, error) {
	s := strings.TrimSpace(out)
	_, after, found := strings.Cut(s, "=")
	if !found {
		return 0, fmt.Errorf("unexpected vcgencmd output %q", s)
	}
	after = strings.TrimSuffix(after, "'C")
	t, err := strconv.ParseFloat(strings.TrimSpace(after), 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable vcgencmd temperature %q: %w", s, err)
	}
	return t, nil
}
