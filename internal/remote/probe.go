package remote

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// versionProbeCommand asks the remote interpreter for its runtime version
// environment variable. The remote side prints "None" when unset.
const versionProbeCommand = `import os
print(os.environ.get("RUNTIME_VERSION"))`

// noneSentinel is printed by the remote interpreter for an unset variable.
const noneSentinel = "None"

// ProbeRuntimeVersion queries the session for the remote runtime's major
// version, parsed from the leading dot-delimited component. It returns
// ok=false when the version cannot be determined; probing failure is
// always absorbed here, never surfaced as an error.
func ProbeRuntimeVersion(ctx context.Context, s Session, log *slog.Logger) (int, bool) {
	if log == nil {
		log = slog.Default()
	}

	raw, err := s.ExecuteCommand(ctx, versionProbeCommand, false)
	if err != nil {
		log.Warn("Cannot identify the runtime version, package may not be updated", "error", err)
		return 0, false
	}

	cleaned := strings.TrimSpace(raw)
	if cleaned == "" || cleaned == noneSentinel {
		return 0, false
	}

	major, err := strconv.Atoi(strings.Split(cleaned, ".")[0])
	if err != nil {
		log.Warn("Cannot identify the runtime version, package may not be updated", "value", cleaned)
		return 0, false
	}
	return major, true
}
