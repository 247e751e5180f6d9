// vidvault/extract/args.go
package extract

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Options that make yt-dlp execute commands or read argument lists from
// arbitrary files. Operator config is trusted less than the binary: a
// leaked config must not become code execution.
var forbiddenArgs = map[string]bool{
	"--exec":                 true,
	"--exec-before-download": true,
	"--batch-file":           true,
	"-a":                     true,
	"--config-location":      true,
	"--config-locations":     true,
}

// SplitExtraArgs splits an operator-supplied argument string without a
// shell and rejects options that would escape the extractor sandbox.
func SplitExtraArgs(raw string) ([]string, error) {
	args, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}

	for _, arg := range args {
		name := arg
		if i := strings.IndexByte(name, '='); i >= 0 {
			name = name[:i]
		}
		if forbiddenArgs[name] {
			return nil, fmt.Errorf("argument %q is not allowed", arg)
		}
		// exec.Command never invokes a shell, but metacharacters in
		// arguments are still a smell worth refusing outright.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return nil, fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return args, nil
}
