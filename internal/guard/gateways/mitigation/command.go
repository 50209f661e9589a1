package mitigation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/haukened/callguard/internal/guard/domain"
)

// DefaultCommandTimeout bounds a termination command when none is configured.
const DefaultCommandTimeout = 5 * time.Second

// CommandStrategy ends a call by running an external command, e.g. a modem
// CLI hangup. The placeholders {number} and {session} in arguments are
// replaced, and the same values are exported as CALLGUARD_NUMBER and
// CALLGUARD_SESSION. A zero exit status confirms termination.
type CommandStrategy struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// ParseCommand splits a configured command line on whitespace.
func ParseCommand(line string, timeout time.Duration) (CommandStrategy, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return CommandStrategy{}, errors.New("empty mitigation command")
	}
	return CommandStrategy{Path: fields[0], Args: fields[1:], Timeout: timeout}, nil
}

func (c CommandStrategy) Name() string { return "command:" + c.Path }

func (c CommandStrategy) Terminate(ctx context.Context, s domain.CallSessionState) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := strings.NewReplacer("{number}", s.ActiveNumber, "{session}", s.SessionID.String())
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.WaitDelay = time.Second
	cmd.Env = append(os.Environ(),
		"CALLGUARD_NUMBER="+s.ActiveNumber,
		"CALLGUARD_SESSION="+s.SessionID.String(),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", c.Path, err, msg)
		}
		return fmt.Errorf("%s: %w", c.Path, err)
	}
	return nil
}
