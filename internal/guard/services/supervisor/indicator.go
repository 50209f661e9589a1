package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/haukened/callguard/internal/guard/common/clock"
)

// StatusFile is an Indicator that keeps a status file present while
// interception runs, for desktop widgets and shell prompts to pick up.
type StatusFile struct {
	Path  string
	Clock clock.Clock
}

func (f StatusFile) Show() error {
	if f.Path == "" {
		return nil
	}
	c := f.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	body := fmt.Sprintf("callguard interception active since %s\n", c.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(f.Path, []byte(body), 0o644)
}

func (f StatusFile) Hide() error {
	if f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
