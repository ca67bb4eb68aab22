package dispatch

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// ExecRunner runs child work as an external command: the configured
// program gets the child name appended as its last argument and the
// collected inputs injected into the environment as RECURD_IN_<FIELD>.
type ExecRunner struct {
	Command string
	Args    []string
}

func NewExecRunner(command string, args ...string) *ExecRunner {
	return &ExecRunner{Command: command, Args: args}
}

func (r *ExecRunner) Run(ctx context.Context, name string, inputs map[string]string) error {
	if strings.TrimSpace(r.Command) == "" {
		return errors.New("exec runner: no command configured")
	}
	args := append(append([]string(nil), r.Args...), name)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Env = append(os.Environ(), inputEnv(inputs)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "exec %s", r.Command)
	}
	return nil
}

func inputEnv(inputs map[string]string) []string {
	env := make([]string, 0, len(inputs))
	for k, v := range inputs {
		key := "RECURD_IN_" + strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
		env = append(env, key+"="+v)
	}
	return env
}
