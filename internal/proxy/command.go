package proxy

import (
	"context"
	"errors"

	"github.com/shinji-kodama/webdeploy/internal/runner"
)

// Default host commands for an nginx managed by systemd.
var (
	DefaultValidateCommand = []string{"nginx", "-t"}
	DefaultReloadCommand   = []string{"systemctl", "reload", "nginx"}
)

// CommandController validates and reloads by running host commands.
type CommandController struct {
	run      runner.Runner
	validate []string
	reload   []string
}

// NewCommandController creates a controller. Empty argv slices fall back
// to the nginx/systemd defaults.
func NewCommandController(r runner.Runner, validate, reload []string) *CommandController {
	if len(validate) == 0 {
		validate = DefaultValidateCommand
	}
	if len(reload) == 0 {
		reload = DefaultReloadCommand
	}
	return &CommandController{run: r, validate: validate, reload: reload}
}

// Validate runs the validate command; a non-zero exit is a validation failure.
func (c *CommandController) Validate(ctx context.Context) error {
	return c.exec(ctx, c.validate)
}

// Reload runs the reload command.
func (c *CommandController) Reload(ctx context.Context) error {
	return c.exec(ctx, c.reload)
}

func (c *CommandController) exec(ctx context.Context, argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return errors.New("empty proxy command")
	}
	_, err := c.run.Run(ctx, "", argv[0], argv[1:]...)
	return err
}
