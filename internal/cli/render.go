package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kumascript/internal/app"
	"kumascript/internal/render"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Env    []string
	Dir    string
	Strict bool
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <name> [args...]",
		Short: "Render one macro and print its output",
		Long: `Render one macro and print its output.

Environment values given with --env are decoded as JSON when they parse,
otherwise kept as strings.

Example:
  kumascript render Greeting World --env locale=fr --env 'tags=["CSS"]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts, args[0], args[1:])
		},
	}

	cmd.Flags().StringArrayVar(&opts.Env, "env", nil, "environment value as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "macro directory (overrides TEMPLATE_DIR)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when any error is recorded")

	return cmd
}

func runRender(cmd *cobra.Command, opts *RenderOptions, name string, rawArgs []string) error {
	if opts.Dir != "" {
		if err := os.Setenv("TEMPLATE_DIR", opts.Dir); err != nil {
			return WrapExitError(ExitCommandError, "invalid --dir", err)
		}
	}

	env, err := parseEnv(opts.Env)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --env", err)
	}

	cfg, err := app.Bootstrap()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	a, err := app.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "initialization failed", err)
	}
	defer a.Cleanup()

	args := make([]interface{}, len(rawArgs))
	for i, v := range rawArgs {
		args[i] = v
	}

	result, err := a.Renderer.Render(cmd.Context(), render.Request{Template: name, Args: args, Env: env})
	if err != nil {
		return WrapExitError(ExitFailure, "render failed", err)
	}

	strict := opts.Strict || cfg.StrictErrors
	if err := writeResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.Format, result, strict); err != nil {
		return err
	}
	if result.Failed(strict) {
		return NewExitError(ExitFailure, fmt.Sprintf("rendering %s failed with %d error(s)", name, len(result.Errors)))
	}
	return nil
}

func writeResult(out, errOut io.Writer, format string, result *render.Result, strict bool) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"output":     result.Output,
			"errors":     result.ErrorInfos(),
			"lineage_id": result.LineageID,
			"failed":     result.Failed(strict),
		})
	}

	fmt.Fprint(out, result.Output)
	if !strings.HasSuffix(result.Output, "\n") {
		fmt.Fprintln(out)
	}
	for _, info := range result.ErrorInfos() {
		location := info.Template
		if info.Location != "" {
			location = info.Location
		}
		fmt.Fprintf(errOut, "error: %s: %s (%s)\n", location, info.Message, info.Type)
	}
	return nil
}

// parseEnv turns key=value pairs into an environment map
func parseEnv(pairs []string) (map[string]interface{}, error) {
	env := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			env[key] = decoded
		} else {
			env[key] = value
		}
	}
	return env, nil
}
