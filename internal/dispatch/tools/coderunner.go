package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/parley/internal/dispatch"
)

const codeRunTimeout = 60 * time.Second

// interpreters maps supported languages to how a source file is executed.
var interpreters = map[string]struct {
	file string
	cmd  []string
}{
	"python":     {file: "main.py", cmd: []string{"python3"}},
	"javascript": {file: "main.js", cmd: []string{"node"}},
	"ruby":       {file: "main.rb", cmd: []string{"ruby"}},
	"go":         {file: "main.go", cmd: []string{"go", "run"}},
	"bash":       {file: "main.sh", cmd: []string{"bash"}},
}

// CodeRunner executes snippets in a scratch directory with a hard timeout.
type CodeRunner struct {
	workRoot string
}

// NewCodeRunner creates a code runner using the system temp directory for
// scratch space.
func NewCodeRunner() *CodeRunner {
	return &CodeRunner{workRoot: os.TempDir()}
}

func (c *CodeRunner) Name() string        { return "execute_code" }
func (c *CodeRunner) Description() string { return "Execute code in a sandboxed environment" }
func (c *CodeRunner) Params() []dispatch.Param {
	return []dispatch.Param{
		{Name: "lang", Type: "string", Description: "The language of the code, one of ['python', 'javascript', 'go', 'ruby', 'bash']", Required: true},
		{Name: "code", Type: "string", Description: "The code to run in the sandboxed environment", Required: true},
		{Name: "libraries", Type: "string", Description: "Optional comma separated list of libraries to use", Required: false},
	}
}

func (c *CodeRunner) Invoke(ctx context.Context, args map[string]any) (string, error) {
	lang := strings.ToLower(dispatch.StringArg(args, "lang"))
	code := dispatch.StringArg(args, "code")
	if code == "" {
		return "", fmt.Errorf("code is required")
	}

	interp, ok := interpreters[lang]
	if !ok {
		return "", fmt.Errorf("unsupported language %q", lang)
	}

	if libs := dispatch.StringArg(args, "libraries"); libs != "" {
		slog.Debug("code runner ignoring library request", "libraries", libs)
	}

	dir, err := os.MkdirTemp(c.workRoot, "parley-run-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, interp.file)
	if err := os.WriteFile(srcPath, []byte(code), 0o600); err != nil {
		return "", fmt.Errorf("write source: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, codeRunTimeout)
	defer cancel()

	cmdArgs := append(append([]string{}, interp.cmd[1:]...), srcPath)
	cmd := exec.CommandContext(ctx, interp.cmd[0], cmdArgs...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("run failed: %w\nOutput: %s", err, string(output))
	}
	return string(output), nil
}
