// Package executor performs resolved intents on the local machine.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Commander runs host programs. Run waits for the program; Start detaches it.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	Start(name string, args ...string) error
}

type execCommander struct{}

func (execCommander) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

func (execCommander) Start(name string, args ...string) error {
	c := exec.Command(name, args...)
	if err := c.Start(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return c.Process.Release()
}

// Options configures a LocalExecutor. Zero values pick the host defaults.
type Options struct {
	GOOS          string
	ScreenshotDir string
	DryRun        bool
	Commander     Commander
	Now           func() time.Time
}

// LocalExecutor maps intents onto host commands.
type LocalExecutor struct {
	goos          string
	screenshotDir string
	dryRun        bool
	cmd           Commander
	now           func() time.Time
}

// NewLocalExecutor builds an executor for the current host.
func NewLocalExecutor(opts Options) *LocalExecutor {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.Commander == nil {
		opts.Commander = execCommander{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ScreenshotDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.ScreenshotDir = filepath.Join(home, "Pictures")
		} else {
			opts.ScreenshotDir = os.TempDir()
		}
	}
	return &LocalExecutor{
		goos:          opts.GOOS,
		screenshotDir: opts.ScreenshotDir,
		dryRun:        opts.DryRun,
		cmd:           opts.Commander,
		now:           opts.Now,
	}
}

// Execute implements ports.Executor.
func (e *LocalExecutor) Execute(ctx context.Context, intent domain.Intent) (domain.ExecutionOutcome, error) {
	start := e.now()
	if e.dryRun {
		return domain.ExecutionOutcome{
			Success: true,
			DryRun:  true,
			Detail:  "would " + describe(intent),
		}, nil
	}

	var (
		out domain.ExecutionOutcome
		err error
	)
	switch intent.Action {
	case domain.ActionLaunch:
		out, err = e.launch(intent.Target)
	case domain.ActionClose:
		out, err = e.closeTarget(ctx, intent.Target)
	case domain.ActionSearch:
		out = search(intent.Target)
	case domain.ActionScreenshot:
		out, err = e.screenshot(ctx)
	case domain.ActionSystemInfo:
		out = systemInfo(e.goos)
	case domain.ActionCustom:
		out = domain.ExecutionOutcome{Success: true, Detail: intent.Parameters["reply"]}
	default:
		err = fmt.Errorf("cannot execute %q", intent.Action)
	}
	out.Duration = e.now().Sub(start)
	if err != nil {
		out.Success = false
		if out.Detail == "" {
			out.Detail = err.Error()
		}
	}
	return out, err
}

func describe(intent domain.Intent) string {
	label := intent.Target.Label()
	if label == "" {
		return string(intent.Action)
	}
	return string(intent.Action) + " " + label
}

func (e *LocalExecutor) launch(target domain.TargetRef) (domain.ExecutionOutcome, error) {
	if !target.Resolved {
		return domain.ExecutionOutcome{}, fmt.Errorf("no target to launch for %q", target.Query)
	}
	name, args := e.launchCommand(target)
	if err := e.cmd.Start(name, args...); err != nil {
		return domain.ExecutionOutcome{}, err
	}
	return domain.ExecutionOutcome{Success: true, Detail: "opened " + target.Name}, nil
}

func (e *LocalExecutor) launchCommand(target domain.TargetRef) (string, []string) {
	if target.Path == "" && len(target.Command) > 0 {
		return target.Command[0], target.Command[1:]
	}
	switch e.goos {
	case "darwin":
		if target.Kind == domain.KindApplication && target.Path == "" {
			return "open", []string{"-a", target.Name}
		}
		return "open", []string{pathOrName(target)}
	case "windows":
		return "cmd", []string{"/c", "start", "", pathOrName(target)}
	default:
		if target.Kind == domain.KindApplication {
			if strings.HasSuffix(target.Path, ".desktop") {
				return "gtk-launch", []string{strings.TrimSuffix(filepath.Base(target.Path), ".desktop")}
			}
			if target.Path == "" {
				return processName(target), nil
			}
			if info, err := os.Stat(target.Path); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
				return target.Path, nil
			}
		}
		return "xdg-open", []string{pathOrName(target)}
	}
}

func (e *LocalExecutor) closeTarget(ctx context.Context, target domain.TargetRef) (domain.ExecutionOutcome, error) {
	if !target.Resolved {
		return domain.ExecutionOutcome{}, fmt.Errorf("no target to close for %q", target.Query)
	}
	proc := processName(target)
	var err error
	switch e.goos {
	case "windows":
		_, err = e.cmd.Run(ctx, "taskkill", "/IM", proc+".exe", "/F")
	case "linux":
		_, err = e.cmd.Run(ctx, "pkill", "-i", "-x", commName(proc))
	default:
		_, err = e.cmd.Run(ctx, "pkill", "-i", "-x", proc)
	}
	if err != nil {
		return domain.ExecutionOutcome{Detail: target.Name + " is not running"}, err
	}
	return domain.ExecutionOutcome{Success: true, Detail: "closed " + target.Name}, nil
}

func search(target domain.TargetRef) domain.ExecutionOutcome {
	if !target.Resolved {
		return domain.ExecutionOutcome{Detail: fmt.Sprintf("nothing found for %q", target.Query)}
	}
	location := target.Path
	if location == "" {
		location = "the catalog"
	}
	return domain.ExecutionOutcome{
		Success: true,
		Detail:  fmt.Sprintf("found %s in %s", target.Name, location),
		Output:  target.Path,
	}
}

func (e *LocalExecutor) screenshot(ctx context.Context) (domain.ExecutionOutcome, error) {
	if err := os.MkdirAll(e.screenshotDir, domain.DirectoryPermissions); err != nil {
		return domain.ExecutionOutcome{}, err
	}
	file := filepath.Join(e.screenshotDir, "screenshot-"+e.now().Format("20060102-150405")+".png")

	var tries [][]string
	switch e.goos {
	case "darwin":
		tries = [][]string{{"screencapture", "-x", file}}
	case "windows":
		return domain.ExecutionOutcome{}, errors.New("screenshots are not supported on windows")
	default:
		tries = [][]string{
			{"gnome-screenshot", "-f", file},
			{"scrot", file},
			{"import", "-window", "root", file},
		}
	}
	var errs []error
	for _, t := range tries {
		if _, err := e.cmd.Run(ctx, t[0], t[1:]...); err != nil {
			errs = append(errs, err)
			continue
		}
		return domain.ExecutionOutcome{Success: true, Detail: "saved screenshot to " + file, Output: file}, nil
	}
	return domain.ExecutionOutcome{}, fmt.Errorf("no screenshot tool worked: %w", errors.Join(errs...))
}

func systemInfo(goos string) domain.ExecutionOutcome {
	host, _ := os.Hostname()
	var b strings.Builder
	fmt.Fprintf(&b, "host: %s\n", host)
	fmt.Fprintf(&b, "os: %s/%s\n", goos, runtime.GOARCH)
	fmt.Fprintf(&b, "cpus: %d\n", runtime.NumCPU())
	if goos == "linux" {
		if load, err := os.ReadFile("/proc/loadavg"); err == nil {
			fields := strings.Fields(string(load))
			if len(fields) >= 3 {
				fmt.Fprintf(&b, "load: %s %s %s\n", fields[0], fields[1], fields[2])
			}
		}
		if mem := memAvailable(); mem != "" {
			fmt.Fprintf(&b, "memory available: %s\n", mem)
		}
	}
	return domain.ExecutionOutcome{Success: true, Detail: "system summary", Output: strings.TrimSpace(b.String())}
}

func memAvailable() string {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemAvailable:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "MemAvailable:"))
		}
	}
	return ""
}

func pathOrName(target domain.TargetRef) string {
	if target.Path != "" {
		return target.Path
	}
	return target.Name
}

// processName guesses the process to signal: the executable's base name when
// the catalog knows a path or launch command, otherwise the lowercased
// canonical name.
func processName(target domain.TargetRef) string {
	if target.Path != "" && !strings.HasSuffix(target.Path, ".desktop") {
		base := filepath.Base(target.Path)
		base = strings.TrimSuffix(base, ".app")
		return strings.TrimSuffix(base, ".exe")
	}
	if prog := commandProgram(target.Command); prog != "" {
		return prog
	}
	return strings.ToLower(strings.ReplaceAll(target.Name, " ", "-"))
}

// commandProgram names the program a launch command ends up running. Launchers
// that hand off to something else yield "" unless the handoff names an app.
func commandProgram(command []string) string {
	if len(command) == 0 {
		return ""
	}
	prog := filepath.Base(command[0])
	switch prog {
	case "open":
		if len(command) >= 3 && command[1] == "-a" {
			return strings.TrimSuffix(filepath.Base(command[2]), ".app")
		}
		return ""
	case "cmd":
		last := command[len(command)-1]
		if len(command) < 2 || strings.Contains(last, ":") {
			return ""
		}
		return strings.TrimSuffix(last, ".exe")
	case "xdg-open", "gtk-launch", "env", "flatpak", "snap", "sh", "bash":
		return ""
	}
	return strings.TrimSuffix(prog, ".exe")
}

// commName trims to the 15 bytes Linux keeps as a process name; pkill -x
// compares against that.
func commName(name string) string {
	if len(name) > 15 {
		return name[:15]
	}
	return name
}

var _ ports.Executor = (*LocalExecutor)(nil)
