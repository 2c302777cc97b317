// Package depcheck decides whether the system packages a descriptor lists
// are present and what to do about the missing ones.
package depcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/general/slice"
	"github.com/open-edge-platform/retros/internal/utils/logger"
	"github.com/open-edge-platform/retros/internal/utils/shell"
	"github.com/open-edge-platform/retros/internal/utils/system"
)

const (
	PlaceholderName = "placeholder"
	HostName        = "host"
)

// ErrDependenciesMissing is returned by managers that cannot install what
// Check reported.
var ErrDependenciesMissing = errors.New("missing system dependencies")

// ManualNotice is printed whenever installation is left to the user.
const ManualNotice = "Dependency installation is currently a placeholder. Please install dependencies manually if needed."

// Manager checks and installs system dependencies.
type Manager interface {
	// Name is the unique ID the manager is registered under.
	Name() string

	// Check returns the subset of deps that is not installed, in order.
	Check(ctx context.Context, deps []string) ([]string, error)

	// Install makes deps available or returns an error.
	Install(ctx context.Context, deps []string) error
}

// Factory creates a Manager running tools through exec and printing user
// facing notices to out.
type Factory func(exec shell.Executor, out io.Writer) Manager

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

func init() {
	Register(PlaceholderName, func(_ shell.Executor, out io.Writer) Manager {
		return &Placeholder{Out: out}
	})
	Register(HostName, func(exec shell.Executor, out io.Writer) Manager {
		return &Host{Exec: exec, Out: out}
	})
}

// Register makes a Factory available under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Get returns the Factory registered under name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Names lists the registered managers.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the manager registered under name.
func New(name string, exec shell.Executor, out io.Writer) (Manager, error) {
	f, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown dependency manager %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(exec, out), nil
}

func writer(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

// Placeholder reports nothing missing and prints the manual notice when
// asked to install.
type Placeholder struct {
	Out io.Writer
}

func (p *Placeholder) Name() string { return PlaceholderName }

func (p *Placeholder) Check(ctx context.Context, deps []string) ([]string, error) {
	logger.Logger().Debugf("Skipping dependency check for %v", deps)
	return nil, nil
}

func (p *Placeholder) Install(ctx context.Context, deps []string) error {
	fmt.Fprintln(writer(p.Out), ManualNotice)
	return nil
}

// Host queries the package manager of the running distribution.
type Host struct {
	Exec shell.Executor
	Out  io.Writer
	// Detect overrides distribution detection.
	Detect func() (*system.OsDistribution, error)
}

func (h *Host) Name() string { return HostName }

func (h *Host) executor() shell.Executor {
	if h.Exec != nil {
		return h.Exec
	}
	return shell.Default
}

// manager returns the first package manager of the host whose query tool
// is installed.
func (h *Host) manager() (string, error) {
	log := logger.Logger()
	exec := h.executor()

	detect := h.Detect
	if detect == nil {
		detect = func() (*system.OsDistribution, error) { return system.DetectOsDistribution(exec) }
	}
	dist, err := detect()
	if err != nil {
		return "", fmt.Errorf("failed to detect host distribution: %w", err)
	}
	for _, m := range dist.PackageManagers {
		tool, _, err := system.PackageQuery(m, "")
		if err != nil {
			continue
		}
		if _, err := exec.LookPath(tool); err != nil {
			log.Debugf("Skipping package manager %s: %v", m, err)
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("no package query tool found for %v on %s: %w", dist.PackageManagers, dist.Name, errkind.ErrToolMissing)
}

func (h *Host) Check(ctx context.Context, deps []string) ([]string, error) {
	log := logger.Logger()

	deps = slice.Dedup(deps)
	if len(deps) == 0 {
		return nil, nil
	}
	manager, err := h.manager()
	if err != nil {
		return nil, err
	}

	exec := h.executor()

	var missing []string
	for _, d := range deps {
		ok, err := system.IsPackageInstalled(ctx, exec, manager, d)
		if err != nil {
			return nil, err
		}
		log.Debugf("Dependency %s installed: %v (%s)", d, ok, manager)
		if !ok {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

func (h *Host) Install(ctx context.Context, deps []string) error {
	out := writer(h.Out)
	fmt.Fprintln(out, ManualNotice)
	fmt.Fprintf(out, "Missing packages: %s\n", strings.Join(deps, " "))
	return fmt.Errorf("%w: %s", ErrDependenciesMissing, strings.Join(deps, ", "))
}
