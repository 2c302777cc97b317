// Package system answers questions about the host distribution that the
// host dependency manager needs: which package manager owns the system and
// whether a given package is installed under it.
package system

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/logger"
	"github.com/open-edge-platform/retros/internal/utils/shell"
)

var OsReleaseFile = "/etc/os-release"

// OsDistribution contains information about the Linux OS distribution
type OsDistribution struct {
	Name            string   // e.g. "Ubuntu", "SteamOS"
	Version         string   // e.g. "22.04"
	ID              string   // lower-case ID, e.g. "ubuntu"
	IDLike          []string // e.g. ["debian"]
	PackageTypes    []string // e.g. ["deb"]
	PackageManagers []string // preferred first, e.g. ["apt", "dpkg"]
}

// family groups distribution IDs sharing a packaging stack.
type family struct {
	ids      []string
	types    []string
	managers []string
}

var families = []family{
	{[]string{"ubuntu", "debian", "linuxmint", "pop", "elementary", "kali", "raspbian", "elxr"}, []string{"deb"}, []string{"apt", "dpkg"}},
	{[]string{"fedora", "rhel", "centos", "rocky", "almalinux", "scientific", "oracle"}, []string{"rpm"}, []string{"dnf", "yum", "rpm"}},
	{[]string{"opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles", "sle", "suse"}, []string{"rpm"}, []string{"zypper", "rpm"}},
	{[]string{"arch", "manjaro", "endeavouros", "steamos"}, []string{"pkg.tar.zst", "pkg.tar.xz"}, []string{"pacman"}},
	{[]string{"alpine"}, []string{"apk"}, []string{"apk"}},
	{[]string{"gentoo", "funtoo"}, []string{"tbz2"}, []string{"emerge", "portage"}},
	{[]string{"mariner", "azurelinux"}, []string{"rpm"}, []string{"tdnf", "rpm"}},
}

// fallbacks are tried in order when os-release names no known family.
var fallbacks = []family{
	{[]string{"apt"}, []string{"deb"}, []string{"apt"}},
	{[]string{"dpkg"}, []string{"deb"}, []string{"dpkg"}},
	{[]string{"dnf"}, []string{"rpm"}, []string{"dnf"}},
	{[]string{"tdnf"}, []string{"rpm"}, []string{"tdnf"}},
	{[]string{"yum"}, []string{"rpm"}, []string{"yum"}},
	{[]string{"rpm"}, []string{"rpm"}, []string{"rpm"}},
	{[]string{"zypper"}, []string{"rpm"}, []string{"zypper"}},
	{[]string{"pacman"}, []string{"pkg.tar.zst"}, []string{"pacman"}},
	{[]string{"apk"}, []string{"apk"}, []string{"apk"}},
}

// DetectOsDistribution reads OsReleaseFile and resolves the package
// manager from ID, then ID_LIKE, then the commands exec finds on PATH. A nil
// exec means shell.Default.
func DetectOsDistribution(exec shell.Executor) (*OsDistribution, error) {
	log := logger.Logger()

	f, err := os.Open(OsReleaseFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file %s not found: %w", OsReleaseFile, errkind.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", OsReleaseFile, err)
	}
	defer f.Close()

	dist, err := parseOsRelease(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", OsReleaseFile, err)
	}

	if fam, ok := lookupFamily(append([]string{dist.ID}, dist.IDLike...)); ok {
		dist.PackageTypes, dist.PackageManagers = fam.types, fam.managers
	} else if fam, ok := familyFromCommands(exec); ok {
		dist.PackageTypes, dist.PackageManagers = fam.types, fam.managers
	} else {
		log.Warnf("Could not determine package type for distribution: %s (ID: %s)", dist.Name, dist.ID)
	}

	log.Debugf("Detected %s %s (ID: %s, package managers: %v)", dist.Name, dist.Version, dist.ID, dist.PackageManagers)
	return dist, nil
}

func parseOsRelease(r io.Reader) (*OsDistribution, error) {
	dist := &OsDistribution{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.TrimSpace(key) {
		case "NAME":
			dist.Name = value
		case "VERSION_ID":
			dist.Version = value
		case "ID":
			dist.ID = strings.ToLower(value)
		case "ID_LIKE":
			dist.IDLike = strings.Fields(strings.ToLower(value))
		}
	}
	return dist, scanner.Err()
}

// lookupFamily returns the family of the first ID that has one.
func lookupFamily(ids []string) (family, bool) {
	for _, id := range ids {
		for _, fam := range families {
			if slices.Contains(fam.ids, strings.ToLower(id)) {
				return fam, true
			}
		}
	}
	return family{}, false
}

func familyFromCommands(exec shell.Executor) (family, bool) {
	if exec == nil {
		exec = shell.Default
	}
	for _, p := range fallbacks {
		if _, err := exec.LookPath(p.ids[0]); err == nil {
			return p, true
		}
	}
	return family{}, false
}

// PackageQuery returns the command that exits zero when pkg is installed
// under the given package manager.
func PackageQuery(manager, pkg string) (string, []string, error) {
	switch manager {
	case "apt", "dpkg":
		return "dpkg-query", []string{"-W", pkg}, nil
	case "dnf", "yum", "tdnf", "zypper", "rpm":
		return "rpm", []string{"-q", pkg}, nil
	case "pacman":
		return "pacman", []string{"-Q", pkg}, nil
	case "apk":
		return "apk", []string{"info", "-e", pkg}, nil
	default:
		return "", nil, fmt.Errorf("unsupported package manager: %q", manager)
	}
}

// IsPackageInstalled runs the query for pkg. A query that runs and exits
// non-zero means the package is absent; a missing query tool is an error.
func IsPackageInstalled(ctx context.Context, exec shell.Executor, manager, pkg string) (bool, error) {
	name, args, err := PackageQuery(manager, pkg)
	if err != nil {
		return false, err
	}
	if exec == nil {
		exec = shell.Default
	}

	_, err = exec.Run(ctx, name, args...)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errkind.ErrToolFailed):
		return false, nil
	default:
		return false, fmt.Errorf("failed to query package %s: %w", pkg, err)
	}
}
