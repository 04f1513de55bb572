// Package prefetch installs the packages that stdio servers launch through
// package runners (npx, pnpm dlx, uvx, uv), so the first connection does not
// pay for the download.
//
// Package names come from configuration files, which may be remote. Every
// name is checked against a strict allow-list before it reaches an argument
// vector, and commands are executed directly, never through a shell.
package prefetch

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
)

// Manager is the package manager that performs the install.
type Manager string

const (
	ManagerNPM  Manager = "npm"
	ManagerPNPM Manager = "pnpm"
	ManagerUV   Manager = "uv"
)

// PackageRef is one install to perform.
type PackageRef struct {
	ServerName     string   `json:"server"`
	Manager        Manager  `json:"manager"`
	Package        string   `json:"package"`
	InstallCommand []string `json:"installCommand"`
}

// Rejection records a package name that failed validation.
type Rejection struct {
	ServerName string        `json:"server"`
	Value      string        `json:"value"`
	Err        *mcperr.Error `json:"error"`
}

var validPackage = regexp.MustCompile(
	`^(@[A-Za-z0-9][A-Za-z0-9._-]*/)?` + // npm scope
		`[A-Za-z0-9][A-Za-z0-9._-]*` + // name
		`(\[[A-Za-z0-9._-]+(,[A-Za-z0-9._-]+)*\])?` + // python extras
		`((@|==)[A-Za-z0-9^~][A-Za-z0-9.+_-]*)?$`, // version
)

// ValidatePackage checks name against the allow-list.
func ValidatePackage(name string) error {
	if validPackage.MatchString(name) {
		return nil
	}
	return mcperr.New(mcperr.KindInvalidPackageName, "package name %q is not allowed", name)
}

// runner describes how one launcher encodes its package argument.
type runner struct {
	manager Manager
	// packageFlags name the flags whose value is the package.
	packageFlags []string
	// valueFlags take a value that is not the package.
	valueFlags []string
}

var (
	npxRunner = runner{
		manager:      ManagerNPM,
		packageFlags: []string{"--package", "-p"},
		valueFlags:   []string{"--cache", "--registry", "--userconfig", "-c", "--call"},
	}
	pnpmDlxRunner = runner{
		manager:      ManagerPNPM,
		packageFlags: []string{"--package", "-p"},
		valueFlags:   []string{"--dir", "-C", "--reporter"},
	}
	uvxRunner = runner{
		manager:      ManagerUV,
		packageFlags: []string{"--from"},
		valueFlags:   []string{"--python", "--with", "--index-url", "--extra-index-url", "--index", "--cache-dir", "--directory"},
	}
)

// Extract finds the packages behind the enabled stdio servers of cfg. Servers
// launched by anything other than a known runner are ignored; names that fail
// validation are returned as rejections and never become commands.
func Extract(cfg *mcpconfig.Resolved) ([]PackageRef, []Rejection) {
	var (
		refs     []PackageRef
		rejected []Rejection
	)
	for _, name := range cfg.Enabled() {
		spec := cfg.Servers[name]
		if spec.Transport != mcpconfig.TransportStdio {
			continue
		}
		mgr, pkg, ok := packageFor(spec.Command, spec.Args)
		if !ok {
			continue
		}
		if err := ValidatePackage(pkg); err != nil {
			rejected = append(rejected, Rejection{
				ServerName: name,
				Value:      pkg,
				Err:        mcperr.From(err, mcperr.KindInvalidPackageName).WithServer(name),
			})
			continue
		}
		refs = append(refs, PackageRef{
			ServerName:     name,
			Manager:        mgr,
			Package:        pkg,
			InstallCommand: installCommand(mgr, pkg),
		})
	}
	return refs, rejected
}

func installCommand(mgr Manager, pkg string) []string {
	switch mgr {
	case ManagerPNPM:
		return []string{"pnpm", "add", "-g", pkg}
	case ManagerUV:
		return []string{"uv", "tool", "install", pkg}
	default:
		return []string{"npm", "install", "-g", pkg}
	}
}

func commandName(command string) string {
	base := strings.ToLower(filepath.Base(command))
	for _, ext := range []string{".exe", ".cmd", ".bat"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// packageFor recognizes the launcher and returns the package it would run.
func packageFor(command string, args []string) (Manager, string, bool) {
	switch commandName(command) {
	case "npx":
		return npxRunner.find(args)
	case "pnpx":
		return pnpmDlxRunner.find(args)
	case "pnpm":
		if len(args) > 0 && args[0] == "dlx" {
			return pnpmDlxRunner.find(args[1:])
		}
	case "uvx":
		return uvxRunner.find(args)
	case "uv":
		switch {
		case len(args) > 1 && args[0] == "tool" && args[1] == "run":
			return uvxRunner.find(args[2:])
		case len(args) > 0 && args[0] == "run":
			if pkg, ok := flagValue(args[1:], "--with"); ok {
				return ManagerUV, pkg, true
			}
		}
	}
	return "", "", false
}

func (r runner) find(args []string) (Manager, string, bool) {
	for _, flag := range r.packageFlags {
		if pkg, ok := flagValue(args, flag); ok {
			return r.manager, pkg, true
		}
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			if i+1 < len(args) {
				return r.manager, args[i+1], true
			}
			break
		}
		if !strings.HasPrefix(a, "-") {
			return r.manager, a, true
		}
		if !strings.Contains(a, "=") && slices.Contains(r.valueFlags, a) {
			i++
		}
	}
	return "", "", false
}

// flagValue finds "--flag=value" or "--flag value".
func flagValue(args []string, flag string) (string, bool) {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, flag+"="); ok {
			return v, true
		}
		if a == flag && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}
