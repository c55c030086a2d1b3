// Package kernel extracts kernel build metadata (vermagic and package
// architecture) from the package listings of a subtarget.
//
// Only the first kernel package that matches the naming scheme is used. A
// subtarget that publishes several kernel packages (multi-arch layouts) may
// therefore report a package that is not representative of all of them.
package kernel

import (
	"fmt"
	"regexp"
)

// filenamePattern decomposes e.g. kernel_5.15.150-1~9f3a2b1c-r1_aarch64_cortex-a53.ipk.
var filenamePattern = regexp.MustCompile(
	`^kernel_\d+\.\d+\.\d+(?:-\d+)?[-~]([a-f0-9]+)(?:-r\d+)?_([a-zA-Z0-9_-]+)\.ipk$`,
)

// Info is the kernel metadata of one subtarget. Nil fields mean no matching
// kernel package was found.
type Info struct {
	Vermagic *string
	Pkgarch  *string
	// Package is the filename the fields were taken from.
	Package string
}

// Found reports whether both fields were populated.
func (i Info) Found() bool {
	return i.Vermagic != nil && i.Pkgarch != nil
}

// Extractor pulls kernel metadata out of a package listing page.
type Extractor interface {
	Extract(page string) Info
}

// ParseFilename decomposes a kernel package filename. It returns false when
// the name does not follow the kernel package naming scheme.
func ParseFilename(name string) (Info, bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return Info{}, false
	}
	vermagic, pkgarch := m[1], m[2]
	return Info{Vermagic: &vermagic, Pkgarch: &pkgarch, Package: name}, true
}

// New returns the extractor registered under name: "regex" (the default when
// name is empty) or "html".
func New(name string) (Extractor, error) {
	switch name {
	case "", "regex":
		return NewRegexExtractor(), nil
	case "html":
		return NewDocumentExtractor(), nil
	default:
		return nil, fmt.Errorf("unknown kernel extractor %q", name)
	}
}

func firstMatch(candidates []string) Info {
	for _, name := range candidates {
		if info, ok := ParseFilename(name); ok {
			return info
		}
	}
	return Info{}
}
