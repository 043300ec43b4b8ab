package models

import (
	"fmt"
	"time"

	packageurl "github.com/package-url/packageurl-go"
)

// Package is a concrete package version, either available from a repository
// index or recorded as installed. Packages are treated as immutable once built.
type Package struct {
	Name             string       `json:"name"`
	Version          string       `json:"version"`
	Arch             string       `json:"arch,omitempty"`
	License          string       `json:"license,omitempty"`
	Origin           string       `json:"origin,omitempty"`
	Maintainer       string       `json:"maintainer,omitempty"`
	URL              string       `json:"url,omitempty"`
	Description      string       `json:"description,omitempty"`
	Commit           string       `json:"commit,omitempty"`
	Filename         string       `json:"filename,omitempty"`
	Checksum         string       `json:"checksum,omitempty"`
	BuildTime        time.Time    `json:"build_time"`
	InstalledSize    uint64       `json:"installed_size"`
	Size             uint64       `json:"size"`
	ProviderPriority int          `json:"provider_priority,omitempty"`
	Provides         []Dependency `json:"provides,omitempty"`
	Depends          []Dependency `json:"depends,omitempty"`
	Repo             int          `json:"repo"` // index slot the package was loaded from
}

// ID returns the identity of the package: name-version.arch
func (p *Package) ID() string {
	if p.Arch == "" {
		return p.Name + "-" + p.Version
	}
	return p.Name + "-" + p.Version + "." + p.Arch
}

// ArchiveName returns the file name of the package archive in a repository
func (p *Package) ArchiveName() string {
	if p.Filename != "" {
		return p.Filename
	}
	return fmt.Sprintf("%s-%s.apk", p.Name, p.Version)
}

// ProvidedVersion returns the version under which the package provides name.
// ok is false if the package does not provide name at all.
func (p *Package) ProvidedVersion(name string) (version string, ok bool) {
	if p.Name == name {
		return p.Version, true
	}
	for _, prov := range p.Provides {
		if prov.Name == name {
			return prov.Version, true
		}
	}
	return "", false
}

// PURL returns the package URL of the package, e.g. pkg:apk/alpine/curl@8.5.0-r0?arch=x86_64
func (p *Package) PURL() string {
	var qualifiers packageurl.Qualifiers
	if p.Arch != "" {
		qualifiers = append(qualifiers, packageurl.Qualifier{Key: "arch", Value: p.Arch})
	}
	if p.Origin != "" && p.Origin != p.Name {
		qualifiers = append(qualifiers, packageurl.Qualifier{Key: "origin", Value: p.Origin})
	}
	purl := packageurl.NewPackageURL(packageurl.TypeApk, "alpine", p.Name, p.Version, qualifiers, "")
	return purl.ToString()
}
