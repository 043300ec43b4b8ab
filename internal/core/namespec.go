package core

import (
	"strings"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/models"
)

// IsSideloadSpec returns true if spec names a package archive rather than a
// package from a repository.
func IsSideloadSpec(spec string) bool {
	return strings.Contains(spec, ".apk")
}

// ParseNameSpec parses name(@tag)?(op version)?. Archive paths are rejected;
// they are resolved by Database.Add.
func ParseNameSpec(spec string) (models.Dependency, error) {
	if IsSideloadSpec(spec) {
		return models.Dependency{}, &apkerr.ParseError{Input: spec, Reason: "package archive path, not a name"}
	}
	d, err := models.ParseDependency(spec)
	if err != nil {
		return models.Dependency{}, &apkerr.ParseError{Input: spec, Reason: err.Error()}
	}
	return d, nil
}

// AllowNonRepositoryInstall reports whether a package that is not in any
// repository may be installed. Without the cache or a permanent root the
// package would be lost on the next boot.
func AllowNonRepositoryInstall(force, cacheActive, permanent bool) bool {
	return force || cacheActive || permanent
}

func nonRepositoryPolicyError(spec string) error {
	return &apkerr.PolicyError{
		Spec: spec,
		Reason: "you tried to add a non-repository package to the system, but it would be lost on next reboot; " +
			"enable package caching or use --force-non-repository if you know what you are doing",
	}
}
