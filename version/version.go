// Package version carries the build version and the client/server compatibility rule.
package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is overridden at build time with -ldflags "-X github.com/wvhulle/ferrous-owl/version.Version=..."
var Version = "0.3.0"

// Name identifies the server in initialize responses
const Name = "ferrous-owl"

// Canonical returns v in the "vMAJOR.MINOR.PATCH" form, or "" if v is not a semantic version
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// Compatible reports whether a client at version client can drive a server at version server:
// both must be valid and share the major version (the minor version too while the major is 0)
func Compatible(client, server string) bool {
	c, s := Canonical(client), Canonical(server)
	if c == "" || s == "" {
		return false
	}
	if semver.Major(c) != semver.Major(s) {
		return false
	}
	if semver.Major(c) == "v0" {
		return semver.MajorMinor(c) == semver.MajorMinor(s)
	}
	return true
}
