// Package zapsplit_lol holds the identity of the zapsplit build.
package zapsplit_lol

import (
	_ "embed"
	"strings"
)

//go:embed version
var version string

// Version is the release tag of this build.
var Version = strings.TrimSpace(version)

const (
	URL         = "https://zapsplit.lol"
	Description = "split lightning zaps between creators and the platform over nostr wallet connect"
)
