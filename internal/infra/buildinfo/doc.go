// Package buildinfo exposes colod build information.
//
// Version, Commit and BuildTime are injected with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/colo-go/internal/infra/buildinfo.Version=v0.3.0" ./cmd/colod
//
// When Commit is not injected it is taken from the VCS stamp the Go
// toolchain embeds, if any.
package buildinfo
