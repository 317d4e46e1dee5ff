package app

import "runtime"

// Version and BuiltAt are stamped at link time, e.g.
//
//	go build -ldflags "-X github.com/large-farva/poise/internal/app.Version=v0.3.0 \
//	  -X github.com/large-farva/poise/internal/app.BuiltAt=$(date -u +%FT%TZ)" ./cmd/poised
var (
	Version = "dev"
	BuiltAt = "unknown"
)

// GoVersion is the toolchain the daemon was built with.
var GoVersion = runtime.Version()
