package main

// Version and Build are overridden at link time:
//
//	go build -ldflags "-X main.Version=... -X main.Build=..."
var (
	Version = "0.1.0"
	Build   = "dev"
)
