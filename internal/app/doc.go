// Package app contains the core application logic. It defines the App
// struct, its configuration and the load, plan and run lifecycle, decoupled
// from any specific entrypoint like a CLI.
package app
