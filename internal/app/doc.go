// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the primary execution lifecycle, decoupled
// from any specific entrypoint like a CLI or server.
//
// An App owns the process variable scope and the engine.Context that every
// job and transformation run receives.
package app
