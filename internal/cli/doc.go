// Package cli turns command-line arguments into an app.Config. It owns flag
// parsing, -param KEY=VALUE handling and the exit code carried by ExitError.
package cli
