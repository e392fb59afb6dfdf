// Package install implements the two file-system stages of a deployment:
//
//   - Installer puts the reverse-proxy site file into the proxy's
//     sites-available directory and links it from sites-enabled.
//   - Mirror makes the web root an exact copy of the built front-end,
//     deleting anything the build no longer produces.
//
// Both are idempotent: a second run against an unchanged source changes
// nothing. Neither is atomic, and there is no rollback; a failure halfway
// can leave a partially updated tree.
//
// All file access goes through an afero.Fs so the stages can be exercised
// against an in-memory file system.
package install
