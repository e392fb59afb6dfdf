// Package source implements the Source Sync stage: bringing the deployment
// checkout up to date with its remote before anything is installed or
// launched from it.
//
// Like the rest of webdeploy's OS integration it shells out to the git CLI
// instead of using a Go git library, so the checkout behaves exactly as it
// would for an operator running `git pull` by hand.
package source
