// Package repo keeps the application checkout in sync with its upstream
// repository for the hidream-installer CLI.
//
// All Git operations are performed by running the git binary, rather than
// through a Git library like go-git. This approach:
//   - Avoids CGO dependencies (libgit2)
//   - Uses the exact same Git behavior (credentials, proxies) the user has
//     in their terminal
//   - Keeps Git an opaque external tool judged only by its exit status
//
// The checkout is a deployment target, not a development checkout: local
// modifications are discarded by a hard reset on every update.
package repo
