//go:build !windows

package ptymux

// candidateShells lists well-known shell locations tried in order when
// neither an explicit shell nor $SHELL is available.
var candidateShells = []string{"/bin/zsh", "/bin/bash", "/bin/sh"}
