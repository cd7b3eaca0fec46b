package interfaces

import (
	"context"
)

// RemoteLauncher remote execution interface
// Starts a long-running program on a running node without waiting for it to finish.
type RemoteLauncher interface {
	// Launch runs command on the node at address using the referenced credential.
	// Errors wrap ErrLaunchFailed.
	Launch(ctx context.Context, address, credential, command string) error
}
