//go:build unix

package device

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// identityOf resolves the (device-id, inode) pair spec.md §3 uses to
// detect "same underlying storage, different path" across config
// reloads.
func identityOf(fi os.FileInfo) (Identity, error) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return Identity{}, errors.New("device: cannot resolve device identity on this platform")
	}
	return Identity{DevID: uint64(st.Dev), Inode: uint64(st.Ino)}, nil
}
