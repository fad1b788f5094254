//go:build !unix

package device

import (
	"os"

	"github.com/pkg/errors"
)

func identityOf(fi os.FileInfo) (Identity, error) {
	return Identity{}, errors.New("device: raw block devices require a unix host")
}
