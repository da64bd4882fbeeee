package fatfs

import (
	"errors"
	"fmt"
	"os"
)

// These errors may occur while working with a FAT volume.
// All returned errors are decorated by the checkpoint package, so use errors.Is to check for them.
var (
	ErrMalformedBootSector      = errors.New("malformed boot sector")
	ErrUnrecognizedVariant      = errors.New("unrecognized FAT variant")
	ErrOutOfRange               = errors.New("cluster out of range")
	ErrDiskFull                 = errors.New("disk full")
	ErrNotFound                 = fmt.Errorf("no such file or directory: %w", os.ErrNotExist)
	ErrAlreadyExists            = fmt.Errorf("file already exists: %w", os.ErrExist)
	ErrNotADirectory            = errors.New("not a directory")
	ErrAttemptedDirectoryAsFile = errors.New("attempted to open a directory as a file")
	ErrDirectoryNotEmpty        = errors.New("directory not empty")
	ErrInvalidName              = fmt.Errorf("invalid 8.3 name: %w", os.ErrInvalid)
	ErrVolumeTooSmall           = errors.New("requested volume is too small")
	ErrAttributeInvariant       = errors.New("the directory attribute cannot be changed")
	ErrCorruptChain             = errors.New("corrupt cluster chain")
	ErrStorageIO                = errors.New("storage i/o error")
	ErrRootDirectory            = fmt.Errorf("operation not permitted on the root directory: %w", os.ErrPermission)
)
