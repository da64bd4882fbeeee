package fatfs

import (
	"io"

	"github.com/aligator/fatfs/checkpoint"
)

// Storage is the random access byte storage holding a FAT volume.
// *os.File and afero.File both satisfy it.
// Generated mock using mockgen:
//  mockgen -source=storage.go -destination=storage_mock.go -package fatfs
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// readAtFull fills buf completely or fails with ErrStorageIO.
func readAtFull(s Storage, off int64, buf []byte) error {
	n, err := s.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}

	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return checkpoint.Wrapf(checkpoint.Wrap(err, ErrStorageIO), "reading %d bytes at %d", len(buf), off)
}

// writeAtFull writes buf completely or fails with ErrStorageIO.
func writeAtFull(s Storage, off int64, buf []byte) error {
	n, err := s.WriteAt(buf, off)
	if err == nil && n == len(buf) {
		return nil
	}

	if err == nil {
		err = io.ErrShortWrite
	}
	return checkpoint.Wrapf(checkpoint.Wrap(err, ErrStorageIO), "writing %d bytes at %d", len(buf), off)
}
