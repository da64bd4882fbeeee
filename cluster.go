package fatfs

import (
	"github.com/aligator/fatfs/checkpoint"
)

// clusterAddresser translates cluster numbers to byte ranges of the data region.
type clusterAddresser struct {
	storage     Storage
	dataStart   int64
	clusterSize uint32

	// maxCluster is the first invalid cluster number.
	maxCluster uint32
}

func newClusterAddresser(storage Storage, bs *BootSector) *clusterAddresser {
	return &clusterAddresser{
		storage:     storage,
		dataStart:   int64(bs.FirstDataSector()) * int64(bs.BytesPerSector),
		clusterSize: bs.BytesPerCluster(),
		maxCluster:  bs.ClusterCount() + 2,
	}
}

// clusterToByteOffset returns the absolute offset of the first byte of cluster.
// Clusters 0 and 1 do not exist in the data region.
func (a *clusterAddresser) clusterToByteOffset(cluster uint32) (int64, error) {
	if cluster < 2 || cluster >= a.maxCluster {
		return 0, checkpoint.Wrapf(ErrOutOfRange, "cluster %d has no data", cluster)
	}
	return a.dataStart + int64(cluster-2)*int64(a.clusterSize), nil
}

// readCluster reads len(buf) bytes starting at offset inside of the cluster.
func (a *clusterAddresser) readCluster(cluster uint32, offset uint32, buf []byte) error {
	start, err := a.clusterToByteOffset(cluster)
	if err != nil {
		return err
	}
	if uint64(offset)+uint64(len(buf)) > uint64(a.clusterSize) {
		return checkpoint.Wrapf(ErrOutOfRange, "read of %d bytes at %d exceeds cluster %d", len(buf), offset, cluster)
	}

	return readAtFull(a.storage, start+int64(offset), buf)
}

// writeCluster writes data starting at offset inside of the cluster.
func (a *clusterAddresser) writeCluster(cluster uint32, offset uint32, data []byte) error {
	start, err := a.clusterToByteOffset(cluster)
	if err != nil {
		return err
	}
	if uint64(offset)+uint64(len(data)) > uint64(a.clusterSize) {
		return checkpoint.Wrapf(ErrOutOfRange, "write of %d bytes at %d exceeds cluster %d", len(data), offset, cluster)
	}

	return writeAtFull(a.storage, start+int64(offset), data)
}

// zeroCluster overwrites the whole cluster with zeros.
func (a *clusterAddresser) zeroCluster(cluster uint32) error {
	return a.writeCluster(cluster, 0, make([]byte, a.clusterSize))
}
