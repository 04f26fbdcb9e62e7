package destination

import "crypto/md5"

// md5Sum returns the MD5 digest of data, used for Azure's per-block
// transactional content validation.
func md5Sum(data []byte) []byte {
	sum := md5.Sum(data)
	return sum[:]
}
