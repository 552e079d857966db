package afpacket

import "fmt"

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, rounded
	targetBlockSize  = 1 << 20
)

// ringSize derives TPACKET_V3 ring geometry from a memory budget.
//
// The kernel requires frameSize to be a multiple of TPACKET_ALIGNMENT and
// blockSize to be a multiple of both the page size and frameSize. Frames
// larger than a page are rounded up to whole pages and smaller ones to a
// power of two, so the two sizes always share a small common multiple.
func ringSize(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	switch {
	case bufferMB <= 0:
		return 0, 0, 0, fmt.Errorf("buffer_size_mb must be positive, got %d", bufferMB)
	case snapLen <= 0:
		return 0, 0, 0, fmt.Errorf("snap_len must be positive, got %d", snapLen)
	case pageSize <= 0 || pageSize%tpacketAlignment != 0:
		return 0, 0, 0, fmt.Errorf("page size %d is not a multiple of %d", pageSize, tpacketAlignment)
	}

	need := tpacketHdrLen + snapLen
	if need > pageSize {
		frameSize = align(need, pageSize)
	} else {
		frameSize = tpacketAlignment
		for frameSize < need {
			frameSize <<= 1
		}
	}

	blockSize = lcm(pageSize, frameSize)
	if blockSize < targetBlockSize {
		blockSize *= targetBlockSize / blockSize
	}

	numBlocks = (bufferMB << 20) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func align(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
