package parsimon

// wire.go holds the format of messages between the coordinator and remote workers.
// A frame is a 4-byte big-endian length followed by that many bytes of
// snappy-compressed json.

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
)

// maxFrameLen bounds the compressed size of a frame
const maxFrameLen = 256 << 20

// JobRequest carries one job to a worker
type JobRequest struct {
	JobID     string       `json:"job_id"`
	ClusterID ClusterID    `json:"cluster_id"`
	Attempt   int          `json:"attempt"`
	Desc      *LinkSimDesc `json:"desc"`
	Buckets   BucketOpts   `json:"buckets"`
}

// JobResponse carries the result of a job back.  Exactly one of Dist and Error is set;
// Buckets accompanies Dist when the backend reported per-flow delays.
type JobResponse struct {
	JobID   string           `json:"job_id"`
	Dist    *DistDesc        `json:"dist,omitempty"`
	Buckets []SizeBucketDesc `json:"buckets,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// writeFrame serializes msg and writes it as one frame
func writeFrame(w io.Writer, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, payload)
	if len(compressed) > maxFrameLen {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(compressed), maxFrameLen)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(compressed)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

// readFrame reads one frame and deserializes it into msg
func readFrame(r io.Reader, msg any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", n, maxFrameLen)
	}
	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return err
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("decompressing frame: %w", err)
	}
	return json.Unmarshal(payload, msg)
}
