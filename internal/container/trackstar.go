// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package container

import (
	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/nibble"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

// trackstarTrackLen is the padded per-track slot Trackstar .app/.nib
// images use: enough room for a 6656-byte nibblized track plus the
// embedded description metadata spec.md section 6 mentions.
const trackstarTrackLen = 6656 + 64

// OpenTrackstar splits a Trackstar image into per-track padded slots and
// wraps each slot's leading nibble bytes as a CircularBitBuffer. The
// trailing embedded description metadata is never read: it is neither
// surfaced structurally nor kept as a note.
func OpenTrackstar(stream rawio.Stream, numTracks int) ([]*nibble.CircularBitBuffer, error) {
	size := stream.Size()
	if numTracks <= 0 {
		numTracks = int(size / trackstarTrackLen)
	}
	out := make([]*nibble.CircularBitBuffer, 0, numTracks)
	for t := 0; t < numTracks; t++ {
		buf := make([]byte, trackstarTrackLen-64)
		n, err := stream.ReadAt(buf, int64(t)*trackstarTrackLen)
		if err != nil && n == 0 {
			return nil, vdisk.Wrap(vdisk.FormatError, err, "trackstar: read track %d", t)
		}
		out = append(out, nibble.NewCircularBitBuffer(buf, n*8))
	}
	return out, nil
}
