package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// AudioMeta is the JSON metadata prefix of a binary audio frame. The sample
// rate is advisory; the session resamples based on it but tolerates
// mismatches against its working rate.
type AudioMeta struct {
	SampleRate int `json:"sample_rate"`
}

// ParseBinaryFrame splits a client binary message into its metadata and PCM
// payload. The layout is [uint32 LE metadata length][JSON metadata][PCM].
func ParseBinaryFrame(frame []byte) (AudioMeta, []byte, error) {
	if len(frame) < 4 {
		return AudioMeta{}, nil, fmt.Errorf("protocol: binary frame too short (%d bytes)", len(frame))
	}
	metaLen := binary.LittleEndian.Uint32(frame)
	if uint64(metaLen) > uint64(len(frame)-4) {
		return AudioMeta{}, nil, fmt.Errorf("protocol: metadata length %d exceeds frame size %d", metaLen, len(frame))
	}

	var meta AudioMeta
	if metaLen > 0 {
		if err := json.Unmarshal(frame[4:4+metaLen], &meta); err != nil {
			return AudioMeta{}, nil, fmt.Errorf("protocol: decode audio metadata: %w", err)
		}
	}
	return meta, frame[4+metaLen:], nil
}

// EncodeBinaryFrame builds a binary audio message from metadata and PCM.
func EncodeBinaryFrame(meta AudioMeta, pcm []byte) ([]byte, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode audio metadata: %w", err)
	}
	out := make([]byte, 4+len(raw)+len(pcm))
	binary.LittleEndian.PutUint32(out, uint32(len(raw)))
	copy(out[4:], raw)
	copy(out[4+len(raw):], pcm)
	return out, nil
}
