package eventstore

import (
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

const logEncoding = "zstd"

// zstd encoders and decoders are safe for concurrent use with EncodeAll/DecodeAll.
var (
	logEncoder *zstd.Encoder
	logDecoder *zstd.Decoder
)

func init() {
	var err error
	logEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("eventstore: zstd encoder initialization failed: " + err.Error())
	}
	logDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
	if err != nil {
		panic("eventstore: zstd decoder initialization failed: " + err.Error())
	}
}

// NewBuildLog creates a BuildLog event carrying the full build log, zstd compressed.
func NewBuildLog(buildID, log string) Event {
	return &BaseEvent{
		EventBuildID:   buildID,
		EventType:      TypeBuildLog,
		EventTimestamp: time.Now(),
		EventPayload:   logEncoder.EncodeAll([]byte(log), nil),
		EventMetadata: map[string]string{
			"encoding": logEncoding,
			"size":     strconv.Itoa(len(log)),
		},
	}
}

// DecodeBuildLog returns the plain text of a BuildLog event.
func DecodeBuildLog(e Event) (string, error) {
	if e.Type() != TypeBuildLog {
		return "", errors.ValidationError("event is not a build log").
			WithContext("event_type", e.Type()).
			Build()
	}
	if e.Metadata()["encoding"] != logEncoding {
		return string(e.Payload()), nil
	}
	out, err := logDecoder.DecodeAll(e.Payload(), nil)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryEventStore, "failed to decompress build log").
			WithContext("build_id", e.BuildID()).
			Build()
	}
	return string(out), nil
}
