package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/BrandonDHaskell/Portunus/relay/internal/archive"
	"github.com/BrandonDHaskell/Portunus/relay/internal/relay"
)

// maxRequestBody caps the request body size for both protobuf and JSON
// payloads.
const maxRequestBody = 4096

const protobufContentType = "application/x-protobuf"

var errMalformed = errors.New("malformed protobuf message")

// Wire messages, hand-encoded with protowire:
//
//	AccessRequest  { string tag_id = 1; }
//	AccessDecision { string tag_id = 1; bool known = 2; bool granted = 3;
//	                 string reason = 4; string mode = 5; }
//	EventBatch     { string batch_id = 1; repeated Event events = 2; }
//	Event          { uint32 seq = 1; uint32 type = 2; bytes tag_id = 3;
//	                 uint32 elapsed_ticks = 4; int64 estimated_at_ms = 5;
//	                 int64 archived_at_ms = 6; }

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload.
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == protobufContentType ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, protobufContentType) || strings.Contains(accept, "application/protobuf")
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
}

func writeProto(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func decodeAccessRequest(b []byte) (string, error) {
	var tagID string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", errMalformed
		}
		b = b[n:]

		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", errMalformed
			}
			tagID = v
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return "", errMalformed
		}
		b = b[n:]
	}
	return tagID, nil
}

func encodeDecision(d relay.Decision) []byte {
	var b []byte
	b = appendString(b, 1, d.TagID)
	b = appendBool(b, 2, d.Known)
	b = appendBool(b, 3, d.Granted)
	b = appendString(b, 4, d.Reason)
	b = appendString(b, 5, d.Mode)
	return b
}

func encodeBatch(batch archive.Batch) []byte {
	var b []byte
	if len(batch.Records) > 0 {
		b = appendString(b, 1, batch.ID.String())
	}
	for _, r := range batch.Records {
		var ev []byte
		ev = appendVarint(ev, 1, uint64(r.Seq))
		ev = appendVarint(ev, 2, uint64(r.Type))
		ev = protowire.AppendTag(ev, 3, protowire.BytesType)
		ev = protowire.AppendBytes(ev, r.TagID[:])
		ev = appendVarint(ev, 4, uint64(r.ElapsedTicks))
		ev = appendVarint(ev, 5, uint64(r.EstimatedAt.UnixMilli()))
		ev = appendVarint(ev, 6, uint64(r.ArchivedAt.UnixMilli()))

		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, ev)
	}
	return b
}

// Zero values are omitted, as proto3 does.

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
