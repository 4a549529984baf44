package parser

import (
	"errors"
	"io"

	"github.com/pelicanio/socketio/pkg/types"
)

// ErrBadAttachment is returned when a placeholder points outside the
// received attachment list, or an attachment frame cannot be read.
var ErrBadAttachment = errors.New("illegal attachments")

// placeholder is the JSON object standing in for one binary attachment in
// a BINARY_EVENT / BINARY_ACK payload.
type placeholder struct {
	Placeholder bool  `json:"_placeholder" msgpack:"_placeholder"`
	Num         int64 `json:"num" msgpack:"num"`
}

// isRawBinary reports whether a single value is binary payload data. The
// codec's own text buffer is the one reader that stays textual.
func isRawBinary(value any) bool {
	switch value.(type) {
	case []byte:
		return true
	case *types.StringBuffer:
		return false
	case io.Reader:
		return true
	}
	return false
}

// HasBinary reports whether any value in the tree is binary, meaning the
// packet must travel as BINARY_EVENT / BINARY_ACK.
func HasBinary(data any) bool {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if HasBinary(item) {
				return true
			}
		}
		return false
	case map[string]any:
		for _, item := range v {
			if HasBinary(item) {
				return true
			}
		}
		return false
	}
	return isRawBinary(data)
}

// attachmentSet collects the binary values stripped out of a payload, in
// placeholder order.
type attachmentSet struct {
	buffers []types.BufferInterface
}

// strip walks the payload, replacing each binary value with a numbered
// placeholder and collecting its bytes.
func (s *attachmentSet) strip(data any) any {
	if isRawBinary(data) {
		buffer := types.NewBytesBuffer(nil)
		switch v := data.(type) {
		case []byte:
			buffer.Write(v)
		case io.Reader:
			if closer, ok := data.(io.Closer); ok {
				defer closer.Close()
			}
			buffer.ReadFrom(v)
		}
		s.buffers = append(s.buffers, buffer)
		return &placeholder{Placeholder: true, Num: int64(len(s.buffers) - 1)}
	}

	switch v := data.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.strip(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = s.strip(item)
		}
		return out
	}
	return data
}

// splitAttachments prepares a payload for the wire: the returned tree
// carries placeholders, the buffers are the attachment frames in order.
func splitAttachments(data any) (any, []types.BufferInterface) {
	set := &attachmentSet{}
	return set.strip(data), set.buffers
}

// joinAttachments is the inverse walk: every placeholder in the tree is
// replaced by the attachment frame it points to.
func joinAttachments(data any, buffers []types.BufferInterface) (any, error) {
	if ref, ok := asPlaceholder(data); ok {
		if ref < 0 || ref >= int64(len(buffers)) {
			return nil, ErrBadAttachment
		}
		return buffers[ref], nil
	}

	switch v := data.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			filled, err := joinAttachments(item, buffers)
			if err != nil {
				return nil, err
			}
			out[i] = filled
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			filled, err := joinAttachments(item, buffers)
			if err != nil {
				return nil, err
			}
			out[key] = filled
		}
		return out, nil
	}
	return data, nil
}

// asPlaceholder recognizes the decoded JSON form of a placeholder.
func asPlaceholder(data any) (int64, bool) {
	object, ok := data.(map[string]any)
	if !ok {
		return 0, false
	}
	flag, ok := object["_placeholder"].(bool)
	if !ok || !flag {
		return 0, false
	}
	num, ok := object["num"].(float64)
	if !ok {
		return 0, false
	}
	return int64(num), true
}
