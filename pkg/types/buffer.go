package types

import (
	"bytes"
	"io"
)

// BufferInterface is a frame payload travelling through the codec. The
// concrete type tells the transport layer how to frame it: StringBuffer is
// a text frame, BytesBuffer a binary one.
type BufferInterface interface {
	io.Reader
	io.Writer

	Len() int
	Bytes() []byte
	String() string
}

// StringBuffer holds the text frame of an encoded packet.
type StringBuffer struct {
	bytes.Buffer
}

func NewStringBuffer(b []byte) *StringBuffer {
	sb := &StringBuffer{}
	sb.Write(b)
	return sb
}

func NewStringBufferString(s string) *StringBuffer {
	sb := &StringBuffer{}
	sb.WriteString(s)
	return sb
}

// BytesBuffer holds one binary attachment frame.
type BytesBuffer struct {
	bytes.Buffer
}

func NewBytesBuffer(b []byte) *BytesBuffer {
	bb := &BytesBuffer{}
	bb.Write(b)
	return bb
}
