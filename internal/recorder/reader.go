package recorder

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/yanun0323/errors"

	"marketstream/internal/model"
	"marketstream/pkg/exception"
)

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes journal records sequentially.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	body      []byte
}

// NewReader wraps an io.Reader with journal decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next record. It returns io.EOF at a clean end of input
// and io.ErrUnexpectedEOF on a truncated record.
func (r *Reader) Next() (Header, model.Event, error) {
	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return Header{}, model.Event{}, io.EOF
		}
		return Header{}, model.Event{}, err
	}

	header, symbolLen, payloadLen, err := decodeHeader(r.headerBuf)
	if err != nil {
		return header, model.Event{}, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return header, model.Event{}, exception.ErrJournalPayloadTooLarge
	}

	size := symbolLen + int(payloadLen)
	if cap(r.body) < size {
		r.body = make([]byte, size)
	}
	r.body = r.body[:size]
	if _, err := io.ReadFull(r.r, r.body); err != nil {
		return header, model.Event{}, unexpected(err)
	}

	var checksumBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, checksumBuf[:]); err != nil {
		return header, model.Event{}, unexpected(err)
	}
	if !r.opts.DisableChecksum {
		if checksum(r.headerBuf, r.body) != binary.LittleEndian.Uint32(checksumBuf[:]) {
			return header, model.Event{}, errors.Wrapf(exception.ErrJournalChecksumMismatch, "seq %d", header.Seq)
		}
	}

	payload, err := decodePayload(header.Category, r.body[symbolLen:])
	if err != nil {
		return header, model.Event{}, errors.Wrapf(err, "decode journal payload, seq %d", header.Seq)
	}
	return header, model.Event{
		Symbol:    string(r.body[:symbolLen]),
		Category:  header.Category,
		Timestamp: header.TsEvent,
		Payload:   payload,
	}, nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
