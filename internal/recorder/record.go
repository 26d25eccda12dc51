package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"marketstream/internal/model"
	"marketstream/internal/model/enum"
	"marketstream/pkg/exception"
)

// Record layout, little endian:
//
//	0:4   magic "MSJ1"
//	4:6   version
//	6:8   header size
//	8:10  category
//	10:12 symbol length
//	12:16 payload length
//	16:24 sequence
//	24:32 event timestamp (unix ms)
//	32:40 capture timestamp (unix ns)
//
// followed by the symbol, the JSON payload and a CRC32C over all of it.
const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 40
	recordChecksumSize        = 4
	maxSymbolLen              = 64
	maxPayloadLen             = uint64(^uint32(0))
)

var (
	recordMagic = [4]byte{'M', 'S', 'J', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

// Header describes one journal record.
type Header struct {
	Category enum.Category
	Seq      uint64
	TsEvent  int64
	TsRecv   int64
}

func encodeHeader(dst []byte, h Header, symbolLen, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(h.Category))
	binary.LittleEndian.PutUint16(dst[10:12], uint16(symbolLen))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], h.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(h.TsEvent))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(h.TsRecv))
}

func checksum(header []byte, body ...[]byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	for _, b := range body {
		crc = crc32.Update(crc, crcTable, b)
	}
	return crc
}

func decodeHeader(src []byte) (Header, int, uint32, error) {
	if len(src) < recordHeaderSize {
		return Header{}, 0, 0, exception.ErrJournalInvalidHeader
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Header{}, 0, 0, exception.ErrJournalInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Header{}, 0, 0, errors.Wrapf(exception.ErrJournalUnsupportedVer, "version %d", ver)
	}
	if size := binary.LittleEndian.Uint16(src[6:8]); size != recordHeaderSize {
		return Header{}, 0, 0, exception.ErrJournalInvalidHeader
	}
	h := Header{
		Category: enum.Category(binary.LittleEndian.Uint16(src[8:10])),
		Seq:      binary.LittleEndian.Uint64(src[16:24]),
		TsEvent:  int64(binary.LittleEndian.Uint64(src[24:32])),
		TsRecv:   int64(binary.LittleEndian.Uint64(src[32:40])),
	}
	symbolLen := int(binary.LittleEndian.Uint16(src[10:12]))
	payloadLen := binary.LittleEndian.Uint32(src[12:16])
	return h, symbolLen, payloadLen, nil
}

func encodePayload(p model.Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return sonic.ConfigFastest.Marshal(p)
}

func decodePayload(cat enum.Category, data []byte) (model.Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch cat {
	case enum.CategoryTrade:
		return unmarshalAs[model.Trade](data)
	case enum.CategoryTicker:
		return unmarshalAs[model.Ticker](data)
	case enum.CategoryOrderBook:
		return unmarshalAs[model.OrderBook](data)
	case enum.CategoryBar:
		return unmarshalAs[model.Bar](data)
	case enum.CategoryLiquidation:
		return unmarshalAs[model.Liquidation](data)
	case enum.CategoryOther:
		return unmarshalAs[model.Raw](data)
	default:
		return nil, errors.Errorf("journal: unknown category %d", cat)
	}
}

func unmarshalAs[T model.Payload](data []byte) (model.Payload, error) {
	var v T
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
