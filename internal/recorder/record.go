// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

// Package recorder implementa o sink de gravação: frames consumidos são
// serializados num log compactado (pgzip), commitados atomicamente por
// segmento, rotacionados e opcionalmente arquivados em S3.
package recorder

import (
	"encoding/binary"
	"fmt"
	"io"
)

// recordMagic identifica cada registro no segmento.
var recordMagic = [4]byte{'L', 'M', 'S', 'R'}

// recordHeaderSize é o tamanho do cabeçalho de registro:
// [Magic 4B] [Seq uint64] [PTS int64] [Input uint16] [Len uint32]
const recordHeaderSize = 4 + 8 + 8 + 2 + 4

// Record é um frame serializado num segmento de gravação.
type Record struct {
	Seq   uint64
	PTS   int64
	Input uint16
	Data  []byte
}

// WriteRecord serializa um registro. Retorna os bytes escritos.
func WriteRecord(w io.Writer, rec Record) (int, error) {
	hdr := make([]byte, recordHeaderSize)
	copy(hdr[0:4], recordMagic[:])
	binary.BigEndian.PutUint64(hdr[4:12], rec.Seq)
	binary.BigEndian.PutUint64(hdr[12:20], uint64(rec.PTS))
	binary.BigEndian.PutUint16(hdr[20:22], rec.Input)
	binary.BigEndian.PutUint32(hdr[22:26], uint32(len(rec.Data)))

	if _, err := w.Write(hdr); err != nil {
		return 0, fmt.Errorf("writing record header: %w", err)
	}
	if _, err := w.Write(rec.Data); err != nil {
		return 0, fmt.Errorf("writing record payload: %w", err)
	}
	return recordHeaderSize + len(rec.Data), nil
}

// ReadRecord lê o próximo registro. Retorna io.EOF no fim limpo do segmento.
func ReadRecord(r io.Reader) (Record, error) {
	hdr := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("reading record header: %w", err)
	}
	if hdr[0] != recordMagic[0] || hdr[1] != recordMagic[1] ||
		hdr[2] != recordMagic[2] || hdr[3] != recordMagic[3] {
		return Record{}, fmt.Errorf("invalid record magic %q", string(hdr[0:4]))
	}

	rec := Record{
		Seq:   binary.BigEndian.Uint64(hdr[4:12]),
		PTS:   int64(binary.BigEndian.Uint64(hdr[12:20])),
		Input: binary.BigEndian.Uint16(hdr[20:22]),
	}
	length := binary.BigEndian.Uint32(hdr[22:26])
	rec.Data = make([]byte, length)
	if _, err := io.ReadFull(r, rec.Data); err != nil {
		return Record{}, fmt.Errorf("reading record payload: %w", err)
	}
	return rec, nil
}
