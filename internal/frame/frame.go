// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

// Package frame define a unidade de mídia (Frame) e a queue SPSC bounded
// que transporta frames entre dois filtros do grafo.
package frame

import (
	"errors"
	"fmt"
)

// Erros do pacote frame.
var (
	// ErrFrameTooLarge indica payload maior que a capacidade do frame.
	ErrFrameTooLarge = errors.New("frame: payload exceeds max length")
	// ErrNoCheckout indica commit/release sem checkout prévio do slot.
	// É uma violação de invariante — fatal para o worker que a produziu.
	ErrNoCheckout = errors.New("frame: commit without checked-out slot")
)

// MediaType discrimina o tipo de mídia transportado por um frame.
type MediaType int

// Tipos de mídia.
const (
	Audio MediaType = iota
	Video
	Data
)

// String implementa fmt.Stringer.
func (t MediaType) String() string {
	switch t {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case Data:
		return "data"
	default:
		return fmt.Sprintf("media(%d)", int(t))
	}
}

// AudioInfo descreve uma stream de áudio.
type AudioInfo struct {
	Codec      string
	SampleRate int
	Channels   int
}

// VideoInfo descreve uma stream de vídeo.
type VideoInfo struct {
	Codec  string
	Width  int
	Height int
	FPS    float64
}

// DataInfo descreve uma stream de dados opacos.
type DataInfo struct {
	Codec string
}

// MediaInfo é o descritor de mídia de uma stream: o tipo mais os
// sub-atributos do tipo correspondente.
type MediaInfo struct {
	Type  MediaType
	Audio AudioInfo
	Video VideoInfo
	Data  DataInfo
}

// AudioStream constrói um MediaInfo de áudio.
func AudioStream(codec string, sampleRate, channels int) MediaInfo {
	return MediaInfo{Type: Audio, Audio: AudioInfo{Codec: codec, SampleRate: sampleRate, Channels: channels}}
}

// VideoStream constrói um MediaInfo de vídeo.
func VideoStream(codec string, width, height int, fps float64) MediaInfo {
	return MediaInfo{Type: Video, Video: VideoInfo{Codec: codec, Width: width, Height: height, FPS: fps}}
}

// DataStream constrói um MediaInfo de dados.
func DataStream(codec string) MediaInfo {
	return MediaInfo{Type: Data, Data: DataInfo{Codec: codec}}
}

// Frame é a unidade de mídia que flui pelo grafo. Frames são alocados pelo
// pool da queue; a posse é transferida do produtor ao consumidor via slots —
// nunca compartilhada.
type Frame struct {
	buf []byte
	n   int

	// PTS é o presentation timestamp em microsegundos monotônicos.
	PTS int64
	// Seq é o número de sequência atribuído pelo produtor.
	Seq uint64
	// Media é o descritor da stream a que o frame pertence.
	Media MediaInfo
}

// NewFrame aloca um frame com a capacidade e o descritor especificados.
func NewFrame(maxLength int, media MediaInfo) *Frame {
	return &Frame{buf: make([]byte, maxLength), Media: media}
}

// Bytes retorna o payload válido (length bytes).
func (f *Frame) Bytes() []byte {
	return f.buf[:f.n]
}

// Buffer retorna o buffer completo para escrita in-place.
// O chamador deve ajustar o length via SetLength após escrever.
func (f *Frame) Buffer() []byte {
	return f.buf
}

// Length retorna o tamanho do payload válido.
func (f *Frame) Length() int {
	return f.n
}

// MaxLength retorna a capacidade do buffer.
func (f *Frame) MaxLength() int {
	return len(f.buf)
}

// SetLength ajusta o tamanho do payload válido após escrita in-place.
func (f *Frame) SetLength(n int) error {
	if n < 0 || n > len(f.buf) {
		return ErrFrameTooLarge
	}
	f.n = n
	return nil
}

// SetData copia p para o payload do frame.
func (f *Frame) SetData(p []byte) error {
	if len(p) > len(f.buf) {
		return ErrFrameTooLarge
	}
	copy(f.buf, p)
	f.n = len(p)
	return nil
}

// CopyMetaFrom copia PTS, Seq e Media de src — usado por filtros
// pass-through e transformadores que preservam a temporização.
func (f *Frame) CopyMetaFrom(src *Frame) {
	f.PTS = src.PTS
	f.Seq = src.Seq
	f.Media = src.Media
}

// reset limpa o frame para reuso no pool da queue.
func (f *Frame) reset() {
	f.n = 0
	f.PTS = 0
	f.Seq = 0
}
