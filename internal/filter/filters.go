// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package filter

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/dulton/liveMediaStreamer/internal/frame"
)

// Bypass é o filtro one-to-one de passagem: copia payload e metadados da
// origem para o destino sem transformação.
type Bypass struct {
	*BaseFilter
}

// NewBypass cria um filtro bypass.
func NewBypass(logger *slog.Logger, alloc QueueAllocator) *Bypass {
	b := &Bypass{}
	b.BaseFilter = NewBase(Options{
		Type:   "bypass",
		Shape:  ShapeOneToOne,
		Alloc:  alloc,
		Logger: logger,
	}, b)
	return b
}

// DoProcessFrame implementa OneToOneProcessor.
func (b *Bypass) DoProcessFrame(org, dst *frame.Frame) error {
	if err := dst.SetData(org.Bytes()); err != nil {
		return err
	}
	dst.CopyMetaFrom(org)
	return nil
}

// Splitter é o filtro one-to-many que duplica cada frame de origem em todos
// os destinos com capacidade disponível.
type Splitter struct {
	*BaseFilter
}

// NewSplitter cria um splitter.
func NewSplitter(logger *slog.Logger, alloc QueueAllocator) *Splitter {
	s := &Splitter{}
	s.BaseFilter = NewBase(Options{
		Type:   "splitter",
		Shape:  ShapeOneToMany,
		Alloc:  alloc,
		Logger: logger,
	}, s)
	return s
}

// DoProcessFrame implementa OneToManyProcessor.
func (s *Splitter) DoProcessFrame(org *frame.Frame, dst map[int]*frame.Frame) error {
	for _, d := range dst {
		if err := d.SetData(org.Bytes()); err != nil {
			return err
		}
		d.CopyMetaFrom(org)
	}
	return nil
}

// Merger é o filtro many-to-one que concatena os frames coletados em ordem
// de input port id num único frame de saída. Com force=true processa assim
// que qualquer entrada tem frame; com force=false espera todas.
type Merger struct {
	*BaseFilter
	outSeq uint64
}

// NewMerger cria um merger. force define o modo de demanda inicial;
// pode ser alternado em runtime pelo evento "setForce".
func NewMerger(logger *slog.Logger, alloc QueueAllocator, force bool) *Merger {
	m := &Merger{}
	m.BaseFilter = NewBase(Options{
		Type:   "merger",
		Shape:  ShapeManyToOne,
		Force:  force,
		Alloc:  alloc,
		Logger: logger,
	}, m)
	return m
}

// DoProcessFrame implementa ManyToOneProcessor.
func (m *Merger) DoProcessFrame(org map[int]*frame.Frame, dst *frame.Frame) error {
	buf := dst.Buffer()
	n := 0
	var pts int64

	for _, id := range sortedKeys(org) {
		fr := org[id]
		if n+fr.Length() > dst.MaxLength() {
			return fmt.Errorf("merger: combined payload exceeds %d bytes", dst.MaxLength())
		}
		copy(buf[n:], fr.Bytes())
		n += fr.Length()
		if fr.PTS > pts {
			pts = fr.PTS
		}
	}

	if err := dst.SetLength(n); err != nil {
		return err
	}
	dst.PTS = pts
	dst.Seq = m.outSeq
	m.outSeq++
	return nil
}

// Zstd é o filtro one-to-one que comprime frames de dados com zstd.
// O nível é ajustável em runtime pelo evento "setLevel".
type Zstd struct {
	*BaseFilter
	enc *zstd.Encoder
}

// NewZstd cria um filtro de compressão zstd com o nível default.
func NewZstd(logger *slog.Logger, alloc QueueAllocator) (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	z := &Zstd{enc: enc}
	z.BaseFilter = NewBase(Options{
		Type:   "zstd",
		Shape:  ShapeOneToOne,
		Alloc:  alloc,
		Logger: logger,
	}, z)

	// Handlers rodam no worker do filtro, entre ciclos — sem concorrência
	// com DoProcessFrame.
	z.RegisterEvent("setLevel", func(params map[string]any) error {
		lvl, ok := numberParam(params, "level")
		if !ok {
			return fmt.Errorf("setLevel: missing numeric parameter %q", "level")
		}
		next, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(int(lvl))))
		if err != nil {
			return fmt.Errorf("setLevel: %w", err)
		}
		old := z.enc
		z.enc = next
		old.Close()
		z.Logger().Info("compression level changed", "level", int(lvl))
		return nil
	})

	return z, nil
}

// DoProcessFrame implementa OneToOneProcessor.
func (z *Zstd) DoProcessFrame(org, dst *frame.Frame) error {
	out := z.enc.EncodeAll(org.Bytes(), dst.Buffer()[:0])
	if err := dst.SetData(out); err != nil {
		return fmt.Errorf("incompressible frame seq %d: %w", org.Seq, err)
	}
	dst.CopyMetaFrom(org)
	return nil
}

// sortedKeys retorna os ids de um map de frames em ordem crescente.
func sortedKeys(m map[int]*frame.Frame) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// numberParam extrai um parâmetro numérico de params, aceitando os tipos
// que decoders JSON/YAML tipicamente produzem.
func numberParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
