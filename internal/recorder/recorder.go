// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/pgzip"

	"github.com/dulton/liveMediaStreamer/internal/config"
	"github.com/dulton/liveMediaStreamer/internal/filter"
	"github.com/dulton/liveMediaStreamer/internal/frame"
	"github.com/dulton/liveMediaStreamer/internal/logging"
)

// ErrLowDisk indica que o gate de disco vetou a abertura de um segmento.
// Recuperável: os frames do ciclo são dropados com diagnóstico e o gate é
// re-testado no próximo ciclo.
var ErrLowDisk = errors.New("recorder: recording volume below free-space threshold")

// Archiver envia um segmento commitado para armazenamento externo.
type Archiver interface {
	Archive(ctx context.Context, path string) error
}

// Recorder é o tail filter de gravação: consome frames e os serializa num
// segmento pgzip. Quando o segmento atinge segment_bytes (bytes crus,
// pré-compressão) ele é commitado no SegmentStore, que aplica a retenção
// ciente do estado de arquivamento. O evento "rollSegment" força o corte.
// Cada stream ganha um diário próprio junto dos segmentos (NewStreamLog).
type Recorder struct {
	*filter.BaseFilter

	cfg      config.RecorderInfo
	store    *SegmentStore
	archiver Archiver

	// diskOK gateia a abertura de segmentos novos (monitor.DiskFree).
	diskOK func() bool

	diary io.Closer

	// mu protege o estado do segmento: o consumo roda no worker, mas o
	// Close chega da thread de shutdown.
	mu      sync.Mutex
	file    *os.File
	gz      *pgzip.Writer
	tmpPath string
	written int64
	closed  bool
}

// New cria um recorder para a stream nomeada. archiver é opcional; quando
// presente, a retenção do store poupa segmentos ainda não arquivados.
func New(logger *slog.Logger, cfg config.RecorderInfo, streamName string, archiver Archiver) (*Recorder, error) {
	streamLogger, diary, err := logging.NewStreamLog(logger, filepath.Join(cfg.Dir, streamName), streamName)
	if err != nil {
		return nil, err
	}

	store, err := OpenSegmentStore(streamLogger, cfg.Dir, streamName,
		cfg.MaxRecordings, cfg.RetentionBytesRaw, archiver != nil)
	if err != nil {
		diary.Close()
		return nil, err
	}

	r := &Recorder{
		cfg:      cfg,
		store:    store,
		archiver: archiver,
		diary:    diary,
	}
	r.BaseFilter = filter.NewBase(filter.Options{
		Type:   "recorder-tail",
		Shape:  filter.ShapeTail,
		Logger: streamLogger,
	}, r)

	r.RegisterEvent("rollSegment", func(map[string]any) error {
		return r.Roll()
	})

	return r, nil
}

// SetDiskGate instala o gate de espaço em disco, consultado antes de abrir
// cada segmento novo. Definido na montagem, antes do recorder processar.
func (r *Recorder) SetDiskGate(fn func() bool) {
	r.diskOK = fn
}

// Store expõe o índice de segmentos para diagnóstico.
func (r *Recorder) Store() *SegmentStore {
	return r.store
}

// DoConsumeFrame implementa filter.TailConsumer.
func (r *Recorder) DoConsumeFrame(org map[int]*frame.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if err := r.ensureSegmentLocked(); err != nil {
		return err
	}

	ids := make([]int, 0, len(org))
	for id := range org {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		fr := org[id]
		n, err := WriteRecord(r.gz, Record{
			Seq:   fr.Seq,
			PTS:   fr.PTS,
			Input: uint16(id),
			Data:  fr.Bytes(),
		})
		if err != nil {
			return err
		}
		r.written += int64(n)
	}

	if r.cfg.SegmentBytesRaw > 0 && r.written >= r.cfg.SegmentBytesRaw {
		return r.rollLocked()
	}
	return nil
}

// Roll força o corte do segmento corrente.
func (r *Recorder) Roll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.file == nil {
		return nil
	}
	return r.rollLocked()
}

// Segments retorna os caminhos dos segmentos commitados ainda retidos.
func (r *Recorder) Segments() []string {
	segs := r.store.Segments()
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		out = append(out, s.Path)
	}
	return out
}

// Close finaliza e commita o segmento corrente e fecha o diário da stream.
// O recorder não aceita mais frames depois do Close.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.file != nil {
		err = r.rollLocked()
	}
	if cerr := r.diary.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ensureSegmentLocked abre um novo segmento se não há um corrente,
// respeitando o gate de disco.
func (r *Recorder) ensureSegmentLocked() error {
	if r.file != nil {
		return nil
	}
	if r.diskOK != nil && !r.diskOK() {
		return ErrLowDisk
	}

	f, tmpPath, err := r.store.Begin()
	if err != nil {
		return err
	}
	gz, err := pgzip.NewWriterLevel(f, r.cfg.CompressionLevel)
	if err != nil {
		f.Close()
		r.store.Discard(tmpPath)
		return fmt.Errorf("creating segment compressor: %w", err)
	}

	r.file = f
	r.gz = gz
	r.tmpPath = tmpPath
	r.written = 0
	return nil
}

// rollLocked fecha e commita o segmento corrente; o store aplica a
// retenção e o archiver (se houver) recebe o caminho final.
func (r *Recorder) rollLocked() error {
	if err := r.gz.Close(); err != nil {
		r.abortLocked()
		return fmt.Errorf("flushing segment: %w", err)
	}
	if err := r.file.Close(); err != nil {
		r.abortLocked()
		return fmt.Errorf("closing segment: %w", err)
	}

	finalPath, err := r.store.Commit(r.tmpPath)
	if err != nil {
		r.abortLocked()
		return err
	}
	r.file = nil
	r.gz = nil
	r.tmpPath = ""

	r.Logger().Info("recording segment committed",
		"path", finalPath, "raw_bytes", r.written,
		"retained_bytes", r.store.TotalBytes())

	if r.archiver != nil {
		// Upload fora do ciclo do worker. Só o sucesso confirmado libera o
		// segmento para a retenção (MarkArchived).
		go func(path string) {
			if err := r.archiver.Archive(context.Background(), path); err != nil {
				r.Logger().Warn("segment archive failed, retention will hold it",
					"path", path, "error", err)
				return
			}
			r.store.MarkArchived(path)
		}(finalPath)
	}
	return nil
}

func (r *Recorder) abortLocked() {
	if r.file != nil {
		r.file.Close()
	}
	if r.tmpPath != "" {
		r.store.Discard(r.tmpPath)
	}
	r.file = nil
	r.gz = nil
	r.tmpPath = ""
}
