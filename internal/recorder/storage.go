// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// recordingSuffix identifica segmentos de gravação commitados.
const recordingSuffix = ".lmsrec.gz"

// SegmentInfo descreve um segmento commitado de uma stream.
type SegmentInfo struct {
	Path     string
	Bytes    int64
	Archived bool
}

// SegmentStore gerencia os segmentos de uma stream em disco: escrita em
// .tmp com rename atômico, índice em memória reconstruído do diretório no
// arranque (gravações sobrevivem a restarts) e retenção dupla — por
// contagem de segmentos e por bytes totais. Com um archiver configurado,
// um segmento ainda não arquivado nunca é removido pela retenção: o disco
// só abre mão do dado depois do upload confirmar.
type SegmentStore struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	segments []SegmentInfo // mais antigo primeiro
	nextSeq  int

	maxSegments    int   // 0 = sem limite por contagem
	maxBytes       int64 // 0 = sem limite por bytes
	holdUnarchived bool
}

// OpenSegmentStore abre (ou cria) o diretório {baseDir}/{stream} e
// reconstrói o índice dos segmentos já commitados. Segmentos pré-existentes
// entram como arquivados: a retenção volta a valer para eles imediatamente,
// em vez de prendê-los à espera de um upload que já aconteceu (ou nunca
// existiu) numa vida anterior do processo.
func OpenSegmentStore(logger *slog.Logger, baseDir, stream string, maxSegments int, maxBytes int64, holdUnarchived bool) (*SegmentStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(baseDir, stream)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating segment directory: %w", err)
	}

	s := &SegmentStore{
		dir:            dir,
		logger:         logger.With("component", "segment_store"),
		maxSegments:    maxSegments,
		maxBytes:       maxBytes,
		holdUnarchived: holdUnarchived,
		nextSeq:        1,
	}
	if err := s.rescan(); err != nil {
		return nil, err
	}
	return s, nil
}

// rescan reconstrói o índice a partir do diretório. O prefixo de sequência
// zero-padded torna a ordem lexicográfica igual à ordem de commit.
func (s *SegmentStore) rescan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading segment directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), recordingSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		info, err := os.Stat(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		s.segments = append(s.segments, SegmentInfo{
			Path:     filepath.Join(s.dir, name),
			Bytes:    info.Size(),
			Archived: true,
		})
		if seq, ok := parseSeq(name); ok && seq >= s.nextSeq {
			s.nextSeq = seq + 1
		}
	}

	if len(s.segments) > 0 {
		s.logger.Info("recovered committed segments",
			"count", len(s.segments), "next_seq", s.nextSeq)
	}
	return nil
}

// parseSeq extrai a sequência do nome "NNNNNN-<ts>.lmsrec.gz".
func parseSeq(name string) (int, bool) {
	prefix, _, found := strings.Cut(name, "-")
	if !found {
		return 0, false
	}
	seq, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Begin cria o arquivo temporário do próximo segmento.
func (s *SegmentStore) Begin() (*os.File, string, error) {
	f, err := os.CreateTemp(s.dir, "segment-*.tmp")
	if err != nil {
		return nil, "", fmt.Errorf("creating temp segment: %w", err)
	}
	return f, f.Name(), nil
}

// Discard remove um temporário abortado.
func (s *SegmentStore) Discard(tmpPath string) error {
	return os.Remove(tmpPath)
}

// Commit efetiva o temporário como o próximo segmento da stream e aplica a
// retenção. O nome final carrega a sequência e o instante UTC do commit.
func (s *SegmentStore) Commit(tmpPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := os.Stat(tmpPath)
	if err != nil {
		return "", fmt.Errorf("stating segment: %w", err)
	}

	name := fmt.Sprintf("%06d-%s%s",
		s.nextSeq, time.Now().UTC().Format("20060102T150405"), recordingSuffix)
	finalPath := filepath.Join(s.dir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("committing segment: %w", err)
	}

	s.nextSeq++
	s.segments = append(s.segments, SegmentInfo{Path: finalPath, Bytes: st.Size()})
	s.pruneLocked()
	return finalPath, nil
}

// MarkArchived registra o upload confirmado de um segmento e reavalia a
// retenção — segmentos presos à espera do archiver ficam elegíveis.
func (s *SegmentStore) MarkArchived(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.segments {
		if s.segments[i].Path == path {
			s.segments[i].Archived = true
			break
		}
	}
	s.pruneLocked()
}

// Segments devolve uma cópia do índice, do mais antigo ao mais novo.
func (s *SegmentStore) Segments() []SegmentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SegmentInfo, len(s.segments))
	copy(out, s.segments)
	return out
}

// TotalBytes soma os bytes dos segmentos commitados ainda em disco.
func (s *SegmentStore) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked()
}

func (s *SegmentStore) totalLocked() int64 {
	var total int64
	for _, seg := range s.segments {
		total += seg.Bytes
	}
	return total
}

// pruneLocked aplica os dois limites removendo do mais antigo para o mais
// novo. A remoção para no primeiro segmento não-arquivado quando
// holdUnarchived: a retenção nunca corre na frente do upload.
func (s *SegmentStore) pruneLocked() {
	total := s.totalLocked()

	for len(s.segments) > 0 {
		overCount := s.maxSegments > 0 && len(s.segments) > s.maxSegments
		overBytes := s.maxBytes > 0 && total > s.maxBytes
		if !overCount && !overBytes {
			return
		}

		oldest := s.segments[0]
		if s.holdUnarchived && !oldest.Archived {
			s.logger.Warn("retention blocked by pending archive",
				"segment", oldest.Path, "segments", len(s.segments), "bytes", total)
			return
		}
		if err := os.Remove(oldest.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove expired segment",
				"segment", oldest.Path, "error", err)
			return
		}

		total -= oldest.Bytes
		s.segments = s.segments[1:]
		s.logger.Debug("expired segment removed", "segment", oldest.Path)
	}
}
