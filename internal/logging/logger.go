// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

// Package logging constrói o logger global do runtime e os logs dedicados
// por stream de gravação.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// levelNames mapeia os nomes aceitos em configuração para slog.Level.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel converte o nome do nível de log; nomes desconhecidos e o
// vazio caem em info.
func ParseLevel(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// nopCloser é o Closer devolvido quando não há arquivo a fechar.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger cria o slog.Logger global do runtime. format aceita "json"
// (default) e "text"; filePath vazio loga só em stdout, preenchido duplica
// os registros num arquivo. O Closer devolvido fecha esse arquivo no
// shutdown (no-op sem arquivo).
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	out, closer := logOutput(filePath)
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	return slog.New(newHandler(out, format, opts)), closer
}

// logOutput decide o destino dos registros. Falha ao abrir o arquivo não
// derruba o processo: o runtime segue só com stdout.
func logOutput(filePath string) (io.Writer, io.Closer) {
	if filePath == "" {
		return os.Stdout, nopCloser{}
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		return os.Stdout, nopCloser{}
	}
	return io.MultiWriter(os.Stdout, f), f
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ForComponent qualifica um logger com o nome do componente do runtime.
// Workers, filtros e o manager usam este helper para que os registros
// carreguem a origem de forma uniforme.
func ForComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}
