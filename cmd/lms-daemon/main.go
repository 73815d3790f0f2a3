// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

// lms-daemon embeda o runtime do filter graph: carrega a configuração,
// monta o manager, o dispatcher de controle e a API de observabilidade, e
// fica à espera de signals. O wire do control plane (JSON/RTSP/CLI) é
// externo — este binário só expõe o runtime.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dulton/liveMediaStreamer/internal/config"
	"github.com/dulton/liveMediaStreamer/internal/logging"
)

func main() {
	configPath := flag.String("config", "/etc/lms/lms.yaml", "path to runtime config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	if err := runDaemon(*configPath, cfg, logger); err != nil {
		logger.Error("daemon error", "error", err)
		os.Exit(1)
	}
}
