// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

// Package control traduz requests do control plane (já decodificados pelo
// wire layer externo) em operações do pipeline manager e eventos de filtro.
package control

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dulton/liveMediaStreamer/internal/config"
	"github.com/dulton/liveMediaStreamer/internal/event"
	"github.com/dulton/liveMediaStreamer/internal/filter"
	"github.com/dulton/liveMediaStreamer/internal/frame"
	"github.com/dulton/liveMediaStreamer/internal/pipeline"
)

// Erros do dispatcher.
var (
	ErrUnknownCommand = errors.New("control: unknown command")
	ErrUnknownType    = errors.New("control: unknown filter type")
	ErrBadParam       = errors.New("control: missing or invalid parameter")
)

// Request é um comando decodificado do control plane. O formato de wire
// (JSON ou outro) é responsabilidade do adapter externo.
type Request struct {
	Command   string
	Params    map[string]any
	Responder event.Responder
}

// FilterFactory constrói um filtro de um tipo registrado a partir dos
// parâmetros do request.
type FilterFactory func(logger *slog.Logger, params map[string]any) (filter.Filter, error)

// Dispatcher liga nomes de comando às operações do manager e mantém o
// registro de tipos de filtro instanciáveis pelo control plane.
type Dispatcher struct {
	mgr    *pipeline.Manager
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[string]FilterFactory
}

// NewDispatcher cria um dispatcher sobre o manager dado.
func NewDispatcher(mgr *pipeline.Manager, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		mgr:       mgr,
		logger:    logger.With("component", "control"),
		factories: make(map[string]FilterFactory),
	}
}

// RegisterFilterType registra a factory de um tipo de filtro.
func (d *Dispatcher) RegisterFilterType(name string, f FilterFactory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[name] = f
}

// FilterTypes enumera os tipos registrados.
func (d *Dispatcher) FilterTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.factories))
	for n := range d.factories {
		names = append(names, n)
	}
	return names
}

// Handle executa um request e notifica o Responder, quando presente.
// Condições recuperáveis retornam erro com diagnóstico logado; o grafo
// permanece inalterado na falha.
func (d *Dispatcher) Handle(req Request) error {
	err := d.dispatch(req)
	if req.Responder != nil {
		if err != nil {
			req.Responder.Respond(false, err.Error())
		} else if req.Command != "filterEvent" {
			// filterEvent responde quando o próprio evento é processado
			req.Responder.Respond(true, "")
		}
	}
	if err != nil {
		d.logger.Warn("command failed", "command", req.Command, "error", err)
	}
	return err
}

func (d *Dispatcher) dispatch(req Request) error {
	switch req.Command {
	case "addFilter":
		return d.addFilter(req.Params)
	case "removeFilter":
		id, err := intParam(req.Params, "id")
		if err != nil {
			return err
		}
		return d.mgr.RemoveFilter(id)
	case "createPath":
		return d.createPath(req.Params)
	case "connectPath":
		id, err := intParam(req.Params, "id")
		if err != nil {
			return err
		}
		return d.mgr.ConnectPath(id)
	case "disconnectPath":
		id, err := intParam(req.Params, "id")
		if err != nil {
			return err
		}
		return d.mgr.DisconnectPath(id)
	case "removePath":
		id, err := intParam(req.Params, "id")
		if err != nil {
			return err
		}
		return d.mgr.RemovePath(id)
	case "startWorkers":
		if err := d.mgr.ApplyDefaultPolicy(); err != nil {
			return err
		}
		return d.mgr.StartWorkers()
	case "stopWorkers":
		d.mgr.StopWorkers()
		return nil
	case "filterEvent":
		return d.filterEvent(req)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
}

func (d *Dispatcher) addFilter(params map[string]any) error {
	ftype, err := stringParam(params, "type")
	if err != nil {
		return err
	}

	d.mu.RLock()
	factory := d.factories[ftype]
	d.mu.RUnlock()
	if factory == nil {
		return fmt.Errorf("%w: %q", ErrUnknownType, ftype)
	}

	id, err := intParam(params, "id")
	if err != nil {
		// id omitido: usa o contador global
		id = pipeline.NextFilterID()
	}

	f, err := factory(d.logger, params)
	if err != nil {
		return fmt.Errorf("creating filter %q: %w", ftype, err)
	}
	return d.mgr.AddFilter(id, f)
}

func (d *Dispatcher) createPath(params map[string]any) error {
	id, err := intParam(params, "id")
	if err != nil {
		return err
	}
	origin, err := intParam(params, "origin")
	if err != nil {
		return err
	}
	dest, err := intParam(params, "dest")
	if err != nil {
		return err
	}
	originWriter, err := intParam(params, "originWriter")
	if err != nil {
		originWriter = filter.DefaultID
	}
	destReader, err := intParam(params, "destReader")
	if err != nil {
		destReader = filter.DefaultID
	}

	var mids []int
	if raw, ok := params["intermediates"].([]any); ok {
		for _, v := range raw {
			n, ok := asInt(v)
			if !ok {
				return fmt.Errorf("%w: intermediates must be numeric", ErrBadParam)
			}
			mids = append(mids, n)
		}
	}

	return d.mgr.CreatePath(id, origin, dest, originWriter, destReader, mids)
}

func (d *Dispatcher) filterEvent(req Request) error {
	id, err := intParam(req.Params, "id")
	if err != nil {
		return err
	}
	name, err := stringParam(req.Params, "name")
	if err != nil {
		return err
	}

	f := d.mgr.GetFilter(id)
	if f == nil {
		return fmt.Errorf("%w: filter %d", pipeline.ErrUnknownID, id)
	}

	var delivery time.Time
	if ms, err := intParam(req.Params, "delayMs"); err == nil && ms > 0 {
		delivery = time.Now().Add(time.Duration(ms) * time.Millisecond)
	}

	evParams, _ := req.Params["params"].(map[string]any)
	f.Base().PushEvent(event.Event{
		Name:         name,
		Params:       evParams,
		DeliveryTime: delivery,
		Responder:    req.Responder,
	})
	return nil
}

// RegisterDefaults registra os tipos de filtro built-in, com queues e
// backoff dimensionados pela configuração.
func (d *Dispatcher) RegisterDefaults(cfg *config.Config) {
	qcfg := cfg.Queues
	backoff := cfg.Scheduler.BackoffHint

	allocFor := func(params map[string]any) filter.QueueAllocator {
		return filter.ConfigAllocator(mediaFromParams(params), qcfg)
	}
	tuned := func(f filter.Filter, err error) (filter.Filter, error) {
		if err != nil {
			return nil, err
		}
		f.Base().SetBackoff(backoff)
		return f, nil
	}

	d.RegisterFilterType("bypass", func(logger *slog.Logger, params map[string]any) (filter.Filter, error) {
		return tuned(filter.NewBypass(logger, allocFor(params)), nil)
	})
	d.RegisterFilterType("splitter", func(logger *slog.Logger, params map[string]any) (filter.Filter, error) {
		return tuned(filter.NewSplitter(logger, allocFor(params)), nil)
	})
	d.RegisterFilterType("merger", func(logger *slog.Logger, params map[string]any) (filter.Filter, error) {
		force, _ := params["force"].(bool)
		return tuned(filter.NewMerger(logger, allocFor(params), force), nil)
	})
	d.RegisterFilterType("zstd", func(logger *slog.Logger, params map[string]any) (filter.Filter, error) {
		z, err := filter.NewZstd(logger, allocFor(params))
		if err != nil {
			return nil, err
		}
		return tuned(z, nil)
	})
	d.RegisterFilterType("signal-head", func(logger *slog.Logger, params map[string]any) (filter.Filter, error) {
		fps := 25.0
		if v, ok := asFloat(params["fps"]); ok && v > 0 {
			fps = v
		}
		payload := 1024
		if v, ok := asInt(params["payload"]); ok && v > 0 {
			payload = v
		}
		var limit uint64
		if v, ok := asInt(params["limit"]); ok && v > 0 {
			limit = uint64(v)
		}
		media := mediaFromParams(params)
		return tuned(filter.NewSignalHead(logger, filter.ConfigAllocator(media, qcfg), media, fps, payload, limit), nil)
	})
	d.RegisterFilterType("inject-head", func(logger *slog.Logger, params map[string]any) (filter.Filter, error) {
		return tuned(filter.NewInjectHead(logger, allocFor(params)), nil)
	})
	d.RegisterFilterType("collector-tail", func(logger *slog.Logger, params map[string]any) (filter.Filter, error) {
		return tuned(filter.NewCollectorTail(logger), nil)
	})
}

// mediaFromParams monta o MediaInfo do request; default: data/raw.
func mediaFromParams(params map[string]any) frame.MediaInfo {
	codec, _ := params["codec"].(string)
	mtype, _ := params["media"].(string)

	switch mtype {
	case "audio":
		rate, _ := asInt(params["sampleRate"])
		ch, _ := asInt(params["channels"])
		if rate <= 0 {
			rate = 48000
		}
		if ch <= 0 {
			ch = 2
		}
		return frame.AudioStream(codec, rate, ch)
	case "video":
		w, _ := asInt(params["width"])
		h, _ := asInt(params["height"])
		fps, okFPS := asFloat(params["fps"])
		if !okFPS || fps <= 0 {
			fps = 25
		}
		return frame.VideoStream(codec, w, h, fps)
	default:
		if codec == "" {
			codec = "raw"
		}
		return frame.DataStream(codec)
	}
}

func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadParam, key)
	}
	n, ok := asInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be numeric", ErrBadParam, key)
	}
	return n, nil
}

func stringParam(params map[string]any, key string) (string, error) {
	s, ok := params[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q", ErrBadParam, key)
	}
	return s, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
