// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

// Package pipeline implementa o manager que possui filtros, workers e paths
// e media conexões e ciclo de vida do grafo.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dulton/liveMediaStreamer/internal/config"
	"github.com/dulton/liveMediaStreamer/internal/filter"
	"github.com/dulton/liveMediaStreamer/internal/worker"
)

// Erros do manager.
var (
	ErrDuplicateID    = errors.New("pipeline: id already taken")
	ErrUnknownID      = errors.New("pipeline: unknown id")
	ErrStillConnected = errors.New("pipeline: filter has connected endpoints")
	ErrFilterBusy     = errors.New("pipeline: filter assigned to a running worker")
	ErrPathConnected  = errors.New("pipeline: path already connected")
)

// filterIDCounter emite ids de filtro monotônicos, process-wide.
var filterIDCounter atomic.Int64

// NextFilterID devolve o próximo id de filtro global.
func NextFilterID() int {
	return int(filterIDCounter.Add(1))
}

// EventSink recebe os eventos operacionais do manager: mutações de grafo,
// lifecycle de workers e erros fatais. O event log de observability é o
// consumidor usual.
type EventSink func(level, eventType, message string, filterID int)

// Manager possui os filtros, workers e paths do grafo. Todas as mutações
// (add/remove de filtro, create/connect/disconnect de path, atribuição a
// workers) serializam no lock do manager — e nunca podem ser invocadas de
// dentro de um doProcessFrame, sob pena de deadlock.
type Manager struct {
	logger *slog.Logger
	sched  config.SchedulerInfo

	mu         sync.Mutex
	filters    map[int]filter.Filter
	workers    map[int]*worker.Worker
	paths      map[int]*Path
	assignment map[int]int // filter id → worker id
	nextWorker int

	// loadFactor é repassado aos workers criados; definido antes da
	// montagem dos workers (SetLoadFactor).
	loadFactor func() float64

	// sink tem mutex próprio: onWorkerFatal chega da goroutine do worker.
	sinkMu sync.RWMutex
	sink   EventSink

	// lastFatal guarda o último erro fatal vindo de um worker, exposto ao
	// control plane via LastError.
	lastFatal atomic.Value // error
}

// New cria um manager vazio.
func New(logger *slog.Logger, sched config.SchedulerInfo) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if sched.MaxSleep == 0 {
		sched = config.Default().Scheduler
	}
	return &Manager{
		logger:     logger.With("component", "pipeline_manager"),
		sched:      sched,
		filters:    make(map[int]filter.Filter),
		workers:    make(map[int]*worker.Worker),
		paths:      make(map[int]*Path),
		assignment: make(map[int]int),
	}
}

// Singleton de conveniência para o control plane. Subsistemas recebem o
// manager explicitamente; o acessor global existe só para quem não tem como
// carregar a referência.
var (
	instanceMu sync.Mutex
	instance   *Manager
)

// Instance devolve o manager process-wide, criando-o no primeiro acesso.
func Instance() *Manager {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = New(slog.Default(), config.Default().Scheduler)
	}
	return instance
}

// Destroy para os workers e descarta o singleton.
func Destroy() {
	instanceMu.Lock()
	m := instance
	instance = nil
	instanceMu.Unlock()
	if m != nil {
		m.StopWorkers()
	}
}

// SetLoadFactor define a fonte do multiplicador de idle sleep dos workers
// (tipicamente monitor.Pressure). Deve ser chamado antes de criar workers.
func (m *Manager) SetLoadFactor(fn func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadFactor = fn
}

// SetEventSink define o destino dos eventos operacionais do manager.
func (m *Manager) SetEventSink(sink EventSink) {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	m.sink = sink
}

func (m *Manager) emitEvent(level, eventType, message string, filterID int) {
	m.sinkMu.RLock()
	sink := m.sink
	m.sinkMu.RUnlock()
	if sink != nil {
		sink(level, eventType, message, filterID)
	}
}

// AddFilter registra um filtro sob o id dado. Falha se o id está tomado.
func (m *Manager) AddFilter(id int, f filter.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.filters[id]; taken {
		return fmt.Errorf("%w: filter %d", ErrDuplicateID, id)
	}
	if f.ID() != id {
		if err := f.SetID(id); err != nil {
			return fmt.Errorf("assigning filter id %d: %w", id, err)
		}
	}
	m.filters[id] = f
	m.logger.Info("filter added", "id", id, "type", f.Type(), "shape", f.Shape().String())
	m.emitEvent("info", "filter_added", f.Type(), id)
	return nil
}

// RemoveFilter destrói um filtro. Só permitido com zero endpoints
// conectados e fora de um worker em execução.
func (m *Manager) RemoveFilter(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.filters[id]
	if !ok {
		return fmt.Errorf("%w: filter %d", ErrUnknownID, id)
	}
	if f.Base().ReaderCount() > 0 || f.Base().WriterCount() > 0 {
		return fmt.Errorf("%w: filter %d", ErrStillConnected, id)
	}
	if wid, assigned := m.assignment[id]; assigned {
		w := m.workers[wid]
		if w != nil && w.IsRunning() {
			return fmt.Errorf("%w: filter %d on worker %d", ErrFilterBusy, id, wid)
		}
		if w != nil {
			w.RemoveProcessor(id)
		}
		delete(m.assignment, id)
	}

	delete(m.filters, id)
	m.logger.Info("filter removed", "id", id)
	m.emitEvent("info", "filter_removed", f.Type(), id)
	return nil
}

// GetFilter devolve o filtro id, ou nil.
func (m *Manager) GetFilter(id int) filter.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filters[id]
}

// FilterIDs enumera os ids registrados, em ordem.
func (m *Manager) FilterIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.filters))
	for id := range m.filters {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CreateWorker cria um worker parado e devolve o seu id.
func (m *Manager) CreateWorker() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createWorkerLocked()
}

func (m *Manager) createWorkerLocked() int {
	m.nextWorker++
	id := m.nextWorker
	m.workers[id] = worker.New(id, worker.Options{
		MaxSleep:   m.sched.MaxSleep,
		Logger:     m.logger,
		OnFatal:    m.onWorkerFatal,
		LoadFactor: m.loadFactor,
	})
	return id
}

func (m *Manager) onWorkerFatal(workerID, runnableID int, err error) {
	m.lastFatal.Store(fmt.Errorf("worker %d, filter %d: %w", workerID, runnableID, err))
	m.logger.Error("worker aborted on invariant violation",
		"worker", workerID, "filter", runnableID, "error", err)
	m.emitEvent("error", "worker_fatal", err.Error(), runnableID)
}

// LastError devolve o último erro fatal surfaced pelos workers, ou nil.
func (m *Manager) LastError() error {
	if v := m.lastFatal.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// GetWorker devolve o worker id, ou nil.
func (m *Manager) GetWorker(id int) *worker.Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[id]
}

// WorkerIDs enumera os ids de workers, em ordem.
func (m *Manager) WorkerIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AddFilterToWorker atribui o filtro a um worker. Cada filtro pertence a no
// máximo um worker; re-atribuição exige remoção explícita antes.
func (m *Manager) AddFilterToWorker(filterID, workerID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assignLocked(filterID, workerID)
}

func (m *Manager) assignLocked(filterID, workerID int) error {
	f, ok := m.filters[filterID]
	if !ok {
		return fmt.Errorf("%w: filter %d", ErrUnknownID, filterID)
	}
	w, ok := m.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: worker %d", ErrUnknownID, workerID)
	}
	if prev, assigned := m.assignment[filterID]; assigned {
		return fmt.Errorf("%w: filter %d already on worker %d", ErrDuplicateID, filterID, prev)
	}
	if err := w.AddProcessor(f); err != nil {
		return err
	}
	m.assignment[filterID] = workerID
	return nil
}

// ApplyDefaultPolicy atribui filtros a workers pela política default: um
// worker por head filter, com a cadeia downstream agrupada e atribuída ao
// mesmo worker. O grouping faz o cohort inteiro transicionar para
// non-running de uma só vez quando todos os membros completam (o contador
// compartilhado chega a zero).
func (m *Manager) ApplyDefaultPolicy() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	heads := make([]int, 0)
	for id, f := range m.filters {
		if f.Shape() == filter.ShapeHead {
			heads = append(heads, id)
		}
	}
	sort.Ints(heads)

	for _, headID := range heads {
		if _, assigned := m.assignment[headID]; assigned {
			continue
		}
		head := m.filters[headID]
		workerID := m.createWorkerLocked()
		if err := m.assignLocked(headID, workerID); err != nil {
			return err
		}

		// BFS pela cadeia downstream
		queue := []int{headID}
		seen := map[int]bool{headID: true}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, peerID := range m.filters[cur].Base().DownstreamIDs() {
				if seen[peerID] {
					continue
				}
				seen[peerID] = true
				peer, ok := m.filters[peerID]
				if !ok {
					continue
				}
				if _, assigned := m.assignment[peerID]; !assigned {
					if err := m.assignLocked(peerID, workerID); err != nil {
						return err
					}
					head.GroupRunnable(peer)
				}
				queue = append(queue, peerID)
			}
		}
		m.logger.Info("default policy applied", "head", headID, "worker", workerID,
			"cohort", head.GroupIDs())
	}
	return nil
}

// StartWorkers liga todos os workers.
func (m *Manager) StartWorkers() error {
	m.mu.Lock()
	ws := m.workersSliceLocked()
	m.mu.Unlock()

	for _, w := range ws {
		if err := w.Start(); err != nil && !errors.Is(err, worker.ErrAlreadyStarted) {
			return err
		}
	}
	m.logger.Info("workers started", "count", len(ws))
	m.emitEvent("info", "workers_started", fmt.Sprintf("%d workers", len(ws)), 0)
	return nil
}

// StopWorkers desliga os run flags e faz join de todas as threads.
func (m *Manager) StopWorkers() {
	m.mu.Lock()
	ws := m.workersSliceLocked()
	m.mu.Unlock()

	for _, w := range ws {
		w.Stop()
	}
	m.logger.Info("workers stopped", "count", len(ws))
	m.emitEvent("info", "workers_stopped", fmt.Sprintf("%d workers", len(ws)), 0)
}

func (m *Manager) workersSliceLocked() []*worker.Worker {
	ws := make([]*worker.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		ws = append(ws, w)
	}
	return ws
}

// CreatePath registra a intenção de uma rota. Nenhuma queue é alocada.
func (m *Manager) CreatePath(id, originFilterID, destFilterID, originWriterID, destReaderID int, intermediates []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.paths[id]; taken {
		return fmt.Errorf("%w: path %d", ErrDuplicateID, id)
	}
	m.paths[id] = &Path{
		ID:             id,
		OriginFilterID: originFilterID,
		DestFilterID:   destFilterID,
		OriginWriterID: originWriterID,
		DestReaderID:   destReaderID,
		Intermediates:  append([]int(nil), intermediates...),
	}
	m.logger.Info("path created", "path", id,
		"origin", originFilterID, "dest", destFilterID)
	return nil
}

// ConnectPath efetiva as ligações do path, origem→destino. Qualquer falha
// desfaz os links já efetivados — semântica transacional completa.
func (m *Manager) ConnectPath(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.paths[id]
	if !ok {
		return fmt.Errorf("%w: path %d", ErrUnknownID, id)
	}
	if p.Connected() {
		return fmt.Errorf("%w: path %d", ErrPathConnected, id)
	}

	chain := p.chain()
	for _, fid := range chain {
		if _, ok := m.filters[fid]; !ok {
			return fmt.Errorf("%w: filter %d referenced by path %d", ErrUnknownID, fid, id)
		}
	}

	var links []pathLink
	rollback := func() {
		for i := len(links) - 1; i >= 0; i-- {
			l := links[i]
			from := m.filters[l.fromID]
			to := m.filters[l.toID]
			if err := from.Base().Disconnect(l.writerID, to, l.readerID); err != nil {
				m.logger.Error("rollback disconnect failed",
					"path", id, "from", l.fromID, "to", l.toID, "error", err)
			}
		}
	}

	for i := 0; i+1 < len(chain); i++ {
		from := m.filters[chain[i]]
		to := m.filters[chain[i+1]]

		wantW, wantR := -1, -1
		if i == 0 {
			wantW = p.OriginWriterID
		}
		if i+2 == len(chain) {
			wantR = p.DestReaderID
		}

		rID, wID, err := from.Base().ConnectLink(to, wantR, wantW)
		if err != nil {
			rollback()
			return fmt.Errorf("connecting path %d at link %d→%d: %w",
				id, chain[i], chain[i+1], err)
		}
		links = append(links, pathLink{
			fromID: chain[i], writerID: wID,
			toID: chain[i+1], readerID: rID,
		})
	}

	p.links = links
	m.logger.Info("path connected", "path", id, "links", len(links))
	m.emitEvent("info", "path_connected", fmt.Sprintf("path %d, %d links", id, len(links)), 0)
	return nil
}

// DisconnectPath desfaz as ligações do path em ordem reversa. Frames em
// trânsito são drenados ou descartados pelos filtros sem violar invariantes.
func (m *Manager) DisconnectPath(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectPathLocked(id)
}

func (m *Manager) disconnectPathLocked(id int) error {
	p, ok := m.paths[id]
	if !ok {
		return fmt.Errorf("%w: path %d", ErrUnknownID, id)
	}

	for i := len(p.links) - 1; i >= 0; i-- {
		l := p.links[i]
		from, okF := m.filters[l.fromID]
		to, okT := m.filters[l.toID]
		if !okF || !okT {
			continue
		}
		if err := from.Base().Disconnect(l.writerID, to, l.readerID); err != nil {
			m.logger.Warn("disconnect failed during teardown",
				"path", id, "from", l.fromID, "to", l.toID, "error", err)
		}
	}
	p.links = nil
	m.logger.Info("path disconnected", "path", id)
	m.emitEvent("info", "path_disconnected", fmt.Sprintf("path %d", id), 0)
	return nil
}

// RemovePath desconecta (se preciso) e apaga o registro do path.
func (m *Manager) RemovePath(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.paths[id]; !ok {
		return fmt.Errorf("%w: path %d", ErrUnknownID, id)
	}
	if err := m.disconnectPathLocked(id); err != nil {
		return err
	}
	delete(m.paths, id)
	m.logger.Info("path removed", "path", id)
	return nil
}

// GetPath devolve o path id, ou nil.
func (m *Manager) GetPath(id int) *Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paths[id]
}

// GetPaths enumera os paths registrados, em ordem de id.
func (m *Manager) GetPaths() []*Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := make([]*Path, 0, len(m.paths))
	for _, p := range m.paths {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	return ps
}
