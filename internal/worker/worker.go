// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

// Package worker implementa a thread de scheduling que dirige um conjunto
// cooperativo de Runnables sob pacing soft-real-time.
package worker

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dulton/liveMediaStreamer/internal/filter"
)

// Erros do worker.
var (
	ErrAlreadyStarted = errors.New("worker: already started")
	ErrTaken          = errors.New("worker: runnable already assigned")
)

// defaultMaxSleep limita o sleep quando nenhum runnable tem wake próximo,
// garantindo re-teste periódico do run flag.
const defaultMaxSleep = 100 * time.Millisecond

// Worker dirige um conjunto de Runnables numa goroutine própria. Cada
// iteração: calcula o menor next-wake, dorme até lá (ou até interrupção),
// executa os runnables prontos e acorda imediatamente os peers habilitados
// que vivem neste worker. Nenhum filtro é executado por mais de um worker.
type Worker struct {
	id     int
	logger *slog.Logger

	mu        sync.Mutex
	runnables map[int]filter.Runnable

	run      atomic.Bool
	started  atomic.Bool
	wake     chan struct{}
	wg       sync.WaitGroup
	maxSleep time.Duration

	// onFatal é chamado quando um runnable retorna erro fatal; o worker
	// aborta o loop e o manager decide o que fazer com o grafo.
	onFatal func(workerID, runnableID int, err error)

	// loadFactor devolve o multiplicador de idle sleep sob pressão de CPU
	// (1 = sem pressão). O host monitor é a fonte usual.
	loadFactor func() float64

	cycles atomic.Uint64
}

// Options parametriza a construção de um Worker.
type Options struct {
	MaxSleep   time.Duration
	Logger     *slog.Logger
	OnFatal    func(workerID, runnableID int, err error)
	LoadFactor func() float64
}

// New cria um worker parado.
func New(id int, opts Options) *Worker {
	if opts.MaxSleep <= 0 {
		opts.MaxSleep = defaultMaxSleep
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		id:         id,
		logger:     opts.Logger.With("component", "worker", "worker_id", id),
		runnables:  make(map[int]filter.Runnable),
		wake:       make(chan struct{}, 1),
		maxSleep:   opts.MaxSleep,
		onFatal:    opts.OnFatal,
		loadFactor: opts.LoadFactor,
	}
}

// ID retorna o id do worker.
func (w *Worker) ID() int { return w.id }

// AddProcessor associa um runnable a este worker. Falha se o id já está
// associado; a exclusividade entre workers é garantida pelo manager.
func (w *Worker) AddProcessor(r filter.Runnable) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, taken := w.runnables[r.ID()]; taken {
		return ErrTaken
	}
	w.runnables[r.ID()] = r
	w.kick()
	return nil
}

// RemoveProcessor desassocia o runnable id.
func (w *Worker) RemoveProcessor(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.runnables, id)
}

// Processors enumera os ids associados, em ordem.
func (w *Worker) Processors() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int, 0, len(w.runnables))
	for id := range w.runnables {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Has informa se o runnable id pertence a este worker.
func (w *Worker) Has(id int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.runnables[id]
	return ok
}

// Cycles retorna o total de ciclos de runnables executados.
func (w *Worker) Cycles() uint64 { return w.cycles.Load() }

// IsRunning informa se o loop do worker está ativo.
func (w *Worker) IsRunning() bool { return w.run.Load() }

// Start liga o run flag, marca os runnables como running e dispara o loop.
// Um worker parado pode ser reiniciado.
func (w *Worker) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	w.run.Store(true)

	w.mu.Lock()
	for _, r := range w.runnables {
		r.SetRunning()
	}
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop()
	w.logger.Info("worker started", "runnables", len(w.Processors()))
	return nil
}

// Stop desliga o run flag e espera o loop terminar o ciclo corrente.
// Eventos pendentes e frames em trânsito são abandonados.
func (w *Worker) Stop() {
	if !w.started.Load() {
		return
	}
	w.run.Store(false)
	w.kick()
	w.wg.Wait()

	w.mu.Lock()
	for _, r := range w.runnables {
		if r.IsRunning() {
			r.UnsetRunning()
		}
	}
	w.mu.Unlock()

	w.started.Store(false)
	w.logger.Info("worker stopped")
}

// kick interrompe o sleep corrente do loop.
func (w *Worker) kick() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// snapshot copia o conjunto corrente de runnables para iteração sem lock.
func (w *Worker) snapshot() []filter.Runnable {
	w.mu.Lock()
	defer w.mu.Unlock()
	rs := make([]filter.Runnable, 0, len(w.runnables))
	for _, r := range w.runnables {
		rs = append(rs, r)
	}
	return rs
}

func (w *Worker) loop() {
	defer w.wg.Done()

	for w.run.Load() {
		rs := w.snapshot()

		// Menor next-wake entre os runnables running
		var next time.Time
		active := 0
		for _, r := range rs {
			if !r.IsRunning() {
				continue
			}
			active++
			if wk := r.NextWake(); next.IsZero() || wk.Before(next) {
				next = wk
			}
		}

		sleep := w.maxSleep
		if active > 0 {
			if d := time.Until(next); d < sleep {
				sleep = d
			}
		}
		// Load shedding: sob pressão de CPU o idle sleep estica, derrubando
		// a frequência de wake sem tocar nos hints dos filtros. O teto de
		// maxSleep preserva o re-teste do run flag.
		if w.loadFactor != nil && sleep > 0 {
			if factor := w.loadFactor(); factor > 1 {
				stretched := time.Duration(float64(sleep) * factor)
				if stretched > w.maxSleep {
					stretched = w.maxSleep
				}
				sleep = stretched
			}
		}
		if sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-timer.C:
			case <-w.wake:
				timer.Stop()
			}
		}
		if !w.run.Load() {
			return
		}

		now := time.Now()
		for _, r := range rs {
			if !r.IsRunning() || !r.Ready(now) {
				continue
			}
			enabled, err := r.RunProcessFrame()
			w.cycles.Add(1)
			if err != nil {
				// Violação de invariante: aborta o loop e quiesce o grupo
				w.logger.Error("fatal error in runnable, aborting worker loop",
					"runnable", r.ID(), "error", err)
				// Drena o contador do grupo até zero: todos os membros param
				for r.IsRunning() {
					r.UnsetRunning()
				}
				w.run.Store(false)
				if w.onFatal != nil {
					w.onFatal(w.id, r.ID(), err)
				}
				return
			}

			// Peers habilitados neste worker acordam já, sem esperar o hint
			for _, id := range enabled {
				if peer := w.peer(id); peer != nil {
					peer.WakeNow()
				}
			}

			// Re-testa o run flag entre runnables para um stop responsivo
			if !w.run.Load() {
				return
			}
		}
	}
}

func (w *Worker) peer(id int) filter.Runnable {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runnables[id]
}
