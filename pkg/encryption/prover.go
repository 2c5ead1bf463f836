package encryption

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Prover wraps the zero-knowledge proving runtime. Loading its parameters is
// slow, so it happens lazily, once, the first time an encryption or fill
// operation needs it. Load is idempotent and safe for concurrent callers.
type Prover struct {
	paramsPath string
	logger     *slog.Logger

	once    sync.Once
	loadErr error
	params  []byte
}

func NewProver(paramsPath string, logger *slog.Logger) *Prover {
	return &Prover{
		paramsPath: paramsPath,
		logger:     logger,
	}
}

func (p *Prover) Load() error {
	p.once.Do(func() {
		start := time.Now()

		params, err := os.ReadFile(p.paramsPath)
		if err != nil {
			p.loadErr = fmt.Errorf("failed to load proving parameters from %s: %w", p.paramsPath, err)
			return
		}
		if len(params) == 0 {
			p.loadErr = fmt.Errorf("proving parameters file %s is empty", p.paramsPath)
			return
		}

		p.params = params
		p.logger.Info("proving runtime loaded",
			slog.Int("params_bytes", len(params)),
			slog.Duration("took", time.Since(start)),
		)
	})

	return p.loadErr
}

// Loaded reports whether the runtime is ready without triggering a load.
func (p *Prover) Loaded() bool {
	return p.params != nil
}
