package silero

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

// The ONNX environment is process wide and is never destroyed; tearing it
// down and re-creating it is not supported by the runtime.
var (
	envOnce sync.Once
	envErr  error
)

const stateResetInterval = 2 * time.Second

var errNotLoaded = errors.New("silero model not loaded")

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// windowFor returns the model window and carried context for a sample rate.
func windowFor(sampleRate int) (window, context int, err error) {
	switch sampleRate {
	case 16000:
		return 512, 64, nil
	case 8000:
		return 256, 32, nil
	}
	return 0, 0, fmt.Errorf("unsupported sample rate %d (want 8000 or 16000)", sampleRate)
}

// model runs the stateful Silero network over fixed windows. Tensors are
// allocated once per sample rate and rebound on change.
type model struct {
	mu        sync.Mutex
	modelPath string

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	sr      *ort.Tensor[int64]
	state   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	stateN  *ort.Tensor[float32]

	sampleRate int
	window     int
	ctxSize    int
	carry      []float32 // tail of the previous window
	pending    []float32 // samples not yet scored
	lastReset  time.Time
}

func newModel(modelPath string) *model {
	return &model{modelPath: modelPath, lastReset: time.Now()}
}

func (m *model) bind(sampleRate int) error {
	window, ctxSize, err := windowFor(sampleRate)
	if err != nil {
		return err
	}
	m.release()

	if m.input, err = ort.NewTensor(ort.NewShape(1, int64(window+ctxSize)), make([]float32, window+ctxSize)); err != nil {
		return fmt.Errorf("input tensor: %w", err)
	}
	if m.sr, err = ort.NewTensor(ort.NewShape(1), []int64{int64(sampleRate)}); err != nil {
		return fmt.Errorf("sr tensor: %w", err)
	}
	if m.state, err = ort.NewTensor(ort.NewShape(2, 1, 128), make([]float32, 2*128)); err != nil {
		return fmt.Errorf("state tensor: %w", err)
	}
	if m.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fmt.Errorf("output tensor: %w", err)
	}
	if m.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return fmt.Errorf("stateN tensor: %w", err)
	}

	m.session, err = ort.NewAdvancedSession(
		m.modelPath,
		[]string{"input", "sr", "state"},
		[]string{"output", "stateN"},
		[]ort.Value{m.input, m.sr, m.state},
		[]ort.Value{m.output, m.stateN},
		nil,
	)
	if err != nil {
		m.release()
		return fmt.Errorf("onnx session: %w", err)
	}

	m.sampleRate, m.window, m.ctxSize = sampleRate, window, ctxSize
	m.carry = make([]float32, ctxSize)
	m.pending = m.pending[:0]
	return nil
}

// score appends samples and runs every complete window. It returns the
// probability of the last window and whether any window ran.
func (m *model) score(samples []float32, sampleRate int) (float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.sampleRate != sampleRate {
		if err := m.bind(sampleRate); err != nil {
			return 0, false, err
		}
	}
	if time.Since(m.lastReset) >= stateResetInterval {
		m.resetState()
	}

	m.pending = append(m.pending, samples...)
	var prob float32
	ran := false
	for len(m.pending) >= m.window {
		in := m.input.GetData()
		copy(in, m.carry)
		copy(in[m.ctxSize:], m.pending[:m.window])
		m.pending = m.pending[m.window:]

		if err := m.session.Run(); err != nil {
			return 0, false, fmt.Errorf("silero inference: %w", err)
		}
		prob = m.output.GetData()[0]
		copy(m.state.GetData(), m.stateN.GetData())
		copy(m.carry, in[len(in)-m.ctxSize:])
		ran = true
	}
	return prob, ran, nil
}

func (m *model) resetState() {
	if m.state != nil {
		clear(m.state.GetData())
	}
	clear(m.carry)
	m.pending = m.pending[:0]
	m.lastReset = time.Now()
}

func (m *model) release() {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{m.input, m.state, m.output, m.stateN} {
		if t != nil {
			t.Destroy()
		}
	}
	if m.sr != nil {
		m.sr.Destroy()
	}
	m.input, m.sr, m.state, m.output, m.stateN = nil, nil, nil, nil, nil
}

func (m *model) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}
