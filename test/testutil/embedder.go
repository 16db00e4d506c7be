package testutil

import (
	"context"
	"crypto/sha256"
	"sync"
)

// StubEmbedder derives a deterministic vector from the input bytes, so the
// same content always embeds identically without any network. Tests can pin
// explicit vectors per text and inject per-content failures, and the call
// counters show how often a real model would have been hit.
type StubEmbedder struct {
	mu           sync.Mutex
	modelVersion string
	dim          int
	textVectors  map[string][]float32
	failContent  map[string]error
	gates        map[string]chan struct{}
	textErr      error
	imageCalls   int
	textCalls    int
}

func NewStubEmbedder(modelVersion string, dim int) *StubEmbedder {
	return &StubEmbedder{
		modelVersion: modelVersion,
		dim:          dim,
		textVectors:  map[string][]float32{},
		failContent:  map[string]error{},
		gates:        map[string]chan struct{}{},
	}
}

func (s *StubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textCalls++
	if s.textErr != nil {
		return nil, s.textErr
	}
	if vec, ok := s.textVectors[text]; ok {
		return append([]float32(nil), vec...), nil
	}
	return s.derive([]byte("text:" + text)), nil
}

func (s *StubEmbedder) EmbedImage(ctx context.Context, data []byte, mimeType string) ([]float32, error) {
	s.mu.Lock()
	s.imageCalls++
	gate := s.gates[string(data)]
	failErr, failed := s.failContent[string(data)]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if failed {
		return nil, failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.derive(data), nil
}

func (s *StubEmbedder) ModelVersion() string {
	return s.modelVersion
}

// SetTextVector pins the vector returned for an exact query text.
func (s *StubEmbedder) SetTextVector(text string, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textVectors[text] = append([]float32(nil), vec...)
}

// FailText makes every EmbedText call fail; nil restores normal operation.
func (s *StubEmbedder) FailText(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textErr = err
}

// FailContent makes EmbedImage fail for this exact content.
func (s *StubEmbedder) FailContent(data []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failContent[string(data)] = err
}

// HealContent clears an injected failure.
func (s *StubEmbedder) HealContent(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failContent, string(data))
}

// GateContent blocks EmbedImage calls for this exact content until the
// returned channel is closed.
func (s *StubEmbedder) GateContent(data []byte) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[string(data)] = ch
	return ch
}

func (s *StubEmbedder) ImageCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageCalls
}

func (s *StubEmbedder) TextCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textCalls
}

// Vector returns the vector EmbedImage would derive for this content.
func (s *StubEmbedder) Vector(data []byte) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.derive(data)
}

func (s *StubEmbedder) derive(data []byte) []float32 {
	sum := sha256.Sum256(data)
	vec := make([]float32, s.dim)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)])/255 + 0.01
	}
	return vec
}
