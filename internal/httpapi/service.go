package httpapi

import (
	"context"

	"inferd/internal/manager"
	"inferd/internal/stats"
	"inferd/pkg/types"
)

// Stream is the consumer side of one streaming generation.
type Stream interface {
	ID() string
	Recv() (string, error)
	Content() string
	Close() error
}

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Run(ctx context.Context, prompt string, opts manager.Options) (manager.Result, error)
	OpenStream(ctx context.Context, prompt string, opts manager.Options) (Stream, error)
	HealthCheck() manager.Health
	Status() types.StatusResponse
	Ready() bool
	Stats() []stats.ServiceStats
	ResetStats(resource string)
}

// FromManager adapts a Manager to Service.
func FromManager(m *manager.Manager) Service { return managerService{m} }

type managerService struct{ *manager.Manager }

func (s managerService) OpenStream(ctx context.Context, prompt string, opts manager.Options) (Stream, error) {
	st, err := s.GenerateStream(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	return managerStream{st}, nil
}

func (s managerService) Stats() []stats.ServiceStats { return s.StatsRegistry().Snapshot() }

func (s managerService) ResetStats(resource string) {
	if resource == "" {
		s.StatsRegistry().ResetAll()
		return
	}
	s.StatsRegistry().Reset(resource)
}

type managerStream struct{ *manager.Stream }

func (s managerStream) ID() string { return s.RequestID }
