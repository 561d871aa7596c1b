package server

import (
	"context"

	"go.uber.org/zap"
)

// Run serves until ctx is cancelled or the listener fails, then drains
// in-flight requests.
func Run(ctx context.Context, s *Server) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.Start()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Error("shutdown failed", zap.Error(err))
			return err
		}
		return nil
	}
}
