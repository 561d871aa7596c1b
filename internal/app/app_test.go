package app

import (
	"testing"

	"github.com/ocr-dimt/ocrdemo/internal/config"

	"go.uber.org/zap"
)

func TestNewAppRejectsNilCollaborators(t *testing.T) {
	cfg := &config.Config{Environment: "test"}

	for name, opt := range map[string]OptionFunc{
		"inferer":   WithInferer(nil),
		"forwarder": WithForwarder(nil),
		"submitter": WithSubmitter(nil),
	} {
		if _, err := NewApp(cfg, opt); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestNewAppDefaultsLogger(t *testing.T) {
	a, err := NewApp(&config.Config{Environment: "test", Component: config.ComponentProxy})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if a.Logger == nil || a.Inferer() != nil {
		t.Fatalf("unexpected app %+v", a)
	}
	if a.Context().Err() != nil {
		t.Fatalf("context should be live until Close")
	}
}

func TestCloseCancelsContext(t *testing.T) {
	a, err := NewApp(&config.Config{}, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	a.Close()

	if a.Context().Err() == nil {
		t.Fatalf("context not cancelled")
	}
}
