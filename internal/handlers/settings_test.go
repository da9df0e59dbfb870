package handlers

import (
	"errors"
	"reflect"
	"testing"

	"github.com/foxxcyber/solvcaptcha/internal/config"
)

func TestParseSolverUpdate(t *testing.T) {
	update, err := parseSolverUpdate(map[string]string{
		config.ServiceTwoCaptcha:  "  abcdef123456  ",
		config.ServiceCapMonster:  "",
		config.ServiceAntiCaptcha: " ",
	})
	if err != nil {
		t.Fatalf("parseSolverUpdate() error = %v", err)
	}
	if !reflect.DeepEqual(update.set, map[string]string{config.ServiceTwoCaptcha: "abcdef123456"}) {
		t.Errorf("set = %v", update.set)
	}
	if !reflect.DeepEqual(update.clear, []string{config.ServiceAntiCaptcha, config.ServiceCapMonster}) {
		t.Errorf("clear = %v", update.clear)
	}
}

func TestParseSolverUpdateRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]string
	}{
		{"empty", nil},
		{"unknown service", map[string]string{"deathbycaptcha": "k"}},
		{"key with space", map[string]string{config.ServiceTwoCaptcha: "ab cd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSolverUpdate(tt.raw)
			var cfgErr *config.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestSolverStatuses(t *testing.T) {
	creds, err := config.NewCredentials(map[string]string{config.ServiceAntiCaptcha: "0123456789abcdefXYZ"})
	if err != nil {
		t.Fatal(err)
	}
	got := solverStatuses(creds)
	want := []SolverStatus{
		{Service: config.ServiceTwoCaptcha},
		{Service: config.ServiceAntiCaptcha, Configured: true, Key: "01234567...bcdefXYZ"},
		{Service: config.ServiceCapMonster},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("solverStatuses() = %+v, want %+v", got, want)
	}
}
