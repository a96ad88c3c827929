package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/collab"
)

var validatorsOnce sync.Once

// InitValidators wires the shared validator and translator once for the
// whole test binary.
func InitValidators() {
	validatorsOnce.Do(func() {
		validate := validator.New()
		_en := en.New()
		uni := ut.New(_en, _en)
		translator, _ := uni.GetTranslator("en")
		core.InitValidators(validate, translator)
		collab.InitValidators(validate, translator)
	})
}

func NewTestConfig() *core.Config {
	return &core.Config{
		Env:      "TEST",
		Debug:    true,
		TestMode: true,
		AppName:  "Darasa",
		Build:    "test",
		Server: core.ServerConfig{
			Host:            "localhost",
			CollabHost:      "127.0.0.1:0",
			ShutdownTimeout: 5 * time.Second,
		},
		Collab: core.CollabConfig{
			DefaultMaxParticipants: 4,
			SessionGracePeriod:     10 * time.Minute,
			SnapshotRetention:      30 * 24 * time.Hour,
		},
	}
}

// NewTestLogger returns a logger that records nothing; failures under test
// surface through returned errors, not logs.
func NewTestLogger() core.Logger { return testLogger{} }

type testLogger struct{}

func (testLogger) Enable(bool)                        {}
func (testLogger) Debug(string, ...interface{})       {}
func (testLogger) Info(string, ...interface{})        {}
func (testLogger) Warn(string, ...interface{})        {}
func (testLogger) Error(string, ...interface{})       {}
func (testLogger) Fatal(msg string, _ ...interface{}) { panic(msg) }

func CreateSession(t *testing.T, svc *collab.Service, title, language string, maxParticipants int) collab.Session {
	t.Helper()
	sess, err := svc.CreateSession(collab.NewSession{
		Title:           title,
		Language:        language,
		MaxParticipants: maxParticipants,
	})
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return sess
}

func JoinSession(t *testing.T, svc *collab.Service, sessionID, displayName string) collab.Participant {
	t.Helper()
	_, part, err := svc.JoinSession(sessionID, collab.NewParticipant{DisplayName: displayName})
	if err != nil {
		t.Fatalf("JoinSession() failed: %v", err)
	}
	return part
}
