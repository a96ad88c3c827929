package collab_test

import (
	"testing"

	"github.com/trezcool/darasa/core/collab"
	testutil "github.com/trezcool/darasa/tests"
)

func TestNewSession_Validate(t *testing.T) {
	testutil.InitValidators()
	conf := testutil.NewTestConfig()

	tests := []struct {
		name    string
		ns      collab.NewSession
		wantErr bool
	}{
		{name: "ok", ns: collab.NewSession{Title: "Two pointers, two friends", Language: "go"}},
		{name: "language is lowercased", ns: collab.NewSession{Title: "Drills", Language: "  Python "}},
		{name: "unknown language", ns: collab.NewSession{Title: "Drills", Language: "cobol"}, wantErr: true},
		{name: "blank title", ns: collab.NewSession{Title: "   ", Language: "go"}, wantErr: true},
		{name: "zero max participants takes the default", ns: collab.NewSession{Title: "Drills", Language: "go"}},
		{name: "max participants above the cap", ns: collab.NewSession{Title: "Drills", Language: "go", MaxParticipants: 17}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ns.Validate(conf)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.ns.MaxParticipants == 0 {
				t.Error("max participants not defaulted")
			}
		})
	}
}

func TestNewParticipant_Validate(t *testing.T) {
	testutil.InitValidators()

	np := collab.NewParticipant{DisplayName: "  Ada  "}
	if err := np.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if np.DisplayName != "Ada" {
		t.Errorf("display name = %q, want trimmed %q", np.DisplayName, "Ada")
	}

	np = collab.NewParticipant{}
	if err := np.Validate(); err == nil {
		t.Error("Validate() expected an error for a missing display name")
	}
}
