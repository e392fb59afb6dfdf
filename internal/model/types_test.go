package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validService returns a definition that passes validation, so each test
// case only has to break the one field it is about.
func validService() ServiceDef {
	return ServiceDef{
		Name:    "primary",
		Command: []string{"./target/release/backend"},
		Dir:     "/srv/app/rust-backend",
		Port:    6000,
		Timeout: 60 * time.Second,
	}
}

// TestServiceDef_Validate covers every rejection branch of Validate.
func TestServiceDef_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *ServiceDef)
		wantErr string
	}{
		{"valid", func(s *ServiceDef) {}, ""},
		{"empty name", func(s *ServiceDef) { s.Name = "" }, "name must not be empty"},
		{"nil command", func(s *ServiceDef) { s.Command = nil }, "command must not be empty"},
		{"blank argv0", func(s *ServiceDef) { s.Command = []string{""} }, "command must not be empty"},
		{"port zero", func(s *ServiceDef) { s.Port = 0 }, "out of range"},
		{"port too high", func(s *ServiceDef) { s.Port = 70000 }, "out of range"},
		{"negative timeout", func(s *ServiceDef) { s.Timeout = -time.Second }, "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validService()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestValidateServices_DuplicatePort verifies that two services may not
// claim the same port.
func TestValidateServices_DuplicatePort(t *testing.T) {
	a := validService()
	b := validService()
	b.Name = "inference"

	err := ValidateServices([]ServiceDef{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `already used by "primary"`)

	b.Port = 8000
	assert.NoError(t, ValidateServices([]ServiceDef{a, b}))
}

func TestPorts_KeepsDefinitionOrder(t *testing.T) {
	services := []ServiceDef{{Port: 8000}, {Port: 5000}, {Port: 6000}}
	assert.Equal(t, []int{8000, 5000, 6000}, Ports(services))
}

func TestPortBinding_Bound(t *testing.T) {
	assert.False(t, PortBinding{Port: 5000}.Bound())
	assert.True(t, PortBinding{Port: 5000, PIDs: []int32{42}}.Bound())
}

func TestProbeState(t *testing.T) {
	assert.Equal(t, "timed-out", StateTimedOut.String())
	assert.False(t, StateWaiting.IsTerminal())
	assert.True(t, StateOpen.IsTerminal())
	assert.True(t, StateTimedOut.IsTerminal())
}

func TestReapResult_Freed(t *testing.T) {
	assert.True(t, ReapResult{Port: 5000}.Freed())
	assert.True(t, ReapResult{Port: 5000, Killed: []int32{7}}.Freed())
	assert.False(t, ReapResult{Port: 5000, Survivors: []int32{7}}.Freed())
	assert.False(t, ReapResult{Port: 5000, Err: errors.New("permission denied")}.Freed())
}

// TestParseStage verifies case normalization and rejection of unknown names.
func TestParseStage(t *testing.T) {
	tests := []struct {
		input    string
		expected Stage
		hasError bool
	}{
		{"source", StageSource, false},
		{"Readiness", StageReadiness, false},
		{" proxy ", StageProxy, false},
		{"deploy", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStage(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestReport_StageAndTimedOut(t *testing.T) {
	r := &Report{
		Stages: []StageResult{{Stage: StageReap, Status: StatusOK}},
		Readiness: []ReadinessResult{
			{Service: "test", Port: 5000, Open: true, State: StateOpen},
			{Service: "inference", Port: 8000, Open: false, State: StateTimedOut},
		},
	}

	got, ok := r.Stage(StageReap)
	require.True(t, ok)
	assert.Equal(t, StatusOK, got.Status)

	_, ok = r.Stage(StageProxy)
	assert.False(t, ok)

	timedOut := r.TimedOut()
	require.Len(t, timedOut, 1)
	assert.Equal(t, 8000, timedOut[0].Port)
}

// TestCLIError verifies message formatting and errors.As/Unwrap support.
func TestCLIError(t *testing.T) {
	plain := NewCLIError(ExitProxyValidation, "nginx config invalid")
	assert.Equal(t, "nginx config invalid", plain.Error())
	assert.Nil(t, plain.Unwrap())

	cause := errors.New("exit status 1")
	wrapped := WrapCLIError(ExitGitError, "git pull failed", cause)
	assert.Equal(t, "git pull failed: exit status 1", wrapped.Error())
	assert.True(t, errors.Is(wrapped, cause))

	var target *CLIError
	var err error = wrapped
	require.True(t, errors.As(err, &target))
	assert.Equal(t, ExitGitError, target.Code)
}
