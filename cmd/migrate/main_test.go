package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{"command only", []string{"up"}, options{timeout: time.Minute, command: "up"}, false},
		{"dsn flag", []string{"-dsn", "postgres://x@127.0.0.1:1/db", "status"},
			options{dsn: "postgres://x@127.0.0.1:1/db", timeout: time.Minute, command: "status"}, false},
		{"both flags", []string{"-timeout", "5s", "-dsn=postgres://db", "down"},
			options{dsn: "postgres://db", timeout: 5 * time.Second, command: "down"}, false},
		{"no command", []string{"-dsn", "postgres://db"}, options{}, true},
		{"unknown command", []string{"redo"}, options{}, true},
		{"extra args", []string{"up", "down"}, options{}, true},
		{"undefined flag", []string{"-verbose", "up"}, options{}, true},
		{"flag after command is not parsed", []string{"up", "-dsn", "x"}, options{}, true},
		{"zero timeout", []string{"-timeout", "0s", "up"}, options{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
