package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOp_String(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{0, "none"},
		{Bind, "bind"},
		{Bind | Reload, "bind+reload"},
		{Unbind | Reload, "unbind+reload"},
		{Bind | Fail, "bind+failed"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.op.String())
	}
}

func TestEvent_String(t *testing.T) {
	e := Event{Name: "jdbc/app", File: "/srv/deploy/ds.yml", Op: Bind | Reload}
	require.True(t, e.Op.Has(Bind|Reload))
	require.False(t, e.Failed())
	require.Equal(t, "jdbc/app bind+reload (ds.yml)", e.String())

	f := Event{Name: "/srv/deploy/ds.yml", File: "/srv/deploy/ds.yml", Op: Fail}
	require.True(t, f.Failed())
	require.Equal(t, "failed ds.yml", f.String())
}
