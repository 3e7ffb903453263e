package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-scheduling-assistant/migrations"
)

func TestIntArg(t *testing.T) {
	n, err := intArg([]string{"down", "2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = intArg([]string{"down"})
	assert.Error(t, err)
	_, err = intArg([]string{"force", "-1"})
	assert.Error(t, err)
	_, err = intArg([]string{"force", "abc"})
	assert.Error(t, err)
}

func TestRunRequiresDatabaseURL(t *testing.T) {
	assert.EqualError(t, run("", nil, nil), "DATABASE_URL is required")
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case len(name) > 7 && name[len(name)-7:] == ".up.sql":
			ups[name[:len(name)-7]] = true
		case len(name) > 9 && name[len(name)-9:] == ".down.sql":
			downs[name[:len(name)-9]] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}
