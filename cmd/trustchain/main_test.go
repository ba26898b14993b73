package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCLI_Commands(t *testing.T) {
	app := newCLI()
	for _, name := range []string{"migrate", "mine", "award", "verify", "audit", "leaderboard", "chain", "serve"} {
		assert.NotNil(t, app.Command(name), name)
	}
}

func TestMine_RequiresUser(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	err := newCLI().Run([]string{"trustchain", "mine", "--action", "event_won"})
	assert.Error(t, err)
}

func TestMine_RejectsBadMetadata(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	err := newCLI().Run([]string{"trustchain", "mine", "--user", "u1", "--action", "event_won", "--meta", "[1]"})
	assert.ErrorContains(t, err, "invalid --meta")
}
