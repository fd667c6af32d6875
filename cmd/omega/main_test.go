package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["init"])
	assert.True(t, names["start"])
	assert.True(t, names["service"])

	flag := root.PersistentFlags().Lookup("config")
	if assert.NotNil(t, flag) {
		assert.Equal(t, "config.toml", flag.DefValue)
	}
}

func TestServiceCmdSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, c := range root.Commands() {
		if c.Name() != "service" {
			continue
		}
		names := map[string]bool{}
		for _, sub := range c.Commands() {
			names[sub.Name()] = true
		}
		assert.True(t, names["install"])
		assert.True(t, names["uninstall"])
		assert.True(t, names["status"])
		return
	}
	t.Fatal("service command not found")
}
