package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetRedisDBName(t *testing.T) {
	tests := []struct {
		name     string
		db       int
		expected string
	}{
		{"Awareness", RedisDBAwareness, "Awareness Broadcast"},
		{"RuleBroadcast", RedisDBRuleBroadcast, "Rule Broadcast"},
		{"DB2", 2, "DB 2"},
		{"DB100", 100, "DB 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetRedisDBName(tt.db)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNewRedisClient_RequiresURL(t *testing.T) {
	_, err := NewRedisClient(RedisClientOptions{DB: RedisDBAwareness, Namespace: "playbook:awareness"})
	assert.Error(t, err)
}
