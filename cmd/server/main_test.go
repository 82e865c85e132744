package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/api"
	"github.com/warp/absence-engine/config"
	"github.com/warp/absence-engine/store/memory"
)

func TestBootstrapAdmin_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc := absence.NewService(memory.New(), absence.DefaultPolicy())
	tokens := api.NewTokens("test-secret")

	var out bytes.Buffer
	require.NoError(t, bootstrapAdmin(ctx, &out, svc, tokens, "root"))
	require.NoError(t, bootstrapAdmin(ctx, &out, svc, tokens, "ROOT"))

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, absence.RoleAdmin, users[0].Role)
	assert.Equal(t, 2, strings.Count(out.String(), "admin root"))
}

func TestBootstrapAdmin_RejectsNonAdmin(t *testing.T) {
	ctx := context.Background()
	svc := absence.NewService(memory.New(), absence.DefaultPolicy())
	_, err := svc.CreateUser(ctx, absence.Actor{}, "root", "root@example.com", absence.RoleEmployee)
	require.NoError(t, err)

	err = bootstrapAdmin(ctx, &bytes.Buffer{}, svc, api.NewTokens("test-secret"), "root")
	assert.Error(t, err)
}

func TestMintToken(t *testing.T) {
	ctx := context.Background()
	svc := absence.NewService(memory.New(), absence.DefaultPolicy())
	u, err := svc.CreateUser(ctx, absence.Actor{}, "emma", "emma@example.com", absence.RoleEmployee)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, mintToken(ctx, &out, svc, api.NewTokens("test-secret"), u.ID))
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out.String()), "."), "compact JWS")

	assert.Error(t, mintToken(ctx, &out, svc, api.NewTokens("test-secret"), "7c9e6679-7425-40de-944b-e07fc1f90ae7"))
}

func TestOpenStore_Memory(t *testing.T) {
	store, health, closeFn, err := openStore(context.Background(), config.DatabaseConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, store)
	assert.Nil(t, health)
}
