package absence_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/store/memory"
)

// fixture is a small organisation:
//
//	m1  ProjectManager, refers "Apollo"
//	m2  ProjectManager, refers "Gemini"
//	adm Admin
//	emp Employee, on Apollo for Q1 2024
//	idle Employee, on no project
type fixture struct {
	svc    *absence.Service
	store  *memory.Memory
	m1     absence.User
	m2     absence.User
	adm    absence.User
	emp    absence.User
	idle   absence.User
	apollo absence.Project
	gemini absence.Project
}

var system = absence.Actor{}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time {
	return time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T, policy absence.Policy) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	svc := absence.NewService(store, policy, absence.WithLogger(quietLogger()), absence.WithClock(fixedClock))
	f := &fixture{svc: svc, store: store}

	var err error
	f.m1, err = svc.CreateUser(ctx, system, "m1", "m1@example.com", absence.RoleProjectManager)
	require.NoError(t, err)
	f.m2, err = svc.CreateUser(ctx, system, "m2", "m2@example.com", absence.RoleProjectManager)
	require.NoError(t, err)
	f.adm, err = svc.CreateUser(ctx, system, "adm", "adm@example.com", absence.RoleAdmin)
	require.NoError(t, err)
	f.emp, err = svc.CreateUser(ctx, system, "emp", "emp@example.com", absence.RoleEmployee)
	require.NoError(t, err)
	f.idle, err = svc.CreateUser(ctx, system, "idle", "idle@example.com", absence.RoleEmployee)
	require.NoError(t, err)

	f.apollo, err = svc.CreateProject(ctx, system, "Apollo", f.m1.ID)
	require.NoError(t, err)
	f.gemini, err = svc.CreateProject(ctx, system, "Gemini", f.m2.ID)
	require.NoError(t, err)

	_, err = svc.AssignUser(ctx, system, f.emp.ID, f.apollo.ID, day(2024, time.January, 1), day(2024, time.March, 31))
	require.NoError(t, err)

	return f
}

func actorOf(u absence.User) absence.Actor {
	return absence.Actor{ID: u.ID, Role: u.Role}
}
